package breakpoint

// Modulus is the number of lines the bitmap tells apart. Lines that are equal
// modulo Modulus share a bit.
const Modulus = 1 << 16

// LineBitmap records which lines (mod Modulus) have a breakpoint. A set bit
// means "maybe"; a clear bit means "definitely not".
type LineBitmap struct {
	words [Modulus / 32]uint32
}

func lineIndex(line int) uint32 {
	return uint32(line) % Modulus
}

// Set marks line.
func (b *LineBitmap) Set(line int) {
	i := lineIndex(line)
	b.words[i>>5] |= 1 << (i & 31)
}

// Has reports whether line, or a line sharing its bit, is marked.
func (b *LineBitmap) Has(line int) bool {
	i := lineIndex(line)
	return b.words[i>>5]>>(i&31)&1 == 1
}

// Clear unmarks every line.
func (b *LineBitmap) Clear() {
	b.words = [Modulus / 32]uint32{}
}
