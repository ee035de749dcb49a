package pathcache

// hashMult is the sdbm multiplier. mix below is the shift form of it.
const hashMult = 65599

func mix(acc, c uint32) uint32 {
	return c + (acc << 6) + (acc << 16) - acc
}

// hashPath hashes the raw bytes of path, each offset from '!'. Multi-byte
// characters are hashed byte by byte.
func hashPath(path string) uint32 {
	var h uint32
	for i := 0; i < len(path); i++ {
		h = mix(h, uint32(path[i])-'!')
	}
	return h * hashMult
}
