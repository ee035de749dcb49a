package breakpoint

// MatchFilename reports whether declared, the path a breakpoint was set with,
// names the same file as runtime, the path the tracer reports.
//
// Both paths are compared from their last byte backward over the length of the
// shorter one, so a relative declared path matches any absolute path it is a
// suffix of. Once a separator has matched in both paths, a '.' on either side
// ends the comparison with a match. On drive-letter platforms the first byte of
// declared is compared without case.
func MatchFilename(declared, runtime string) bool {
	n := len(declared)
	if len(runtime) < n {
		n = len(runtime)
	}

	crossedSep := false
	for i := 1; i <= n; i++ {
		s := len(declared) - i
		d, r := declared[s], runtime[len(runtime)-i]

		if (d == '.' || r == '.') && crossedSep {
			return true
		}
		switch {
		case isDirSep(d) && isDirSep(r):
			crossedSep = true
		case driveLetters && s == 0:
			return toUpper(d) == toUpper(r)
		case d != r:
			return false
		}
	}
	return true
}

func toUpper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
