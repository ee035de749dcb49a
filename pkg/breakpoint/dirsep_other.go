//go:build !windows

package breakpoint

const (
	// driveLetters enables the case-insensitive first-byte rule.
	driveLetters = false
	// resolvePaths canonicalizes runtime paths before matching.
	resolvePaths = true
)

func isDirSep(c byte) bool {
	return c == '/'
}
