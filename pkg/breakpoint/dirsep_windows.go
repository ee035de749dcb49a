//go:build windows

package breakpoint

const (
	driveLetters = true
	// Runtime paths are compared as reported; there is no realpath step.
	resolvePaths = false
)

func isDirSep(c byte) bool {
	return c == '/' || c == '\\'
}
