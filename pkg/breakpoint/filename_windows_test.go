//go:build windows

package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchFilenameSeparators(t *testing.T) {
	assert.True(t, MatchFilename(`foo\bar.rb`, "C:/abs/foo/bar.rb"))
	assert.True(t, MatchFilename(`c:\src\a.rb`, `C:\src\a.rb`))
	assert.False(t, MatchFilename(`d:\src\a.rb`, `C:\src\a.rb`))
}
