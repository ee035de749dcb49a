package pathcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want uint32
	}{
		{name: "empty", path: "", want: 0},
		{name: "first printable contributes zero", path: "!", want: 0},
		{name: "single byte", path: "\"", want: 65599},
		{name: "mixes accumulator", path: "\"\"", want: 8327104},
		{name: "bytes below '!' wrap", path: " ", want: 4294901697},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hashPath(tt.path))
		})
	}
}

func TestMixMatchesMultiplier(t *testing.T) {
	for _, acc := range []uint32{0, 1, 7, 1 << 20, 0xdeadbeef} {
		assert.Equal(t, acc*hashMult+5, mix(acc, 5))
	}
}
