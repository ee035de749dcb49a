package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a := New("a.rb", 1)
	b := NewConditional("b.rb", 2, "x > 1")

	assert.Greater(t, a.ID(), 0)
	assert.Equal(t, a.ID()+1, b.ID())
	assert.Equal(t, "a.rb", a.Source())
	assert.Equal(t, 1, a.Line())
	assert.True(t, a.Enabled())

	_, ok := a.Expr()
	assert.False(t, ok)
	expr, ok := b.Expr()
	assert.True(t, ok)
	assert.Equal(t, "x > 1", expr)
}

func TestBreakpointMutators(t *testing.T) {
	bp := New("a.rb", 1)

	bp.SetEnabled(false)
	assert.False(t, bp.Enabled())

	bp.SetExpr("")
	expr, ok := bp.Expr()
	assert.True(t, ok, "an empty condition is still a condition")
	assert.Empty(t, expr)

	bp.ClearExpr()
	_, ok = bp.Expr()
	assert.False(t, ok)
}

func TestBreakpointsGet(t *testing.T) {
	a, b := New("a.rb", 1), New("b.rb", 2)
	bps := Breakpoints{a, nil, b}

	require.NotNil(t, bps.Get(b.ID()))
	assert.Same(t, b, bps.Get(b.ID()))
	assert.Nil(t, bps.Get(-1))
	assert.Nil(t, Breakpoints(nil).Get(a.ID()))
}
