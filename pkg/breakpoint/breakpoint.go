// Package breakpoint decides, for every traced line, whether an enabled
// breakpoint is set there and whether its condition holds.
//
// The host owns the Breakpoints slice and passes it to every Engine call. Lines
// without any breakpoint are rejected by a bitmap lookup before the slice is
// scanned, so the common case never touches the filesystem.
package breakpoint

import (
	"go.uber.org/atomic"
)

// seq hands out breakpoint ids. Ids are never reused within a process.
var seq = atomic.NewInt64(0)

// Breakpoint is a line breakpoint. Source and line are fixed at creation.
type Breakpoint struct {
	id      int
	source  string
	line    int
	enabled bool
	expr    string
	hasExpr bool
}

// New creates an enabled, unconditional breakpoint at source:line.
func New(source string, line int) *Breakpoint {
	return &Breakpoint{
		id:      int(seq.Inc()),
		source:  source,
		line:    line,
		enabled: true,
	}
}

// NewConditional creates an enabled breakpoint that only fires when expr holds.
func NewConditional(source string, line int, expr string) *Breakpoint {
	bp := New(source, line)
	bp.SetExpr(expr)
	return bp
}

// ID returns the breakpoint id.
func (b *Breakpoint) ID() int { return b.id }

// Source returns the file path the breakpoint was declared with.
func (b *Breakpoint) Source() string { return b.source }

// Line returns the 1-based line number.
func (b *Breakpoint) Line() int { return b.line }

// Enabled reports whether the breakpoint can fire.
func (b *Breakpoint) Enabled() bool { return b.enabled }

// SetEnabled enables or disables the breakpoint.
func (b *Breakpoint) SetEnabled(enabled bool) { b.enabled = enabled }

// Expr returns the condition and whether one is set.
func (b *Breakpoint) Expr() (string, bool) { return b.expr, b.hasExpr }

// SetExpr sets the condition.
func (b *Breakpoint) SetExpr(expr string) {
	b.expr = expr
	b.hasExpr = true
}

// ClearExpr makes the breakpoint unconditional.
func (b *Breakpoint) ClearExpr() {
	b.expr = ""
	b.hasExpr = false
}

// Breakpoints is an ordered set of breakpoints. Find returns the first match
// in slice order.
type Breakpoints []*Breakpoint

// Get returns the breakpoint with the given id, or nil.
func (bps Breakpoints) Get(id int) *Breakpoint {
	for _, bp := range bps {
		if bp != nil && bp.id == id {
			return bp
		}
	}
	return nil
}
