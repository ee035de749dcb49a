package breakpoint

import (
	"slices"

	"github.com/aivorynet/tracebreak-go/pkg/pathcache"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// Engine holds the state shared by every breakpoint lookup: the line bitmap,
// the path cache and the condition evaluator. It is not safe for concurrent
// use; Manager adds the locking.
type Engine struct {
	lines     LineBitmap
	paths     *pathcache.Canonicalizer
	evaluator ConditionEvaluator
	logger    *zap.SugaredLogger
	stats     tally.Scope

	fastRejects tally.Counter
	scans       tally.Counter
	hits        tally.Counter
	condErrors  tally.Counter
}

// Option customizes an Engine.
type Option func(*Engine)

// WithCanonicalizer overrides the default path cache.
func WithCanonicalizer(c *pathcache.Canonicalizer) Option {
	return func(e *Engine) {
		e.paths = c
	}
}

// WithEvaluator sets the evaluator used for conditional breakpoints. Without
// one, conditional breakpoints never fire.
func WithEvaluator(ev ConditionEvaluator) Option {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStats reports lookup counters to the given scope.
func WithStats(stats tally.Scope) Option {
	return func(e *Engine) {
		e.stats = stats
	}
}

// NewEngine creates an Engine with an empty bitmap.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: zap.NewNop().Sugar(),
		stats:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.paths == nil {
		e.paths = pathcache.New(pathcache.WithLogger(e.logger), pathcache.WithStats(e.stats))
	}
	e.fastRejects = e.stats.Counter("find.fast_reject")
	e.scans = e.stats.Counter("find.scan")
	e.hits = e.stats.Counter("find.hit")
	e.condErrors = e.stats.Counter("condition.error")
	return e
}

// Paths returns the path cache used to canonicalize runtime paths.
func (e *Engine) Paths() *pathcache.Canonicalizer {
	return e.paths
}

// Lines returns the line bitmap.
func (e *Engine) Lines() *LineBitmap {
	return &e.lines
}

// Reset clears the line bitmap and the path cache. Breakpoint ids keep
// counting from where they were.
func (e *Engine) Reset() {
	e.lines.Clear()
	e.paths.Reset()
}

// Activate marks the line of the breakpoint with the given id so Find will
// consider it. Unknown ids are ignored.
func (e *Engine) Activate(bps Breakpoints, id int) {
	bp := bps.Get(id)
	if bp == nil {
		return
	}
	e.lines.Set(bp.line)
	e.logger.Debugw("breakpoint activated", "id", id, "source", bp.source, "line", bp.line)
}

// Remove deletes the breakpoint with the given id from bps and returns it, or
// nil when there is none. The bitmap is rebuilt from the breakpoints left in bps.
func (e *Engine) Remove(bps *Breakpoints, id int) *Breakpoint {
	if bps == nil {
		return nil
	}

	var removed *Breakpoint
	at := -1
	e.lines.Clear()
	for i, bp := range *bps {
		if bp == nil {
			continue
		}
		if removed == nil && bp.id == id {
			removed, at = bp, i
			continue
		}
		e.lines.Set(bp.line)
	}

	if removed != nil {
		*bps = slices.Delete(*bps, at, at+1)
		e.logger.Debugw("breakpoint removed", "id", id, "source", removed.source, "line", removed.line)
	}
	return removed
}

// Find returns the first enabled breakpoint in bps set at file:line whose
// condition holds, or nil. evalCtx is handed to the condition evaluator.
func (e *Engine) Find(bps Breakpoints, file string, line int, evalCtx interface{}) *Breakpoint {
	if !e.lines.Has(line) {
		e.fastRejects.Inc(1)
		return nil
	}
	e.scans.Inc(1)

	var (
		runtimePath   string
		canonicalized bool
	)
	for _, bp := range bps {
		if bp == nil || !bp.enabled || bp.line != line {
			continue
		}
		if !canonicalized {
			runtimePath = e.runtimePath(file)
			canonicalized = true
		}
		if !MatchFilename(bp.source, runtimePath) {
			continue
		}
		if e.conditionHolds(bp, evalCtx) {
			e.hits.Inc(1)
			return bp
		}
	}
	return nil
}

func (e *Engine) runtimePath(file string) string {
	if !resolvePaths {
		return file
	}
	canonical, _ := e.paths.Canonicalize(file)
	return canonical
}

// conditionHolds treats evaluation errors and panics as a false condition.
func (e *Engine) conditionHolds(bp *Breakpoint, evalCtx interface{}) (holds bool) {
	if !bp.hasExpr {
		return true
	}
	if e.evaluator == nil {
		e.logger.Debugw("no evaluator for conditional breakpoint", "id", bp.id)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			e.condErrors.Inc(1)
			e.logger.Debugw("breakpoint condition panicked", "id", bp.id, "expr", bp.expr, "panic", r)
			holds = false
		}
	}()

	ok, err := e.evaluator.Evaluate(bp.expr, evalCtx)
	if err != nil {
		e.condErrors.Inc(1)
		e.logger.Debugw("breakpoint condition failed", "id", bp.id, "expr", bp.expr, "error", err)
		return false
	}
	return ok
}
