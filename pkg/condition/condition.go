// Package condition evaluates breakpoint conditions written in CEL.
package condition

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"go.uber.org/zap"
)

const defaultMaxPrograms = 512

// Binding holds the variables visible to a condition.
type Binding map[string]any

// Error reports a condition that failed to compile or evaluate.
type Error struct {
	Expr  string
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("condition %q: %s: %v", e.Expr, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Evaluator compiles and runs CEL conditions. Every key of the binding is
// declared as a dynamically typed variable. Compiled programs are cached per
// expression and variable set. It is safe for concurrent use.
type Evaluator struct {
	logger      *zap.SugaredLogger
	maxPrograms int

	mu       sync.Mutex
	programs map[string]cel.Program
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithMaxPrograms bounds the program cache. The cache is emptied when full.
func WithMaxPrograms(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxPrograms = n
		}
	}
}

// New returns an Evaluator with an empty program cache.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		logger:      zap.NewNop().Sugar(),
		maxPrograms: defaultMaxPrograms,
		programs:    make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs expr against evalCtx, which must be nil, a Binding or a
// map[string]any. The result is false for false and null and true for
// every other value.
func (e *Evaluator) Evaluate(expr string, evalCtx interface{}) (bool, error) {
	vars, err := bindingOf(evalCtx)
	if err != nil {
		return false, &Error{Expr: expr, Stage: "binding", Err: err}
	}

	prg, err := e.program(expr, vars)
	if err != nil {
		return false, err
	}

	activation := map[string]any(vars)
	if activation == nil {
		activation = map[string]any{}
	}
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, &Error{Expr: expr, Stage: "eval", Err: err}
	}
	return truthy(out), nil
}

// Len returns the number of cached programs.
func (e *Evaluator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.programs)
}

func (e *Evaluator) program(expr string, vars Binding) (cel.Program, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	key := expr + "\x00" + strings.Join(names, "\x00")

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[key]; ok {
		return prg, nil
	}

	prg, err := compile(expr, names)
	if err != nil {
		e.logger.Debugw("condition rejected", "expr", expr, "error", err)
		return nil, err
	}

	if len(e.programs) >= e.maxPrograms {
		e.programs = make(map[string]cel.Program)
	}
	e.programs[key] = prg
	return prg, nil
}

func compile(expr string, names []string) (cel.Program, error) {
	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, &Error{Expr: expr, Stage: "env", Err: err}
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &Error{Expr: expr, Stage: "compile", Err: issues.Err()}
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, &Error{Expr: expr, Stage: "program", Err: err}
	}
	return prg, nil
}

func bindingOf(evalCtx interface{}) (Binding, error) {
	switch v := evalCtx.(type) {
	case nil:
		return nil, nil
	case Binding:
		return v, nil
	case map[string]any:
		return Binding(v), nil
	default:
		return nil, fmt.Errorf("unsupported evaluation context %T", evalCtx)
	}
}

func truthy(v ref.Val) bool {
	switch v := v.(type) {
	case types.Bool:
		return bool(v)
	case types.Null:
		return false
	default:
		return true
	}
}
