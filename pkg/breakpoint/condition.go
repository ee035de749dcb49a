package breakpoint

//go:generate mockgen -destination=breakpointmock/evaluator.go -package=breakpointmock . ConditionEvaluator

// ConditionEvaluator evaluates a breakpoint condition in an evaluation
// context supplied by the tracer, typically the variable bindings of the frame
// being stepped. The context may be nil.
type ConditionEvaluator interface {
	Evaluate(expr string, evalCtx interface{}) (bool, error)
}

// EvaluatorFunc adapts a function to ConditionEvaluator.
type EvaluatorFunc func(expr string, evalCtx interface{}) (bool, error)

// Evaluate calls f(expr, evalCtx).
func (f EvaluatorFunc) Evaluate(expr string, evalCtx interface{}) (bool, error) {
	return f(expr, evalCtx)
}
