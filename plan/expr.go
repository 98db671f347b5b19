// Package plan implements AgentOS's Plan Engine: a small pure
// expression language, and a DAG-shaped step interpreter with
// deterministic readiness evaluation.
package plan

import "fmt"

// EvalError is the expression language's only failure mode: total,
// descriptive, never a panic.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("plan: eval error in %q: %s", e.Expr, e.Reason)
}

// Env is the mutable environment an expression evaluates against: locals
// plus the distinguished @event/@input/@receipt slots.
type Env struct {
	Vars    map[string]interface{}
	Event   interface{}
	Input   interface{}
	Receipt interface{}
	NowNS   int64
}

func NewEnv() *Env {
	return &Env{Vars: map[string]interface{}{}}
}

func (e *Env) Set(name string, v interface{}) { e.Vars[name] = v }

// Expr is a node in the parsed expression tree.
type Expr interface {
	eval(env *Env) (interface{}, error)
	String() string
}

// Eval evaluates expr against env. It is pure and total except for a
// well-defined *EvalError.
func Eval(expr Expr, env *Env) (interface{}, error) {
	return expr.eval(env)
}
