package plan

import (
	"fmt"
	"sort"
)

// Lit is a literal value: string, float64, bool, or nil.
type Lit struct{ Value interface{} }

func (l *Lit) eval(*Env) (interface{}, error) { return l.Value, nil }
func (l *Lit) String() string                 { return fmt.Sprintf("%v", l.Value) }

// Slot references one of the distinguished @event/@input/@receipt slots.
type Slot struct{ Name string } // "event" | "input" | "receipt"

func (s *Slot) eval(env *Env) (interface{}, error) {
	switch s.Name {
	case "event":
		return env.Event, nil
	case "input":
		return env.Input, nil
	case "receipt":
		return env.Receipt, nil
	default:
		return nil, &EvalError{Expr: s.String(), Reason: "unknown slot @" + s.Name}
	}
}
func (s *Slot) String() string { return "@" + s.Name }

// VarRef references a local: `@var:name`.
type VarRef struct{ Name string }

func (v *VarRef) eval(env *Env) (interface{}, error) {
	val, ok := env.Vars[v.Name]
	if !ok {
		return nil, &EvalError{Expr: v.String(), Reason: "undefined variable"}
	}
	return val, nil
}
func (v *VarRef) String() string { return "@var:" + v.Name }

// Field accesses a named field of a map-shaped value.
type Field struct {
	Base Expr
	Name string
}

func (f *Field) eval(env *Env) (interface{}, error) {
	base, err := f.Base.eval(env)
	if err != nil {
		return nil, err
	}
	m, ok := base.(map[string]interface{})
	if !ok {
		return nil, &EvalError{Expr: f.String(), Reason: fmt.Sprintf("cannot access field %q of %T", f.Name, base)}
	}
	v, ok := m[f.Name]
	if !ok {
		return nil, &EvalError{Expr: f.String(), Reason: "no such field " + f.Name}
	}
	return v, nil
}
func (f *Field) String() string { return f.Base.String() + "." + f.Name }

// Index accesses a numeric index of a list-shaped value.
type Index struct {
	Base Expr
	Idx  Expr
}

func (ix *Index) eval(env *Env) (interface{}, error) {
	base, err := ix.Base.eval(env)
	if err != nil {
		return nil, err
	}
	idxV, err := ix.Idx.eval(env)
	if err != nil {
		return nil, err
	}
	arr, ok := base.([]interface{})
	if !ok {
		return nil, &EvalError{Expr: ix.String(), Reason: fmt.Sprintf("cannot index into %T", base)}
	}
	n, ok := idxV.(float64)
	if !ok {
		return nil, &EvalError{Expr: ix.String(), Reason: "index must be numeric"}
	}
	i := int(n)
	if i < 0 || i >= len(arr) {
		return nil, &EvalError{Expr: ix.String(), Reason: "index out of range"}
	}
	return arr[i], nil
}
func (ix *Index) String() string { return fmt.Sprintf("%s[%s]", ix.Base, ix.Idx) }

// BinOp is a binary arithmetic or comparison operator.
type BinOp struct {
	Op          string // + - * / == != < <= > >= && ||
	Left, Right Expr
}

func (b *BinOp) String() string { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }

func (b *BinOp) eval(env *Env) (interface{}, error) {
	l, err := b.Left.eval(env)
	if err != nil {
		return nil, err
	}

	if b.Op == "&&" || b.Op == "||" {
		lb, ok := l.(bool)
		if !ok {
			return nil, &EvalError{Expr: b.String(), Reason: "left operand of boolean op must be bool"}
		}
		if b.Op == "&&" && !lb {
			return false, nil
		}
		if b.Op == "||" && lb {
			return true, nil
		}
		r, err := b.Right.eval(env)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, &EvalError{Expr: b.String(), Reason: "right operand of boolean op must be bool"}
		}
		return rb, nil
	}

	r, err := b.Right.eval(env)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "==":
		return deepEqual(l, r), nil
	case "!=":
		return !deepEqual(l, r), nil
	}

	lf, lok := l.(float64)
	rf, rok := r.(float64)
	if !lok || !rok {
		return nil, &EvalError{Expr: b.String(), Reason: "arithmetic/comparison operands must be numeric"}
	}

	switch b.Op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, &EvalError{Expr: b.String(), Reason: "division by zero"}
		}
		return lf / rf, nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	default:
		return nil, &EvalError{Expr: b.String(), Reason: "unknown operator " + b.Op}
	}
}

// Call invokes one of the small pure library functions: len, min, max,
// now, match.
type Call struct {
	Fn   string
	Args []Expr
}

func (c *Call) String() string { return c.Fn + "(...)" }

func (c *Call) eval(env *Env) (interface{}, error) {
	args := make([]interface{}, len(c.Args))
	for i, a := range c.Args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch c.Fn {
	case "len":
		if len(args) != 1 {
			return nil, &EvalError{Expr: c.String(), Reason: "len takes exactly one argument"}
		}
		switch v := args[0].(type) {
		case []interface{}:
			return float64(len(v)), nil
		case string:
			return float64(len(v)), nil
		case map[string]interface{}:
			return float64(len(v)), nil
		default:
			return nil, &EvalError{Expr: c.String(), Reason: fmt.Sprintf("len: unsupported type %T", v)}
		}
	case "min", "max":
		if len(args) == 0 {
			return nil, &EvalError{Expr: c.String(), Reason: c.Fn + " requires at least one argument"}
		}
		best, ok := args[0].(float64)
		if !ok {
			return nil, &EvalError{Expr: c.String(), Reason: c.Fn + " arguments must be numeric"}
		}
		for _, a := range args[1:] {
			f, ok := a.(float64)
			if !ok {
				return nil, &EvalError{Expr: c.String(), Reason: c.Fn + " arguments must be numeric"}
			}
			if (c.Fn == "min" && f < best) || (c.Fn == "max" && f > best) {
				best = f
			}
		}
		return best, nil
	case "now":
		return float64(env.NowNS), nil
	case "match":
		if len(args) != 2 {
			return nil, &EvalError{Expr: c.String(), Reason: "match takes exactly two arguments"}
		}
		return deepEqual(args[0], args[1]), nil
	default:
		return nil, &EvalError{Expr: c.String(), Reason: "unknown function " + c.Fn}
	}
}

func deepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		keys := make([]string, 0, len(av))
		for k := range av {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			bvv, ok := bv[k]
			if !ok || !deepEqual(av[k], bvv) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
