package modulehost

import "fmt"

// ModuleTrap reports a module invocation that panicked, timed out, or
// otherwise failed inside the sandbox. It never corrupts kernel state:
// the tick aborts cleanly and the caller is informed.
type ModuleTrap struct {
	Module string
	Reason string
}

func (e *ModuleTrap) Error() string {
	return fmt.Sprintf("module trap in %s: %s", e.Module, e.Reason)
}

// ErrUnsupportedEffectKind reports a reducer output declaring an effect
// kind outside its manifest-declared effects_emitted set.
type ErrUnsupportedEffectKind struct {
	Module string
	Kind   string
}

func (e *ErrUnsupportedEffectKind) Error() string {
	return fmt.Sprintf("module %s emitted undeclared effect kind %q", e.Module, e.Kind)
}

// ErrVersionRegression reports an output ABI version lower than the input
// version — the host enforces monotonicity.
type ErrVersionRegression struct {
	Module        string
	InputVersion  int
	OutputVersion int
}

func (e *ErrVersionRegression) Error() string {
	return fmt.Sprintf("module %s: output version %d is not >= input version %d", e.Module, e.OutputVersion, e.InputVersion)
}
