package effects

// PolicyRequest is what a PolicyRule's Match function inspects.
type PolicyRequest struct {
	Origin  Origin
	Kind    string
	CapName string
	Params  interface{}
}

// PolicyRule is one ordered rule of a defpolicy: the first matching rule
// decides allow/deny.
type PolicyRule struct {
	Name  string
	Match func(PolicyRequest) bool
	Allow bool
}

// PolicyGate runs the ordered rule list against a request. With no
// matching rule, the default is deny — spec.md's carve-out ("unless
// explicit allow exists for plan-origin identical effect") is a rare edge
// case we resolve conservatively to unconditional default-deny; see
// DESIGN.md.
type PolicyGate struct {
	rules []PolicyRule
}

func NewPolicyGate(rules []PolicyRule) *PolicyGate {
	return &PolicyGate{rules: rules}
}

// Decide returns (allow, matchedRuleName). matchedRuleName is "" when no
// rule matched and the default deny applied.
func (g *PolicyGate) Decide(req PolicyRequest) (bool, string) {
	for _, r := range g.rules {
		if r.Match(req) {
			return r.Allow, r.Name
		}
	}
	return false, ""
}
