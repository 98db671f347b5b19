package plan

import "sort"

// Registry holds the immutable set of plan definitions assembled at
// manifest-apply time, indexed by name.
type Registry struct {
	defs map[string]*Def
}

// NewRegistry validates every definition's DAG shape and builds a
// lookup index.
func NewRegistry(defs []*Def) (*Registry, error) {
	m := make(map[string]*Def, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		m[d.Name] = d
	}
	return &Registry{defs: m}, nil
}

// Lookup returns the named definition, or nil if absent.
func (r *Registry) Lookup(name string) *Def { return r.defs[name] }

// Defs returns the underlying definition map for Engine construction.
func (r *Registry) Defs() map[string]*Def { return r.defs }

// MatchTrigger evaluates every definition's trigger against a domain
// event, returning the names of plans that should spawn a new instance.
// correlate_by scoping of resume semantics is the caller's concern (it
// decides which existing instance, if any, takes the event before
// falling back to this spawn path).
func (r *Registry) MatchTrigger(eventSchema string, eventPayload interface{}) ([]string, error) {
	var matched []string
	for _, name := range sortedNames(r.defs) {
		d := r.defs[name]
		if d.TriggerSchema == "" || d.TriggerSchema != eventSchema {
			continue
		}
		if d.TriggerMatch != nil {
			env := NewEnv()
			env.Event = eventPayload
			v, err := Eval(d.TriggerMatch, env)
			if err != nil {
				return nil, err
			}
			ok, _ := v.(bool)
			if !ok {
				continue
			}
		}
		matched = append(matched, name)
	}
	return matched, nil
}

func sortedNames(m map[string]*Def) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
