package main

import (
	"fmt"
	"os"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/modulehost"
	"github.com/smartcomputer-ai/agentos/plan"
	"github.com/smartcomputer-ai/agentos/scheduler"
)

// manifestWire is the on-disk shape of `.aos/manifest.air.cbor`: the
// declarative surface (modules, effects, caps, grants, reducer
// bindings, plan definitions) in a CBOR-friendly form. Expr
// fields are carried as DSL source strings and compiled with
// plan.ParseExpr at load time, since the plan engine's Expr is a Go
// interface, not a wire type.
type manifestWire struct {
	Effects  []effects.EffectDef        `cbor:"effects"`
	Caps     []effects.CapDef           `cbor:"caps"`
	Grants   []effects.Grant            `cbor:"grants"`
	Bindings map[string]map[string]string `cbor:"bindings"` // reducer -> cap_slot -> grant

	Reducers []reducerWire `cbor:"reducers"`
	Plans    []planWire    `cbor:"plans"`

	PolicyRules []policyRuleWire `cbor:"policy_rules"`
}

// policyRuleWire is one ordered defpolicy rule: a rule matches when
// every non-empty field equals the corresponding
// PolicyRequest field. An empty field is a wildcard.
type policyRuleWire struct {
	Name       string `cbor:"name"`
	Kind       string `cbor:"kind,omitempty"`
	CapName    string `cbor:"cap_name,omitempty"`
	OriginKind string `cbor:"origin_kind,omitempty"`
	Allow      bool   `cbor:"allow"`
}

func compilePolicyRule(w policyRuleWire) effects.PolicyRule {
	return effects.PolicyRule{
		Name:  w.Name,
		Allow: w.Allow,
		Match: func(req effects.PolicyRequest) bool {
			if w.Kind != "" && w.Kind != req.Kind {
				return false
			}
			if w.CapName != "" && w.CapName != req.CapName {
				return false
			}
			if w.OriginKind != "" && w.OriginKind != string(req.Origin.Kind) {
				return false
			}
			return true
		},
	}
}

type reducerWire struct {
	Name           string   `cbor:"name"`
	ModuleHash     string   `cbor:"module_hash"`
	EffectsEmitted []string `cbor:"effects_emitted"`
	EventSchemas   []string `cbor:"event_schemas"`
	KeyExpr        string   `cbor:"key_expr,omitempty"` // "" => singleton reducer under key ""
}

type stepWire struct {
	ID           string     `cbor:"id"`
	Kind         string     `cbor:"kind"`
	Predecessors []edgeWire `cbor:"predecessors,omitempty"`

	EventSchema string `cbor:"event_schema,omitempty"`
	Payload     string `cbor:"payload,omitempty"`

	EffectKind string `cbor:"effect_kind,omitempty"`
	CapSlot    string `cbor:"cap_slot,omitempty"`
	Params     string `cbor:"params,omitempty"`

	ReceiptOf string `cbor:"receipt_of,omitempty"`

	AwaitSchema string `cbor:"await_schema,omitempty"`
	AwaitMatch  string `cbor:"await_match,omitempty"`

	SubPlan string   `cbor:"sub_plan,omitempty"`
	Input   string   `cbor:"input,omitempty"`
	Over    string   `cbor:"over,omitempty"`
	AwaitOf []string `cbor:"await_of,omitempty"`

	AssignVar string `cbor:"assign_var,omitempty"`
}

type edgeWire struct {
	From  string `cbor:"from"`
	Guard string `cbor:"guard,omitempty"`
}

type planWire struct {
	Name          string     `cbor:"name"`
	Steps         []stepWire `cbor:"steps"`
	TriggerSchema string     `cbor:"trigger_schema,omitempty"`
	TriggerMatch  string     `cbor:"trigger_match,omitempty"`
}

// loadManifest decodes the CBOR manifest at path and returns the hash
// naming it (ccbor.Hash over the raw file bytes), alongside the decoded
// wire form.
func loadManifest(path string) (string, *manifestWire, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifestWire
	if err := ccbor.Unmarshal(raw, &m); err != nil {
		return "", nil, fmt.Errorf("decoding manifest: %w", err)
	}
	hash := ccbor.Hash(raw)
	return hash, &m, nil
}

func parseExprOrNil(src string) (plan.Expr, error) {
	if src == "" {
		return nil, nil
	}
	return plan.ParseExpr(src)
}

func compileStep(w stepWire) (*plan.Step, error) {
	s := &plan.Step{
		ID:          w.ID,
		Kind:        plan.StepKind(w.Kind),
		EventSchema: w.EventSchema,
		EffectKind:  w.EffectKind,
		CapSlot:     w.CapSlot,
		ReceiptOf:   w.ReceiptOf,
		AwaitSchema: w.AwaitSchema,
		SubPlan:     w.SubPlan,
		AwaitOf:     w.AwaitOf,
		AssignVar:   w.AssignVar,
	}
	for _, e := range w.Predecessors {
		guard, err := parseExprOrNil(e.Guard)
		if err != nil {
			return nil, fmt.Errorf("step %s: predecessor guard: %w", w.ID, err)
		}
		s.Predecessors = append(s.Predecessors, plan.Edge{From: e.From, Guard: guard})
	}
	var err error
	if s.Payload, err = parseExprOrNil(w.Payload); err != nil {
		return nil, fmt.Errorf("step %s: payload: %w", w.ID, err)
	}
	if s.Params, err = parseExprOrNil(w.Params); err != nil {
		return nil, fmt.Errorf("step %s: params: %w", w.ID, err)
	}
	if s.AwaitMatch, err = parseExprOrNil(w.AwaitMatch); err != nil {
		return nil, fmt.Errorf("step %s: await_match: %w", w.ID, err)
	}
	if s.Input, err = parseExprOrNil(w.Input); err != nil {
		return nil, fmt.Errorf("step %s: input: %w", w.ID, err)
	}
	if s.Over, err = parseExprOrNil(w.Over); err != nil {
		return nil, fmt.Errorf("step %s: over: %w", w.ID, err)
	}
	return s, nil
}

func compilePlanDef(w planWire) (*plan.Def, error) {
	d := &plan.Def{
		Name:  w.Name,
		Steps: map[string]*plan.Step{},
	}
	for _, sw := range w.Steps {
		s, err := compileStep(sw)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", w.Name, err)
		}
		d.Steps[s.ID] = s
		d.Order = append(d.Order, s.ID)
	}
	d.TriggerSchema = w.TriggerSchema
	match, err := parseExprOrNil(w.TriggerMatch)
	if err != nil {
		return nil, fmt.Errorf("plan %s: trigger_match: %w", w.Name, err)
	}
	d.TriggerMatch = match
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func compileReducerBinding(w reducerWire) (*scheduler.ReducerBinding, error) {
	keyExpr, err := parseExprOrNil(w.KeyExpr)
	if err != nil {
		return nil, fmt.Errorf("reducer %s: key_expr: %w", w.Name, err)
	}
	schemas := map[string]bool{}
	for _, s := range w.EventSchemas {
		schemas[s] = true
	}
	return &scheduler.ReducerBinding{
		Name:         w.Name,
		ModuleHash:   w.ModuleHash,
		Def:          modulehost.ReducerModuleDef{EffectsEmitted: w.EffectsEmitted},
		EventSchemas: schemas,
		KeyExpr:      keyExpr,
	}, nil
}
