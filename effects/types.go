// Package effects implements AgentOS's Effect Manager: capability
// resolution, the policy gate, the capability enforcer, the budget
// ledger, intent canonicalisation/dedup, and reducer-origin receipt
// translation.
package effects

import "github.com/smartcomputer-ai/agentos/ccbor"

// OriginKind distinguishes who emitted an effect.
type OriginKind string

const (
	OriginReducer OriginKind = "reducer"
	OriginPlan    OriginKind = "plan"
)

// Origin identifies the emitter of an effect: a reducer by module name, or
// a plan instance by plan name + instance id.
type Origin struct {
	Kind       OriginKind
	Name       string
	InstanceID string
}

// EffectDef declares a wire effect kind's params/receipt schema names.
type EffectDef struct {
	Kind           string
	ParamsSchema   string
	ReceiptSchema  string
}

// CapDef declares a capability type: its params schema and an optional
// pure-module enforcer hash.
type CapDef struct {
	CapType       string
	ParamsSchema  string
	EnforcerHash  string // CAS hash of a pure module; "" if none declared
}

// Grant binds a name to capability params, an optional expiry, and an
// optional per-dimension budget.
type Grant struct {
	Name    string
	CapType string
	Params  interface{}
	Expiry  *int64 // unix nanos; nil = no expiry
	Budget  map[string]uint64
}

// Status is an effect receipt's outcome.
type Status string

const (
	StatusOk      Status = "Ok"
	StatusError   Status = "Error"
	StatusTimeout Status = "Timeout"
)

// Intent is an effect intent: a canonicalised, deduplicated request to
// perform a side effect.
type Intent struct {
	Kind           string
	CapName        string
	Origin         Origin
	ParamsCBOR     []byte
	IdempotencyKey [32]byte
	IntentHash     string
}

// Receipt is an effect receipt.
type Receipt struct {
	IntentHash string
	AdapterID  string
	Status     Status
	PayloadCBOR []byte
	CostCents  *uint64
	Signature  string
}

// computeIntentHash implements intent_hash = H(canonical({kind, params,
// cap, idempotency_key})): canonicalising semantically equal params
// yields identical hashes.
func computeIntentHash(kind, capName string, paramsCBOR []byte, idempotencyKey [32]byte) (string, error) {
	hash, _, err := ccbor.HashValue(map[string]interface{}{
		"kind":            kind,
		"cap":             capName,
		"params":          paramsCBOR,
		"idempotency_key": idempotencyKey[:],
	})
	return hash, err
}
