package effects

import (
	"sync"

	"github.com/smartcomputer-ai/agentos/internal/aoserr"
	"github.com/smartcomputer-ai/agentos/journal"
	"github.com/smartcomputer-ai/agentos/modulehost"
	"github.com/smartcomputer-ai/agentos/schema"
)

// UsageExtractor computes per-dimension actual usage from a receipt for
// budget settlement (e.g. token counts for `llm.generate`). Kinds with no
// registered extractor settle for exactly their reserved estimate.
type UsageExtractor func(Receipt) map[string]uint64

// Manager is the Effect Manager: it resolves capabilities, gates on
// policy, runs the capability enforcer, reserves against the budget
// ledger, canonicalises and dedups intents, and translates reducer-origin
// receipts back into domain events.
type Manager struct {
	mu sync.Mutex

	schemas  *schema.Index
	effects  map[string]EffectDef
	caps     map[string]CapDef
	grants   map[string]Grant
	bindings map[string]map[string]string // reducer name -> cap_slot -> grant_name

	policy   *PolicyGate
	ledger   *BudgetLedger
	host     *modulehost.Host
	journal  journal.Journal
	resolver SecretResolver
	nowNS    int64 // logical time of the tick currently being processed

	usageExtractors map[string]UsageExtractor
	internalHandlers map[string]func(Intent) (Receipt, error)

	queue          []Intent
	seenThisTick   map[string]bool
	pendingIntents map[string]Intent
	reserved       map[string]map[string]uint64
	receiptsSeen   map[string]bool
}

// Config bundles Manager's static manifest-derived wiring.
type Config struct {
	Schemas  *schema.Index
	Effects  map[string]EffectDef
	Caps     map[string]CapDef
	Grants   map[string]Grant
	Bindings map[string]map[string]string
	Policy   *PolicyGate
	Ledger   *BudgetLedger
	Host     *modulehost.Host
	Journal  journal.Journal
	Resolver SecretResolver
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		schemas:          cfg.Schemas,
		effects:          cfg.Effects,
		caps:             cfg.Caps,
		grants:           cfg.Grants,
		bindings:         cfg.Bindings,
		policy:           cfg.Policy,
		ledger:           cfg.Ledger,
		host:             cfg.Host,
		journal:          cfg.Journal,
		resolver:         cfg.Resolver,
		usageExtractors:  map[string]UsageExtractor{},
		internalHandlers: map[string]func(Intent) (Receipt, error){},
		seenThisTick:     map[string]bool{},
		pendingIntents:   map[string]Intent{},
		reserved:         map[string]map[string]uint64{},
		receiptsSeen:     map[string]bool{},
	}
}

// RegisterUsageExtractor wires a kind-specific settlement calculator.
func (m *Manager) RegisterUsageExtractor(kind string, fn UsageExtractor) {
	m.usageExtractors[kind] = fn
}

// RegisterInternalHandler wires a synchronous handler for an `introspect.*`
// intent kind, served without ever reaching the adapter dispatch queue.
func (m *Manager) RegisterInternalHandler(kind string, fn func(Intent) (Receipt, error)) {
	m.internalHandlers[kind] = fn
}

// Ledger exposes the manager's budget ledger for snapshot capture/restore
// and governance's PreserveCounters.
func (m *Manager) Ledger() *BudgetLedger { return m.ledger }

// PendingIntentHashes returns the intent hashes still awaiting a receipt,
// for inclusion in a kernel snapshot's effect_queue.
func (m *Manager) PendingIntentHashes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pendingIntents))
	for h := range m.pendingIntents {
		out = append(out, h)
	}
	return out
}

// ResetTick clears the per-tick dedup set; called by the scheduler at the
// start of each tick (dedup scope is within a tick, not the whole run).
func (m *Manager) ResetTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seenThisTick = map[string]bool{}
}

// SetLogicalNow records the current tick's logical time, consulted for
// grant expiry checks and passed to capability enforcers as
// logical_now_ns. Called by the scheduler alongside ResetTick.
func (m *Manager) SetLogicalNow(nowNS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowNS = nowNS
}

// EnqueueReducerEffect implements the reducer-origin emission path: the
// cap_slot name is resolved to a grant via the module's binding table.
func (m *Manager) EnqueueReducerEffect(reducerName string, capSlot string, effect modulehost.EmittedEffect) (*Intent, error) {
	origin := Origin{Kind: OriginReducer, Name: reducerName}
	binding, ok := m.bindings[reducerName]
	if !ok {
		return nil, aoserr.New(aoserr.KindCapabilityDenied, "no capability bindings registered for reducer "+reducerName)
	}
	grantName, ok := binding[capSlot]
	if !ok {
		return nil, aoserr.New(aoserr.KindCapabilityDenied, "reducer "+reducerName+" has no grant bound to cap slot "+capSlot)
	}
	return m.emit(origin, grantName, effect.Kind, effect.Params, [32]byte{})
}

// EnqueuePlanEffect implements the plan-origin emission path: the plan
// engine has already resolved cap_name to a grant via its required_caps.
func (m *Manager) EnqueuePlanEffect(originPlan, planInstanceID, kind, capName string, params interface{}) (*Intent, error) {
	origin := Origin{Kind: OriginPlan, Name: originPlan, InstanceID: planInstanceID}
	return m.emit(origin, capName, kind, params, [32]byte{})
}

// DrainEffects returns and clears the queued intents, handing them to the
// (externally owned) adapter dispatch layer.
func (m *Manager) DrainEffects() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// RoutingInfo tells the scheduler who should be notified of a settled
// receipt, and with what synthesised event (reducer-origin only).
type RoutingInfo struct {
	Origin   Origin
	Synth    *SynthEvent
}

// SynthEvent is the reducer-origin synthesised domain event.
type SynthEvent struct {
	Schema  string
	Payload map[string]interface{}
}

// HandleReceipt matches a receipt to its intent (at most one receipt is
// ever accepted per intent), settles the budget, journals the receipt,
// and returns routing info for the scheduler to deliver it.
func (m *Manager) HandleReceipt(r Receipt) (*RoutingInfo, error) {
	m.mu.Lock()
	intent, ok := m.pendingIntents[r.IntentHash]
	if !ok {
		m.mu.Unlock()
		return nil, aoserr.New(aoserr.KindIntentUnknown, "receipt for unknown intent "+r.IntentHash)
	}
	if m.receiptsSeen[r.IntentHash] {
		m.mu.Unlock()
		return nil, aoserr.New(aoserr.KindIntentUnknown, "duplicate receipt for intent "+r.IntentHash)
	}
	m.receiptsSeen[r.IntentHash] = true
	estimate := m.reserved[r.IntentHash]
	m.mu.Unlock()

	usage := estimate
	if extractor, ok := m.usageExtractors[intent.Kind]; ok {
		usage = extractor(r)
	}
	if len(estimate) > 0 {
		if err := m.ledger.Settle(intent.CapName, estimate, usage); err != nil {
			return nil, err
		}
	}

	if _, err := m.journal.Append(journal.KindEffectReceipt, r); err != nil {
		return nil, aoserr.Wrap(aoserr.KindJournal, "journal effect receipt", err)
	}

	routing := &RoutingInfo{Origin: intent.Origin}
	if intent.Origin.Kind == OriginReducer {
		schemaName, payload, err := TranslateReceipt(intent.Origin.Name, intent, r)
		if err != nil {
			return nil, err
		}
		routing.Synth = &SynthEvent{Schema: schemaName, Payload: payload}
	}
	return routing, nil
}

// HandleInternalIntent serves `introspect.*` intents synchronously,
// bypassing the adapter dispatch queue entirely, when a handler for the
// kind is registered; ok is false when no internal handler applies.
func (m *Manager) HandleInternalIntent(intent Intent) (receipt Receipt, ok bool, err error) {
	handler, found := m.internalHandlers[intent.Kind]
	if !found {
		return Receipt{}, false, nil
	}
	r, err := handler(intent)
	return r, true, err
}

// emit runs the seven-step effect emission pipeline: schema
// canonicalisation, capability resolution, the policy gate, the
// capability enforcer, the budget ledger, intent canonicalisation/dedup,
// and queueing.
func (m *Manager) emit(origin Origin, grantOrCapName, kind string, rawParams interface{}, idemKey [32]byte) (*Intent, error) {
	// Step 1: kind -> schema canonicalisation.
	effectDef, ok := m.effects[kind]
	if !ok {
		return nil, aoserr.New(aoserr.KindManifest, "no effect definition for kind "+kind)
	}
	normalized, err := schema.NormalizeValueBySchema(m.schemas, effectDef.ParamsSchema, rawParams)
	if err != nil {
		return nil, err
	}

	// Step 2: capability resolution. A grant past its expiry is refused
	// here, before policy or the enforcer ever sees it.
	grant, ok := m.grants[grantOrCapName]
	if !ok {
		return nil, aoserr.New(aoserr.KindCapabilityDenied, "unknown grant "+grantOrCapName)
	}
	m.mu.Lock()
	nowNS := m.nowNS
	m.mu.Unlock()
	if grant.Expiry != nil && nowNS >= *grant.Expiry {
		return nil, aoserr.New(aoserr.KindCapabilityDenied, "grant "+grant.Name+" expired")
	}

	m.mu.Lock()
	// Step 3: policy gate.
	allow, _ := m.policy.Decide(PolicyRequest{Origin: origin, Kind: kind, CapName: grant.Name, Params: normalized.Repr})
	if !allow {
		m.mu.Unlock()
		if _, jerr := m.journal.Append(journal.KindPolicyDecision, map[string]interface{}{
			"origin": origin, "kind": kind, "cap": grant.Name, "decision": "deny",
		}); jerr != nil {
			return nil, aoserr.Wrap(aoserr.KindJournal, "journal policy decision", jerr)
		}
		return nil, aoserr.New(aoserr.KindPolicyDenied, "policy denied "+kind+" against grant "+grant.Name)
	}
	m.mu.Unlock()

	// Step 4: capability enforcer.
	reserveEstimate := map[string]uint64{}
	capDef, hasCapDef := m.caps[grant.CapType]
	if hasCapDef && capDef.EnforcerHash != "" {
		result, err := m.runEnforcer(capDef, grant, kind, normalized.Repr, origin, nowNS)
		if err != nil {
			return nil, err
		}
		if !result.ok {
			if _, jerr := m.journal.Append(journal.KindCapDecision, map[string]interface{}{
				"origin": origin, "kind": kind, "cap": grant.Name, "decision": "deny", "reason": result.denyMessage,
			}); jerr != nil {
				return nil, aoserr.Wrap(aoserr.KindJournal, "journal cap decision", jerr)
			}
			return nil, aoserr.New(aoserr.KindCapabilityDenied, "enforcer denied: "+result.denyMessage)
		}
		reserveEstimate = result.reserveEstimate
	}

	// Step 5: budget ledger.
	if len(reserveEstimate) > 0 {
		if err := m.ledger.Reserve(grant.Name, reserveEstimate); err != nil {
			return nil, err
		}
	}

	// Step 6: intent canonicalisation + dedup. idemKey is the
	// caller-provided idempotency key, or the zero key.
	intentHash, err := computeIntentHash(kind, grant.Name, normalized.Bytes, idemKey)
	if err != nil {
		return nil, aoserr.Wrap(aoserr.KindStore, "compute intent hash", err)
	}

	intent := Intent{
		Kind: kind, CapName: grant.Name, Origin: origin,
		ParamsCBOR: normalized.Bytes, IdempotencyKey: idemKey, IntentHash: intentHash,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenThisTick[intentHash] {
		return &intent, nil // deduplicated: already journaled/queued this tick
	}
	m.seenThisTick[intentHash] = true

	if _, err := m.journal.Append(journal.KindEffectIntent, intent); err != nil {
		return nil, aoserr.Wrap(aoserr.KindJournal, "journal effect intent", err)
	}
	m.pendingIntents[intentHash] = intent
	m.reserved[intentHash] = reserveEstimate

	// Step 7: queueing.
	m.queue = append(m.queue, intent)
	return &intent, nil
}

type enforcerResult struct {
	ok              bool
	denyMessage     string
	reserveEstimate map[string]uint64
}

func (m *Manager) runEnforcer(capDef CapDef, grant Grant, kind string, params interface{}, origin Origin, nowNS int64) (*enforcerResult, error) {
	out, err := m.host.RunPure(capDef.EnforcerHash, modulehost.PureInput{
		Version: 1,
		Input: map[string]interface{}{
			"cap_def":        capDef.CapType,
			"grant_name":     grant.Name,
			"cap_params":     grant.Params,
			"effect_kind":    kind,
			"effect_params":  params,
			"origin":         map[string]interface{}{"kind": string(origin.Kind), "name": origin.Name},
			"logical_now_ns": nowNS,
		},
	})
	if err != nil {
		return nil, err
	}
	outMap, ok := out.Output.(map[string]interface{})
	if !ok {
		return nil, aoserr.New(aoserr.KindCapabilityDenied, "enforcer "+capDef.EnforcerHash+" returned a non-table output")
	}

	res := &enforcerResult{reserveEstimate: map[string]uint64{}}
	if okVal, ok := outMap["constraints_ok"].(bool); ok {
		res.ok = okVal
	}
	if deny, ok := outMap["deny"].(map[string]interface{}); ok {
		if msg, ok := deny["message"].(string); ok {
			res.denyMessage = msg
		}
	}
	if est, ok := outMap["reserve_estimate"].(map[string]interface{}); ok {
		for k, v := range est {
			if f, ok := v.(float64); ok {
				res.reserveEstimate[k] = uint64(f)
			}
		}
	}
	return res, nil
}
