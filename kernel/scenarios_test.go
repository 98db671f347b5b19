package kernel_test

// Scenario tests: one kernel per scenario, each wired from a single
// examples/* package plus (where the scenario needs an outside world)
// examples/fakedispatch. Fixture shape follows newFixture/newKernelOver
// above, generalised with the Effects.Config fields those helpers leave
// at their zero value.

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/cas"
	"github.com/smartcomputer-ai/agentos/cellindex"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/examples/aggregator"
	"github.com/smartcomputer-ai/agentos/examples/blobecho"
	"github.com/smartcomputer-ai/agentos/examples/chaincomp"
	"github.com/smartcomputer-ai/agentos/examples/enforcers"
	"github.com/smartcomputer-ai/agentos/examples/fakedispatch"
	"github.com/smartcomputer-ai/agentos/examples/retrybackoff"
	"github.com/smartcomputer-ai/agentos/examples/safeupgrade"
	"github.com/smartcomputer-ai/agentos/examples/session"
	"github.com/smartcomputer-ai/agentos/governance"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
	"github.com/smartcomputer-ai/agentos/journal"
	"github.com/smartcomputer-ai/agentos/kernel"
	"github.com/smartcomputer-ai/agentos/modulehost"
	"github.com/smartcomputer-ai/agentos/plan"
	"github.com/smartcomputer-ai/agentos/scheduler"
	"github.com/smartcomputer-ai/agentos/schema"
)

func allScenariosPolicy() *effects.PolicyGate {
	return effects.NewPolicyGate([]effects.PolicyRule{
		{Name: "allow-all", Allow: true, Match: func(effects.PolicyRequest) bool { return true }},
	})
}

// newScenarioKernel builds a kernel over store/host/cells/journal plus
// the given effects.Config and plan defs, optionally dispatching through
// dispatch (nil runs with no out-of-core adapter at all, fine for
// scenarios that only ever use internal timers).
func newScenarioKernel(t *testing.T, store cas.Store, j journal.Journal, cfg effects.Config, defs []*plan.Def, dispatch scheduler.AdapterDispatcher) *kernel.Kernel {
	t.Helper()
	host, err := modulehost.NewHost(store, 16, 2*time.Second)
	require.NoError(t, err)
	cells := cellindex.New(store)
	if cfg.Policy == nil {
		cfg.Policy = allScenariosPolicy()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = effects.NewBudgetLedger()
	}
	if cfg.Journal == nil {
		cfg.Journal = j
	}
	if cfg.Host == nil {
		cfg.Host = host
	}
	mgr := effects.NewManager(cfg)
	reg, err := plan.NewRegistry(defs)
	require.NoError(t, err)

	k, err := kernel.New(kernel.Config{
		Store: store, Journal: j, Cells: cells, Effects: mgr,
		Host: host, PlanReg: reg, Dispatch: dispatch,
		ManifestHash: "manifest-v1",
	})
	require.NoError(t, err)
	return k
}

// TestScenario_S1_HelloTimer exercises session: an idle timer set on the
// first event fires on its own once the scheduler's internal clock
// passes its deadline, with no adapter in the loop at all.
func TestScenario_S1_HelloTimer(t *testing.T) {
	store := cas.NewMemStore()
	j := journal.NewMemJournal()
	moduleHash, err := store.PutBlob([]byte(session.ReducerSrc))
	require.NoError(t, err)

	ledger := effects.NewBudgetLedger()
	ledger.RegisterGrant("clock-grant", map[string]uint64{"tokens": 100})

	k := newScenarioKernel(t, store, j, effects.Config{
		Schemas:  schema.NewIndex(session.Schemas()),
		Effects:  session.EffectDefs(),
		Caps:     session.Caps(),
		Grants:   session.Grants(),
		Bindings: session.Bindings(),
		Ledger:   ledger,
	}, nil, nil)

	k.World.RegisterReducer(&scheduler.ReducerBinding{
		Name:         session.ReducerName,
		ModuleHash:   moduleHash,
		Def:          session.ModuleDef,
		EventSchemas: session.EventSchemas,
	})

	k.SubmitEvent(session.StartSchema, map[string]interface{}{"idle_ms": float64(3_600_000)})
	quiescent, _, err := k.TickUntilIdle(0, 10)
	require.NoError(t, err)
	require.True(t, quiescent)

	state, ok := k.GetReducerState(session.ReducerName, "")
	require.True(t, ok)
	assert.Equal(t, false, state.(map[string]interface{})["expired"])

	// Deadline is 3_600_000ms past nowNS=0; advance well past it.
	quiescent, _, err = k.TickUntilIdle(4_000_000_000_000, 10)
	require.NoError(t, err)
	require.True(t, quiescent)

	state, ok = k.GetReducerState(session.ReducerName, "")
	require.True(t, ok)
	assert.Equal(t, true, state.(map[string]interface{})["expired"])
}

// TestScenario_S2_BlobEcho exercises blobecho: a reducer stores a string
// via blob.put then reads it back via blob.get, against a fake store
// adapter that just echoes a deterministic ref and the original data.
func TestScenario_S2_BlobEcho(t *testing.T) {
	store := cas.NewMemStore()
	j := journal.NewMemJournal()
	moduleHash, err := store.PutBlob([]byte(blobecho.ReducerSrc))
	require.NoError(t, err)

	ledger := effects.NewBudgetLedger()
	ledger.RegisterGrant("store-grant", map[string]uint64{"tokens": 100})

	dispatch := fakedispatch.New().
		On("blob.put", func(intent effects.Intent, _ int) effects.Receipt {
			return fakedispatch.JSONReceipt(intent, "fake-store", map[string]interface{}{"ref": "blobref-1"})
		}).
		On("blob.get", func(intent effects.Intent, _ int) effects.Receipt {
			params := fakedispatch.DecodeParams(intent)
			assert.Equal(t, "blobref-1", params["ref"])
			return fakedispatch.JSONReceipt(intent, "fake-store", map[string]interface{}{"data": "hello world"})
		})

	k := newScenarioKernel(t, store, j, effects.Config{
		Schemas:  schema.NewIndex(blobecho.Schemas()),
		Effects:  blobecho.EffectDefs(),
		Caps:     blobecho.Caps(),
		Grants:   blobecho.Grants(),
		Bindings: blobecho.Bindings(),
		Ledger:   ledger,
	}, nil, dispatch)

	k.World.RegisterReducer(&scheduler.ReducerBinding{
		Name:         blobecho.ReducerName,
		ModuleHash:   moduleHash,
		Def:          blobecho.ModuleDef,
		EventSchemas: blobecho.EventSchemas,
	})

	k.SubmitEvent(blobecho.StartSchema, map[string]interface{}{"data": "hello world"})
	quiescent, _, err := k.TickUntilIdle(0, 10)
	require.NoError(t, err)
	require.True(t, quiescent)

	state, ok := k.GetReducerState(blobecho.ReducerName, "")
	require.True(t, ok)
	m := state.(map[string]interface{})
	assert.Equal(t, "Done", m["phase"])
	assert.Equal(t, "blobref-1", m["stored_ref"])
	assert.Equal(t, "hello world", m["retrieved_data"])
}

// TestScenario_S3_PlanFanout exercises aggregator: one trigger-spawned
// plan fans out an http.request per source, then collects the ordered
// results via await_plans_all.
func TestScenario_S3_PlanFanout(t *testing.T) {
	store := cas.NewMemStore()
	j := journal.NewMemJournal()

	ledger := effects.NewBudgetLedger()
	ledger.RegisterGrant("http-cap", map[string]uint64{"tokens": 100})

	dispatch := fakedispatch.New().On("http.request", func(intent effects.Intent, _ int) effects.Receipt {
		params := fakedispatch.DecodeParams(intent)
		return fakedispatch.JSONReceipt(intent, "fake-http", map[string]interface{}{
			"source": params["name"],
			"status": float64(200),
		})
	})

	k := newScenarioKernel(t, store, j, effects.Config{
		Schemas:  schema.NewIndex(aggregator.Schemas()),
		Effects:  aggregator.EffectDefs(),
		Caps:     aggregator.Caps(),
		Grants:   aggregator.Grants(),
		Bindings: map[string]map[string]string{},
		Ledger:   ledger,
	}, aggregator.Defs(), dispatch)

	k.SubmitEvent(aggregator.TriggerSchema, map[string]interface{}{
		"sources": []interface{}{
			map[string]interface{}{"name": "alpha", "url": "http://alpha.example/"},
			map[string]interface{}{"name": "beta", "url": "http://beta.example/"},
			map[string]interface{}{"name": "gamma", "url": "http://gamma.example/"},
		},
	})

	quiescent, _, err := k.TickUntilIdle(0, 20)
	require.NoError(t, err)
	require.True(t, quiescent)

	pi := k.World.GetPlanInstance("plan-000001")
	require.NotNil(t, pi)
	require.True(t, pi.Ended)
	require.False(t, pi.Failed)

	results, ok := pi.Outcome.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 3)
	// Outcome is ordered by input index, not arrival order.
	assert.Equal(t, "alpha", results[0].(map[string]interface{})["source"])
	assert.Equal(t, "beta", results[1].(map[string]interface{})["source"])
	assert.Equal(t, "gamma", results[2].(map[string]interface{})["source"])
}

// TestScenario_S4_ChainCompensation exercises chaincomp: a charge
// succeeds, a reserve fails with a server error, and the saga
// compensates by refunding the charge.
func TestScenario_S4_ChainCompensation(t *testing.T) {
	store := cas.NewMemStore()
	j := journal.NewMemJournal()

	ledger := effects.NewBudgetLedger()
	ledger.RegisterGrant("payment-cap", map[string]uint64{"tokens": 100})

	dispatch := fakedispatch.New().
		On("payment.charge", func(intent effects.Intent, _ int) effects.Receipt {
			return fakedispatch.JSONReceipt(intent, "fake-payment", map[string]interface{}{"status_code": float64(201)})
		}).
		On("payment.reserve", func(intent effects.Intent, _ int) effects.Receipt {
			return fakedispatch.JSONReceipt(intent, "fake-payment", map[string]interface{}{"status_code": float64(503)})
		}).
		On("payment.refund", func(intent effects.Intent, _ int) effects.Receipt {
			return fakedispatch.JSONReceipt(intent, "fake-payment", map[string]interface{}{"phase": "Refunded", "refund_status": float64(202)})
		})

	k := newScenarioKernel(t, store, j, effects.Config{
		Schemas:  schema.NewIndex(chaincomp.Schemas()),
		Effects:  chaincomp.EffectDefs(),
		Caps:     chaincomp.Caps(),
		Grants:   chaincomp.Grants(),
		Bindings: map[string]map[string]string{},
		Ledger:   ledger,
	}, []*plan.Def{chaincomp.Def()}, dispatch)

	k.SubmitEvent(chaincomp.TriggerSchema, map[string]interface{}{"amount": float64(1000)})

	quiescent, _, err := k.TickUntilIdle(0, 20)
	require.NoError(t, err)
	require.True(t, quiescent)

	pi := k.World.GetPlanInstance("plan-000001")
	require.NotNil(t, pi)
	require.True(t, pi.Ended)
	require.False(t, pi.Failed)

	outcome, ok := pi.Outcome.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Refunded", outcome["phase"])
	assert.EqualValues(t, 202, outcome["refund_status"])
}

// TestScenario_S5_RetryBackoff exercises retrybackoff: the first two
// http.request attempts fail, each followed by an internal timer.set
// backoff, before the third attempt succeeds.
func TestScenario_S5_RetryBackoff(t *testing.T) {
	store := cas.NewMemStore()
	j := journal.NewMemJournal()

	ledger := effects.NewBudgetLedger()
	ledger.RegisterGrant("http-cap", map[string]uint64{"tokens": 100})
	ledger.RegisterGrant("clock-cap", map[string]uint64{"tokens": 100})

	dispatch := fakedispatch.New().On("http.request", func(intent effects.Intent, callIndex int) effects.Receipt {
		if callIndex < 2 {
			return fakedispatch.JSONReceipt(intent, "fake-http", map[string]interface{}{"pc": "Retrying", "attempt": float64(callIndex + 1)})
		}
		return fakedispatch.JSONReceipt(intent, "fake-http", map[string]interface{}{"pc": "Done", "attempt": float64(3), "timers_scheduled": float64(2)})
	})

	k := newScenarioKernel(t, store, j, effects.Config{
		Schemas:  schema.NewIndex(retrybackoff.Schemas()),
		Effects:  retrybackoff.EffectDefs(),
		Caps:     retrybackoff.Caps(),
		Grants:   retrybackoff.Grants(),
		Bindings: map[string]map[string]string{},
		Ledger:   ledger,
	}, []*plan.Def{retrybackoff.Def()}, dispatch)

	k.SubmitEvent(retrybackoff.TriggerSchema, map[string]interface{}{
		"request": map[string]interface{}{"url": "http://flaky.example/"},
		"timer1":  map[string]interface{}{"delay_ms": float64(10)},
		"timer2":  map[string]interface{}{"delay_ms": float64(20)},
	})

	// Drive enough idle cycles, advancing nowNS past each backoff's
	// deadline, for all three attempts and both timers to resolve.
	nowNS := int64(0)
	var pi *plan.PlanInstance
	for i := 0; i < 5; i++ {
		quiescent, _, err := k.TickUntilIdle(nowNS, 20)
		require.NoError(t, err)
		require.True(t, quiescent)
		pi = k.World.GetPlanInstance("plan-000001")
		if pi != nil && pi.Ended {
			break
		}
		nowNS += 1_000_000_000 // 1s, comfortably past either backoff
	}

	require.NotNil(t, pi)
	require.True(t, pi.Ended)
	require.False(t, pi.Failed)

	outcome, ok := pi.Outcome.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Done", outcome["pc"])
	assert.EqualValues(t, 3, outcome["attempt"])
	assert.EqualValues(t, 2, outcome["timers_scheduled"])
}

// TestScenario_S6_SafeUpgrade exercises safeupgrade: a snapshot taken
// before a governance apply still restores the pre-upgrade manifest and
// reducer behavior, and the post-upgrade reducer runs the new module.
func TestScenario_S6_SafeUpgrade(t *testing.T) {
	store := cas.NewMemStore()
	j := journal.NewMemJournal()
	v1Hash, err := store.PutBlob([]byte(safeupgrade.V1Src))
	require.NoError(t, err)

	host, err := modulehost.NewHost(store, 16, 2*time.Second)
	require.NoError(t, err)
	cells := cellindex.New(store)
	mgr := effects.NewManager(effects.Config{
		Schemas: schema.NewIndex(nil),
		Ledger:  effects.NewBudgetLedger(),
		Journal: j,
	})
	reg, err := plan.NewRegistry(nil)
	require.NoError(t, err)

	k, err := kernel.New(kernel.Config{
		Store: store, Journal: j, Cells: cells, Effects: mgr,
		Host: host, PlanReg: reg, ManifestHash: "manifest-v1",
		Apply: safeupgrade.NewApplyFunc(store, "manifest-v2"),
	})
	require.NoError(t, err)
	k.World.RegisterReducer(&scheduler.ReducerBinding{
		Name:         safeupgrade.ReducerName,
		ModuleHash:   v1Hash,
		Def:          safeupgrade.ModuleDef,
		EventSchemas: safeupgrade.EventSchemas(),
	})

	k.SubmitEvent(safeupgrade.EventSchema, map[string]interface{}{})
	_, _, err = k.TickUntilIdle(0, 10)
	require.NoError(t, err)

	state, ok := k.GetReducerState(safeupgrade.ReducerName, "")
	require.True(t, ok)
	assert.Equal(t, "v1", state.(map[string]interface{})["module_version"])
	assert.EqualValues(t, 1, state.(map[string]interface{})["count"])

	ref, err := k.CreateSnapshot(nil, nil)
	require.NoError(t, err)

	patch := governance.ManifestPatch{Manifest: "manifest-v2"}
	p, err := k.SubmitProposal(patch, "upgrade counter to v2")
	require.NoError(t, err)
	require.NoError(t, k.RunShadow(p.ID, governance.ShadowSummary{ManifestHash: "manifest-v2"}))
	require.NoError(t, k.ApproveProposal(p.ID, "alice", true))

	hash, err := k.ApplyProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "manifest-v2", hash)
	assert.Equal(t, "manifest-v2", k.GetManifest())

	// The upgraded binding runs v2 on the very next event.
	k.SubmitEvent(safeupgrade.EventSchema, map[string]interface{}{})
	_, _, err = k.TickUntilIdle(0, 10)
	require.NoError(t, err)

	state, ok = k.GetReducerState(safeupgrade.ReducerName, "")
	require.True(t, ok)
	assert.Equal(t, "v2", state.(map[string]interface{})["module_version"])
	assert.EqualValues(t, 3, state.(map[string]interface{})["count"])

	// A second kernel sharing the same store/cells/journal restores the
	// pre-upgrade manifest from the snapshot taken before the apply.
	host2, err := modulehost.NewHost(store, 16, 2*time.Second)
	require.NoError(t, err)
	mgr2 := effects.NewManager(effects.Config{
		Schemas: schema.NewIndex(nil),
		Ledger:  effects.NewBudgetLedger(),
		Journal: j,
	})
	reg2, err := plan.NewRegistry(nil)
	require.NoError(t, err)
	k2, err := kernel.New(kernel.Config{
		Store: store, Journal: j, Cells: cellindex.New(store), Effects: mgr2,
		Host: host2, PlanReg: reg2, ManifestHash: "manifest-v1",
	})
	require.NoError(t, err)
	k2.World.RegisterReducer(&scheduler.ReducerBinding{
		Name:         safeupgrade.ReducerName,
		ModuleHash:   v1Hash,
		Def:          safeupgrade.ModuleDef,
		EventSchemas: safeupgrade.EventSchemas(),
	})
	require.NoError(t, k2.RestoreSnapshot(ref))
	assert.Equal(t, "manifest-v1", k2.GetManifest())
	state, ok = k2.GetReducerState(safeupgrade.ReducerName, "")
	require.True(t, ok)
	assert.Equal(t, "v1", state.(map[string]interface{})["module_version"])
}

// TestScenario_S7_PolicyDeny exercises enforcers: a reducer's module is
// allowed to emit http.request, but the policy layer denies it, and the
// denial is journaled without ever reaching the intent queue.
func TestScenario_S7_PolicyDeny(t *testing.T) {
	store := cas.NewMemStore()
	j := journal.NewMemJournal()
	moduleHash, err := store.PutBlob([]byte(enforcers.ReducerSrc))
	require.NoError(t, err)

	ledger := effects.NewBudgetLedger()
	ledger.RegisterGrant("http-grant", map[string]uint64{"tokens": 100})

	k := newScenarioKernel(t, store, j, effects.Config{
		Schemas:  schema.NewIndex(enforcers.Schemas()),
		Effects:  enforcers.EffectDefs(),
		Caps:     enforcers.Caps(),
		Grants:   enforcers.Grants(),
		Bindings: enforcers.Bindings(),
		Policy:   enforcers.DenyReducerHTTP(),
		Ledger:   ledger,
	}, nil, nil)

	k.World.RegisterReducer(&scheduler.ReducerBinding{
		Name:         enforcers.ReducerName,
		ModuleHash:   moduleHash,
		Def:          enforcers.ModuleDef,
		EventSchemas: enforcers.EventSchemas,
	})

	k.SubmitEvent(enforcers.StartSchema, map[string]interface{}{"url": "http://example/"})
	_, err = k.Tick(0)
	require.Error(t, err)
	kind, ok := aoserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, aoserr.KindPolicyDenied, kind)

	records, err := j.LoadFrom(0)
	require.NoError(t, err)
	var policyDecisions, effectIntents int
	for _, r := range records {
		switch r.Kind {
		case journal.KindPolicyDecision:
			policyDecisions++
		case journal.KindEffectIntent:
			effectIntents++
		}
	}
	assert.Equal(t, 1, policyDecisions)
	assert.Equal(t, 0, effectIntents)
}

// TestScenario_HTTPAllowlistEnforcer exercises enforcers' HTTP
// host/scheme/method/port/path allowlist pure module from both sides: a
// request matching the grant's cap_params reaches the intent queue with
// its reserve_estimate reserved, and one that doesn't is denied and
// journaled before it ever gets there.
func TestScenario_HTTPAllowlistEnforcer(t *testing.T) {
	allowlist := map[string]interface{}{
		"allowed_schemes": []interface{}{"http"},
		"allowed_hosts":   []interface{}{"example"},
		"allowed_methods": []interface{}{"GET"},
		"allowed_ports":   []interface{}{float64(80)},
	}

	newHTTPKernel := func(t *testing.T) (*kernel.Kernel, *journal.MemJournal) {
		store := cas.NewMemStore()
		j := journal.NewMemJournal()
		moduleHash, err := store.PutBlob([]byte(enforcers.ReducerSrc))
		require.NoError(t, err)
		enforcerHash, err := enforcers.RegisterEnforcer(store, enforcers.HTTPAllowlistEnforcerSrc)
		require.NoError(t, err)

		ledger := effects.NewBudgetLedger()
		ledger.RegisterGrant("http-grant", map[string]uint64{"calls": 10})

		k := newScenarioKernel(t, store, j, effects.Config{
			Schemas:  schema.NewIndex(enforcers.Schemas()),
			Effects:  enforcers.EffectDefs(),
			Caps:     enforcers.HTTPCheckedCaps(enforcerHash),
			Grants:   enforcers.HTTPCheckedGrants(allowlist),
			Bindings: enforcers.Bindings(),
			Ledger:   ledger,
		}, nil, nil)

		k.World.RegisterReducer(&scheduler.ReducerBinding{
			Name:         enforcers.ReducerName,
			ModuleHash:   moduleHash,
			Def:          enforcers.ModuleDef,
			EventSchemas: enforcers.EventSchemas,
		})
		return k, j
	}

	t.Run("allowed request reaches the queue", func(t *testing.T) {
		k, j := newHTTPKernel(t)
		k.SubmitEvent(enforcers.StartSchema, map[string]interface{}{"url": "http://example/"})
		_, err := k.Tick(0)
		require.NoError(t, err)

		records, err := j.LoadFrom(0)
		require.NoError(t, err)
		var effectIntents, capDecisions int
		for _, r := range records {
			switch r.Kind {
			case journal.KindEffectIntent:
				effectIntents++
			case journal.KindCapDecision:
				capDecisions++
			}
		}
		assert.Equal(t, 1, effectIntents)
		assert.Equal(t, 0, capDecisions)
	})

	t.Run("disallowed host is denied before the queue", func(t *testing.T) {
		k, j := newHTTPKernel(t)
		k.SubmitEvent(enforcers.StartSchema, map[string]interface{}{"url": "http://not-example.invalid/"})
		_, err := k.Tick(0)
		require.Error(t, err)
		kind, ok := aoserr.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, aoserr.KindCapabilityDenied, kind)

		records, err := j.LoadFrom(0)
		require.NoError(t, err)
		var effectIntents, capDecisions int
		for _, r := range records {
			switch r.Kind {
			case journal.KindEffectIntent:
				effectIntents++
			case journal.KindCapDecision:
				capDecisions++
			}
		}
		assert.Equal(t, 0, effectIntents)
		assert.Equal(t, 1, capDecisions)
	})
}

// TestScenario_LLMBudgetEnforcer exercises enforcers' LLM provider/model/
// tools/budget pure module: an allowed call reserves reserve_estimate's
// tokens against the ledger, and a call for a disallowed model is denied
// before any reservation is made.
func TestScenario_LLMBudgetEnforcer(t *testing.T) {
	grantParams := map[string]interface{}{
		"allowed_providers":   []interface{}{"anthropic"},
		"allowed_models":      []interface{}{"claude"},
		"allowed_tools":       []interface{}{"search"},
		"max_tokens_per_call": float64(1000),
	}

	newLLMKernel := func(t *testing.T) (*kernel.Kernel, *journal.MemJournal, *effects.BudgetLedger) {
		store := cas.NewMemStore()
		j := journal.NewMemJournal()
		moduleHash, err := store.PutBlob([]byte(enforcers.LLMReducerSrc))
		require.NoError(t, err)
		enforcerHash, err := enforcers.RegisterEnforcer(store, enforcers.LLMBudgetEnforcerSrc)
		require.NoError(t, err)

		ledger := effects.NewBudgetLedger()
		ledger.RegisterGrant("llm-grant", map[string]uint64{"tokens": 10_000})

		k := newScenarioKernel(t, store, j, effects.Config{
			Schemas:  schema.NewIndex(enforcers.LLMSchemas()),
			Effects:  enforcers.LLMEffectDefs(),
			Caps:     enforcers.LLMCaps(enforcerHash),
			Grants:   enforcers.LLMGrants(grantParams),
			Bindings: enforcers.LLMBindings(),
			Ledger:   ledger,
		}, nil, nil)

		k.World.RegisterReducer(&scheduler.ReducerBinding{
			Name:         enforcers.LLMReducerName,
			ModuleHash:   moduleHash,
			Def:          enforcers.LLMModuleDef,
			EventSchemas: enforcers.LLMEventSchemas,
		})
		return k, j, ledger
	}

	t.Run("allowed call reserves its tokens", func(t *testing.T) {
		k, j, ledger := newLLMKernel(t)
		k.SubmitEvent(enforcers.LLMStartSchema, map[string]interface{}{
			"provider": "anthropic", "model": "claude", "prompt": "hi",
			"tools": []interface{}{"search"}, "max_tokens": float64(200),
		})
		_, err := k.Tick(0)
		require.NoError(t, err)

		records, err := j.LoadFrom(0)
		require.NoError(t, err)
		var effectIntents int
		for _, r := range records {
			if r.Kind == journal.KindEffectIntent {
				effectIntents++
			}
		}
		assert.Equal(t, 1, effectIntents)
		assert.Equal(t, uint64(200), ledger.Dump()["llm-grant"].Reserved["tokens"])
	})

	t.Run("disallowed model is denied with nothing reserved", func(t *testing.T) {
		k, j, ledger := newLLMKernel(t)
		k.SubmitEvent(enforcers.LLMStartSchema, map[string]interface{}{
			"provider": "anthropic", "model": "gpt-unapproved", "prompt": "hi",
			"max_tokens": float64(200),
		})
		_, err := k.Tick(0)
		require.Error(t, err)
		kind, ok := aoserr.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, aoserr.KindCapabilityDenied, kind)

		records, err := j.LoadFrom(0)
		require.NoError(t, err)
		var capDecisions int
		for _, r := range records {
			if r.Kind == journal.KindCapDecision {
				capDecisions++
			}
		}
		assert.Equal(t, 1, capDecisions)
		assert.Equal(t, uint64(0), ledger.Dump()["llm-grant"].Reserved["tokens"])
	})
}

// TestScenario_GovernancePatchSummaryEnforcer exercises enforcers'
// governance patch-summary checker pure module through a plan-originated
// governance.apply_patch effect: a patch within the grant's node/
// description/module limits reaches the queue, and one that touches an
// unlisted module is denied.
func TestScenario_GovernancePatchSummaryEnforcer(t *testing.T) {
	grantParams := map[string]interface{}{
		"max_nodes":              float64(5),
		"min_description_length": float64(10),
		"allowed_modules":        []interface{}{"billing-reducer"},
	}

	newGovKernel := func(t *testing.T) (*kernel.Kernel, *journal.MemJournal) {
		store := cas.NewMemStore()
		j := journal.NewMemJournal()
		enforcerHash, err := enforcers.RegisterEnforcer(store, enforcers.GovernancePatchSummaryEnforcerSrc)
		require.NoError(t, err)

		ledger := effects.NewBudgetLedger()
		ledger.RegisterGrant("governance-grant", map[string]uint64{})

		k := newScenarioKernel(t, store, j, effects.Config{
			Schemas: schema.NewIndex(enforcers.GovernanceSchemas()),
			Effects: enforcers.GovernanceEffectDefs(),
			Caps:    enforcers.GovernanceCaps(enforcerHash),
			Grants:  enforcers.GovernanceGrants(grantParams),
			Ledger:  ledger,
		}, []*plan.Def{enforcers.GovernancePlanDef()}, nil)
		return k, j
	}

	t.Run("patch within limits reaches the queue", func(t *testing.T) {
		k, j := newGovKernel(t)
		k.SubmitEvent(enforcers.GovernanceTriggerSchema, map[string]interface{}{
			"patch": map[string]interface{}{
				"patch_summary": map[string]interface{}{
					"node_count":         float64(2),
					"description_length": float64(40),
					"touches_modules":    []interface{}{"billing-reducer"},
				},
			},
		})
		_, err := k.Tick(0)
		require.NoError(t, err)

		records, err := j.LoadFrom(0)
		require.NoError(t, err)
		var effectIntents int
		for _, r := range records {
			if r.Kind == journal.KindEffectIntent {
				effectIntents++
			}
		}
		assert.Equal(t, 1, effectIntents)
	})

	t.Run("patch touching an unlisted module is denied", func(t *testing.T) {
		k, j := newGovKernel(t)
		k.SubmitEvent(enforcers.GovernanceTriggerSchema, map[string]interface{}{
			"patch": map[string]interface{}{
				"patch_summary": map[string]interface{}{
					"node_count":         float64(2),
					"description_length": float64(40),
					"touches_modules":    []interface{}{"scheduler-core"},
				},
			},
		})
		_, err := k.Tick(0)
		require.Error(t, err)
		kind, ok := aoserr.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, aoserr.KindCapabilityDenied, kind)

		records, err := j.LoadFrom(0)
		require.NoError(t, err)
		var capDecisions int
		for _, r := range records {
			if r.Kind == journal.KindCapDecision {
				capDecisions++
			}
		}
		assert.Equal(t, 1, capDecisions)
	})
}
