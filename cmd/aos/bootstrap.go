package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smartcomputer-ai/agentos/cas"
	"github.com/smartcomputer-ai/agentos/cellindex"
	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/governance"
	"github.com/smartcomputer-ai/agentos/journal"
	"github.com/smartcomputer-ai/agentos/kernel"
	"github.com/smartcomputer-ai/agentos/modulehost"
	"github.com/smartcomputer-ai/agentos/plan"
	"github.com/smartcomputer-ai/agentos/schema"
	"github.com/smartcomputer-ai/agentos/scheduler"
)

// instance bundles the long-lived collaborators `serve` needs beyond the
// *kernel.Kernel itself (close handles, the adapter registry's background
// loops).
type instance struct {
	Kernel  *kernel.Kernel
	Store   *cas.BoltStore
	Journal *journal.FileJournal
	closers []func() error
}

func (inst *instance) Close() {
	for i := len(inst.closers) - 1; i >= 0; i-- {
		if err := inst.closers[i](); err != nil {
			logrus.WithError(err).Warn("aos: close error during shutdown")
		}
	}
}

// bootstrap opens the on-disk store/journal at cfg.DataDir, loads the
// manifest, wires the adapter registry per cfg's adapter settings, and
// builds a Kernel ready to tick: the same "build every collaborator,
// then hand the assembled server off" shape a production process uses
// for any set of stateful backing services, generalised here to
// AgentOS's kernel collaborators.
func bootstrap(cfg *serverConfig, log *logrus.Entry) (*instance, error) {
	store, err := cas.OpenBoltStore(cfg.DataDir + "/store.bolt")
	if err != nil {
		return nil, fmt.Errorf("opening CAS store: %w", err)
	}
	inst := &instance{Store: store}
	inst.closers = append(inst.closers, store.Close)

	jrnl, err := journal.OpenFileJournal(cfg.DataDir + "/journal.log")
	if err != nil {
		inst.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	inst.Journal = jrnl
	inst.closers = append(inst.closers, jrnl.Close)

	cells := cellindex.New(store)

	host, err := modulehost.NewHost(store, cfg.ModuleCacheSize, cfg.ModuleTimeout)
	if err != nil {
		inst.Close()
		return nil, fmt.Errorf("building module host: %w", err)
	}

	var world *scheduler.World // filled in once the Kernel exists; see worldReceiptSink
	dispatch, adapterCloser, err := buildAdapterRegistry(cfg, log, &world)
	if err != nil {
		inst.Close()
		return nil, err
	}
	inst.closers = append(inst.closers, adapterCloser)

	manifestHash, mw, err := loadManifest(cfg.ManifestPath)
	if err != nil {
		inst.Close()
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	planReg, err := buildPlanRegistry(mw)
	if err != nil {
		inst.Close()
		return nil, err
	}

	effMgr, err := buildEffectsManager(mw, host, jrnl)
	if err != nil {
		inst.Close()
		return nil, err
	}

	k, err := kernel.New(kernel.Config{
		Store: store, Journal: jrnl, Cells: cells, Effects: effMgr,
		Host: host, PlanReg: planReg, Dispatch: dispatch,
		ManifestHash: manifestHash, Apply: newApplyFunc(mw),
	})
	if err != nil {
		inst.Close()
		return nil, fmt.Errorf("building kernel: %w", err)
	}
	world = k.World
	k.World.SetInternalTimers(cfg.RedisURL == "")
	for _, rw := range mw.Reducers {
		b, err := compileReducerBinding(rw)
		if err != nil {
			inst.Close()
			return nil, err
		}
		k.World.RegisterReducer(b)
	}

	inst.Kernel = k
	return inst, nil
}

func buildPlanRegistry(mw *manifestWire) (*plan.Registry, error) {
	defs := make([]*plan.Def, 0, len(mw.Plans))
	for _, pw := range mw.Plans {
		d, err := compilePlanDef(pw)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return plan.NewRegistry(defs)
}

func buildEffectsManager(mw *manifestWire, host *modulehost.Host, j journal.Journal) (*effects.Manager, error) {
	effectDefs := map[string]effects.EffectDef{}
	for _, e := range mw.Effects {
		effectDefs[e.Kind] = e
	}
	capDefs := map[string]effects.CapDef{}
	for _, c := range mw.Caps {
		capDefs[c.CapType] = c
	}
	grants := map[string]effects.Grant{}
	for _, g := range mw.Grants {
		grants[g.Name] = g
	}
	rules := make([]effects.PolicyRule, 0, len(mw.PolicyRules))
	for _, r := range mw.PolicyRules {
		rules = append(rules, compilePolicyRule(r))
	}

	return effects.NewManager(effects.Config{
		Schemas:  schema.NewIndex(map[string]*schema.Schema{}),
		Effects:  effectDefs,
		Caps:     capDefs,
		Grants:   grants,
		Bindings: mw.Bindings,
		Policy:   effects.NewPolicyGate(rules),
		Ledger:   effects.NewBudgetLedger(),
		Host:     host,
		Journal:  j,
		Resolver: effects.EnvSecretResolver{},
	}), nil
}

// newApplyFunc closes over the manifest last applied, so successive
// governance applies have a diff base for survivingGrantNames. Grounded on
// `governance/governance.go`'s Applier seam: the kernel package stays
// ignorant of the wire manifest format, and this is the one place that
// both understands it and can rebuild a Kernel's reducer/plan/effect
// wiring from a new one.
func newApplyFunc(initial *manifestWire) kernel.ApplyFunc {
	current := initial
	return func(patch governance.ManifestPatch, k *kernel.Kernel) (string, []string, error) {
		raw, err := ccbor.Marshal(patch.Manifest)
		if err != nil {
			return "", nil, fmt.Errorf("aos: re-encoding proposed manifest: %w", err)
		}
		var next manifestWire
		if err := ccbor.Unmarshal(raw, &next); err != nil {
			return "", nil, fmt.Errorf("aos: decoding proposed manifest: %w", err)
		}

		planReg, err := buildPlanRegistry(&next)
		if err != nil {
			return "", nil, err
		}
		effMgr, err := buildEffectsManager(&next, k.Host, k.Journal)
		if err != nil {
			return "", nil, err
		}
		world, err := scheduler.NewWorld(k.Journal, k.Cells, effMgr, k.Host, planReg, k.Dispatch)
		if err != nil {
			return "", nil, err
		}
		for _, rw := range next.Reducers {
			b, err := compileReducerBinding(rw)
			if err != nil {
				return "", nil, err
			}
			world.RegisterReducer(b)
		}
		world.RestoreState(k.World.CaptureState(), planReg.Defs())

		hash := ccbor.Hash(raw)
		survivors := survivingGrantNames(current, &next)
		current = &next

		k.Effects = effMgr
		k.PlanReg = planReg
		k.World = world
		return hash, survivors, nil
	}
}

func survivingGrantNames(prev, next *manifestWire) []string {
	prevByName := map[string]effects.Grant{}
	for _, g := range prev.Grants {
		prevByName[g.Name] = g
	}
	var out []string
	for _, g := range next.Grants {
		if old, ok := prevByName[g.Name]; ok && old.CapType == g.CapType {
			out = append(out, g.Name)
		}
	}
	return out
}
