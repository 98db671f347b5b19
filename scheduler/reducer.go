package scheduler

import (
	"fmt"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/cellindex"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
	"github.com/smartcomputer-ai/agentos/modulehost"
	"github.com/smartcomputer-ai/agentos/plan"
)

// cellKey evaluates a reducer binding's key expression against an
// event, returning "" for a singleton (unkeyed) reducer.
func cellKey(b *ReducerBinding, ev Event) (string, error) {
	if b.KeyExpr == nil {
		return "", nil
	}
	env := plan.NewEnv()
	env.Event = ev.Payload
	v, err := plan.Eval(b.KeyExpr, env)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("scheduler: reducer %q key expression did not evaluate to text", b.Name)
	}
	return s, nil
}

// runReducer invokes one reducer module against an event: it loads the
// current cell state (if any), calls the module host, persists the new
// state into the cell index, and routes the output's domain_events[]
// and effects[].
func (w *World) runReducer(b *ReducerBinding, ev Event) error {
	key, err := cellKey(b, ev)
	if err != nil {
		return err
	}

	if _, ok := w.reducerState[b.Name]; !ok {
		w.reducerState[b.Name] = map[string]interface{}{}
	}
	state, hadState := w.reducerState[b.Name][key]

	in := modulehost.ReducerInput{
		Version: 1,
		Event:   ev.Payload,
		Ctx:     b.CtxVars,
	}
	if hadState {
		in.State = state
	}

	out, err := w.Host.RunReducer(b.ModuleHash, b.Def, in)
	if err != nil {
		return err
	}

	w.reducerState[b.Name][key] = out.State
	if err := w.persistCell(b.Name, key, out.State); err != nil {
		return err
	}

	for _, raw := range out.DomainEvents {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("scheduler: reducer %q emitted a domain event that is not a {schema,payload} map", b.Name)
		}
		schema, _ := m["schema"].(string)
		w.pendingSynth = append(w.pendingSynth, Event{Schema: schema, Payload: m["payload"]})
	}

	for _, eff := range out.Effects {
		if _, err := w.Effects.EnqueueReducerEffect(b.Name, eff.CapSlot, eff); err != nil {
			return err
		}
	}

	return nil
}

// persistCell writes the reducer's new state into the cell index under
// workspace=reducer-name, key=key: a content-addressed
// {state_hash, size, last_active_ns} record keyed by the cell's logical
// key, independent of the in-memory decoded state cache above.
func (w *World) persistCell(workspace, key string, state interface{}) error {
	stateHash, bytes, err := ccbor.HashValue(state)
	if err != nil {
		return aoserr.Wrap(aoserr.KindStore, "hash reducer state", err)
	}
	meta := cellindex.Meta{StateHash: stateHash, Size: uint64(len(bytes)), LastActive: w.nowNS}
	root, err := w.Cells.Put(w.cellsRoot, workspace, []byte(key), meta)
	if err != nil {
		return err
	}
	w.cellsRoot = root
	return nil
}
