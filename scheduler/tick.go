package scheduler

import (
	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

// Quiescent is returned by Tick when a cycle produced nothing new.
const Quiescent = true

// Tick runs one cycle of the scheduler's 7 ordered steps and reports
// whether the world reached quiescence. nowNS is the logical tick time
// used for timer advancement, plan `now()` evaluation, and grant expiry.
func (w *World) Tick(nowNS int64) (bool, error) {
	w.Effects.ResetTick()
	w.Effects.SetLogicalNow(nowNS)
	w.nowNS = nowNS
	progressed := false

	// Step 1: drain pending external events into the router.
	external := w.pendingExternal
	w.pendingExternal = nil
	for _, ev := range external {
		progressed = true
		if err := w.routeEvent(ev); err != nil {
			return false, err
		}
	}

	// Step 2: apply synthesised events produced by step 1 (reducer
	// domain_events[] and raise_event steps feed the same queue).
	synth := w.pendingSynth
	w.pendingSynth = nil
	for _, ev := range synth {
		progressed = true
		if err := w.routeEvent(ev); err != nil {
			return false, err
		}
	}

	// Step 3: execute ready plan steps, in plan-instance creation order.
	for _, id := range w.planOrder {
		pi := w.planInstances[id]
		if pi.Ended {
			continue
		}
		advanced, err := w.PlanEng.Advance(pi)
		if err != nil {
			return false, err
		}
		if advanced {
			progressed = true
		}
	}

	// Step 3b: propagate newly-ended plan instances' outcomes to any
	// sibling awaiting their handle (await_plan / await_plans_all
	// steps) — the fan-in side of spawn_for_each + await_plans_all.
	// w.planResults doubles as the "already notified" set and as the
	// results map DeliverPlanResult needs to check every handle an
	// await_plans_all step is waiting on.
	for _, id := range w.planOrder {
		pi := w.planInstances[id]
		if !pi.Ended {
			continue
		}
		if _, notified := w.planResults[id]; notified {
			continue
		}
		w.planResults[id] = pi.Outcome
		progressed = true
		for _, otherID := range w.planOrder {
			if otherID == id {
				continue
			}
			other := w.planInstances[otherID]
			if other.Ended {
				continue
			}
			if w.PlanEng.DeliverPlanResult(other, id, pi.Outcome, w.planResults) {
				if _, err := w.PlanEng.Advance(other); err != nil {
					return false, err
				}
			}
		}
	}

	// Step 4: dispatch queued effects to the adapter layer.
	drained := w.Effects.DrainEffects()
	var toDispatch []effects.Intent
	for _, intent := range drained {
		progressed = true
		if receipt, ok, err := w.Effects.HandleInternalIntent(intent); ok {
			if err != nil {
				return false, err
			}
			if err := w.deliverReceipt(receipt); err != nil {
				return false, err
			}
			continue
		}
		if intent.Kind == "timer.set" && w.internalTimers {
			deadline, err := timerDeadline(nowNS, intent)
			if err != nil {
				return false, err
			}
			w.timers = append(w.timers, timerEntry{IntentHash: intent.IntentHash, DeadlineNS: deadline, Intent: intent})
			continue
		}
		toDispatch = append(toDispatch, intent)
	}

	// Step 5: deliver receipts — the synchronous batch from this tick's
	// dispatch, plus anything an out-of-core adapter handed back
	// asynchronously via SubmitReceipt since the previous tick.
	if len(toDispatch) > 0 && w.Dispatch != nil {
		progressed = true
		receipts := w.Dispatch.DispatchBatch(toDispatch)
		for _, r := range receipts {
			if err := w.deliverReceipt(r); err != nil {
				return false, err
			}
		}
	}
	async := w.pendingReceipts
	w.pendingReceipts = nil
	for _, r := range async {
		progressed = true
		if err := w.deliverReceipt(r); err != nil {
			return false, err
		}
	}

	// Step 6: advance timers whose logical deadline has arrived.
	var remaining []timerEntry
	for _, t := range w.timers {
		if t.DeadlineNS > nowNS {
			remaining = append(remaining, t)
			continue
		}
		progressed = true
		payloadBytes, err := ccbor.Marshal(map[string]interface{}{"delivered_at_ns": float64(t.DeadlineNS)})
		if err != nil {
			return false, aoserr.Wrap(aoserr.KindStore, "encode internal timer receipt payload", err)
		}
		receipt := effects.Receipt{
			IntentHash:  t.IntentHash,
			AdapterID:   "internal-timer",
			Status:      effects.StatusOk,
			PayloadCBOR: payloadBytes,
		}
		if err := w.deliverReceipt(receipt); err != nil {
			return false, err
		}
	}
	w.timers = remaining

	// Step 7: quiescence.
	return !progressed, nil
}

// TickUntilIdle repeats Tick until quiescent or safetyBound cycles have
// run (hitting the bound indicates a bug: something is churning forever).
func (w *World) TickUntilIdle(nowNS int64, safetyBound int) (bool, int, error) {
	for i := 0; i < safetyBound; i++ {
		quiescent, err := w.Tick(nowNS)
		if err != nil {
			return false, i + 1, err
		}
		if quiescent {
			return true, i + 1, nil
		}
	}
	return false, safetyBound, nil
}

func timerDeadline(nowNS int64, intent effects.Intent) (int64, error) {
	var params struct {
		DeliverAtNS int64 `cbor:"deliver_at_ns"`
		DelayMS     int64 `cbor:"delay_ms"`
	}
	if err := ccbor.Unmarshal(intent.ParamsCBOR, &params); err != nil {
		return 0, aoserr.Wrap(aoserr.KindManifest, "decode timer.set params", err)
	}
	if params.DeliverAtNS > 0 {
		return params.DeliverAtNS, nil
	}
	return nowNS + params.DelayMS*1_000_000, nil
}

// routeEvent delivers an event to every reducer whose binding declares
// interest in its schema, and spawns any plan whose trigger matches it.
func (w *World) routeEvent(ev Event) error {
	for _, name := range w.sortedReducerNames() {
		binding := w.Reducers[name]
		if !binding.EventSchemas[ev.Schema] {
			continue
		}
		if err := w.runReducer(binding, ev); err != nil {
			return err
		}
	}

	matches, err := w.PlanReg.MatchTrigger(ev.Schema, ev.Payload)
	if err != nil {
		return err
	}
	for _, defName := range matches {
		if _, err := w.SpawnPlan(defName, ev.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) sortedReducerNames() []string {
	names := make([]string, 0, len(w.Reducers))
	for n := range w.Reducers {
		names = append(names, n)
	}
	insertionSort(names)
	return names
}

func insertionSort(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// deliverReceipt settles the receipt via the effect manager and routes
// its outcome: reducer-origin receipts become a synthesised domain
// event queued for the next tick's step 2 pass; plan-origin receipts
// wake the awaiting plan instance's await_receipt step immediately.
func (w *World) deliverReceipt(r effects.Receipt) error {
	routing, err := w.Effects.HandleReceipt(r)
	if err != nil {
		return err
	}
	if routing.Synth != nil {
		w.pendingSynth = append(w.pendingSynth, Event{Schema: routing.Synth.Schema, Payload: routing.Synth.Payload})
		return nil
	}

	// Plan-origin receipts are bound to @receipt as a decoded map, the
	// same shape reducer-origin synthesis uses (effects/receipt_translation.go),
	// so a guard/assign expression can read @receipt.status or
	// @receipt.payload.<field> without a second decode step of its own.
	var payload interface{}
	if len(r.PayloadCBOR) > 0 {
		if err := ccbor.Unmarshal(r.PayloadCBOR, &payload); err != nil {
			return aoserr.Wrap(aoserr.KindStore, "decode plan-origin receipt payload", err)
		}
	}
	bound := map[string]interface{}{
		"status":     string(r.Status),
		"adapter_id": r.AdapterID,
		"payload":    payload,
	}
	if r.CostCents != nil {
		bound["cost_cents"] = float64(*r.CostCents)
	}

	for _, id := range w.planOrder {
		pi := w.planInstances[id]
		if pi.Ended {
			continue
		}
		w.PlanEng.DeliverReceipt(pi, r.IntentHash, bound)
	}
	return nil
}
