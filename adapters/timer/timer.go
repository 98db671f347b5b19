// Package timer implements AgentOS's out-of-core timer.set effect
// adapter against Redis, for deployments that opt out of the
// deterministic in-kernel timer path (scheduler.World.SetInternalTimers
// (false)) in favour of a timer durable across process restarts. Timers
// are scheduled in a sorted set keyed by deadline rather than a FIFO
// list, since a timer fires once at an absolute time rather than being
// dequeued in arrival order.
package timer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
)

// Kind is the fixed effect kind this adapter handles.
const Kind = "timer.set"

// ReceiptSink is the narrow callback an Adapter uses to deliver a timer's
// eventual receipt; scheduler.World satisfies it via SubmitReceipt.
type ReceiptSink interface {
	SubmitReceipt(r effects.Receipt)
}

// Params is timer.set's decoded parameter shape, matching
// scheduler.timerDeadline's internal-timer decoding exactly so a plan or
// reducer's timer.set intent behaves the same under either path.
type Params struct {
	DeliverAtNS int64 `cbor:"deliver_at_ns"`
	DelayMS     int64 `cbor:"delay_ms"`
}

// Adapter schedules timer.set intents into a Redis sorted set keyed by
// absolute deadline and polls it for due entries on a background
// goroutine, pushing fired receipts back into the kernel via a
// ReceiptSink rather than returning them synchronously from Dispatch.
type Adapter struct {
	client *redis.Client
	sink   ReceiptSink
	log    *logrus.Entry
	key    string // sorted-set key: member -> deadline-ns score

	mu      sync.Mutex
	intents map[string]effects.Intent // member (IntentHash) -> original intent, for receipt encoding
	cancel  context.CancelFunc
}

// New builds an Adapter over client, delivering fired timers to sink.
func New(client *redis.Client, sink ReceiptSink, log *logrus.Entry) *Adapter {
	return &Adapter{
		client:  client,
		sink:    sink,
		log:     log.WithField("component", "adapters.timer"),
		key:     "aos:timers",
		intents: map[string]effects.Intent{},
	}
}

// Kind implements adapters.Adapter.
func (a *Adapter) Kind() string { return Kind }

// Dispatch schedules the timer in Redis and returns a zero-value Receipt
// (see adapters.Registry.DispatchBatch): the real receipt is delivered
// later, when Run's poll loop finds the deadline due.
func (a *Adapter) Dispatch(intent effects.Intent) effects.Receipt {
	var params Params
	if err := ccbor.Unmarshal(intent.ParamsCBOR, &params); err != nil {
		return errReceipt(intent, "decode timer.set params: "+err.Error())
	}

	deadline := params.DeliverAtNS
	if deadline == 0 {
		deadline = time.Now().UnixNano() + params.DelayMS*1_000_000
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.ZAdd(ctx, a.key, redis.Z{Score: float64(deadline), Member: intent.IntentHash}).Err(); err != nil {
		return errReceipt(intent, "schedule timer.set: "+err.Error())
	}

	a.mu.Lock()
	a.intents[intent.IntentHash] = intent
	a.mu.Unlock()

	return effects.Receipt{}
}

// Run polls the Redis sorted set every interval for due timers, emitting
// a fired receipt for each via the configured ReceiptSink, until ctx is
// cancelled or Close is called.
func (a *Adapter) Run(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollDue(ctx)
		}
	}
}

// Close stops a running Run loop.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Adapter) pollDue(ctx context.Context) {
	now := time.Now().UnixNano()
	due, err := a.client.ZRangeByScore(ctx, a.key, &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatFloat(float64(now), 'f', -1, 64)}).Result()
	if err != nil {
		a.log.WithError(err).Warn("timer poll failed")
		return
	}
	if len(due) == 0 {
		return
	}
	if err := a.client.ZRem(ctx, a.key, toInterfaceSlice(due)...).Err(); err != nil {
		a.log.WithError(err).Warn("timer ack failed")
	}

	for _, member := range due {
		a.mu.Lock()
		intent, ok := a.intents[member]
		delete(a.intents, member)
		a.mu.Unlock()
		if !ok {
			// Scheduled by a previous process instance; no in-memory
			// intent to translate against, so the receipt carries only
			// the sorted-set member, which is the intent hash.
			intent = effects.Intent{IntentHash: member}
		}

		payload, err := ccbor.Marshal(map[string]interface{}{"delivered_at_ns": float64(now)})
		if err != nil {
			a.log.WithError(err).Warn("encode timer receipt failed")
			continue
		}
		a.sink.SubmitReceipt(effects.Receipt{
			IntentHash:  intent.IntentHash,
			AdapterID:   "adapters.timer",
			Status:      effects.StatusOk,
			PayloadCBOR: payload,
		})
	}
}

func errReceipt(intent effects.Intent, msg string) effects.Receipt {
	payload, _ := ccbor.Marshal(map[string]interface{}{"error": msg})
	return effects.Receipt{
		IntentHash:  intent.IntentHash,
		AdapterID:   "adapters.timer",
		Status:      effects.StatusError,
		PayloadCBOR: payload,
	}
}

func toInterfaceSlice(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
