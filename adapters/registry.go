// Package adapters implements AgentOS's out-of-core adapter layer: the
// boundary between the deterministic kernel and the outside world. A
// Registry routes each queued effect intent to the Adapter registered
// for its kind and collects receipts, exactly as scheduler.AdapterDispatcher
// expects — a direct kind lookup rather than a CanHandle predicate scan,
// since intent kinds are already a fixed, declared set.
package adapters

import (
	"sync"

	"github.com/smartcomputer-ai/agentos/effects"
)

// Adapter executes one effect kind against a real external system and
// returns its receipt. Implementations live in adapters/http,
// adapters/blob, adapters/timer, adapters/llm, adapters/mq.
type Adapter interface {
	Kind() string
	Dispatch(intent effects.Intent) effects.Receipt
}

// Registry dispatches a batch of intents to their registered adapters,
// implementing scheduler.AdapterDispatcher.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register wires an adapter in for the effect kind it reports via Kind().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// DispatchBatch implements scheduler.AdapterDispatcher: every intent is
// routed to its adapter and a receipt returned. An intent whose kind has
// no registered adapter yields an Error receipt rather than being
// silently dropped, so the effect manager's receipt bookkeeping always
// settles.
//
// An adapter backed by a genuinely asynchronous out-of-core resource
// (adapters/timer, adapters/mq) may return a zero-value Receipt (empty
// Status) from Dispatch to mean "accepted, no receipt yet" — its result
// arrives later via scheduler.World.SubmitReceipt from a background
// goroutine, not from this call. DispatchBatch drops those rather than
// forwarding an empty receipt for delivery.
func (r *Registry) DispatchBatch(intents []effects.Intent) []effects.Receipt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	receipts := make([]effects.Receipt, 0, len(intents))
	for _, intent := range intents {
		a, ok := r.adapters[intent.Kind]
		if !ok {
			receipts = append(receipts, effects.Receipt{
				IntentHash: intent.IntentHash,
				AdapterID:  "adapters.Registry",
				Status:     effects.StatusError,
			})
			continue
		}
		receipt := a.Dispatch(intent)
		if receipt.Status == "" {
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts
}
