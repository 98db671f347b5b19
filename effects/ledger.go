package effects

import (
	"sync"

	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

// ledgerEntry tracks reserved+spent per dimension against a grant's limit:
// reserved+spent never exceeds the limit, and settlement is atomic.
type ledgerEntry struct {
	limit    map[string]uint64
	reserved map[string]uint64
	spent    map[string]uint64
}

func newLedgerEntry(limit map[string]uint64) *ledgerEntry {
	return &ledgerEntry{
		limit:    cloneDims(limit),
		reserved: map[string]uint64{},
		spent:    map[string]uint64{},
	}
}

// BudgetLedger is the effect manager's per-grant budget bookkeeping.
type BudgetLedger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

func NewBudgetLedger() *BudgetLedger {
	return &BudgetLedger{entries: map[string]*ledgerEntry{}}
}

// RegisterGrant seeds (or reseeds) a grant's limit. Called at bootstrap and
// on governance apply; PreserveCounters is what carries reserved/spent
// across an apply.
func (l *BudgetLedger) RegisterGrant(name string, limit map[string]uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[name]; !exists {
		l.entries[name] = newLedgerEntry(limit)
		return
	}
	l.entries[name].limit = cloneDims(limit)
}

// PreserveCounters carries reserved+spent from an old ledger into a new
// one for any grant name present in both, so a governance apply doesn't
// reset in-flight budget usage for grants that survived unchanged.
func (l *BudgetLedger) PreserveCounters(old *BudgetLedger, survivingNames []string) {
	old.mu.Lock()
	defer old.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range survivingNames {
		oldEntry, ok := old.entries[name]
		newEntry, ok2 := l.entries[name]
		if ok && ok2 {
			newEntry.reserved = cloneDims(oldEntry.reserved)
			newEntry.spent = cloneDims(oldEntry.spent)
		}
	}
}

// Reserve checks reserved+spent+estimate against the limit for every
// dimension present in estimate, and if all fit, commits the reservation.
func (l *BudgetLedger) Reserve(grantName string, estimate map[string]uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[grantName]
	if !ok {
		return aoserr.New(aoserr.KindBudgetExceeded, "no ledger entry for grant "+grantName)
	}
	for dim, amount := range estimate {
		limit, hasLimit := entry.limit[dim]
		if !hasLimit {
			continue // dimension not budgeted: unlimited
		}
		used := entry.reserved[dim] + entry.spent[dim]
		if used+amount > limit {
			return aoserr.New(aoserr.KindBudgetExceeded, "grant "+grantName+" dimension "+dim+" would exceed limit")
		}
	}
	for dim, amount := range estimate {
		entry.reserved[dim] += amount
	}
	return nil
}

// Settle subtracts a prior reservation and adds actual usage atomically.
// A usage/reserved mismatch that would underflow reserved indicates a
// kernel bug and aborts (returned as a fatal error).
func (l *BudgetLedger) Settle(grantName string, reserved map[string]uint64, usage map[string]uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[grantName]
	if !ok {
		return aoserr.New(aoserr.KindBudgetExceeded, "no ledger entry for grant "+grantName)
	}
	for dim, amount := range reserved {
		if entry.reserved[dim] < amount {
			return aoserr.New(aoserr.KindStore, "ledger underflow settling grant "+grantName+" dimension "+dim)
		}
	}
	for dim, amount := range reserved {
		entry.reserved[dim] -= amount
	}
	for dim, amount := range usage {
		entry.spent[dim] += amount
	}
	return nil
}

func cloneDims(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LedgerEntrySnapshot is one grant's limit/reserved/spent counters, as
// captured by Dump for inclusion in a kernel snapshot.
type LedgerEntrySnapshot struct {
	Limit    map[string]uint64 `cbor:"limit"`
	Reserved map[string]uint64 `cbor:"reserved"`
	Spent    map[string]uint64 `cbor:"spent"`
}

// Dump captures every grant's current counters.
func (l *BudgetLedger) Dump() map[string]LedgerEntrySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]LedgerEntrySnapshot, len(l.entries))
	for name, e := range l.entries {
		out[name] = LedgerEntrySnapshot{Limit: cloneDims(e.limit), Reserved: cloneDims(e.reserved), Spent: cloneDims(e.spent)}
	}
	return out
}

// LoadDump replaces the ledger's entries wholesale from a prior Dump, for
// snapshot restore.
func (l *BudgetLedger) LoadDump(snap map[string]LedgerEntrySnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*ledgerEntry, len(snap))
	for name, s := range snap {
		l.entries[name] = &ledgerEntry{limit: cloneDims(s.Limit), reserved: cloneDims(s.Reserved), spent: cloneDims(s.Spent)}
	}
}
