// Package journal implements AgentOS's append-only, crash-safe,
// replayable journal: the sole source of truth at rest beyond CAS and
// snapshot hashes.
package journal

import (
	"fmt"
	"sync"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

// Kind identifies a journal record kind.
type Kind string

const (
	KindManifest         Kind = "Manifest"
	KindDomainEvent      Kind = "DomainEvent"
	KindEffectIntent     Kind = "EffectIntent"
	KindEffectReceipt    Kind = "EffectReceipt"
	KindCapDecision      Kind = "CapDecision"
	KindPolicyDecision   Kind = "PolicyDecision"
	KindSnapshot         Kind = "Snapshot"
	KindPlanEnded        Kind = "PlanEnded"
	KindGovernanceRecord Kind = "GovernanceRecord"
)

// GovernanceSubkind distinguishes the four GovernanceRecord variants.
type GovernanceSubkind string

const (
	GovProposalSubmitted  GovernanceSubkind = "ProposalSubmitted"
	GovShadowRunCompleted GovernanceSubkind = "ShadowRunCompleted"
	GovProposalApproved   GovernanceSubkind = "ProposalApproved"
	GovManifestApplied    GovernanceSubkind = "ManifestApplied"
)

// Record is one entry in the journal: a monotonic seq, a kind, and the
// kind-specific payload's own canonical CBOR bytes (opaque to this
// package — callers decode with the schema they expect for Kind).
type Record struct {
	Seq     uint64
	Kind    Kind
	Payload []byte
}

// wireRecord is what actually gets canonical-CBOR-encoded and
// length-prefixed to disk/memory.
type wireRecord struct {
	Seq     uint64 `cbor:"seq"`
	Kind    string `cbor:"kind"`
	Payload []byte `cbor:"payload"`
}

// Corrupt reports a journal recovery failure: a truncated length header or
// payload, or a record that fails to decode.
type Corrupt struct {
	Offset int64
	Reason string
}

func (e *Corrupt) Error() string {
	return fmt.Sprintf("journal: corrupt at offset %d: %s", e.Offset, e.Reason)
}

// Journal is the append-only durability contract every kernel record
// passes through.
type Journal interface {
	// Append encodes payload, assigns the next seq, durably appends the
	// record, and returns the assigned seq. Fails only on I/O or
	// serialization error.
	Append(kind Kind, payload interface{}) (seq uint64, err error)

	// LoadFrom returns every record with Seq >= from, in ascending order.
	LoadFrom(from uint64) ([]Record, error)

	// NextSeq returns the seq that the next Append will assign.
	NextSeq() uint64

	Close() error
}

func encodeWire(wr wireRecord) ([]byte, error) { return ccbor.Marshal(wr) }

func decodeWire(raw []byte, out *wireRecord) error { return ccbor.Unmarshal(raw, out) }

// EncodePayload canonicalises v for embedding in a Record; exported so
// callers constructing Records directly (e.g. replay tooling) can match
// what Append would have produced.
func EncodePayload(v interface{}) ([]byte, error) {
	b, err := ccbor.Marshal(v)
	if err != nil {
		return nil, aoserr.Wrap(aoserr.KindJournal, "encode payload", err)
	}
	return b, nil
}

// DecodePayload decodes a Record's Payload into out.
func DecodePayload(r Record, out interface{}) error {
	if err := ccbor.Unmarshal(r.Payload, out); err != nil {
		return aoserr.Wrap(aoserr.KindJournal, fmt.Sprintf("decode payload at seq %d", r.Seq), err)
	}
	return nil
}

// seqGuard tracks the next seq to assign and enforces strict
// monotonicity with no gaps across both Journal implementations.
type seqGuard struct {
	mu   sync.Mutex
	next uint64
}

func (g *seqGuard) reserve() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	seq := g.next
	g.next++
	return seq
}

func (g *seqGuard) observe(seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq >= g.next {
		g.next = seq + 1
	}
}

func (g *seqGuard) peek() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}
