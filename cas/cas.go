// Package cas implements AgentOS's content-addressed store:
// put_node/get_node/put_blob/get_blob, with create-exclusive writes and
// hash-verified reads. Entries are immutable, so there is no invalidation.
package cas

import (
	"fmt"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

// HashMismatch reports that a stored entry no longer hashes to its key.
type HashMismatch struct {
	Kind     string // "node" or "blob"
	Expected string
	Actual   string
}

func (e *HashMismatch) Error() string {
	return fmt.Sprintf("cas: hash mismatch on %s: expected %s, got %s", e.Kind, e.Expected, e.Actual)
}

// NotFound reports a missing node or blob.
type NotFound struct {
	Kind string
	Hash string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("cas: %s not found: %s", e.Kind, e.Hash)
}

// Store is the CAS contract: content-addressed node and blob storage.
// Nodes are canonical-CBOR-encoded Go values (schemas, modules, plans,
// manifests, snapshots, etc.); blobs are opaque byte strings.
type Store interface {
	PutNode(v interface{}) (hash string, err error)
	GetNode(hash string, out interface{}) error
	HasNode(hash string) (bool, error)

	PutBlob(data []byte) (hash string, err error)
	GetBlob(hash string) ([]byte, error)
	HasBlob(hash string) (bool, error)
}

// encodeNode canonicalises v and returns its hash and bytes, shared by all
// Store implementations.
func encodeNode(v interface{}) (hash string, bytes []byte, err error) {
	hash, bytes, err = ccbor.HashValue(v)
	if err != nil {
		return "", nil, aoserr.Wrap(aoserr.KindStore, "encode node", err)
	}
	return hash, bytes, nil
}

// verifyHash recomputes the hash of raw and compares it against expected,
// the read-side re-verification every Store implementation relies on.
func verifyHash(kind, expected string, raw []byte) error {
	actual := ccbor.Hash(raw)
	if actual != expected {
		return &HashMismatch{Kind: kind, Expected: expected, Actual: actual}
	}
	return nil
}
