// Package cellindex implements AgentOS's keyed cell index: a persistent,
// CAS-backed ordered map from {workspace, key} to reducer state metadata.
// Its root hash is a field on every kernel snapshot.
package cellindex

import (
	"bytes"
	"sort"

	"github.com/smartcomputer-ai/agentos/cas"
)

// Meta is the per-cell metadata stored in the index.
type Meta struct {
	StateHash   string `cbor:"state_hash"`
	Size        uint64 `cbor:"size"`
	LastActive  int64  `cbor:"last_active_ns"`
}

// entry is one {workspace,key} -> Meta pair as stored in a node.
type entry struct {
	Workspace string `cbor:"workspace"`
	Key       []byte `cbor:"key"`
	Meta      Meta   `cbor:"meta"`
}

// node is the CAS-stored representation of an index root: a sorted,
// deduplicated list of entries. Content (not insertion order) determines
// the node's hash, satisfying the root-hash order-independence
// requirement without a full persistent radix tree — a root is simply
// re-sorted and re-hashed on every Put, trading update cost for a much
// simpler, obviously-correct implementation.
type node struct {
	Entries []entry `cbor:"entries"`
}

// Index is the Cell Index, backed by a cas.Store.
type Index struct {
	store cas.Store
}

// New builds a Index over store.
func New(store cas.Store) *Index {
	return &Index{store: store}
}

// EmptyRoot is the root hash of a cell index with no cells; callers seed a
// fresh kernel with it.
func (idx *Index) EmptyRoot() (string, error) {
	return idx.store.PutNode(node{})
}

func compositeKey(workspace string, key []byte) []byte {
	out := make([]byte, 0, len(workspace)+1+len(key))
	out = append(out, []byte(workspace)...)
	out = append(out, 0)
	out = append(out, key...)
	return out
}

func (idx *Index) loadNode(root string) (node, error) {
	var n node
	if root == "" {
		return n, nil
	}
	if err := idx.store.GetNode(root, &n); err != nil {
		return node{}, err
	}
	return n, nil
}

// Put writes (workspace,key) -> meta into the tree rooted at root and
// returns the new root hash. root may be "" for an empty index.
func (idx *Index) Put(root, workspace string, key []byte, meta Meta) (string, error) {
	n, err := idx.loadNode(root)
	if err != nil {
		return "", err
	}

	replaced := false
	for i := range n.Entries {
		if n.Entries[i].Workspace == workspace && bytes.Equal(n.Entries[i].Key, key) {
			n.Entries[i].Meta = meta
			replaced = true
			break
		}
	}
	if !replaced {
		n.Entries = append(n.Entries, entry{Workspace: workspace, Key: append([]byte(nil), key...), Meta: meta})
	}

	sort.Slice(n.Entries, func(i, j int) bool {
		return bytes.Compare(compositeKey(n.Entries[i].Workspace, n.Entries[i].Key), compositeKey(n.Entries[j].Workspace, n.Entries[j].Key)) < 0
	})

	return idx.store.PutNode(n)
}

// Get looks up (workspace,key) in the tree rooted at root.
func (idx *Index) Get(root, workspace string, key []byte) (*Meta, error) {
	n, err := idx.loadNode(root)
	if err != nil {
		return nil, err
	}
	for _, e := range n.Entries {
		if e.Workspace == workspace && bytes.Equal(e.Key, key) {
			m := e.Meta
			return &m, nil
		}
	}
	return nil, nil
}

// CellRef identifies one cell by its composite key, for Iter results.
type CellRef struct {
	Workspace string
	Key       []byte
	Meta      Meta
}

// Iter returns every cell under root in ascending composite-key order.
func (idx *Index) Iter(root string) ([]CellRef, error) {
	n, err := idx.loadNode(root)
	if err != nil {
		return nil, err
	}
	out := make([]CellRef, len(n.Entries))
	for i, e := range n.Entries {
		out[i] = CellRef{Workspace: e.Workspace, Key: e.Key, Meta: e.Meta}
	}
	return out, nil
}
