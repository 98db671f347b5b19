package cas

import (
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

var (
	nodesBucket = []byte("cas_nodes")
	blobsBucket = []byte("cas_blobs")
)

// BoltStore is the durable Store, grounded on db/bolt/bolt.go's bucket
// conventions. It keeps nodes and nodes/blobs content-addressed by their
// hex digest (the "sha256:" prefix stripped before use as a bolt key).
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the store's bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, aoserr.Wrap(aoserr.KindStore, "open bolt store "+path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(nodesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, aoserr.Wrap(aoserr.KindStore, "create cas buckets", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func digest(hash string) []byte {
	return []byte(strings.TrimPrefix(hash, ccbor.HashPrefix))
}

func (s *BoltStore) PutNode(v interface{}) (string, error) {
	hash, raw, err := encodeNode(v)
	if err != nil {
		return "", err
	}
	if err := s.putIfAbsent(nodesBucket, hash, raw); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *BoltStore) GetNode(hash string, out interface{}) error {
	raw, err := s.getVerified("node", nodesBucket, hash)
	if err != nil {
		return err
	}
	if err := ccbor.Unmarshal(raw, out); err != nil {
		return aoserr.Wrap(aoserr.KindStore, "decode node "+hash, err)
	}
	return nil
}

func (s *BoltStore) HasNode(hash string) (bool, error) { return s.has(nodesBucket, hash) }

func (s *BoltStore) PutBlob(data []byte) (string, error) {
	hash := ccbor.Hash(data)
	if err := s.putIfAbsent(blobsBucket, hash, data); err != nil {
		return "", err
	}
	return hash, nil
}

func (s *BoltStore) GetBlob(hash string) ([]byte, error) {
	return s.getVerified("blob", blobsBucket, hash)
}

func (s *BoltStore) HasBlob(hash string) (bool, error) { return s.has(blobsBucket, hash) }

// putIfAbsent performs a create-exclusive write: an existing key is left
// untouched, since nodes/blobs are immutable once written.
func (s *BoltStore) putIfAbsent(bucket []byte, hash string, raw []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get(digest(hash)) != nil {
			return nil
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return b.Put(digest(hash), cp)
	})
}

func (s *BoltStore) getVerified(kind string, bucket []byte, hash string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(digest(hash))
		if v == nil {
			return &NotFound{Kind: kind, Hash: hash}
		}
		raw = make([]byte, len(v))
		copy(raw, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := verifyHash(kind, hash, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *BoltStore) has(bucket []byte, hash string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucket).Get(digest(hash)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cas: has check failed: %w", err)
	}
	return ok, nil
}

var _ Store = (*BoltStore)(nil)
