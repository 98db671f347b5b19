// Package ccbor implements AgentOS's canonical CBOR encoding: definite-length
// containers, map keys sorted by their encoded bytes, shortest-form integers,
// and a SHA-256 content hash over the result. Two semantically equal values
// always produce identical bytes and identical hashes.
package ccbor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// HashPrefix is prepended to the hex digest of every content hash.
const HashPrefix = "sha256:"

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeUnixDynamic
	m, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ccbor: building canonical encode mode: %v", err))
	}
	encMode = m

	dopts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		TagsMd:      cbor.TagsAllowed,
	}
	dm, err := dopts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ccbor: building decode mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v into canonical CBOR bytes.
func Marshal(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ccbor: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes canonical (or self-describe tagged) CBOR bytes into v.
// The self-describe tag (55799), if present as the outermost tag, is
// tolerated and stripped automatically by the underlying decoder.
func Unmarshal(data []byte, v interface{}) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ccbor: unmarshal: %w", err)
	}
	return nil
}

// Hash returns the canonical hash of b, formatted "sha256:<64 hex>".
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// HashValue canonicalises v and returns (hash, canonical bytes).
func HashValue(v interface{}) (string, []byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return Hash(b), b, nil
}

// ValidHash reports whether s is a well-formed "sha256:<64 hex>" hash.
func ValidHash(s string) bool {
	if len(s) != len(HashPrefix)+64 || s[:len(HashPrefix)] != HashPrefix {
		return false
	}
	_, err := hex.DecodeString(s[len(HashPrefix):])
	return err == nil
}
