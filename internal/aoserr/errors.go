// Package aoserr defines the kernel's error taxonomy: a small set of named
// kinds that every component wraps its failures in, so callers can branch on
// "what kind of thing went wrong" instead of matching on error strings.
package aoserr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of kernel failure, per the error taxonomy.
type Kind string

const (
	KindManifest             Kind = "manifest"
	KindStore                Kind = "store"
	KindJournal               Kind = "journal"
	KindPolicyDenied          Kind = "policy_denied"
	KindCapabilityDenied      Kind = "capability_denied"
	KindBudgetExceeded        Kind = "budget_exceeded"
	KindIntentUnknown         Kind = "intent_unknown"
	KindModuleTrap            Kind = "module_trap"
	KindUnsupportedReceipt    Kind = "unsupported_receipt"
	KindSnapshotUnavailable   Kind = "snapshot_unavailable"
	KindSecretResolverMissing Kind = "secret_resolver_missing"
)

// Fatal reports whether errors of this kind corrupt determinism if ignored
// (journal, store, snapshot, manifest, module trap) versus being isolated to a single
// emission (policy/capability/budget/receipt decisions).
func (k Kind) Fatal() bool {
	switch k {
	case KindManifest, KindStore, KindJournal, KindSnapshotUnavailable, KindModuleTrap:
		return true
	default:
		return false
	}
}

// Error is a typed kernel error: a Kind plus a human message plus an
// optional wrapped cause, with structured fields for query responses.
type Error struct {
	Kind            Kind
	Message         string
	JournalHeight   *uint64
	ManifestHash    string
	Cause           error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, aoserr.KindX) work by comparing kinds when the
// target is itself an *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithJournalHeight attaches the journal height a caller should know about
// (e.g. the height a SnapshotUnavailable query was made at).
func (e *Error) WithJournalHeight(h uint64) *Error {
	e.JournalHeight = &h
	return e
}

// WithManifestHash attaches the active manifest hash to the error.
func (e *Error) WithManifestHash(h string) *Error {
	e.ManifestHash = h
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel kind markers usable with errors.Is(err, aoserr.KindX.Sentinel()).
func (k Kind) Sentinel() error { return &Error{Kind: k} }
