// Package coreerr defines the error taxonomy shared by every ledger and
// mesh component. Every failure in the core maps to exactly one Kind.
package coreerr

import "errors"

// Kind classifies a core error for the purpose of deciding whether it is
// surfaced to a caller, logged, or silently dropped.
type Kind int

const (
	// KindUnknown is the zero value; Classify never returns it for a
	// wrapped sentinel but callers should treat it as "surface and log".
	KindUnknown Kind = iota

	// KindInvalidEntry covers shape, signature, PoW, hash, sequence, or
	// fee failures. Recovered locally: drop, never surfaced.
	KindInvalidEntry

	// KindMempoolConflict is a double-spend loser. Surfaced to the
	// submitter only for local originations.
	KindMempoolConflict

	// KindUtxoAlreadySpent is a commit-time race observed after mempool
	// admission. The mempool entry is dropped; never surfaced.
	KindUtxoAlreadySpent

	// KindSession covers handshake or AEAD failures. Triggers rotation
	// and a behavior event; retried with a fresh handshake.
	KindSession

	// KindTransport covers link-level send/receive failures. Counted
	// against the peer and retried with backoff.
	KindTransport

	// KindStore covers persistent storage I/O or corruption. Fatal for
	// the writer task; the core enters degraded read-only mode.
	KindStore

	// KindTimeout is any deadline exceeded. Mapped to KindTransport for
	// peer links by Classify.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidEntry:
		return "invalid_entry"
	case KindMempoolConflict:
		return "mempool_conflict"
	case KindUtxoAlreadySpent:
		return "utxo_already_spent"
	case KindSession:
		return "session_error"
	case KindTransport:
		return "transport_error"
	case KindStore:
		return "store_error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// coreError wraps an underlying cause with a Kind so callers can classify
// it without string matching.
type coreError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *coreError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *coreError) Unwrap() error { return e.cause }

// New builds an error of the given kind.
func New(kind Kind, msg string) error {
	return &coreError{kind: kind, msg: msg}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &coreError{kind: kind, msg: msg, cause: cause}
}

// Classify extracts the Kind of err, walking the wrap chain. KindTimeout
// is reported as KindTransport for peer-link callers per the error design:
// "Timeout: any deadline exceeded. Mapped to TransportError for peer links."
func Classify(err error) Kind {
	var ce *coreError
	if errors.As(err, &ce) {
		if ce.kind == KindTimeout {
			return KindTransport
		}
		return ce.kind
	}
	return KindUnknown
}

// IsKind reports whether err (or anything it wraps) was constructed with
// the given Kind, without the timeout-to-transport remapping Classify does.
func IsKind(err error, kind Kind) bool {
	var ce *coreError
	if errors.As(err, &ce) {
		return ce.kind == kind
	}
	return false
}

// MustSurface reports whether an error of this kind is allowed to reach a
// caller/operator. Only local-origin errors (mempool conflicts from a
// local submission) and unrecoverable store errors surface; validation
// failures never do.
func MustSurface(kind Kind) bool {
	switch kind {
	case KindMempoolConflict, KindStore:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned by store lookups for a missing key. It is
	// not itself a Kind — callers decide how to classify a miss.
	ErrNotFound = errors.New("coreerr: not found")
)
