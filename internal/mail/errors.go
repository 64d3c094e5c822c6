package mail

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure so the scheduler and tests can react to
// the category rather than pattern-matching message strings.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota

	// KindConfig covers bad or incompatible configuration: unsupported
	// transport/auth combinations, a required STARTTLS upgrade the
	// server does not offer, undecryptable credentials. Retrying without
	// a configuration change will not help.
	KindConfig

	// KindAuth covers rejected credentials after all mechanisms were
	// attempted.
	KindAuth

	// KindNetwork covers transient transport failures: refused
	// connections, timeouts, TLS handshake errors.
	KindNetwork

	// KindProtocol covers unexpected server responses during
	// select/search/fetch. These abort the current folder only.
	KindProtocol

	// KindStorage covers persistence failures. The cursor must not
	// advance past a UID whose write did not durably succeed.
	KindStorage

	// KindParse covers malformed message content. Parsing degrades
	// gracefully and never blocks storage of the raw bytes.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindStorage:
		return "storage"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is a classified sync failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err with a kind and operation name.
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// errorf wraps a formatted message as a classified error.
func errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification of err, or KindUnknown when err
// carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err (or any error in its chain) carries the
// given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
