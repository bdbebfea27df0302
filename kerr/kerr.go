// Package kerr defines the closed set of error kinds the storage kernel
// surfaces to callers. Kernel packages report their failures as one of these
// five kinds, except kconfig.Load and byteable.Registry.Decode, which return
// plain errors; kernel.Open wraps the former as IoError and the chunk
// decoder wraps the latter as DecodeError.
package kerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the five error categories the kernel distinguishes.
type Kind int

const (
	// IoError wraps any underlying filesystem or channel failure.
	IoError Kind = iota
	// LockError signals failure to acquire a required process or file lock.
	LockError
	// StateError signals a mutating call against a sealed chunk, or a
	// decoded magic/version mismatch.
	StateError
	// DecodeError signals bytes that do not conform to a Byteable's layout.
	DecodeError
	// CapacityError signals a Bloom filter or deduplicator exceeding its
	// design bound. Callers may treat this as non-fatal per §4.6.
	CapacityError
)

func (k Kind) String() string {
	switch k {
	case IoError:
		return "io"
	case LockError:
		return "lock"
	case StateError:
		return "state"
	case DecodeError:
		return "decode"
	case CapacityError:
		return "capacity"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by kernel packages. It carries a
// Kind for programmatic dispatch (errors.Is against the Kind-specific
// sentinels below) and wraps the underlying cause with a stack trace via
// github.com/pkg/errors.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets callers write errors.Is(err, kerr.IoErr) etc. by comparing Kind
// against the dynamic type used for the kind sentinels below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New wraps err (which may be nil) as a kernel Error of the given kind,
// attributed to op. If err is nil, New returns nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, err: errors.WithStack(err)}
}

// Newf builds a kernel Error of the given kind from a format string, with no
// underlying cause.
func Newf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, err: errors.Errorf(format, args...)}
}

// sentinel values usable with errors.Is(err, kerr.IoErr) for kind-only checks.
var (
	IoErr       = &Error{Kind: IoError}
	LockErr     = &Error{Kind: LockError}
	StateErr    = &Error{Kind: StateError}
	DecodeErr   = &Error{Kind: DecodeError}
	CapacityErr = &Error{Kind: CapacityError}
)

// KindOf extracts the Kind from err if it is (or wraps) a kernel Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
