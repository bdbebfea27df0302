// Package byteable defines the kernel's L1 entity contract: any value that
// declares its own size in bytes, serializes itself deterministically
// through a sink.Sink, and can be reconstructed from a byte window supplied
// by the caller.
//
// Per spec.md §9, flavor dispatch is a closed, explicit table
// (Registry, below) rather than reflection-based class discovery — the
// rewrite's replacement for the teacher-era pattern of discovering a
// buffer constructor by runtime type.
package byteable

import "github.com/chronostore/kernel/sink"

// Byteable is any entity with a deterministic, size-declaring binary form.
type Byteable interface {
	// Size reports the exact number of bytes CopyTo will emit.
	Size() int
	// CopyTo emits exactly Size() bytes, in a deterministic order, to s.
	CopyTo(s sink.Sink) error
}

// Canonical is implemented by Byteables whose logical identity is not
// simply their transport bytes (e.g. width-normalized integers): two
// Byteables comparing equal must produce identical canonical bytes, even if
// their CopyTo output differs in storage width.
type Canonical interface {
	Byteable
	CanonicalBytes() []byte
}

// Flavor is the closed set of entity kinds the kernel's decoder dispatch
// table recognizes. Each Revision flavor (Table/Index/Corpus) names which
// Flavor its locator, key, and value parts decode to.
type Flavor byte

const (
	FlavorIdentifier Flavor = iota
	FlavorText
	FlavorValue
	FlavorPosition
)

// Decoder reconstructs a Byteable from a byte window that exactly covers
// one instance. The caller is responsible for splicing the window out of a
// parent buffer (heap or mapped).
type Decoder func(window []byte) (Byteable, error)

// Registry is the explicit, process-scoped dispatch table from Flavor to
// Decoder. It replaces runtime class discovery: a kernel.Instance builds
// exactly one Registry at Open and never consults a package-level global,
// so Registries do not leak state across test runs.
type Registry struct {
	decoders map[Flavor]Decoder
}

// NewRegistry builds the kernel's fixed flavor -> decoder table.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[Flavor]Decoder, 4)}
	r.decoders[FlavorIdentifier] = func(w []byte) (Byteable, error) {
		id, err := DecodeIdentifier(w)
		return id, err
	}
	r.decoders[FlavorText] = func(w []byte) (Byteable, error) {
		return DecodeText(w), nil
	}
	r.decoders[FlavorValue] = func(w []byte) (Byteable, error) {
		return DecodeValue(w)
	}
	r.decoders[FlavorPosition] = func(w []byte) (Byteable, error) {
		return DecodePosition(w)
	}
	return r
}

// Decode dispatches window to the Decoder registered for flavor.
func (r *Registry) Decode(flavor Flavor, window []byte) (Byteable, error) {
	dec, ok := r.decoders[flavor]
	if !ok {
		return nil, &unknownFlavorError{flavor}
	}
	return dec(window)
}

type unknownFlavorError struct{ flavor Flavor }

func (e *unknownFlavorError) Error() string {
	return "byteable: no decoder registered for flavor"
}
