package chunk

import (
	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/klog"
)

// Table, Index, and Corpus are the three concrete Revision flavors
// spec.md §3 names, instantiated from the single generic Chunk[L,K,V].

// TableChunk answers "what fields does record R hold?": Locator=Identifier,
// Key=Text (field), Value=Value.
type TableChunk = Chunk[byteable.Identifier, byteable.Text, byteable.Value]

// IndexChunk answers "which records have field=V?": Locator=Text (field),
// Key=Value, Value=Identifier.
type IndexChunk = Chunk[byteable.Text, byteable.Value, byteable.Identifier]

// CorpusChunk answers "which (record, offset) contain term T under field
// F?": Locator=Text (field), Key=Text (term), Value=Position.
type CorpusChunk = Chunk[byteable.Text, byteable.Text, byteable.Position]

// registryDecoder adapts a Registry's Flavor-keyed Decode to one of Codec's
// typed DecodeLocator/DecodeKey/DecodeValue funcs, routing every chunk
// decode through the process-scoped dispatch table (spec.md §9) rather than
// calling byteable.DecodeXxx directly.
func registryDecoder[T byteable.Byteable](registry *byteable.Registry, flavor byteable.Flavor) func([]byte) (T, error) {
	return func(w []byte) (T, error) {
		var zero T
		decoded, err := registry.Decode(flavor, w)
		if err != nil {
			return zero, err
		}
		typed, ok := decoded.(T)
		if !ok {
			return zero, kerr.Newf(kerr.DecodeError, "chunk.registryDecoder", "registry returned %T, want %T", decoded, zero)
		}
		return typed, nil
	}
}

// NewTableChunk creates an Open table chunk, dispatching decode through
// registry.
func NewTableChunk(registry *byteable.Registry, cfg kconfig.Kernel, logger *klog.Logger, expectedInsertions uint32) *TableChunk {
	codec := Codec[byteable.Identifier, byteable.Text, byteable.Value]{
		DecodeLocator: registryDecoder[byteable.Identifier](registry, byteable.FlavorIdentifier),
		DecodeKey:     registryDecoder[byteable.Text](registry, byteable.FlavorText),
		DecodeValue:   registryDecoder[byteable.Value](registry, byteable.FlavorValue),
	}
	return New[byteable.Identifier, byteable.Text, byteable.Value]("table", codec, cfg, logger, expectedInsertions)
}

// NewIndexChunk creates an Open index chunk, dispatching decode through
// registry.
func NewIndexChunk(registry *byteable.Registry, cfg kconfig.Kernel, logger *klog.Logger, expectedInsertions uint32) *IndexChunk {
	codec := Codec[byteable.Text, byteable.Value, byteable.Identifier]{
		DecodeLocator: registryDecoder[byteable.Text](registry, byteable.FlavorText),
		DecodeKey:     registryDecoder[byteable.Value](registry, byteable.FlavorValue),
		DecodeValue:   registryDecoder[byteable.Identifier](registry, byteable.FlavorIdentifier),
	}
	return New[byteable.Text, byteable.Value, byteable.Identifier]("index", codec, cfg, logger, expectedInsertions)
}

// NewCorpusChunk creates an Open corpus chunk, dispatching decode through
// registry.
func NewCorpusChunk(registry *byteable.Registry, cfg kconfig.Kernel, logger *klog.Logger, expectedInsertions uint32) *CorpusChunk {
	codec := Codec[byteable.Text, byteable.Text, byteable.Position]{
		DecodeLocator: registryDecoder[byteable.Text](registry, byteable.FlavorText),
		DecodeKey:     registryDecoder[byteable.Text](registry, byteable.FlavorText),
		DecodeValue:   registryDecoder[byteable.Position](registry, byteable.FlavorPosition),
	}
	return New[byteable.Text, byteable.Text, byteable.Position]("corpus", codec, cfg, logger, expectedInsertions)
}
