// Package store is the kernel's L8 surface: the Gatherable, SearchIndex,
// and Syncable interfaces the engine layer above actually calls, wiring the
// Table/Index/Corpus chunk flavors and the corpus indexing pipeline into
// the five operations spec.md §6 names — add/remove, select, verify, find,
// search (spec.md §6, §9's "generic Chunk<L,K,V>" note).
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/chunk"
	"github.com/chronostore/kernel/corpus"
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/keys"
	"github.com/chronostore/kernel/klog"
)

// defaultExpectedInsertions sizes a fresh generation's Bloom filter when the
// caller has no better estimate. Chunks past this size still work
// correctly; the Bloom filter's false-positive rate simply drifts above
// cfg.BloomFalsePositiveRate's target (spec.md §4.4).
const defaultExpectedInsertions = 10000

// Op is a comparison operator Find applies against an indexed field's
// values (spec.md §6 "find(field, op, value [, at])").
type Op int

const (
	OpEqual Op = iota
	OpNotEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
)

// Gatherable answers "what does record R hold for field F", identically to
// Select but with no ordering guarantee on the returned set (spec.md §6).
type Gatherable interface {
	Gather(field string, record byteable.Identifier, atVersion uint64) ([]byteable.Value, error)
}

// SearchIndex submits a field's string value for asynchronous corpus
// indexing. Completion is observable through Store.Latch(), not by
// blocking on this call (spec.md §6).
type SearchIndex interface {
	Index(field string, value byteable.Value, record byteable.Identifier, version uint64, action chunk.Action) error
}

// Syncable flushes and fsyncs all pending state for the callee (spec.md §6).
type Syncable interface {
	Sync() error
}

var (
	_ Gatherable  = (*Store)(nil)
	_ SearchIndex = (*Store)(nil)
	_ Syncable    = (*Store)(nil)
)

// Store ties the three chunk flavors and the corpus indexer into the
// surface the engine layer calls. Every write is stamped with a
// store-local, monotonically increasing version; there is no cross-Store
// ordering (spec.md §5 "Across chunks... not part of this spec").
type Store struct {
	dir     string
	cfg     kconfig.Kernel
	logger  *klog.Logger
	version uint64 // atomic

	table     *generation[byteable.Identifier, byteable.Text, byteable.Value]
	index     *generation[byteable.Text, byteable.Value, byteable.Identifier]
	corpusGen *generation[byteable.Text, byteable.Text, byteable.Position]

	indexer  *corpus.Indexer
	latch    *corpus.CountUpLatch
	interner *keys.Interner
	flushMu  sync.Mutex
}

// New opens a Store rooted at dir, starting the corpus indexer's worker
// pool bound to ctx. registry is the process-scoped Byteable decoder table
// (normally an Instance's own, per spec.md §9) that every chunk flavor's
// Codec dispatches decode through. interner is the Instance's collision-
// tolerant Composite cache, used only for non-authoritative log correlation
// here — never for the exact-equality comparisons chunk/keys.FromParts owns
// (see DESIGN.md's Open Question resolution). Callers must call Close to
// stop the pool and release sealed chunks' mappings.
func New(ctx context.Context, dir string, cfg kconfig.Kernel, logger *klog.Logger, registry *byteable.Registry, interner *keys.Interner) *Store {
	if logger == nil {
		logger = klog.NewNop()
	}
	if registry == nil {
		registry = byteable.NewRegistry()
	}
	if interner == nil {
		interner = keys.NewInterner()
	}

	s := &Store{
		dir:      dir,
		cfg:      cfg,
		logger:   logger,
		latch:    corpus.NewCountUpLatch(),
		interner: interner,
	}
	s.table = newGeneration("table", func() *chunk.TableChunk {
		return chunk.NewTableChunk(registry, cfg, logger, defaultExpectedInsertions)
	})
	s.index = newGeneration("index", func() *chunk.IndexChunk {
		return chunk.NewIndexChunk(registry, cfg, logger, defaultExpectedInsertions)
	})
	s.corpusGen = newGeneration("corpus", func() *chunk.CorpusChunk {
		return chunk.NewCorpusChunk(registry, cfg, logger, defaultExpectedInsertions)
	})

	s.indexer = corpus.NewIndexer(cfg, logger)
	s.indexer.Start(ctx)
	return s
}

func (s *Store) nextVersion() uint64 {
	return atomic.AddUint64(&s.version, 1) - 1
}

// Add records field=value for record, at a freshly assigned version, in the
// table chunk, the inverted index chunk, and (for string values) the
// corpus indexing pipeline.
func (s *Store) Add(field string, value byteable.Value, record byteable.Identifier) error {
	return s.write(field, value, record, chunk.ActionAdd)
}

// Remove records the removal of field=value for record (spec.md §6
// "add/remove(field, value, record)").
func (s *Store) Remove(field string, value byteable.Value, record byteable.Identifier) error {
	return s.write(field, value, record, chunk.ActionRemove)
}

func (s *Store) write(field string, value byteable.Value, record byteable.Identifier, action chunk.Action) error {
	version := s.nextVersion()
	fieldText := byteable.NewText(field)

	if err := s.table.insert(record, fieldText, value, version, action); err != nil {
		return err
	}
	if err := s.index.insert(fieldText, value, record, version, action); err != nil {
		return err
	}
	return s.Index(field, value, record, version, action)
}

// Index implements SearchIndex: it submits value's string content (if any)
// to the corpus worker pool for substring expansion, returning as soon as
// the task is enqueued. Non-string values have nothing to tokenize and are
// a no-op here (they are still searchable via Select/Find through Add).
func (s *Store) Index(field string, value byteable.Value, record byteable.Identifier, version uint64, action chunk.Action) error {
	text, ok := value.Text()
	if !ok {
		return nil
	}

	// A best-effort (field, record) correlation key for the submit log line
	// below — collisions are tolerable here since it is never compared for
	// equality, only logged, which is exactly the use Interner.Get is for.
	if traceKey, err := s.interner.Get(byteable.NewText(field), record); err == nil {
		s.logger.Debugw("submitting corpus task", "trace_key", traceKey.Bytes(), "field", field)
	}

	s.indexer.Submit(corpus.Task{
		Chunk:   s.corpusGen.currentActive(),
		Field:   byteable.NewText(field),
		Value:   append([]byte(nil), text.Bytes()...),
		Record:  record,
		Version: version,
		Action:  action,
		Latch:   s.latch,
	})
	return nil
}

// Latch exposes the shared corpus-indexing completion latch, so callers of
// Index can observe when enqueued tasks have actually run.
func (s *Store) Latch() *corpus.CountUpLatch { return s.latch }

// Select returns the set of values currently present for (field, record)
// at atVersion (spec.md §6 "select(field, record [, at])").
func (s *Store) Select(field string, record byteable.Identifier, atVersion uint64) ([]byteable.Value, error) {
	return s.table.query(record, byteable.NewText(field), atVersion)
}

// Gather implements Gatherable: the same result set as Select, returned in
// map-iteration (hash) order rather than sorted order.
func (s *Store) Gather(field string, record byteable.Identifier, atVersion uint64) ([]byteable.Value, error) {
	values, err := s.Select(field, record, atVersion)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]byteable.Value, len(values))
	for _, v := range values {
		byKey[chunk.CanonicalKey(v)] = v
	}
	out := make([]byteable.Value, 0, len(byKey))
	for _, v := range byKey {
		out = append(out, v)
	}
	return out, nil
}

// Verify reports whether field=value currently holds for record at
// atVersion (spec.md §6 "verify(field, value, record [, at])").
func (s *Store) Verify(field string, value byteable.Value, record byteable.Identifier, atVersion uint64) (bool, error) {
	values, err := s.Select(field, record, atVersion)
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if v.Equal(value) {
			return true, nil
		}
	}
	return false, nil
}

// Find returns every record whose field value satisfies op against value
// at atVersion (spec.md §6 "find(field, op, value [, at])"), via the
// inverted index.
func (s *Store) Find(field string, op Op, value byteable.Value, atVersion uint64) ([]byteable.Identifier, error) {
	groups, err := s.index.scanLocator(byteable.NewText(field), atVersion)
	if err != nil {
		return nil, err
	}

	seen := make(map[byteable.Identifier]struct{})
	var out []byteable.Identifier
	for _, g := range groups {
		if !matches(op, g.Key, value) {
			continue
		}
		for _, rec := range g.Values {
			if _, ok := seen[rec]; ok {
				continue
			}
			seen[rec] = struct{}{}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func matches(op Op, key, target byteable.Value) bool {
	cmp := key.Compare(target)
	switch op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	default:
		return false
	}
}

// Search returns every record whose field contains every whitespace-
// separated term of query, via the corpus index (spec.md §6
// "search(field, query)"). Multiple terms are ANDed together.
func (s *Store) Search(field string, query string, atVersion uint64) ([]byteable.Identifier, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	fieldText := byteable.NewText(field)
	var result map[byteable.Identifier]struct{}
	for i, term := range terms {
		positions, err := s.corpusGen.query(fieldText, byteable.NewText(term), atVersion)
		if err != nil {
			return nil, err
		}
		hits := make(map[byteable.Identifier]struct{}, len(positions))
		for _, p := range positions {
			hits[p.Rec] = struct{}{}
		}
		if i == 0 {
			result = hits
			continue
		}
		for rec := range result {
			if _, ok := hits[rec]; !ok {
				delete(result, rec)
			}
		}
	}

	out := make([]byteable.Identifier, 0, len(result))
	for rec := range result {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Sync implements Syncable: it seals every generation's active chunk that
// has pending writes, flushing and fsyncing them (spec.md §6 "Syncable.sync
// — flush+fsync all pending state").
func (s *Store) Sync() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.table.flush(s.dir); err != nil {
		return kerr.New(kerr.IoError, "store.Sync", err)
	}
	if err := s.index.flush(s.dir); err != nil {
		return kerr.New(kerr.IoError, "store.Sync", err)
	}
	if err := s.corpusGen.flush(s.dir); err != nil {
		return kerr.New(kerr.IoError, "store.Sync", err)
	}
	return nil
}

// Close stops the corpus worker pool and releases every sealed chunk's
// memory mapping.
func (s *Store) Close() error {
	if err := s.indexer.Stop(); err != nil {
		return err
	}
	if err := s.table.close(); err != nil {
		return err
	}
	if err := s.index.close(); err != nil {
		return err
	}
	return s.corpusGen.close()
}
