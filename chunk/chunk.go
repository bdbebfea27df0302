package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chronostore/kernel/bloom"
	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/kerr"
	"github.com/chronostore/kernel/keys"
	"github.com/chronostore/kernel/kfs"
	"github.com/chronostore/kernel/klog"
	"github.com/chronostore/kernel/sink"
)

// State is a Chunk's position in the Open -> Sealed -> (Retired) state
// machine (spec.md §4.5). Retired is managed by the surrounding engine, not
// this package.
type State int

const (
	StateOpen State = iota
	StateSealed
)

func (s State) String() string {
	if s == StateSealed {
		return "sealed"
	}
	return "open"
}

// Chunk is a generic, append-only, sorted container of Revision[L,K,V],
// covering all three flavors (Table, Index, Corpus) from one implementation
// per spec.md §9's "generic Chunk<L,K,V>" redesign note.
type Chunk[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable] struct {
	mu sync.RWMutex

	flavor string
	codec  Codec[L, K, V]
	cfg    kconfig.Kernel
	logger *klog.Logger

	state   State
	pending []Revision[L, K, V]

	filter   *bloom.Filter
	manifest *Manifest

	source     sink.Source
	mapped     *sink.Mapped
	chunkPath  string
}

// New creates an Open chunk ready to accept inserts. expectedInsertions
// sizes the Bloom filter (spec.md §4.4).
func New[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable](
	flavor string, codec Codec[L, K, V], cfg kconfig.Kernel, logger *klog.Logger, expectedInsertions uint32,
) *Chunk[L, K, V] {
	if logger == nil {
		logger = klog.NewNop()
	}
	return &Chunk[L, K, V]{
		flavor: flavor,
		codec:  codec,
		cfg:    cfg,
		logger: logger,
		state:  StateOpen,
		filter: bloom.New(expectedInsertions, cfg.BloomFalsePositiveRate, cfg.BloomThreadSafe),
	}
}

// State reports whether the chunk is still accepting inserts.
func (c *Chunk[L, K, V]) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats summarizes a chunk's current shape.
type Stats struct {
	Flavor        string
	State         State
	RevisionCount int
	ByteSize      int
}

// String renders Stats for log lines, with ByteSize in human-readable form
// (e.g. "4.2 kB") rather than a raw byte count.
func (s Stats) String() string {
	return fmt.Sprintf("%s chunk (%s): %d revisions, %s", s.Flavor, s.State, s.RevisionCount, humanize.Bytes(uint64(s.ByteSize)))
}

func (c *Chunk[L, K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.pending)
	size := 0
	if c.state == StateSealed && c.manifest != nil {
		n = c.revisionCountLocked()
		size = c.source.Len()
	} else {
		for _, rev := range c.pending {
			size += rev.size()
		}
	}
	return Stats{Flavor: c.flavor, State: c.state, RevisionCount: n, ByteSize: size}
}

func (c *Chunk[L, K, V]) revisionCountLocked() int {
	count := 0
	if c.source == nil {
		return 0
	}
	off := 0
	for off < c.source.Len() {
		_, next, err := decodeRevision[L, K, V](c.source, off, c.codec)
		if err != nil {
			break
		}
		off = next
		count++
	}
	return count
}

// Insert adds a revision to the in-memory accumulation. It is safe for
// concurrent callers (spec.md §4.6's concurrent-corpus-writer requirement);
// the accumulation itself is sorted once at Transfer, not kept continuously
// sorted — ordering is only observable after sealing (Invariant 6).
func (c *Chunk[L, K, V]) Insert(locator L, key K, value V, version uint64, action Action) error {
	c1, c2, c3, err := compositesOf[L, K, V](locator, key, value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return kerr.Newf(kerr.StateError, "Chunk.Insert", "%s chunk is sealed", c.flavor)
	}

	c.filter.Put(c1)
	c.filter.Put(c2)
	c.filter.Put(c3)
	c.pending = append(c.pending, Revision[L, K, V]{
		Locator: locator, Key: key, Value: value, Version: version, Action: action,
	})
	return nil
}

func compositesOf[L byteable.Byteable, K byteable.Byteable, V byteable.Byteable](locator L, key K, value V) (c1, c2, c3 keys.Composite, err error) {
	c1, err = keys.FromParts(locator)
	if err != nil {
		return
	}
	c2, err = keys.FromParts(locator, key)
	if err != nil {
		return
	}
	c3, err = keys.FromParts(locator, key, value)
	return
}

// Transfer renders the in-memory content to dir/name.{chunk,manifest,bloom},
// builds the Manifest, and transitions the chunk to Sealed. On any I/O
// failure partial files are removed and the chunk remains Open, per
// spec.md §4.5 step 5.
func (c *Chunk[L, K, V]) Transfer(dir, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return kerr.Newf(kerr.StateError, "Chunk.Transfer", "%s chunk is already sealed", c.flavor)
	}

	sorted := append([]Revision[L, K, V](nil), c.pending...)
	// Sort on each part's own bytes (canonical bytes where the type has
	// them), not on the (locator, key, value) Composite: a Composite over
	// keys.MaxSize is stored as a digest, which would scatter a locator's run.
	type keyed struct {
		rev                 Revision[L, K, V]
		locator, key, value string
	}
	withKeys := make([]keyed, len(sorted))
	for i, r := range sorted {
		withKeys[i] = keyed{rev: r, locator: bytesOf(r.Locator), key: bytesOf(r.Key), value: bytesOf(r.Value)}
	}
	sort.SliceStable(withKeys, func(i, j int) bool {
		a, b := withKeys[i], withKeys[j]
		if a.locator != b.locator {
			return a.locator < b.locator
		}
		if a.key != b.key {
			return a.key < b.key
		}
		if a.value != b.value {
			return a.value < b.value
		}
		if withKeys[i].rev.Version != withKeys[j].rev.Version {
			return withKeys[i].rev.Version < withKeys[j].rev.Version
		}
		// Defensive tie-break (spec.md §4.5): ADD before REMOVE.
		return withKeys[i].rev.Action < withKeys[j].rev.Action
	})

	chunkPath := filepath.Join(dir, name+".chunk")
	manifestPath := filepath.Join(dir, name+".manifest")
	bloomPath := filepath.Join(dir, name+".bloom")

	if err := awaitManifestSlot(chunkPath, manifestPath, c.logger); err != nil {
		return err
	}

	fileSink, err := sink.NewBufferedFile(dir, c.cfg.BufferedSinkScratchSize)
	if err != nil {
		return err
	}
	stagedChunk := fileSink.Path()

	builder := &manifestBuilder{}
	for _, kv := range withKeys {
		pos, err := fileSink.Position()
		if err != nil {
			os.Remove(stagedChunk)
			return err
		}
		c1, err := keys.FromParts(kv.rev.Locator)
		if err != nil {
			os.Remove(stagedChunk)
			return err
		}
		c2, err := keys.FromParts(kv.rev.Locator, kv.rev.Key)
		if err != nil {
			os.Remove(stagedChunk)
			return err
		}
		builder.advance(c1, c2, pos)
		if err := kv.rev.writeTo(fileSink); err != nil {
			os.Remove(stagedChunk)
			return err
		}
	}
	finalPos, err := fileSink.Position()
	if err != nil {
		os.Remove(stagedChunk)
		return err
	}
	manifest := builder.finish(finalPos)

	if err := fileSink.Close(); err != nil {
		os.Remove(stagedChunk)
		return err
	}
	if err := kfs.Replace(stagedChunk, chunkPath); err != nil {
		os.Remove(stagedChunk)
		return err
	}

	manifestBytes, err := manifest.GetBytes()
	if err != nil {
		os.Remove(chunkPath)
		return err
	}
	if err := writeSidecarFile(manifestPath, manifestBytes); err != nil {
		os.Remove(chunkPath)
		os.Remove(manifestPath)
		return err
	}

	bloomBytes := c.filter.GetBytes()
	if err := writeSidecarFile(bloomPath, bloomBytes); err != nil {
		os.Remove(chunkPath)
		os.Remove(manifestPath)
		os.Remove(bloomPath)
		return err
	}

	mapped, err := sink.OpenMapped(chunkPath)
	if err != nil {
		os.Remove(chunkPath)
		os.Remove(manifestPath)
		os.Remove(bloomPath)
		return err
	}

	c.manifest = manifest
	c.source = mapped
	c.mapped = mapped
	c.chunkPath = chunkPath
	c.pending = nil
	c.state = StateSealed

	c.logger.Infow("chunk sealed", "flavor", c.flavor, "revisions", len(withKeys),
		"size", humanize.Bytes(uint64(mapped.Len())), "path", chunkPath)
	return nil
}

const (
	manifestCASAttempts = 5
	manifestCASBackoff  = 5 * time.Millisecond
)

// awaitManifestSlot detects another Chunk instance sharing this directory
// having already published chunkPath/manifestPath under this name and
// retries with a short exponential backoff before giving up, rather than
// silently clobbering a sibling chunk's sealed files. spec.md's concurrency
// model is single-writer-per-chunk, but the publish step is the one place
// two kernel instances pointed at the same directory could race on the same
// name; this generalizes the same-process lock re-acquire warning (§4.7)
// to that race.
func awaitManifestSlot(chunkPath, manifestPath string, logger *klog.Logger) error {
	backoff := manifestCASBackoff
	for attempt := 0; attempt < manifestCASAttempts; attempt++ {
		_, chunkErr := os.Stat(chunkPath)
		_, manifestErr := os.Stat(manifestPath)
		if os.IsNotExist(chunkErr) && os.IsNotExist(manifestErr) {
			return nil
		}
		if logger != nil {
			logger.Warnw("manifest publish collision, retrying", "chunk", chunkPath, "attempt", attempt+1)
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return kerr.Newf(kerr.StateError, "Chunk.Transfer", "manifest publish collision: %s already exists", chunkPath)
}

func writeSidecarFile(path string, data []byte) error {
	f, err := kfs.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return kerr.New(kerr.IoError, "chunk.writeSidecarFile", err)
	}
	if err := f.Sync(); err != nil {
		return kerr.New(kerr.IoError, "chunk.writeSidecarFile", err)
	}
	return nil
}

// Seek implements spec.md §4.5's read path: Bloom-skip on the bare locator,
// Manifest lookup on (locator, key), decode the matching byte range, and
// apply toggle semantics up to atVersion.
func (c *Chunk[L, K, V]) Seek(locator L, key K, atVersion uint64) ([]V, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateSealed {
		return nil, kerr.Newf(kerr.StateError, "Chunk.Seek", "%s chunk is not sealed", c.flavor)
	}

	locatorComposite, err := keys.FromParts(locator)
	if err != nil {
		return nil, err
	}
	if !c.filter.MightContain(locatorComposite) {
		return nil, nil
	}

	locatorKeyComposite, err := keys.FromParts(locator, key)
	if err != nil {
		return nil, err
	}
	start, end, ok := c.manifest.Lookup(locatorKeyComposite)
	if !ok {
		return nil, nil
	}

	type tally struct {
		value V
		count int
	}
	byBytes := make(map[string]*tally)
	var order []string

	off := int(start)
	for off < int(end) {
		rev, next, err := decodeRevision[L, K, V](c.source, off, c.codec)
		if err != nil {
			return nil, err
		}
		off = next
		if rev.Version > atVersion {
			continue
		}
		k := bytesOf(rev.Value)
		t, seen := byBytes[k]
		if !seen {
			t = &tally{value: rev.Value}
			byBytes[k] = t
			order = append(order, k)
		}
		if rev.Action == ActionAdd {
			t.count++
		} else {
			t.count--
		}
	}

	sort.Strings(order)
	results := make([]V, 0, len(order))
	for _, k := range order {
		if byBytes[k].count%2 != 0 {
			results = append(results, byBytes[k].value)
		}
	}
	return results, nil
}

// CanonicalKey returns the byte-string used to compare two Byteables for
// equality/grouping purposes (via byteable.Canonical when the type
// implements it, otherwise its raw transport bytes). Exported so callers
// above this package (the store layer) can group revisions across multiple
// chunks the same way Seek groups them within one.
func CanonicalKey[T byteable.Byteable](v T) string {
	return bytesOf(v)
}

func bytesOf(v byteable.Byteable) string {
	if canon, ok := v.(byteable.Canonical); ok {
		return string(canon.CanonicalBytes())
	}
	buf := make([]byte, v.Size())
	if err := v.CopyTo(sink.NewFixedBuffer(buf)); err != nil {
		panic(fmt.Sprintf("chunk: Byteable lied about its Size(): %v", err))
	}
	return string(buf)
}

// AllRevisions decodes every revision in a sealed chunk, in on-disk (sorted)
// order. Used by tests asserting Invariant 6 and by corpus dump comparisons
// (S6).
func (c *Chunk[L, K, V]) AllRevisions() ([]Revision[L, K, V], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateSealed {
		return nil, kerr.Newf(kerr.StateError, "Chunk.AllRevisions", "%s chunk is not sealed", c.flavor)
	}

	var out []Revision[L, K, V]
	off := 0
	for off < c.source.Len() {
		rev, next, err := decodeRevision[L, K, V](c.source, off, c.codec)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
		off = next
	}
	return out, nil
}

// Pending returns a snapshot copy of the not-yet-sealed accumulation, in
// insertion order (no sort applied yet — that only happens at Transfer).
// Lets callers above this package (the store layer) answer queries against
// an open chunk's in-flight writes without waiting for the next seal.
func (c *Chunk[L, K, V]) Pending() []Revision[L, K, V] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Revision[L, K, V](nil), c.pending...)
}

// Manifest exposes the sealed chunk's manifest for coverage checks
// (spec.md §8 Invariant 5).
func (c *Chunk[L, K, V]) Manifest() *Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manifest
}

// Close releases the sealed chunk's memory mapping through kfs.Unmap,
// which closes (and so unmaps) the mapped source.
func (c *Chunk[L, K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mapped == nil {
		return nil
	}
	return kfs.Unmap(c.mapped)
}
