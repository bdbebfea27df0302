package corpus

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chronostore/kernel/byteable"
	"github.com/chronostore/kernel/chunk"
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/klog"
)

// Deduplicator tier thresholds, in bytes of the parent value: below
// smallValueBytes the brute-force tier's O(n·len) cost is negligible; up to
// largeValueBytes the hash-set tier's memory is cheap; beyond that the
// B+-tree+Bloom tier trades lookup latency for bounded memory.
const (
	smallValueBytes = 256
	largeValueBytes = 65536
)

// Task is one unit of corpus indexing work: tokenize and enumerate the
// substrings of Value, emitting Corpus revisions into Chunk, then signal
// Latch when done (spec.md §4.6).
type Task struct {
	Chunk   *chunk.CorpusChunk
	Field   byteable.Text
	Value   []byte
	Record  byteable.Identifier
	Version uint64
	Action  chunk.Action
	Latch   *CountUpLatch
}

// Indexer is the kernel's fixed-size asynchronous worker pool for corpus
// indexing. Grounded on the teacher's executor-style fan-out used by its
// async table/manifest persisters, realized here with
// golang.org/x/sync/errgroup rather than a hand-rolled pool.
type Indexer struct {
	cfg    kconfig.Kernel
	logger *klog.Logger
	tasks  chan Task
	group  *errgroup.Group
}

// NewIndexer builds an Indexer with cfg.CorpusWorkers goroutines. Start must
// be called before Submit.
func NewIndexer(cfg kconfig.Kernel, logger *klog.Logger) *Indexer {
	if logger == nil {
		logger = klog.NewNop()
	}
	workers := cfg.CorpusWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Indexer{
		cfg:    cfg,
		logger: logger,
		tasks:  make(chan Task, workers*4),
	}
}

// Start launches the worker pool. Each worker pulls tasks until Stop closes
// the queue or ctx is cancelled.
func (ix *Indexer) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	ix.group = g
	workers := ix.cfg.CorpusWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return ix.worker(gctx)
		})
	}
}

func (ix *Indexer) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-ix.tasks:
			if !ok {
				return nil
			}
			ix.process(task)
		}
	}
}

func (ix *Indexer) process(task Task) {
	traceID := uuid.NewString()
	dedup := ChooseDeduplicator(task.Value, smallValueBytes, largeValueBytes)
	stopwords := stopwordSet(ix.cfg.Stopwords)

	emissions := ExpandSubstrings(task.Value, ix.cfg.MaxSubstringLen, stopwords, dedup)
	for _, e := range emissions {
		pos := byteable.NewPosition(task.Record, e.Offset)
		if err := task.Chunk.Insert(task.Field, e.Substring, pos, task.Version, task.Action); err != nil {
			ix.logger.Errorw("corpus insert failed", "trace", traceID, "err", err)
		}
	}
	ix.logger.Debugw("corpus task complete", "trace", traceID, "emissions", len(emissions))
	if task.Latch != nil {
		task.Latch.Increment()
	}
}

func stopwordSet(words []string) map[string]struct{} {
	if len(words) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Submit enqueues task. It blocks if the internal queue is full, applying
// natural backpressure rather than growing unbounded.
func (ix *Indexer) Submit(task Task) {
	ix.tasks <- task
}

// Stop closes the task queue and waits for in-flight tasks to finish.
func (ix *Indexer) Stop() error {
	close(ix.tasks)
	if ix.group == nil {
		return nil
	}
	return ix.group.Wait()
}
