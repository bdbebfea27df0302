// Package kconfig holds the storage kernel's own local tunables: Bloom
// filter target false-positive rate, corpus substring cap, stopwords, and
// worker pool size. This is deliberately narrow — the higher engine's
// broader configuration (network, query planning, buffer policy) is out of
// scope for the kernel and is never loaded here.
package kconfig

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kernel is the kernel-local configuration surface.
type Kernel struct {
	// BloomFalsePositiveRate is the target false-positive rate used when
	// sizing a new Bloom filter. Spec default: 0.03 (3%).
	BloomFalsePositiveRate float64 `yaml:"bloom_false_positive_rate"`

	// MaxSubstringLen caps the length of substrings the corpus indexer
	// will emit. 0 disables the cap.
	MaxSubstringLen int `yaml:"max_substring_len"`

	// Stopwords are whole-token substrings excluded from corpus indexing.
	Stopwords []string `yaml:"stopwords"`

	// CorpusWorkers is the fixed worker pool size for the corpus indexer.
	CorpusWorkers int `yaml:"corpus_workers"`

	// BufferedSinkScratchSize is the scratch buffer size (bytes) used by
	// the buffered-file ByteSink before it drains to the underlying file.
	BufferedSinkScratchSize int `yaml:"buffered_sink_scratch_size"`

	// BloomThreadSafe toggles the reader-writer lock around Bloom reads
	// and writes (spec §4.4's "optional thread-safety toggle").
	BloomThreadSafe bool `yaml:"bloom_thread_safe"`
}

// Default returns the kernel's built-in tunables, matching the spec's
// literal defaults (3% FPR, 64 KiB scratch buffer).
func Default() Kernel {
	return Kernel{
		BloomFalsePositiveRate:  0.03,
		MaxSubstringLen:         64,
		Stopwords:               nil,
		CorpusWorkers:           4,
		BufferedSinkScratchSize: 64 * 1024,
		BloomThreadSafe:         true,
	}
}

// Load reads a YAML tunables file over Default(): a field absent from the
// file keeps its default, while a field the file sets (even to zero) takes
// the file's value. A missing file is not an error — callers get Default().
func Load(path string) (Kernel, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Kernel{}, errors.Wrapf(err, "kconfig: read %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Kernel{}, errors.Wrapf(err, "kconfig: parse %s", path)
	}
	return cfg, nil
}
