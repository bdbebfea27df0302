// Package testutil holds fixtures shared across this module's package
// tests: a consistent test configuration and a no-op logger, so each
// package's _test.go files don't each redeclare the same two lines.
// Grounded on the teacher's per-test store construction convention
// (go/store/chunks/chunk_test.go builds one fresh store per test rather
// than sharing global fixtures).
package testutil

import (
	"github.com/chronostore/kernel/kconfig"
	"github.com/chronostore/kernel/klog"
)

// Config returns kconfig.Default with a small, deterministic worker count,
// suitable for tests that exercise the corpus indexer without wanting
// cfg.CorpusWorkers' production default to dictate test concurrency.
func Config() kconfig.Kernel {
	cfg := kconfig.Default()
	cfg.CorpusWorkers = 2
	return cfg
}

// Logger returns a no-op logger, for tests that don't assert on log output.
func Logger() *klog.Logger {
	return klog.NewNop()
}
