package tables

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"Genesis/pkg/logger"
)

// ReloadPolicy decides when a file-backed table is re-read.
type ReloadPolicy int

const (
	// ReloadIfStale re-reads on access when the file mtime changed and its content hash differs.
	ReloadIfStale ReloadPolicy = iota
	// Never loads once at construction.
	Never
)

// ParsePolicy maps a config value to a ReloadPolicy.
func ParsePolicy(s string) ReloadPolicy {
	if s == "never" {
		return Never
	}
	return ReloadIfStale
}

// Source yields the current version of a table. Implementations never block readers.
type Source[T any] interface {
	Get() T
}

type snapshot[T any] struct {
	value   T
	modTime time.Time
	sum     [sha256.Size]byte
	loaded  bool
}

// Reloadable is a versioned table backed by a file.
// A missing or unreadable file yields the fallback value.
type Reloadable[T any] struct {
	path     string
	parse    func([]byte) (T, error)
	fallback T
	policy   ReloadPolicy
	log      *logger.Logger

	current   atomic.Pointer[snapshot[T]]
	reloading atomic.Bool
}

// NewReloadable creates a table and performs the initial load.
func NewReloadable[T any](path string, parse func([]byte) (T, error), fallback T, policy ReloadPolicy, log *logger.Logger) *Reloadable[T] {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Reloadable[T]{path: path, parse: parse, fallback: fallback, policy: policy, log: log}
	r.current.Store(&snapshot[T]{value: fallback})
	r.refresh()
	return r
}

// Get returns the current value, re-reading the file first when the policy says so.
// Concurrent callers that find a reload in progress return the previous value.
func (r *Reloadable[T]) Get() T {
	if r.policy == ReloadIfStale {
		r.refresh()
	}
	return r.current.Load().value
}

// Loaded reports whether the current value came from the file.
func (r *Reloadable[T]) Loaded() bool {
	return r.current.Load().loaded
}

func (r *Reloadable[T]) refresh() {
	if !r.reloading.CompareAndSwap(false, true) {
		return
	}
	defer r.reloading.Store(false)

	cur := r.current.Load()
	info, err := os.Stat(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if cur.loaded {
				r.log.Warn("table file removed, using fallback", logger.String("path", r.path))
				r.current.Store(&snapshot[T]{value: r.fallback})
			}
			return
		}
		r.log.Warn("table stat failed", logger.String("path", r.path), logger.Error(err))
		return
	}
	if cur.loaded && info.ModTime().Equal(cur.modTime) {
		return
	}

	b, err := os.ReadFile(r.path)
	if err != nil {
		r.log.Warn("table read failed", logger.String("path", r.path), logger.Error(err))
		return
	}
	sum := sha256.Sum256(b)
	if cur.loaded && sum == cur.sum {
		r.current.Store(&snapshot[T]{value: cur.value, modTime: info.ModTime(), sum: sum, loaded: true})
		return
	}
	v, err := r.parse(b)
	if err != nil {
		r.log.Warn("table parse failed, keeping previous version",
			logger.String("path", r.path), logger.Error(fmt.Errorf("parse: %w", err)))
		return
	}
	r.current.Store(&snapshot[T]{value: v, modTime: info.ModTime(), sum: sum, loaded: true})
	r.log.Info("table loaded", logger.String("path", r.path))
}

// Static is a fixed in-memory table.
type Static[T any] struct {
	value T
}

// NewStatic wraps v as a Source.
func NewStatic[T any](v T) *Static[T] { return &Static[T]{value: v} }

func (s *Static[T]) Get() T { return s.value }

var (
	_ Source[WeightTable] = (*Reloadable[WeightTable])(nil)
	_ Source[WeightTable] = (*Static[WeightTable])(nil)
)
