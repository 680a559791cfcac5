package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lexrag/lexrag/internal/store"
)

// closeGracePeriod is how long a superseded Set stays open after a swap so
// in-flight queries holding the old pointer can finish.
const closeGracePeriod = 30 * time.Second

// reloadDebounce coalesces bursts of manifest events into one reload.
const reloadDebounce = 200 * time.Millisecond

// Set bundles the open artifacts of one index build. Queries resolve a Set
// once and use it for their whole lifetime, so a concurrent reload never
// mixes builds within a query.
type Set struct {
	Store    store.PassageStore
	Vector   store.VectorIndex
	Lexical  store.LexicalIndex
	Manifest Manifest
}

// Close releases all artifacts in the set.
func (s *Set) Close() error {
	var firstErr error
	if s.Vector != nil {
		if err := s.Vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Lexical != nil {
		if err := s.Lexical.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenSet opens the current build under dataDir as described by its manifest.
func OpenSet(ctx context.Context, dataDir string) (*Set, error) {
	manifest, err := ReadManifest(filepath.Join(dataDir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("no index found in %s (run load first): %w", dataDir, err)
	}

	passageStore, err := store.NewSQLitePassageStore(filepath.Join(dataDir, "passages.db"))
	if err != nil {
		return nil, fmt.Errorf("open passage store: %w", err)
	}

	lexicalPath := filepath.Join(dataDir, "lexical.bleve")
	if manifest.LexicalBackend == store.LexicalBackendSQLite {
		lexicalPath = filepath.Join(dataDir, "lexical.db")
	}
	lexical, err := store.NewLexicalIndex(manifest.LexicalBackend, lexicalPath, store.DefaultLexicalConfig())
	if err != nil {
		passageStore.Close()
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	dims := manifest.EmbeddingDimensions
	if dims <= 0 {
		// Older builds carried dimensions only in store state.
		if v, err := passageStore.GetState(ctx, store.StateKeyIndexDimension); err == nil && v != "" {
			dims, _ = strconv.Atoi(v)
		}
	}
	vector, err := store.NewHNSWIndex(store.VectorIndexConfig{Dimensions: dims})
	if err != nil {
		lexical.Close()
		passageStore.Close()
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	if err := vector.Load(filepath.Join(dataDir, "vectors.hnsw")); err != nil {
		vector.Close()
		lexical.Close()
		passageStore.Close()
		return nil, fmt.Errorf("load vector index: %w", err)
	}

	return &Set{
		Store:    passageStore,
		Vector:   vector,
		Lexical:  lexical,
		Manifest: *manifest,
	}, nil
}

// Reloader serves the current Set and swaps in fresh builds when the
// manifest changes on disk.
type Reloader struct {
	dataDir string
	logger  *slog.Logger
	current atomic.Pointer[Set]
	reloads atomic.Int64
}

// NewReloader opens the current build under dataDir.
func NewReloader(ctx context.Context, dataDir string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	set, err := OpenSet(ctx, dataDir)
	if err != nil {
		return nil, err
	}

	r := &Reloader{dataDir: dataDir, logger: logger}
	r.current.Store(set)
	return r, nil
}

// Current returns the active Set. Callers must resolve it once per query and
// not cache it across queries.
func (r *Reloader) Current() *Set {
	return r.current.Load()
}

// Reloads reports how many builds have been swapped in since startup.
func (r *Reloader) Reloads() int64 {
	return r.reloads.Load()
}

// Watch blocks, swapping in new builds whenever the manifest is rewritten,
// until ctx is cancelled. The manifest is written last during a load, so a
// manifest event means a complete build is on disk.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: the manifest is replaced by rename,
	// which drops per-file watches.
	if err := watcher.Add(r.dataDir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dataDir, err)
	}

	manifestName := "manifest.json"
	var debounce *time.Timer
	reloadCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != manifestName {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			})

		case <-reloadCh:
			r.reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("index_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (r *Reloader) reload(ctx context.Context) {
	if _, err := os.Stat(filepath.Join(r.dataDir, "manifest.json")); err != nil {
		return
	}

	next, err := OpenSet(ctx, r.dataDir)
	if err != nil {
		r.logger.Error("index_reload_failed", slog.String("error", err.Error()))
		return
	}

	old := r.current.Swap(next)
	r.reloads.Add(1)
	r.logger.Info("index_reloaded",
		slog.String("build_id", next.Manifest.BuildID),
		slog.Int("passages", next.Manifest.PassageCount))

	if old != nil {
		time.AfterFunc(closeGracePeriod, func() {
			if err := old.Close(); err != nil {
				r.logger.Warn("index_close_failed", slog.String("error", err.Error()))
			}
		})
	}
}

// Close releases the active set.
func (r *Reloader) Close() error {
	if set := r.current.Swap(nil); set != nil {
		return set.Close()
	}
	return nil
}
