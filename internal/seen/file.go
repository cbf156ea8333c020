package seen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"x402watch/pkg/logx"
)

// fileBackend stores the ids as a JSON array (4-space indent) and rewrites
// the whole file on each change: temp file, fsync, rename, fsync dir.
type fileBackend struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	ids    []string
	has    map[string]struct{}
	closed bool
}

func openFile(cfg Config, log logx.Logger) (*fileBackend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &fileBackend{path: path, log: log, has: map[string]struct{}{}}, nil
}

func (f *fileBackend) Name() string { return "file" }

func (f *fileBackend) Load(ctx context.Context) ([]string, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.log.Info("no cache file yet, starting empty", logx.String("path", f.path))
		f.ids, f.has = nil, map[string]struct{}{}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if len(strings.TrimSpace(string(b))) > 0 {
		if err := json.Unmarshal(b, &ids); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.path, err)
		}
	}
	f.ids, f.has = nil, make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := f.has[id]; ok || id == "" {
			continue
		}
		f.has[id] = struct{}{}
		f.ids = append(f.ids, id)
	}
	return append([]string(nil), f.ids...), nil
}

func (f *fileBackend) Add(ctx context.Context, id string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if _, ok := f.has[id]; ok {
		return nil
	}

	next := make([]string, len(f.ids), len(f.ids)+1)
	copy(next, f.ids)
	next = append(next, id)
	if err := f.writeLocked(next); err != nil {
		return err
	}
	f.ids = next
	f.has[id] = struct{}{}
	return nil
}

func (f *fileBackend) Replace(ctx context.Context, ids []string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	next := append([]string(nil), ids...)
	if err := f.writeLocked(next); err != nil {
		return err
	}
	f.ids = next
	f.has = make(map[string]struct{}, len(next))
	for _, id := range next {
		f.has[id] = struct{}{}
	}
	f.log.Info("cache file rewritten", logx.String("path", f.path), logx.Int("ids", len(next)))
	return nil
}

func (f *fileBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fileBackend) writeLocked(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.MarshalIndent(ids, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, b)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}

	// Make the rename durable. Not every platform can fsync a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
