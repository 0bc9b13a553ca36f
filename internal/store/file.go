package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var _ KV = (*FileKV)(nil)

// FileKV stores all keys in one JSON file. Every Put rewrites the file via a
// temp file and rename, so a crash never leaves a torn document behind.
type FileKV struct {
	mu   sync.Mutex
	path string
	data map[string][]byte
}

// NewFileKV loads path if it exists and returns a FileKV writing to it.
func NewFileKV(path string) (*FileKV, error) {
	f := &FileKV{path: path, data: make(map[string][]byte)}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var encoded map[string]string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		for k, v := range encoded {
			b, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("decoding key %q in %s: %w", k, path, err)
			}
			f.data[k] = b
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return f, nil
}

// Get returns the value stored under key.
func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores value under key and rewrites the file. The in-memory map only
// changes if the write succeeds.
func (f *FileKV) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	encoded := make(map[string]string, len(f.data)+1)
	for k, v := range f.data {
		encoded[k] = base64.StdEncoding.EncodeToString(v)
	}
	encoded[key] = base64.StdEncoding.EncodeToString(value)

	raw, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", f.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".stockdesk-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}

	f.data[key] = append([]byte(nil), value...)
	return nil
}

// Close is a no-op; every Put is already on disk.
func (f *FileKV) Close() error { return nil }
