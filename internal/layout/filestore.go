package layout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists layouts as one JSON file. Every Write goes to a temp
// file in the same directory which is synced and then renamed over the
// target, so a crash mid-write leaves either the old or the new file.
//
// In single-space mode the file holds the bare document of the default
// space instead of a mapping, which is the format older deployments wrote.
type FileStore struct {
	path  string
	space string // non-empty in single-space mode
}

// NewFileStore stores a spaceID → document mapping at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// NewSingleFileStore stores the one document of space at path.
func NewSingleFileStore(path, space string) *FileStore {
	return &FileStore{path: path, space: space}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (map[string]Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrStoreNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, ErrStoreNotExist
	}

	if s.space != "" {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
		return map[string]Document{s.space: doc}, nil
	}

	docs := map[string]Document{}
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return docs, nil
}

func (s *FileStore) Write(_ context.Context, docs map[string]Document) error {
	var payload any = docs
	if s.space != "" {
		doc, ok := docs[s.space]
		if !ok || len(docs) != 1 {
			return fmt.Errorf("single-space store %s only holds space %q", s.path, s.space)
		}
		payload = doc
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode layouts: %w", err)
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	// Persist the rename itself. Not every platform can sync a directory.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
