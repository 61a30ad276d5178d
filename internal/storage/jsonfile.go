package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

// DefaultProfileFile is the document name used when none is configured.
const DefaultProfileFile = "gabby-db.json"

// JSONFile keeps every profile in one JSON document: a top-level object
// mapping user id to profile. Each call reads the whole document from disk
// and each write replaces it atomically.
type JSONFile struct {
	path string

	mu sync.Mutex
}

var _ profile.Backend = (*JSONFile)(nil)

// OpenJSONFile returns a JSONFile rooted at path. The parent directory is
// created if needed; the document itself is created on first write.
func OpenJSONFile(path string) (*JSONFile, error) {
	if path == "" {
		return nil, errors.New("profile file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &JSONFile{path: path}, nil
}

// Path returns the document location.
func (f *JSONFile) Path() string { return f.path }

// Close is a no-op; every operation opens and closes the file itself.
func (f *JSONFile) Close() error { return nil }

func (f *JSONFile) Load(_ context.Context, userID string) (profile.UserProfile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return profile.UserProfile{}, false, err
	}
	p, ok := doc[userID]
	return p, ok, nil
}

func (f *JSONFile) Save(_ context.Context, userID string, p profile.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if p.Notes == nil {
		p.Notes = []string{}
	}
	doc[userID] = p
	return f.write(doc)
}

func (f *JSONFile) List(_ context.Context) (map[string]profile.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// read loads the full document. A missing or blank file is an empty map.
func (f *JSONFile) read() (map[string]profile.UserProfile, error) {
	doc := make(map[string]profile.UserProfile)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.path, err)
	}
	return doc, nil
}

// write replaces the document via a temp file in the same directory so a
// crash never leaves a half-written file behind.
func (f *JSONFile) write(doc map[string]profile.UserProfile) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.path, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".gabby-db-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}
