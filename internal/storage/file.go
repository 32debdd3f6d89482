package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

var _ Storage = (*File)(nil)

const fileName = "storage.json"

// document is the on-disk layout of a File store.
type document struct {
	Version int               `json:"version"`
	Items   map[string]string `json:"items"`
}

// File implements Storage as a single JSON document on the local filesystem.
// Writes are atomic (temp file + rename); concurrent processes are last-write-wins.
type File struct {
	mu      sync.Mutex
	baseDir string
}

// NewFile creates a file-backed store.
// If baseDir is empty, uses ~/.storefront/
func NewFile(baseDir string) (*File, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".storefront")
	}

	// Create directory with 0700 permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	f := &File{baseDir: baseDir}

	if err := f.ensureDocument(); err != nil {
		return nil, err
	}

	log.Debug().Str("baseDir", baseDir).Msg("file storage initialized")

	return f, nil
}

// Path returns the location of the backing document.
func (f *File) Path() string {
	return filepath.Join(f.baseDir, fileName)
}

func (f *File) GetItem(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", false, err
	}

	v, ok := doc.Items[key]
	return v, ok, nil
}

func (f *File) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}

	doc.Items[key] = value
	return f.save(doc)
}

func (f *File) RemoveItem(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}

	if _, ok := doc.Items[key]; !ok {
		return nil
	}

	delete(doc.Items, key)
	return f.save(doc)
}

func (f *File) Key(index int) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", false, err
	}

	keys := sortedKeys(doc.Items)
	if index < 0 || index >= len(keys) {
		return "", false, nil
	}
	return keys[index], true, nil
}

func (f *File) Length() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return 0, err
	}
	return len(doc.Items), nil
}

// ensureDocument creates an empty document if it doesn't exist.
func (f *File) ensureDocument() error {
	if _, err := os.Stat(f.Path()); err == nil {
		return nil
	}

	return f.save(&document{
		Version: 1,
		Items:   make(map[string]string),
	})
}

// load reads the document. A missing file reads as empty so that an external
// delete behaves like cleared storage.
func (f *File) load() (*document, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Version: 1, Items: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("%w: failed to read storage: %v", ErrUnavailable, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse storage: %w", err)
	}

	if doc.Items == nil {
		doc.Items = make(map[string]string)
	}

	return &doc, nil
}

// save writes the document atomically.
func (f *File) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}

	// Write to a temp file private to this writer first
	tmp, err := os.CreateTemp(f.baseDir, "storage-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp storage file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write storage: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, f.Path()); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save storage: %w", err)
	}

	return nil
}
