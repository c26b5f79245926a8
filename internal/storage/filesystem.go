package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const tempPrefix = ".tmp-"

// FileBinaryStore implements BinaryStore on a private local directory.
// Writes go to a temp file first and are renamed into place, so a key's
// previous bytes are only replaced once the new write has fully completed.
type FileBinaryStore struct {
	dir   string
	quota int64
}

// NewFileBinaryStore creates the directory if needed
func NewFileBinaryStore(dir string, quota int64) (*FileBinaryStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("binary store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create binary store directory: %w", err)
	}
	return &FileBinaryStore{dir: dir, quota: quota}, nil
}

func (f *FileBinaryStore) path(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, key), nil
}

// Save atomically writes data under key
func (f *FileBinaryStore) Save(ctx context.Context, key string, data []byte) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	return writeAtomic(f.dir, target, data)
}

// Load reads the bytes under key
func (f *FileBinaryStore) Load(ctx context.Context, key string) ([]byte, error) {
	target, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if a key exists
func (f *FileBinaryStore) Exists(ctx context.Context, key string) (bool, error) {
	target, err := f.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a key; deleting an absent key is not an error
func (f *FileBinaryStore) Delete(ctx context.Context, key string) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ListKeys returns all stored keys in sorted order
func (f *FileBinaryStore) ListKeys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list binary store: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// ClearAll removes every entry, continuing past individual failures
func (f *FileBinaryStore) ClearAll(ctx context.Context) error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("failed to list binary store: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UsageInfo sums file sizes in the directory
func (f *FileBinaryStore) UsageInfo(ctx context.Context) (Usage, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to list binary store: %w", err)
	}
	var used int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || entry.IsDir() {
			continue
		}
		used += info.Size()
	}
	return Usage{Used: used, Quota: f.quota}, nil
}

// FileMetadataStore implements MetadataStore as one JSON file per key
type FileMetadataStore struct {
	dir string
}

// NewFileMetadataStore creates the directory if needed
func NewFileMetadataStore(dir string) (*FileMetadataStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("metadata store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create metadata store directory: %w", err)
	}
	return &FileMetadataStore{dir: dir}, nil
}

func (f *FileMetadataStore) path(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, key+".json"), nil
}

// Load returns the document under key, or nil when absent
func (f *FileMetadataStore) Load(ctx context.Context, key string) ([]byte, error) {
	target, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Save atomically replaces the document under key
func (f *FileMetadataStore) Save(ctx context.Context, key string, value []byte) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	return writeAtomic(f.dir, target, value)
}

// Clear removes the document under key
func (f *FileMetadataStore) Clear(ctx context.Context, key string) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	return nil
}

func checkKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, tempPrefix) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(target), err)
	}
	return nil
}
