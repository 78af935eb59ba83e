package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LocalBackend stores objects as files below a base directory
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger

	// directories already created, avoids repeated MkdirAll under batch load
	dirCache map[string]bool
	dirMu    sync.RWMutex
}

// NewLocalBackend creates a new local filesystem storage backend
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	// Absolute path keeps filepath.Rel in List stable
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
		dirCache: make(map[string]bool),
	}, nil
}

// Write writes data atomically (temp file, then rename)
func (b *LocalBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := b.validatePath(key)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := b.ensureDir(dir); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".arcframe-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	b.logger.Debug().
		Str("path", key).
		Int("size", len(data)).
		Msg("Wrote file")

	return nil
}

func (b *LocalBackend) ensureDir(dir string) error {
	b.dirMu.RLock()
	exists := b.dirCache[dir]
	b.dirMu.RUnlock()
	if exists {
		return nil
	}

	b.dirMu.Lock()
	defer b.dirMu.Unlock()
	if b.dirCache[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	b.dirCache[dir] = true
	return nil
}

// Read reads the file stored under key
func (b *LocalBackend) Read(ctx context.Context, key string, maxSize int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := b.validatePath(key)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fullPath)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, fullPath)
	}
	if err := checkSize(fullPath, info.Size(), maxSize); err != nil {
		return nil, err
	}
	return readLimited(f, fullPath, maxSize)
}

// Stat describes the file stored under key
func (b *LocalBackend) Stat(ctx context.Context, key string) (Object, error) {
	fullPath, err := b.validatePath(key)
	if err != nil {
		return Object{}, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, fullPath)
		}
		return Object{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, fullPath)
	}
	return Object{Key: sanitizePath(key), Size: info.Size(), Modified: info.ModTime()}, nil
}

// List returns the files whose key starts with prefix. Like object stores,
// prefix is matched as a string, so "2024/0" matches "2024/03/...".
// Hidden files (in-flight temp files included) are skipped.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix = sanitizePath(prefix)
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		dir = path.Dir(dir)
	}
	root, err := b.validatePath(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}

	var objects []Object
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(b.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Key: key, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return sortObjects(objects), nil
}

// Delete removes the file stored under key
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	fullPath, err := b.validatePath(key)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	b.logger.Debug().Str("path", key).Msg("Deleted file")
	return nil
}

// URI returns the absolute file path of key
func (b *LocalBackend) URI(key string) string {
	fullPath, err := b.validatePath(key)
	if err != nil {
		return ""
	}
	return fullPath
}

// BasePath returns the base directory
func (b *LocalBackend) BasePath() string {
	return b.basePath
}

func (b *LocalBackend) Type() string { return "local" }

func (b *LocalBackend) Close() error { return nil }

// sanitizePath removes any potentially dangerous path components
func sanitizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.ReplaceAll(p, "..", "_")
	p = strings.ReplaceAll(p, "\x00", "")
	return p
}

// validatePath ensures the resolved path stays within the base path
func (b *LocalBackend) validatePath(key string) (string, error) {
	fullPath := filepath.Join(b.basePath, sanitizePath(key))
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relPath, err := filepath.Rel(b.basePath, absPath)
	if err != nil {
		return "", fmt.Errorf("path traversal detected")
	}
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: path escapes base directory")
	}
	return absPath, nil
}
