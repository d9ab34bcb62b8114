package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	documentExtension = ".json"
	tempFilePattern   = ".tmp-*"
	tempFilePrefix    = ".tmp-"
	directoryMode     = 0o755
)

// FileBackend stores one JSON file per record under root/<kind>/<escaped id>.json.
type FileBackend struct {
	root   string
	logger *zap.Logger
}

// NewFileBackend prepares the root directory and returns a backend rooted there.
func NewFileBackend(root string, logger *zap.Logger) (*FileBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("store: data directory is required")
	}
	if err := os.MkdirAll(root, directoryMode); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileBackend{root: root, logger: logger}, nil
}

// Root returns the data directory.
func (b *FileBackend) Root() string {
	return b.root
}

func (b *FileBackend) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	if err := validateAddress(kind, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(b.documentPath(kind, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFoundError(kind, id)
	}
	if err != nil {
		return nil, storageError("read", kind, id, err)
	}
	return payload, nil
}

// Put writes the payload to a temporary file in the target directory and renames it over
// the destination, so readers observe either the previous document or the new one.
func (b *FileBackend) Put(_ context.Context, kind Kind, id string, payload []byte) error {
	if err := validateAddress(kind, id); err != nil {
		return err
	}
	directory := b.kindDirectory(kind)
	if err := os.MkdirAll(directory, directoryMode); err != nil {
		return storageError("mkdir", kind, id, err)
	}

	temp, err := os.CreateTemp(directory, tempFilePattern)
	if err != nil {
		return storageError("create_temp", kind, id, err)
	}
	tempPath := temp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := temp.Write(payload); err != nil {
		_ = temp.Close()
		return storageError("write", kind, id, err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		return storageError("sync", kind, id, err)
	}
	if err := temp.Close(); err != nil {
		return storageError("close", kind, id, err)
	}
	if err := os.Rename(tempPath, b.documentPath(kind, id)); err != nil {
		return storageError("rename", kind, id, err)
	}
	committed = true
	return nil
}

func (b *FileBackend) Delete(_ context.Context, kind Kind, id string) error {
	if err := validateAddress(kind, id); err != nil {
		return err
	}
	err := os.Remove(b.documentPath(kind, id))
	if errors.Is(err, fs.ErrNotExist) {
		return notFoundError(kind, id)
	}
	if err != nil {
		return storageError("delete", kind, id, err)
	}
	return nil
}

func (b *FileBackend) Scan(ctx context.Context, kind Kind, visit func(id string, payload []byte) error) (ScanStats, error) {
	stats := ScanStats{}
	entries, err := os.ReadDir(b.kindDirectory(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, storageError("list", kind, "*", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tempFilePrefix) || !strings.HasSuffix(name, documentExtension) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, documentExtension))
		if err != nil {
			stats.Skipped++
			b.logger.Warn("skipping unit with undecodable name",
				zap.String("kind", kind.String()), zap.String("file", name), zap.Error(err))
			continue
		}
		payload, err := os.ReadFile(filepath.Join(b.kindDirectory(kind), name))
		if err != nil {
			stats.Skipped++
			b.logger.Warn("skipping unreadable unit",
				zap.String("kind", kind.String()), zap.String("id", id), zap.Error(err))
			continue
		}
		stats.Visited++
		if err := visit(id, payload); err != nil {
			if errors.Is(err, ErrStopScan) {
				return stats, nil
			}
			return stats, err
		}
	}
	return stats, nil
}

func (b *FileBackend) kindDirectory(kind Kind) string {
	return filepath.Join(b.root, filepath.FromSlash(kind.String()))
}

func (b *FileBackend) documentPath(kind Kind, id string) string {
	return filepath.Join(b.kindDirectory(kind), url.PathEscape(id)+documentExtension)
}
