package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// LocalStorage keeps objects as files below a root directory.
type LocalStorage struct {
	root   string
	prefix string
	logger logger.Logger
}

// NewLocalStorage 创建本地目录存储
func NewLocalStorage(root, prefix string, log logger.Logger) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &LocalStorage{root: root, prefix: prefix, logger: log}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	p := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return p, nil
}

// Store implements Storage.Store
func (l *LocalStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create dir: %w", err)
	}

	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		l.logger.Error("Failed to write file",
			logger.String("path", p),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to store file: %w", err)
	}
	return p, nil
}

// Get implements Storage.Get
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// Delete implements Storage.Delete
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CleanupBefore implements Storage.CleanupBefore
func (l *LocalStorage) CleanupBefore(ctx context.Context, threshold time.Time) (int, error) {
	dir := filepath.Join(l.root, filepath.FromSlash(l.prefix))
	deleted := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(threshold) {
			if err := os.Remove(p); err != nil {
				l.logger.Error("Failed to delete expired file",
					logger.String("path", p),
					logger.Error(err),
				)
				return nil
			}
			deleted++
			l.logger.Info("Deleted expired file",
				logger.String("path", p),
				logger.Time("modified", info.ModTime()),
			)
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("failed to cleanup %s: %w", dir, err)
	}
	return deleted, nil
}
