package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/inventory-etl/config"
	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/storage/local"
	"github.com/feichai0017/inventory-etl/pkg/storage/minio"
	"github.com/feichai0017/inventory-etl/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage 接口定义
type Storage interface {
	// Store 存储文件，返回对象路径
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件，返回删除数量
	CleanupBefore(ctx context.Context, threshold time.Time) (int, error)
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(storageType StorageType, cfg *config.StorageConfig, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeLocal:
		return local.NewLocalStorage(cfg.LocalDir, config.UploadPrefix, log)
	case StorageTypeS3:
		return s3.GetClient(log)
	case StorageTypeMinio:
		return minio.GetClient(log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// StoredFile describes a saved upload.
type StoredFile struct {
	StoredName string `json:"stored_name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
}

// Uploads names and saves uploaded inventory files.
type Uploads struct {
	store Storage
	now   func() time.Time
}

// NewUploads 包装存储实例用于保存上传文件
func NewUploads(store Storage) *Uploads {
	return &Uploads{store: store, now: time.Now}
}

// Save stores data as YYYYMMDD_HHMMSS_<8 hex>_<filename> under the upload prefix.
func (u *Uploads) Save(ctx context.Context, data []byte, filename string) (*StoredFile, error) {
	name := u.StoredName(filename)
	path, err := u.store.Store(ctx, bytes.NewReader(data), config.UploadPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload %s: %w", filename, err)
	}
	return &StoredFile{StoredName: name, Path: path, Size: int64(len(data))}, nil
}

// StoredName builds the unique object name for filename.
func (u *Uploads) StoredName(filename string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", u.now().Format("20060102_150405"), id, sanitize(filename))
}

// Cleanup removes uploads older than retention.
func (u *Uploads) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	return u.store.CleanupBefore(ctx, u.now().Add(-retention))
}

func sanitize(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	return strings.ReplaceAll(base, " ", "_")
}
