package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/feichai0017/inventory-etl/pkg/logger"
)

var (
	ErrEmptyFile          = errors.New("empty file")
	ErrFileTooLarge       = errors.New("file too large")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrInvalidFileContent = errors.New("file content does not match its extension")
)

// zip local file header; every OOXML workbook starts with it
var zipMagic = []byte("PK\x03\x04")

// UploadConfig 上传验证配置
type UploadConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

// DefaultUploadConfig accepts workbooks and CSV up to 50MB.
func DefaultUploadConfig() *UploadConfig {
	return &UploadConfig{
		MaxFileSize:       50 * 1024 * 1024,
		AllowedExtensions: []string{".xlsx", ".xlsm", ".csv"},
	}
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

// UploadValidator runs the synchronous pre-checks on an uploaded file.
type UploadValidator struct {
	logger logger.Logger
	config *UploadConfig
}

// NewUploadValidator 创建上传验证器
func NewUploadValidator(log logger.Logger, cfg *UploadConfig) *UploadValidator {
	if cfg == nil {
		cfg = DefaultUploadConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &UploadValidator{logger: log, config: cfg}
}

// Extension returns the lower-cased extension of filename.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Validate checks size, extension and content signature of data.
func (v *UploadValidator) Validate(data []byte, filename string) (*FileInfo, error) {
	info := &FileInfo{
		Filename:  filename,
		Size:      int64(len(data)),
		Extension: Extension(filename),
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, filename)
	}
	if info.Size > v.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, info.Size, v.config.MaxFileSize)
	}
	if !contains(v.config.AllowedExtensions, info.Extension) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, info.Extension)
	}

	info.MimeType = http.DetectContentType(data)
	if err := v.checkSignature(data, info); err != nil {
		v.logger.Warn("Upload signature mismatch",
			logger.String("filename", filename),
			logger.String("mimeType", info.MimeType),
		)
		return nil, err
	}

	sum := sha256.Sum256(data)
	info.Hash = hex.EncodeToString(sum[:])
	return info, nil
}

func (v *UploadValidator) checkSignature(data []byte, info *FileInfo) error {
	switch info.Extension {
	case ".xlsx", ".xlsm":
		if !bytes.HasPrefix(data, zipMagic) {
			return fmt.Errorf("%w: %s is not a zip container", ErrInvalidFileContent, info.Filename)
		}
	case ".csv":
		if !strings.HasPrefix(info.MimeType, "text/") && !bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
			return fmt.Errorf("%w: %s looks like %s", ErrInvalidFileContent, info.Filename, info.MimeType)
		}
	}
	return nil
}
