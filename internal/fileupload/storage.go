// Package fileupload stores uploaded document files under opaque keys.
package fileupload

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
)

// StorageProvider is a blob store keyed by the path Save returns.
type StorageProvider interface {
	Save(ctx context.Context, owner uuid.UUID, folder, fileName string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// LocalStorageConfig contains configuration for local storage
type LocalStorageConfig struct {
	BasePath          string
	AllowedExtensions []string
	MaxFileSize       int64
	FilePermissions   os.FileMode
	DirPermissions    os.FileMode
}

func DefaultLocalStorageConfig(basePath string, maxFileSize int64) *LocalStorageConfig {
	return &LocalStorageConfig{
		BasePath:          basePath,
		AllowedExtensions: []string{".pdf", ".jpg", ".jpeg", ".png", ".webp", ".heic"},
		MaxFileSize:       maxFileSize,
		FilePermissions:   0o640,
		DirPermissions:    0o750,
	}
}

// LocalStorageProvider implements StorageProvider on the local filesystem.
// Keys are slash-separated paths relative to BasePath.
type LocalStorageProvider struct {
	config *LocalStorageConfig
	logger logger.Logger
}

func NewLocalStorageProvider(config *LocalStorageConfig, log logger.Logger) *LocalStorageProvider {
	if config == nil {
		config = DefaultLocalStorageConfig("./data/documents", 20<<20)
	}
	return &LocalStorageProvider{config: config, logger: log}
}

// Save writes data under clients/<owner>/<folder>/<yyyy/mm/dd>/ and returns the key.
func (p *LocalStorageProvider) Save(ctx context.Context, owner uuid.UUID, folder, fileName string, data []byte) (string, error) {
	startTime := time.Now()

	if p.config.MaxFileSize > 0 && int64(len(data)) > p.config.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", errors.ErrFileTooLarge, len(data), p.config.MaxFileSize)
	}

	sanitizedName := SanitizeFileName(fileName)
	ext := strings.ToLower(filepath.Ext(sanitizedName))
	if !p.extensionAllowed(ext) {
		return "", fmt.Errorf("%w: %q (allowed: %s)", errors.ErrFileTypeNotAllowed, ext, strings.Join(p.config.AllowedExtensions, ", "))
	}

	now := time.Now().UTC()
	key := strings.Join([]string{
		"clients",
		owner.String(),
		SanitizeFileName(folder),
		now.Format("2006/01/02"),
		fmt.Sprintf("%s_%s%s", uuid.New().String()[:8], now.Format("150405"), ext),
	}, "/")

	full, err := p.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), p.config.DirPermissions); err != nil {
		return "", fmt.Errorf("%w: create directory: %v", errors.ErrFileStorageFailed, err)
	}
	if err := os.WriteFile(full, data, p.config.FilePermissions); err != nil {
		return "", fmt.Errorf("%w: write file: %v", errors.ErrFileStorageFailed, err)
	}

	p.logger.Info("File saved to local storage", map[string]interface{}{
		"event":       "file_saved_local",
		"owner_id":    owner.String(),
		"folder":      folder,
		"file_name":   sanitizedName,
		"key":         key,
		"file_size":   len(data),
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
	return key, nil
}

// Get reads the file stored under key.
func (p *LocalStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	full, err := p.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", errors.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %v", errors.ErrFileStorageFailed, err)
	}
	return data, nil
}

// Delete removes the file and prunes empty parent directories. A missing
// file is not an error.
func (p *LocalStorageProvider) Delete(ctx context.Context, key string) error {
	full, err := p.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: delete file: %v", errors.ErrFileStorageFailed, err)
	}
	p.cleanupEmptyDirectories(filepath.Dir(full))
	return nil
}

// resolve maps a key to a path and refuses anything outside BasePath.
func (p *LocalStorageProvider) resolve(key string) (string, error) {
	base, err := filepath.Abs(p.config.BasePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrFileStorageFailed, err)
	}
	full := filepath.Join(base, filepath.FromSlash(key))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: access denied: key outside storage root", errors.ErrInvalidInput)
	}
	return full, nil
}

func (p *LocalStorageProvider) extensionAllowed(ext string) bool {
	for _, allowed := range p.config.AllowedExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

func (p *LocalStorageProvider) cleanupEmptyDirectories(dir string) {
	base, err := filepath.Abs(p.config.BasePath)
	if err != nil {
		return
	}
	for dir != base && strings.HasPrefix(dir, base) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// DetectContentType sniffs the MIME type of an upload, trusting the
// extension for PDFs and HEIC which sniffing does not always recognise.
func DetectContentType(fileName string, data []byte) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	}
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}

var fileNameReplacer = strings.NewReplacer(
	"..", "", "/", "_", "\\", "_", " ", "_", "\"", "", "'", "", "`", "",
	"|", "_", "&", "_", ";", "_", "$", "_", "(", "_", ")", "_", "[", "_", "]", "_",
	"{", "_", "}", "_", "<", "_", ">", "_", "*", "_", "?", "_", "!", "_", "@", "_",
	"#", "_", "%", "_", "+", "_", "=", "_", "^", "_", "~", "_",
)

// SanitizeFileName removes path components and shell-hostile characters.
func SanitizeFileName(fileName string) string {
	fileName = fileNameReplacer.Replace(filepath.Base(fileName))
	if len(fileName) > 255 {
		ext := filepath.Ext(fileName)
		fileName = fileName[:255-len(ext)] + ext
	}
	return fileName
}
