package fileupload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) (*LocalStorageProvider, string) {
	dir := t.TempDir()
	return NewLocalStorageProvider(DefaultLocalStorageConfig(dir, 1024), logger.NewNop()), dir
}

func TestLocalStorage_SaveGetDelete(t *testing.T) {
	p, dir := newProvider(t)
	ctx := context.Background()
	owner := uuid.New()

	key, err := p.Save(ctx, owner, "TRADE_LICENSE", "my licence (2025).pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "clients/"+owner.String()+"/TRADE_LICENSE/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))

	data, err := p.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, p.Delete(ctx, key))
	_, err = p.Get(ctx, key)
	assert.True(t, errors.Is(err, errors.ErrBlobNotFound))

	// empty date directories are pruned
	_, statErr := os.Stat(filepath.Join(dir, "clients", owner.String()))
	assert.True(t, os.IsNotExist(statErr))

	assert.NoError(t, p.Delete(ctx, key))
}

func TestLocalStorage_Rejections(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	_, err := p.Save(ctx, uuid.New(), "PASSPORT_PARTNER", "scan.exe", []byte("MZ"))
	assert.True(t, errors.Is(err, errors.ErrFileTypeNotAllowed))

	_, err = p.Save(ctx, uuid.New(), "PASSPORT_PARTNER", "scan.png", make([]byte, 2048))
	assert.True(t, errors.Is(err, errors.ErrFileTooLarge))

	_, err = p.Get(ctx, "../../etc/passwd")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "passwd", SanitizeFileName("../../etc/passwd"))
	assert.Equal(t, "Trade_License__2025_.pdf", SanitizeFileName("Trade License (2025).pdf"))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectContentType("x.pdf", nil))
	assert.Equal(t, "image/png", DetectContentType("scan", []byte("\x89PNG\r\n\x1a\n0000")))
}
