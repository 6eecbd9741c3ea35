package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:3000/exports/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "reports/2025/01/02/a.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000/exports/reports/2025/01/02/a.pdf", url)

	data, err := os.ReadFile(filepath.Join(dir, "reports/2025/01/02/a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	require.NoError(t, store.Delete(context.Background(), "reports/2025/01/02/a.pdf"))
	_, err = os.Stat(filepath.Join(dir, "reports/2025/01/02/a.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStoreKeepsKeysInsideDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../../escape.txt", "text/plain", []byte("x"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)
}

func TestNewKey(t *testing.T) {
	key := NewKey("/reports/", ".PDF", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(key, "reports/2025/03/04/"), key)
	assert.True(t, strings.HasSuffix(key, ".pdf"), key)
}

func TestS3KeyFor(t *testing.T) {
	s := &S3Store{bucket: "absenku", region: "ap-southeast-1"}
	url := s.URL("reports/x.xlsx")
	assert.Equal(t, "https://absenku.s3.ap-southeast-1.amazonaws.com/reports/x.xlsx", url)
	assert.Equal(t, "reports/x.xlsx", s.KeyFor(url))
	assert.Equal(t, "", s.KeyFor("https://other.s3.ap-southeast-1.amazonaws.com/reports/x.xlsx"))
}

func TestLocalKeyFor(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:3000/exports/")
	require.NoError(t, err)
	assert.Equal(t, "leave/2025/03/04/a.pdf", store.KeyFor("http://localhost:3000/exports/leave/2025/03/04/a.pdf"))
	assert.Equal(t, "", store.KeyFor("https://example.com/leave/a.pdf"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("pdf"))
	assert.Equal(t, "image/jpeg", ContentType(".JPG"))
	assert.Equal(t, "application/octet-stream", ContentType("exe"))
	assert.Equal(t, "xlsx", Extension("Rekap.XLSX"))
}
