package attachment

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := t.TempDir()
	return NewStore(dir, logger), dir
}

func TestSave(t *testing.T) {
	store, dir := newTestStore(t)
	data := []byte("%PDF-1.4 fake content")

	relPath, hash, err := store.Save(3, 17, "report.pdf", data)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("3", "17", "report.pdf"), relPath)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)

	written, err := os.ReadFile(filepath.Join(dir, relPath))
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestSave_SanitizesFilename(t *testing.T) {
	store, dir := newTestStore(t)

	relPath, _, err := store.Save(1, 1, `bad:na*me?.pdf`, []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("1", "1", "bad_na_me_.pdf"), relPath)
	_, err = os.Stat(filepath.Join(dir, relPath))
	assert.NoError(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{`a/b\c.txt`, "b_c.txt"},
		{`note:v2?.md`, "note_v2_.md"},
		{"", "attachment.bin"},
		{"..", "attachment.bin"},
		{"  spaced.doc  ", "spaced.doc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestFileType(t *testing.T) {
	assert.Equal(t, "pdf", FileType("Report.PDF"))
	assert.Equal(t, "tar", FileType("archive.tar"))
	assert.Equal(t, "", FileType("README"))
}
