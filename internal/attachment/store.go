// Package attachment writes attachment content to the local filesystem.
package attachment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/apperr"
)

// Store saves attachment payloads under a fixed base directory, laid out as
// <base>/<accountID>/<messageRowID>/<filename>.
type Store struct {
	baseDir string
	logger  *logrus.Logger
}

func NewStore(baseDir string, logger *logrus.Logger) *Store {
	return &Store{baseDir: baseDir, logger: logger}
}

// Save writes one attachment and returns its path relative to the base
// directory plus the SHA-256 of the content. An existing file at the target
// path is overwritten; the content hash makes that loss-free for identical
// payloads.
func (s *Store) Save(accountID, messageRowID int64, filename string, data []byte) (string, string, error) {
	name := SanitizeFilename(filename)
	relPath := filepath.Join(
		fmt.Sprintf("%d", accountID),
		fmt.Sprintf("%d", messageRowID),
		name)
	absPath := filepath.Join(s.baseDir, relPath)

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return "", "", apperr.Wrap(apperr.CodeStorage, err, "failed to create attachment directory")
	}
	if err := os.WriteFile(absPath, data, 0644); err != nil {
		return "", "", apperr.Wrap(apperr.CodeStorage, err, "failed to write attachment %s", name)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.logger.WithFields(logrus.Fields{
		"path": relPath,
		"size": len(data),
	}).Debug("Attachment saved")

	return relPath, hash, nil
}

// SanitizeFilename strips path separators and characters some filesystems
// reject, and falls back to a placeholder for empty names.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_")
	name = replacer.Replace(name)
	if name == "" || name == "." || name == ".." {
		return "attachment.bin"
	}
	return name
}

// FileType derives the lowercase extension (without dot) used for grouping.
func FileType(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return strings.ToLower(ext)
}
