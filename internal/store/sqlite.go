// Package store persists accounts, messages, projects, attachments, and
// milestones in a local SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/threadline/threadline/internal/apperr"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if necessary) the database at dbPath and ensures the
// schema exists. "file::memory:" style paths work for tests.
func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorage, err, "failed to create data directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, err, "failed to open database")
	}

	// modernc.org/sqlite serializes writes per connection; one connection
	// avoids SQLITE_BUSY under concurrent sync and query traffic.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apperr.Wrap(apperr.CodeStorage, err, "failed to apply %s", pragma)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", dbPath).Info("Database initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return apperr.Wrap(apperr.CodeStorage, err, "failed to create schema")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for read-only diagnostics and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func storageErr(err error, format string, args ...interface{}) error {
	return apperr.Wrap(apperr.CodeStorage, err, "%s", fmt.Sprintf(format, args...))
}
