package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/apperr"
	"github.com/threadline/threadline/pkg/types"
)

// CreateProject inserts a new project with zero counters.
func (s *Store) CreateProject(name, description string, tags []string) (int64, error) {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return 0, storageErr(err, "failed to encode tags")
	}

	result, err := s.db.Exec(`
		INSERT INTO projects (name, description, tags) VALUES (?, ?, ?)`,
		name, description, string(encoded))
	if err != nil {
		return 0, storageErr(err, "failed to create project %s", name)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr(err, "failed to read new project id")
	}

	s.logger.WithFields(logrus.Fields{"project_id": id, "name": name}).Info("Project created")
	return id, nil
}

const projectColumns = `
	SELECT id, name, COALESCE(description, ''), status, is_pinned,
		COALESCE(tags, '[]'), message_count, attachment_count,
		created_at, updated_at
	FROM projects`

func scanProject(scan func(dest ...interface{}) error) (*types.Project, error) {
	p := &types.Project{}
	var tags string
	var createdAt, updatedAt time.Time
	err := scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.IsPinned,
		&tags, &p.MessageCount, &p.AttachmentCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		p.Tags = nil
	}
	p.CreatedAt = createdAt.Format(time.RFC3339)
	p.UpdatedAt = updatedAt.Format(time.RFC3339)
	return p, nil
}

// GetProject fetches one project by id.
func (s *Store) GetProject(id int64) (*types.Project, error) {
	row := s.db.QueryRow(projectColumns+" WHERE id = ?", id)
	p, err := scanProject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "project %d not found", id)
	}
	if err != nil {
		return nil, storageErr(err, "failed to load project %d", id)
	}
	return p, nil
}

// ListProjects returns projects, pinned first, then newest activity first.
func (s *Store) ListProjects(includeArchived bool) ([]types.Project, error) {
	query := projectColumns
	if !includeArchived {
		query += " WHERE status != 'archived'"
	}
	query += " ORDER BY is_pinned DESC, updated_at DESC, id DESC"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, storageErr(err, "failed to list projects")
	}
	defer rows.Close()

	var out []types.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, storageErr(err, "failed to scan project row")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// RecountProject recomputes a project's counters from the messages and
// attachments actually assigned to it. Counters are derived, never
// incremented in place.
func (s *Store) RecountProject(projectID int64) error {
	_, err := s.db.Exec(`
		UPDATE projects SET
			message_count = (SELECT COUNT(*) FROM messages WHERE project_id = ?),
			attachment_count = (SELECT COUNT(*) FROM attachments WHERE project_id = ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, projectID, projectID, projectID)
	if err != nil {
		return storageErr(err, "failed to recount project %d", projectID)
	}
	return nil
}

// SetProjectPinned toggles a project's pinned flag.
func (s *Store) SetProjectPinned(projectID int64, pinned bool) error {
	return s.updateProjectFlag(projectID, "is_pinned = ?", pinned)
}

// SetProjectStatus sets a project's lifecycle status.
func (s *Store) SetProjectStatus(projectID int64, status string) error {
	if status != "active" && status != "archived" {
		return apperr.New(apperr.CodeValidation, "invalid project status %q", status)
	}
	return s.updateProjectFlag(projectID, "status = ?", status)
}

func (s *Store) updateProjectFlag(projectID int64, assignment string, value interface{}) error {
	result, err := s.db.Exec(
		"UPDATE projects SET "+assignment+", updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		value, projectID)
	if err != nil {
		return storageErr(err, "failed to update project %d", projectID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr(err, "failed to check project update")
	}
	if affected == 0 {
		return apperr.New(apperr.CodeNotFound, "project %d not found", projectID)
	}
	return nil
}
