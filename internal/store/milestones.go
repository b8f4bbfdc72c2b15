package store

import (
	"database/sql"

	"github.com/threadline/threadline/pkg/types"
)

// CreateMilestone records a dated marker on a project.
func (s *Store) CreateMilestone(m *types.Milestone) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO milestones (project_id, message_id, type, title, date)
		VALUES (?, ?, ?, ?, ?)`,
		m.ProjectID, m.MessageID, m.Type, m.Title, m.Date)
	if err != nil {
		return 0, storageErr(err, "failed to create milestone %s", m.Title)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr(err, "failed to read new milestone id")
	}
	return id, nil
}

// ListMilestones returns a project's milestones, newest first.
func (s *Store) ListMilestones(projectID int64) ([]types.Milestone, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, message_id, type, title, date
		FROM milestones WHERE project_id = ?
		ORDER BY date DESC, id DESC`, projectID)
	if err != nil {
		return nil, storageErr(err, "failed to list milestones for project %d", projectID)
	}
	defer rows.Close()

	var out []types.Milestone
	for rows.Next() {
		var m types.Milestone
		var messageID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ProjectID, &messageID, &m.Type, &m.Title, &m.Date); err != nil {
			return nil, storageErr(err, "failed to scan milestone row")
		}
		if messageID.Valid {
			m.MessageID = &messageID.Int64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
