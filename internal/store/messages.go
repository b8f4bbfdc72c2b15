package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/threadline/threadline/internal/apperr"
	"github.com/threadline/threadline/pkg/types"
)

// SaveMessage inserts a message, deduplicating on message_id. A message seen
// before is left untouched, project assignment included. Returns the row id
// and whether this call inserted it.
func (s *Store) SaveMessage(msg *types.Message) (int64, bool, error) {
	recipients, err := json.Marshal(msg.Recipients)
	if err != nil {
		return 0, false, storageErr(err, "failed to encode recipients")
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages
			(message_id, account_id, thread_id, project_id, subject, sender,
			 recipients, date, body_text, body_html, has_attachments, source_uid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.AccountID, msg.ThreadID, msg.ProjectID,
		msg.Subject, msg.Sender, string(recipients), msg.Date,
		msg.BodyText, msg.BodyHTML, msg.HasAttachments, msg.SourceUID)
	if err != nil {
		return 0, false, storageErr(err, "failed to save message %s", msg.MessageID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, storageErr(err, "failed to check message insert")
	}
	if affected == 0 {
		var id int64
		err := s.db.QueryRow("SELECT id FROM messages WHERE message_id = ?", msg.MessageID).Scan(&id)
		if err != nil {
			return 0, false, storageErr(err, "failed to load existing message %s", msg.MessageID)
		}
		return id, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, storageErr(err, "failed to read new message id")
	}
	return id, true, nil
}

const messageColumns = `
	SELECT id, message_id, account_id, COALESCE(thread_id, ''), project_id,
		COALESCE(subject, ''), COALESCE(sender, ''), COALESCE(recipients, '[]'),
		date, COALESCE(body_text, ''), COALESCE(body_html, ''),
		has_attachments, source_uid
	FROM messages`

func scanMessage(scan func(dest ...interface{}) error) (*types.Message, error) {
	msg := &types.Message{}
	var projectID sql.NullInt64
	var recipients string
	err := scan(&msg.ID, &msg.MessageID, &msg.AccountID, &msg.ThreadID,
		&projectID, &msg.Subject, &msg.Sender, &recipients, &msg.Date,
		&msg.BodyText, &msg.BodyHTML, &msg.HasAttachments, &msg.SourceUID)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		msg.ProjectID = &projectID.Int64
	}
	if err := json.Unmarshal([]byte(recipients), &msg.Recipients); err != nil {
		msg.Recipients = nil
	}
	return msg, nil
}

// GetMessageByMessageID fetches one message by its RFC 822 identifier.
func (s *Store) GetMessageByMessageID(messageID string) (*types.Message, error) {
	row := s.db.QueryRow(messageColumns+" WHERE message_id = ?", messageID)
	msg, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "message %s not found", messageID)
	}
	if err != nil {
		return nil, storageErr(err, "failed to load message %s", messageID)
	}
	return msg, nil
}

// AssignMessageToProject links a message and its attachments to a project.
func (s *Store) AssignMessageToProject(messageID, projectID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr(err, "failed to begin assignment transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("UPDATE messages SET project_id = ? WHERE id = ?", projectID, messageID); err != nil {
		return storageErr(err, "failed to assign message %d to project %d", messageID, projectID)
	}
	if _, err := tx.Exec("UPDATE attachments SET project_id = ? WHERE message_id = ?", projectID, messageID); err != nil {
		return storageErr(err, "failed to assign attachments of message %d", messageID)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit assignment")
	}
	return nil
}

// FindProjectByThread returns the project already holding a message of the
// given thread, if any.
func (s *Store) FindProjectByThread(threadID string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT project_id FROM messages
		WHERE thread_id = ? AND project_id IS NOT NULL
		LIMIT 1`, threadID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr(err, "failed to look up thread %s", threadID)
	}
	return id, true, nil
}

// FindRecentProjectBySubject returns the project of the newest assigned
// message whose subject contains the given text, restricted to messages
// dated on or after since.
func (s *Store) FindRecentProjectBySubject(subject string, since time.Time) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT project_id FROM messages
		WHERE project_id IS NOT NULL
		  AND date >= ?
		  AND subject LIKE '%' || ? || '%'
		ORDER BY date DESC
		LIMIT 1`, since, subject).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr(err, "failed to match subject")
	}
	return id, true, nil
}

// ListUnassignedMessages returns messages that carry no project yet, oldest
// first so re-classification replays in arrival order.
func (s *Store) ListUnassignedMessages() ([]types.Message, error) {
	return s.queryMessages(messageColumns+" WHERE project_id IS NULL ORDER BY date ASC, id ASC")
}

// ListMessagesByProject returns a project's messages, newest first.
func (s *Store) ListMessagesByProject(projectID int64) ([]types.Message, error) {
	return s.queryMessages(messageColumns+" WHERE project_id = ? ORDER BY date DESC, id DESC", projectID)
}

func (s *Store) queryMessages(query string, args ...interface{}) ([]types.Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr(err, "failed to query messages")
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, storageErr(err, "failed to scan message row")
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// SaveAttachment records one attachment's metadata.
func (s *Store) SaveAttachment(att *types.Attachment) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO attachments
			(message_id, project_id, filename, file_type, file_size,
			 mime_type, file_path, content_hash, index_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		att.MessageID, att.ProjectID, att.Filename, att.FileType,
		att.FileSize, att.MimeType, att.FilePath, att.ContentHash,
		att.IndexStatus)
	if err != nil {
		return 0, storageErr(err, "failed to save attachment %s", att.Filename)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr(err, "failed to read new attachment id")
	}
	return id, nil
}

// ListAttachmentsByMessage returns a message's attachments.
func (s *Store) ListAttachmentsByMessage(messageID int64) ([]types.Attachment, error) {
	return s.queryAttachments(`WHERE message_id = ? ORDER BY id`, messageID)
}

// ListAttachmentsByProject returns a project's attachments.
func (s *Store) ListAttachmentsByProject(projectID int64) ([]types.Attachment, error) {
	return s.queryAttachments(`WHERE project_id = ? ORDER BY id`, projectID)
}

func (s *Store) queryAttachments(where string, args ...interface{}) ([]types.Attachment, error) {
	rows, err := s.db.Query(`
		SELECT id, message_id, project_id, filename, COALESCE(file_type, ''),
			file_size, COALESCE(mime_type, ''), file_path,
			COALESCE(content_hash, ''), index_status
		FROM attachments `+where, args...)
	if err != nil {
		return nil, storageErr(err, "failed to query attachments")
	}
	defer rows.Close()

	var out []types.Attachment
	for rows.Next() {
		var a types.Attachment
		var projectID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.MessageID, &projectID, &a.Filename,
			&a.FileType, &a.FileSize, &a.MimeType, &a.FilePath,
			&a.ContentHash, &a.IndexStatus); err != nil {
			return nil, storageErr(err, "failed to scan attachment row")
		}
		if projectID.Valid {
			a.ProjectID = &projectID.Int64
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
