package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/threadline/threadline/internal/apperr"
	"github.com/threadline/threadline/pkg/types"
)

// CreateAccount inserts a new account. The email must not already be
// registered.
func (s *Store) CreateAccount(acc *types.Account) (int64, error) {
	if _, err := s.GetAccountByEmail(acc.Email); err == nil {
		return 0, apperr.New(apperr.CodeValidation, "account %s already exists", acc.Email)
	} else if !apperr.IsCode(err, apperr.CodeNotFound) {
		return 0, err
	}

	query := `
		INSERT INTO accounts (email, provider, imap_config, auth_type, password,
			oauth_access_token, oauth_refresh_token, oauth_token_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		acc.Email, acc.Provider, acc.IMAPConfig, acc.AuthType,
		nullable(acc.Password), nullable(acc.OAuthAccessToken),
		nullable(acc.OAuthRefreshToken), acc.OAuthTokenExpiresAt)
	if err != nil {
		return 0, storageErr(err, "failed to create account %s", acc.Email)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, storageErr(err, "failed to read new account id")
	}

	s.logger.WithField("email", acc.Email).Info("Account created")
	return id, nil
}

// GetAccount fetches one account by id.
func (s *Store) GetAccount(id int64) (*types.Account, error) {
	return s.scanAccount(s.db.QueryRow(accountColumns+" WHERE id = ?", id))
}

// GetAccountByEmail fetches one account by its email address.
func (s *Store) GetAccountByEmail(email string) (*types.Account, error) {
	return s.scanAccount(s.db.QueryRow(accountColumns+" WHERE email = ?", email))
}

const accountColumns = `
	SELECT id, email, provider, imap_config, auth_type,
		COALESCE(password, ''), COALESCE(oauth_access_token, ''),
		COALESCE(oauth_refresh_token, ''), COALESCE(oauth_token_expires_at, 0),
		last_synced_uid, created_at
	FROM accounts`

func (s *Store) scanAccount(row *sql.Row) (*types.Account, error) {
	acc := &types.Account{}
	var createdAt time.Time
	err := row.Scan(&acc.ID, &acc.Email, &acc.Provider, &acc.IMAPConfig,
		&acc.AuthType, &acc.Password, &acc.OAuthAccessToken,
		&acc.OAuthRefreshToken, &acc.OAuthTokenExpiresAt,
		&acc.LastSyncedUID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, storageErr(err, "failed to load account")
	}
	acc.CreatedAt = &createdAt
	return acc, nil
}

// ListAccounts returns all accounts without credential material.
func (s *Store) ListAccounts() ([]types.AccountSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, email, provider, auth_type, created_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, storageErr(err, "failed to list accounts")
	}
	defer rows.Close()

	var out []types.AccountSummary
	for rows.Next() {
		var a types.AccountSummary
		var createdAt time.Time
		if err := rows.Scan(&a.ID, &a.Email, &a.Provider, &a.AuthType, &createdAt); err != nil {
			return nil, storageErr(err, "failed to scan account row")
		}
		a.CreatedAt = createdAt.Format(time.RFC3339)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateSyncCursor records the highest successfully processed UID.
func (s *Store) UpdateSyncCursor(accountID int64, uid uint32) error {
	_, err := s.db.Exec("UPDATE accounts SET last_synced_uid = ? WHERE id = ?", uid, accountID)
	if err != nil {
		return storageErr(err, "failed to update sync cursor for account %d", accountID)
	}
	return nil
}

// UpdateOAuthTokens replaces the stored token bundle after a refresh.
func (s *Store) UpdateOAuthTokens(accountID int64, access, refresh string, expiresAt int64) error {
	_, err := s.db.Exec(`
		UPDATE accounts SET oauth_access_token = ?, oauth_refresh_token = ?,
			oauth_token_expires_at = ?
		WHERE id = ?`, access, refresh, expiresAt, accountID)
	if err != nil {
		return storageErr(err, "failed to update OAuth tokens for account %d", accountID)
	}
	return nil
}

// ResetAccountSync deletes the account's synced data and rewinds its cursor
// to zero, so the next sync starts fresh. Projects left without any messages
// or milestones are removed as well.
func (s *Store) ResetAccountSync(accountID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storageErr(err, "failed to begin reset transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM messages WHERE account_id = ?", accountID); err != nil {
		return storageErr(err, "failed to delete messages for account %d", accountID)
	}

	if _, err := tx.Exec(`
		UPDATE projects SET
			message_count = (SELECT COUNT(*) FROM messages WHERE project_id = projects.id),
			attachment_count = (SELECT COUNT(*) FROM attachments WHERE project_id = projects.id),
			updated_at = CURRENT_TIMESTAMP`); err != nil {
		return storageErr(err, "failed to recount projects")
	}

	if _, err := tx.Exec(`
		DELETE FROM projects
		WHERE message_count = 0
		  AND id NOT IN (SELECT DISTINCT project_id FROM milestones)`); err != nil {
		return storageErr(err, "failed to remove empty projects")
	}

	if _, err := tx.Exec("UPDATE accounts SET last_synced_uid = 0 WHERE id = ?", accountID); err != nil {
		return storageErr(err, "failed to rewind sync cursor for account %d", accountID)
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err, "failed to commit reset transaction")
	}

	s.logger.WithField("account_id", accountID).Info("Account sync state reset")
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
