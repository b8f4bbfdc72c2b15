package mail

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/apperr"
	"github.com/threadline/threadline/internal/attachment"
	"github.com/threadline/threadline/internal/events"
	"github.com/threadline/threadline/internal/project"
	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/pkg/types"
)

const inboxFolder = "INBOX"

// SyncResult summarizes one finished sync run.
type SyncResult struct {
	AccountID int64 `json:"account_id"`
	Total     int   `json:"total"`
	Synced    int   `json:"synced"`
	Failed    int   `json:"failed"`
}

// EngineOptions wires the sync engine's collaborators.
type EngineOptions struct {
	Store      *store.Store
	Files      *attachment.Store
	Classifier *project.Classifier
	Notifier   events.Notifier
	Tokens     TokenSource
	Logger     *logrus.Logger

	// Dial overrides the real IMAP dialer, for tests.
	Dial DialFunc

	// MaxCount caps messages per run; SyncAll lifts the cap.
	MaxCount int
	SyncAll  bool
}

// Engine performs bounded incremental mailbox syncs.
type Engine struct {
	store      *store.Store
	files      *attachment.Store
	classifier *project.Classifier
	notifier   events.Notifier
	tokens     TokenSource
	dial       DialFunc
	logger     *logrus.Logger
	maxCount   int
	syncAll    bool
}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		store:      opts.Store,
		files:      opts.Files,
		classifier: opts.Classifier,
		notifier:   opts.Notifier,
		tokens:     opts.Tokens,
		dial:       opts.Dial,
		logger:     opts.Logger,
		maxCount:   opts.MaxCount,
		syncAll:    opts.SyncAll,
	}
	if e.notifier == nil {
		e.notifier = events.NopNotifier{}
	}
	if e.dial == nil {
		e.dial = func(cfg IMAPConfig, auth AuthMethod) (ProtocolSession, error) {
			return Dial(cfg, auth, e.logger)
		}
	}
	return e
}

// SyncAccount runs one sync for the account: connect, enumerate new UIDs
// past the stored cursor, then fetch, parse, persist, and classify each
// message. A single bad message is logged and skipped; only transport-level
// failures abort the run. The cursor advances to the highest UID that was
// processed successfully.
func (e *Engine) SyncAccount(accountID int64) (*SyncResult, error) {
	return e.SyncAccountWithPassword(accountID, "")
}

// SyncAccountWithPassword is SyncAccount with a one-off password that
// overrides the stored one for this run only. Empty means use the stored
// credentials.
func (e *Engine) SyncAccountWithPassword(accountID int64, password string) (*SyncResult, error) {
	acc, err := e.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	log := e.logger.WithFields(logrus.Fields{"account_id": accountID, "email": acc.Email})
	log.Info("Starting sync")
	e.notify(accountID, 0, 0, events.StatusStarting, "")

	session, err := e.openSession(acc, password)
	if err != nil {
		e.notify(accountID, 0, 0, events.StatusFailed, err.Error())
		return nil, err
	}

	result, err := e.runSync(acc, session, log)
	if err != nil {
		session.Logout() //nolint:errcheck
		e.notify(accountID, 0, 0, events.StatusFailed, err.Error())
		return nil, err
	}

	if err := session.Logout(); err != nil {
		e.notify(accountID, result.Synced, result.Synced, events.StatusFailed, err.Error())
		return nil, err
	}

	e.notify(accountID, result.Synced, result.Synced, events.StatusCompleted, "")
	log.WithFields(logrus.Fields{
		"total":  result.Total,
		"synced": result.Synced,
		"failed": result.Failed,
	}).Info("Sync finished")
	return result, nil
}

func (e *Engine) openSession(acc *types.Account, password string) (ProtocolSession, error) {
	var cfg IMAPConfig
	if err := json.Unmarshal([]byte(acc.IMAPConfig), &cfg); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "corrupt IMAP config for account %d", acc.ID)
	}

	auth, err := e.authFor(acc, password)
	if err != nil {
		return nil, err
	}
	return e.dial(cfg, auth)
}

// authFor builds the auth method for the account, refreshing an expired
// OAuth token first when a token source is available.
func (e *Engine) authFor(acc *types.Account, password string) (AuthMethod, error) {
	if acc.AuthType != "oauth" {
		if password == "" {
			password = acc.Password
		}
		if password == "" {
			return nil, apperr.New(apperr.CodeAuth, "no password available for %s", acc.Email)
		}
		return PasswordAuth{Username: acc.Email, Password: password}, nil
	}

	token := acc.OAuthAccessToken
	expired := acc.OAuthTokenExpiresAt > 0 && time.Now().Unix() >= acc.OAuthTokenExpiresAt
	if expired && e.tokens != nil {
		info, err := e.tokens.Token(acc.Provider, acc.Email)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeAuth, err, "failed to refresh OAuth token for %s", acc.Email)
		}
		expiresAt := int64(0)
		if info.ExpiresIn > 0 {
			expiresAt = time.Now().Unix() + info.ExpiresIn
		}
		refresh := info.RefreshToken
		if refresh == "" {
			refresh = acc.OAuthRefreshToken
		}
		if err := e.store.UpdateOAuthTokens(acc.ID, info.AccessToken, refresh, expiresAt); err != nil {
			return nil, err
		}
		token = info.AccessToken
	}

	if token == "" {
		return nil, apperr.New(apperr.CodeAuth, "no OAuth access token for %s", acc.Email)
	}
	return OAuthAuth{Username: acc.Email, AccessToken: token}, nil
}

func (e *Engine) runSync(acc *types.Account, session ProtocolSession, log *logrus.Entry) (*SyncResult, error) {
	result := &SyncResult{AccountID: acc.ID}

	total, err := session.SelectFolder(inboxFolder)
	if err != nil {
		return nil, err
	}

	rng := computeRange(acc.LastSyncedUID, total, e.maxCount, e.syncAll)
	if rng == "" {
		log.Info("Mailbox is empty, nothing to sync")
		return result, nil
	}

	uids, err := session.FetchUIDs(rng)
	if err != nil {
		return nil, err
	}
	uids = filterAbove(uids, acc.LastSyncedUID)
	if !e.syncAll {
		uids = trimToNewest(uids, e.maxCount)
	}

	result.Total = len(uids)
	if len(uids) == 0 {
		log.Info("No new messages")
		return result, nil
	}
	log.WithFields(logrus.Fields{"range": rng, "count": len(uids)}).Info("Fetching messages")

	var highest uint32
	for i, uid := range uids {
		e.notify(acc.ID, i+1, len(uids), events.StatusSyncing, "")
		if err := e.processMessage(acc, session, uid); err != nil {
			result.Failed++
			log.WithError(err).WithField("uid", uid).Warn("Skipping message")
			continue
		}
		result.Synced++
		if uid > highest {
			highest = uid
		}
	}

	if highest > 0 {
		if err := e.store.UpdateSyncCursor(acc.ID, highest); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// processMessage runs the per-message pipeline: fetch, parse, persist,
// store attachments, classify. An attachment that cannot be persisted fails
// the message; classification failure does not, since the message is kept
// and picked up by a later reclassification.
func (e *Engine) processMessage(acc *types.Account, session ProtocolSession, uid uint32) error {
	raw, err := session.FetchRaw(uid)
	if err != nil {
		return err
	}

	parsed, err := Parse(raw, e.logger)
	if err != nil {
		return err
	}

	msg := &types.Message{
		MessageID:      parsed.MessageID,
		AccountID:      acc.ID,
		ThreadID:       ThreadKey(parsed),
		Subject:        parsed.Subject,
		Sender:         parsed.From,
		Recipients:     append(parsed.To, parsed.Cc...),
		Date:           parsed.Date,
		BodyText:       parsed.BodyText,
		BodyHTML:       parsed.BodyHTML,
		HasAttachments: len(parsed.Attachments) > 0,
		SourceUID:      uid,
	}

	rowID, inserted, err := e.store.SaveMessage(msg)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	msg.ID = rowID

	for _, att := range parsed.Attachments {
		if err := e.saveAttachment(acc.ID, rowID, att); err != nil {
			return fmt.Errorf("failed to store attachment %q: %w", att.Filename, err)
		}
	}

	if _, err := e.classifier.Classify(msg); err != nil {
		e.logger.WithError(err).WithField("message_id", msg.MessageID).
			Warn("Failed to classify message")
	}
	return nil
}

func (e *Engine) saveAttachment(accountID, messageRowID int64, att types.ParsedAttachment) error {
	relPath, hash, err := e.files.Save(accountID, messageRowID, att.Filename, att.Data)
	if err != nil {
		return err
	}
	_, err = e.store.SaveAttachment(&types.Attachment{
		MessageID:   messageRowID,
		Filename:    attachment.SanitizeFilename(att.Filename),
		FileType:    attachment.FileType(att.Filename),
		FileSize:    int64(len(att.Data)),
		MimeType:    att.ContentType,
		FilePath:    relPath,
		ContentHash: hash,
		IndexStatus: "pending",
	})
	return err
}

func (e *Engine) notify(accountID int64, current, total int, status events.Status, msg string) {
	e.notifier.Notify(events.SyncProgress{
		AccountID: accountID,
		Current:   current,
		Total:     total,
		Status:    status,
		Message:   msg,
	})
}

// computeRange picks the UID range for one run. With no cursor the newest
// maxCount messages are taken (the whole mailbox when syncAll); with a
// cursor everything past it is taken. Returns "" for an empty mailbox.
func computeRange(cursor, total uint32, maxCount int, syncAll bool) string {
	if total == 0 {
		return ""
	}
	if cursor > 0 {
		return fmt.Sprintf("%d:*", cursor+1)
	}
	if syncAll || int(total) <= maxCount {
		return "1:*"
	}
	return fmt.Sprintf("%d:*", int(total)-maxCount+1)
}

// filterAbove drops UIDs at or below the cursor. An "n:*" range where n
// exceeds the mailbox's highest UID still returns that highest message, so
// an up-to-date mailbox would otherwise resync its newest one.
func filterAbove(uids []uint32, cursor uint32) []uint32 {
	if cursor == 0 {
		return uids
	}
	out := uids[:0]
	for _, uid := range uids {
		if uid > cursor {
			out = append(out, uid)
		}
	}
	return out
}

// trimToNewest keeps at most max UIDs, dropping the oldest and preserving
// ascending order.
func trimToNewest(uids []uint32, max int) []uint32 {
	if len(uids) <= max {
		return uids
	}
	return uids[len(uids)-max:]
}
