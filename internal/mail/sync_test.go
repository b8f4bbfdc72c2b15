package mail

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/attachment"
	"github.com/threadline/threadline/internal/events"
	"github.com/threadline/threadline/internal/project"
	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/pkg/types"
)

func TestComputeRange(t *testing.T) {
	tests := []struct {
		name     string
		cursor   uint32
		total    uint32
		maxCount int
		syncAll  bool
		want     string
	}{
		{"first run capped", 0, 10000, 100, false, "9901:*"},
		{"first run small mailbox", 0, 50, 100, false, "1:*"},
		{"first run exact cap", 0, 100, 100, false, "1:*"},
		{"first run sync all", 0, 10000, 100, true, "1:*"},
		{"incremental", 500, 10000, 100, false, "501:*"},
		{"incremental ignores cap", 9990, 10000, 5, false, "9991:*"},
		{"empty mailbox", 0, 0, 100, false, ""},
		{"empty mailbox with cursor", 42, 0, 100, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeRange(tt.cursor, tt.total, tt.maxCount, tt.syncAll)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterAbove(t *testing.T) {
	uids := []uint32{3, 5, 8, 13}
	assert.Equal(t, []uint32{8, 13}, filterAbove(uids, 5))
	assert.Equal(t, []uint32{1, 2}, filterAbove([]uint32{1, 2}, 0))
	assert.Empty(t, filterAbove([]uint32{1, 2, 3}, 9))
}

func TestTrimToNewest(t *testing.T) {
	uids := []uint32{1, 2, 3, 4, 5}
	assert.Equal(t, []uint32{4, 5}, trimToNewest(uids, 2))
	assert.Equal(t, uids, trimToNewest(uids, 10))
	assert.Equal(t, uids, trimToNewest(uids, 5))
}

// fakeSession serves canned messages, ignoring the range expression; the
// engine's own cursor filtering is under test.
type fakeSession struct {
	total     uint32
	raw       map[uint32][]byte
	missing   []uint32
	gotRange  string
	loggedOut bool
	logoutErr error
}

func (f *fakeSession) SelectFolder(name string) (uint32, error) {
	return f.total, nil
}

func (f *fakeSession) FetchUIDs(rng string) ([]uint32, error) {
	f.gotRange = rng
	var uids []uint32
	for uid := range f.raw {
		uids = append(uids, uid)
	}
	uids = append(uids, f.missing...)
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (f *fakeSession) FetchRaw(uid uint32) ([]byte, error) {
	raw, ok := f.raw[uid]
	if !ok {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}
	return raw, nil
}

func (f *fakeSession) Logout() error {
	f.loggedOut = true
	return f.logoutErr
}

// collectNotifier records every progress report in order.
type collectNotifier struct {
	reports []events.SyncProgress
}

func (c *collectNotifier) Notify(p events.SyncProgress) {
	c.reports = append(c.reports, p)
}

func testMessage(id, subject string, uid uint32) []byte {
	return rawMessage(map[string]string{
		"Message-ID":   fmt.Sprintf("<%s@example.com>", id),
		"From":         "alice@example.com",
		"To":           "bob@example.com",
		"Subject":      subject,
		"Date":         fmt.Sprintf("Mon, 02 Jun 2025 10:%02d:00 +0000", uid),
		"Content-Type": "text/plain",
	}, "body of "+id)
}

func newTestEngine(t *testing.T, session ProtocolSession, notifier events.Notifier, maxCount int) (*Engine, *store.Store) {
	t.Helper()
	logger := testLogger()

	st, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := NewEngine(EngineOptions{
		Store:      st,
		Files:      attachment.NewStore(t.TempDir(), logger),
		Classifier: project.NewClassifier(st, logger),
		Notifier:   notifier,
		Logger:     logger,
		MaxCount:   maxCount,
		Dial: func(cfg IMAPConfig, auth AuthMethod) (ProtocolSession, error) {
			return session, nil
		},
	})
	return engine, st
}

func createTestAccount(t *testing.T, st *store.Store) int64 {
	t.Helper()
	cfg, err := json.Marshal(IMAPConfig{Host: "imap.example.com", Port: 993, UseTLS: true})
	require.NoError(t, err)

	id, err := st.CreateAccount(&types.Account{
		Email:      "alice@example.com",
		Provider:   "gmail",
		IMAPConfig: string(cfg),
		AuthType:   "password",
		Password:   "secret",
	})
	require.NoError(t, err)
	return id
}

func TestEngine_SyncAccount_FirstRun(t *testing.T) {
	session := &fakeSession{
		total: 3,
		raw: map[uint32][]byte{
			1: testMessage("one", "Budget", 1),
			2: testMessage("two", "Re: Budget", 2),
			3: testMessage("three", "Standup notes", 3),
		},
	}
	notifier := &collectNotifier{}
	engine, st := newTestEngine(t, session, notifier, 100)
	accountID := createTestAccount(t, st)

	result, err := engine.SyncAccount(accountID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, "1:*", session.gotRange)
	assert.True(t, session.loggedOut)

	acc, err := st.GetAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), acc.LastSyncedUID)

	msg, err := st.GetMessageByMessageID("one@example.com")
	require.NoError(t, err)
	assert.NotNil(t, msg.ProjectID)

	require.NotEmpty(t, notifier.reports)
	assert.Equal(t, events.StatusStarting, notifier.reports[0].Status)
	last := notifier.reports[len(notifier.reports)-1]
	assert.Equal(t, events.StatusCompleted, last.Status)
	assert.Equal(t, 3, last.Current)
	assert.Equal(t, 3, last.Total)
}

func TestEngine_SyncAccount_FaultIsolation(t *testing.T) {
	session := &fakeSession{
		total: 3,
		raw: map[uint32][]byte{
			1: testMessage("one", "Budget", 1),
			3: testMessage("three", "Standup notes", 3),
		},
		missing: []uint32{2},
	}
	notifier := &collectNotifier{}
	engine, st := newTestEngine(t, session, notifier, 100)
	accountID := createTestAccount(t, st)

	result, err := engine.SyncAccount(accountID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)

	// Cursor still advances over the skipped message.
	acc, err := st.GetAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), acc.LastSyncedUID)

	// The completion report counts successes only.
	last := notifier.reports[len(notifier.reports)-1]
	assert.Equal(t, events.StatusCompleted, last.Status)
	assert.Equal(t, 2, last.Current)
	assert.Equal(t, 2, last.Total)
}

func TestEngine_SyncAccount_Incremental(t *testing.T) {
	session := &fakeSession{
		total: 2,
		raw: map[uint32][]byte{
			1: testMessage("one", "Budget", 1),
			2: testMessage("two", "Standup notes", 2),
		},
	}
	engine, st := newTestEngine(t, session, events.NopNotifier{}, 100)
	accountID := createTestAccount(t, st)

	_, err := engine.SyncAccount(accountID)
	require.NoError(t, err)

	session.total = 3
	session.raw[3] = testMessage("three", "New thing", 3)

	result, err := engine.SyncAccount(accountID)
	require.NoError(t, err)

	assert.Equal(t, "3:*", session.gotRange)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Synced)

	acc, err := st.GetAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), acc.LastSyncedUID)
}

func TestEngine_SyncAccount_UpToDateMailbox(t *testing.T) {
	session := &fakeSession{
		total: 2,
		raw: map[uint32][]byte{
			1: testMessage("one", "Budget", 1),
			2: testMessage("two", "Standup notes", 2),
		},
	}
	engine, st := newTestEngine(t, session, events.NopNotifier{}, 100)
	accountID := createTestAccount(t, st)

	_, err := engine.SyncAccount(accountID)
	require.NoError(t, err)

	// A second run with nothing new fetches nothing.
	result, err := engine.SyncAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, result.Synced)

	acc, err := st.GetAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), acc.LastSyncedUID)
}

func TestEngine_SyncAccount_CapTrimsToNewest(t *testing.T) {
	session := &fakeSession{
		total: 5,
		raw: map[uint32][]byte{
			1: testMessage("one", "A", 1),
			2: testMessage("two", "B", 2),
			3: testMessage("three", "C", 3),
			4: testMessage("four", "D", 4),
			5: testMessage("five", "E", 5),
		},
	}
	engine, st := newTestEngine(t, session, events.NopNotifier{}, 2)
	accountID := createTestAccount(t, st)

	result, err := engine.SyncAccount(accountID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Synced)
	_, err = st.GetMessageByMessageID("four@example.com")
	assert.NoError(t, err)
	_, err = st.GetMessageByMessageID("five@example.com")
	assert.NoError(t, err)
	_, err = st.GetMessageByMessageID("one@example.com")
	assert.Error(t, err)
}

func TestEngine_SyncAccount_LogoutFailure(t *testing.T) {
	session := &fakeSession{
		total:     1,
		raw:       map[uint32][]byte{1: testMessage("one", "Budget", 1)},
		logoutErr: fmt.Errorf("connection reset"),
	}
	notifier := &collectNotifier{}
	engine, st := newTestEngine(t, session, notifier, 100)
	accountID := createTestAccount(t, st)

	_, err := engine.SyncAccount(accountID)
	require.Error(t, err)

	// Work done before the failed logout stays persisted.
	acc, err := st.GetAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), acc.LastSyncedUID)

	last := notifier.reports[len(notifier.reports)-1]
	assert.Equal(t, events.StatusFailed, last.Status)
}

func TestEngine_SyncAccount_DialFailure(t *testing.T) {
	logger := testLogger()
	st, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	notifier := &collectNotifier{}
	engine := NewEngine(EngineOptions{
		Store:      st,
		Files:      attachment.NewStore(t.TempDir(), logger),
		Classifier: project.NewClassifier(st, logger),
		Notifier:   notifier,
		Logger:     logger,
		MaxCount:   100,
		Dial: func(cfg IMAPConfig, auth AuthMethod) (ProtocolSession, error) {
			return nil, fmt.Errorf("connection refused")
		},
	})
	accountID := createTestAccount(t, st)

	_, err = engine.SyncAccount(accountID)
	require.Error(t, err)

	last := notifier.reports[len(notifier.reports)-1]
	assert.Equal(t, events.StatusFailed, last.Status)
}

func TestEngine_SyncAccount_DeduplicatesByMessageID(t *testing.T) {
	session := &fakeSession{
		total: 2,
		raw: map[uint32][]byte{
			1: testMessage("dup", "Budget", 1),
			2: testMessage("dup", "Budget", 2),
		},
	}
	engine, st := newTestEngine(t, session, events.NopNotifier{}, 100)
	accountID := createTestAccount(t, st)

	result, err := engine.SyncAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Synced)

	msgs, err := st.ListMessagesByProject(mustProjectOf(t, st, "dup@example.com"))
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testMessageWithAttachment(id string, uid uint32) []byte {
	return []byte("Message-ID: <" + id + "@example.com>\r\n" +
		"From: alice@example.com\r\n" +
		"Subject: With attachment\r\n" +
		fmt.Sprintf("Date: Mon, 02 Jun 2025 10:%02d:00 +0000\r\n", uid) +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"xyz\"\r\n" +
		"\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attachment.\r\n" +
		"--xyz\r\n" +
		"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--xyz--\r\n")
}

func TestEngine_SyncAccount_AttachmentFailureFailsMessage(t *testing.T) {
	session := &fakeSession{
		total: 2,
		raw: map[uint32][]byte{
			1: testMessageWithAttachment("with-att", 1),
			2: testMessage("plain", "Standup notes", 2),
		},
	}
	logger := testLogger()
	st, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// An attachment root that is a regular file makes every Save fail.
	badRoot := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(badRoot, []byte("x"), 0o600))

	engine := NewEngine(EngineOptions{
		Store:      st,
		Files:      attachment.NewStore(badRoot, logger),
		Classifier: project.NewClassifier(st, logger),
		Logger:     logger,
		MaxCount:   100,
		Dial: func(cfg IMAPConfig, auth AuthMethod) (ProtocolSession, error) {
			return session, nil
		},
	})
	accountID := createTestAccount(t, st)

	result, err := engine.SyncAccount(accountID)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)

	// The attachment-less message still syncs and advances the cursor.
	acc, err := st.GetAccount(accountID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), acc.LastSyncedUID)

	msg, err := st.GetMessageByMessageID("with-att@example.com")
	require.NoError(t, err)
	atts, err := st.ListAttachmentsByMessage(msg.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestEngine_SyncAccount_PasswordOverride(t *testing.T) {
	session := &fakeSession{
		total: 1,
		raw:   map[uint32][]byte{1: testMessage("one", "Budget", 1)},
	}
	engine, st := newTestEngine(t, session, events.NopNotifier{}, 100)

	cfg, err := json.Marshal(IMAPConfig{Host: "imap.example.com", Port: 993, UseTLS: true})
	require.NoError(t, err)
	accountID, err := st.CreateAccount(&types.Account{
		Email:      "nopass@example.com",
		Provider:   "gmail",
		IMAPConfig: string(cfg),
		AuthType:   "password",
	})
	require.NoError(t, err)

	// Without a stored or supplied password there is nothing to log in with.
	_, err = engine.SyncAccount(accountID)
	require.Error(t, err)

	result, err := engine.SyncAccountWithPassword(accountID, "one-off")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
}

func mustProjectOf(t *testing.T, st *store.Store, messageID string) int64 {
	t.Helper()
	msg, err := st.GetMessageByMessageID(messageID)
	require.NoError(t, err)
	require.NotNil(t, msg.ProjectID)
	return *msg.ProjectID
}
