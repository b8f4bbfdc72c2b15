package mail

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/apperr"
)

const (
	connectTimeout    = 30 * time.Second
	greetingTimeout   = 5 * time.Second
	loginTimeout      = 30 * time.Second
	oauthTimeout      = 15 * time.Second
	capabilityTimeout = 5 * time.Second
	commandTimeout    = 60 * time.Second
)

// ProtocolSession is the operation surface the sync engine drives. One sync
// run owns exactly one session; no concurrent use.
type ProtocolSession interface {
	SelectFolder(name string) (uint32, error)
	FetchUIDs(rng string) ([]uint32, error)
	FetchRaw(uid uint32) ([]byte, error)
	Logout() error
}

// DialFunc opens an authenticated session. The sync engine takes one so
// tests can substitute a fake server.
type DialFunc func(cfg IMAPConfig, auth AuthMethod) (ProtocolSession, error)

// Session wraps one authenticated IMAP connection.
type Session struct {
	c      *client.Client
	logger *logrus.Logger
}

// Dial connects to the IMAP server, reads the greeting, and authenticates.
// Every network step is individually time-bounded; a timeout surfaces as a
// network failure, never a silent retry.
func Dial(cfg IMAPConfig, auth AuthMethod, logger *logrus.Logger) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.WithField("addr", addr).Info("Connecting to IMAP server")

	dialer := &net.Dialer{Timeout: connectTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNetwork, err, "failed to connect to %s", addr)
	}

	// client.New blocks until the server greeting arrives; bound that read.
	if err := conn.SetReadDeadline(time.Now().Add(greetingTimeout)); err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.CodeNetwork, err, "failed to arm greeting deadline")
	}
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, apperr.Wrap(apperr.CodeNetwork, err, "failed to read IMAP greeting from %s", addr)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		c.Logout() //nolint:errcheck
		return nil, apperr.Wrap(apperr.CodeNetwork, err, "failed to clear greeting deadline")
	}

	s := &Session{c: c, logger: logger}
	if err := s.authenticate(auth); err != nil {
		c.Logout() //nolint:errcheck
		return nil, err
	}

	// Post-auth capability probe. Failure here is informational only.
	c.Timeout = capabilityTimeout
	if caps, err := c.Capability(); err != nil {
		logger.WithError(err).Warn("Failed to read IMAP capabilities after auth")
	} else {
		logger.WithField("xoauth2", caps["AUTH=XOAUTH2"]).Debug("IMAP capabilities received")
	}
	c.Timeout = commandTimeout

	logger.Info("IMAP session established")
	return s, nil
}

func (s *Session) authenticate(auth AuthMethod) error {
	switch a := auth.(type) {
	case PasswordAuth:
		s.c.Timeout = loginTimeout
		s.logger.WithField("user", a.Username).Info("Authenticating with password")
		if err := s.c.Login(a.Username, a.Password); err != nil {
			return authError(err, "login failed")
		}
	case OAuthAuth:
		s.c.Timeout = oauthTimeout
		s.logger.WithField("user", a.Username).Info("Authenticating with XOAUTH2")
		if err := s.c.Authenticate(newXOAuth2Client(a.Username, a.AccessToken)); err != nil {
			return authError(err, "XOAUTH2 exchange failed")
		}
	default:
		return apperr.New(apperr.CodeValidation, "unsupported auth method %T", auth)
	}
	return nil
}

// authError classifies an authentication failure: transport timeouts are
// network failures, everything else is a credential problem.
func authError(err error, msg string) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return apperr.Wrap(apperr.CodeNetwork, err, "%s: timed out", msg)
	}
	return apperr.Wrap(apperr.CodeAuth, err, "%s", msg)
}

// SelectFolder selects a mailbox and returns its message count.
func (s *Session) SelectFolder(name string) (uint32, error) {
	mbox, err := s.c.Select(name, false)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeNetwork, err, "failed to select folder %s", name)
	}
	s.logger.WithFields(logrus.Fields{"folder": name, "messages": mbox.Messages}).Info("Folder selected")
	return mbox.Messages, nil
}

// FetchUIDs enumerates message UIDs for a range expression such as "501:*"
// or "1:*". The result is sorted ascending.
func (s *Session) FetchUIDs(rng string) ([]uint32, error) {
	seqSet, err := imap.ParseSeqSet(rng)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "invalid UID range %q", rng)
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, []imap.FetchItem{imap.FetchUid}, messages)
	}()

	var uids []uint32
	for msg := range messages {
		if msg.Uid != 0 {
			uids = append(uids, msg.Uid)
		}
	}
	if err := <-done; err != nil {
		return nil, apperr.Wrap(apperr.CodeNetwork, err, "failed to fetch UIDs for range %q", rng)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchRaw downloads the full RFC 822 content of one message by UID.
func (s *Session) FetchRaw(uid uint32) ([]byte, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	for msg := range messages {
		literal := msg.GetBody(section)
		if literal == nil {
			continue
		}
		body, err := io.ReadAll(literal)
		if err != nil {
			s.logger.WithError(err).WithField("uid", uid).Error("Error reading message literal")
			continue
		}
		raw = body
	}
	if err := <-done; err != nil {
		return nil, apperr.Wrap(apperr.CodeNetwork, err, "failed to fetch message UID %d", uid)
	}
	if raw == nil {
		return nil, apperr.New(apperr.CodeNotFound, "message UID %d not found", uid)
	}

	return raw, nil
}

// Logout ends the session.
func (s *Session) Logout() error {
	if err := s.c.Logout(); err != nil {
		return apperr.Wrap(apperr.CodeNetwork, err, "logout failed")
	}
	return nil
}
