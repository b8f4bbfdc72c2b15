// Package project groups messages into projects and assembles their
// timelines.
package project

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/pkg/types"
)

// subjectPrefixes are reply and forward markers stripped during subject
// normalization, Chinese mail client variants included.
var subjectPrefixes = []string{"Re:", "RE:", "Fwd:", "FWD:", "Fw:", "回复:", "转发:"}

// subjectMatchWindow bounds how far back subject similarity may reach.
const subjectMatchWindow = 30 * 24 * time.Hour

// maxProjectNameBytes caps the derived project name length in bytes.
const maxProjectNameBytes = 100

// Classifier assigns messages to projects.
type Classifier struct {
	store  *store.Store
	logger *logrus.Logger
}

func NewClassifier(st *store.Store, logger *logrus.Logger) *Classifier {
	return &Classifier{store: st, logger: logger}
}

// NormalizeSubject strips reply and forward prefixes repeatedly, trims
// whitespace, and truncates the result to a bounded byte length without
// splitting a UTF-8 sequence.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := false
		for _, prefix := range subjectPrefixes {
			if strings.HasPrefix(s, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return truncateUTF8(s, maxProjectNameBytes)
}

func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Classify resolves the project for one stored message and assigns it,
// creating a new project when neither its thread nor its subject matches an
// existing one. Returns the project id. Already-assigned messages are left
// alone.
func (c *Classifier) Classify(msg *types.Message) (int64, error) {
	if msg.ProjectID != nil {
		return *msg.ProjectID, nil
	}

	projectID, matched, err := c.resolve(msg)
	if err != nil {
		return 0, err
	}
	if !matched {
		projectID, err = c.store.CreateProject(projectName(msg), "", nil)
		if err != nil {
			return 0, err
		}
	}

	if err := c.store.AssignMessageToProject(msg.ID, projectID); err != nil {
		return 0, err
	}
	if err := c.store.RecountProject(projectID); err != nil {
		return 0, err
	}

	c.logger.WithFields(logrus.Fields{
		"message_id": msg.MessageID,
		"project_id": projectID,
		"matched":    matched,
	}).Debug("Message classified")
	return projectID, nil
}

// projectName derives a new project's name from the normalized subject,
// falling back to the sender for subjectless messages.
func projectName(msg *types.Message) string {
	if name := NormalizeSubject(msg.Subject); name != "" && name != "(No Subject)" {
		return name
	}
	sender := msg.Sender
	if sender == "" {
		sender = "Unknown"
	}
	return "Project from " + sender
}

// resolve finds an existing project: the thread an earlier message joined
// wins, then a recent subject match.
func (c *Classifier) resolve(msg *types.Message) (int64, bool, error) {
	if msg.ThreadID != "" {
		id, ok, err := c.store.FindProjectByThread(msg.ThreadID)
		if err != nil || ok {
			return id, ok, err
		}
	}

	subject := NormalizeSubject(msg.Subject)
	if subject == "" || subject == "(No Subject)" {
		return 0, false, nil
	}
	since := msg.Date.Add(-subjectMatchWindow)
	return c.store.FindRecentProjectBySubject(subject, since)
}

// ClassifyAllUnassigned replays classification over every stored message
// that has no project, oldest first. Returns how many were assigned.
func (c *Classifier) ClassifyAllUnassigned() (int, error) {
	messages, err := c.store.ListUnassignedMessages()
	if err != nil {
		return 0, err
	}

	assigned := 0
	for i := range messages {
		if _, err := c.Classify(&messages[i]); err != nil {
			c.logger.WithError(err).WithField("message_id", messages[i].MessageID).
				Warn("Failed to classify message")
			continue
		}
		assigned++
	}
	return assigned, nil
}
