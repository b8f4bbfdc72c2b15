package project

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/pkg/types"
)

// Event types on a project timeline.
const (
	EventMilestone = "milestone"
	EventThread    = "thread"
	EventMessage   = "message"
)

// TimelineEvent is one entry on a project timeline. A thread event carries
// all of its member messages, newest first, and is dated by the newest one.
type TimelineEvent struct {
	Type      string           `json:"type"`
	Date      time.Time        `json:"date"`
	ThreadID  string           `json:"thread_id,omitempty"`
	Messages  []types.Message  `json:"messages,omitempty"`
	Milestone *types.Milestone `json:"milestone,omitempty"`
}

// Timeline assembles project timelines from stored messages and milestones.
type Timeline struct {
	store  *store.Store
	logger *logrus.Logger
}

func NewTimeline(st *store.Store, logger *logrus.Logger) *Timeline {
	return &Timeline{store: st, logger: logger}
}

// Build returns the project's events sorted newest first. Messages carrying
// a thread key collapse into one thread event per key; only messages without
// a key appear as plain message events. Equal dates keep their relative
// order.
func (t *Timeline) Build(projectID int64) ([]TimelineEvent, error) {
	messages, err := t.store.ListMessagesByProject(projectID)
	if err != nil {
		return nil, err
	}
	milestones, err := t.store.ListMilestones(projectID)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		if !messages[i].HasAttachments {
			continue
		}
		atts, err := t.store.ListAttachmentsByMessage(messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Attachments = atts
	}

	// messages arrive newest first, so a thread event is created at its
	// newest member's position and dated by it.
	var events []TimelineEvent
	emitted := make(map[string]int)
	for _, msg := range messages {
		if msg.ThreadID == "" {
			events = append(events, TimelineEvent{
				Type:     EventMessage,
				Date:     msg.Date,
				Messages: []types.Message{msg},
			})
			continue
		}
		if idx, ok := emitted[msg.ThreadID]; ok {
			events[idx].Messages = append(events[idx].Messages, msg)
			continue
		}
		emitted[msg.ThreadID] = len(events)
		events = append(events, TimelineEvent{
			Type:     EventThread,
			Date:     msg.Date,
			ThreadID: msg.ThreadID,
			Messages: []types.Message{msg},
		})
	}

	for i := range milestones {
		m := milestones[i]
		events = append(events, TimelineEvent{
			Type:      EventMilestone,
			Date:      m.Date,
			Milestone: &m,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.After(events[j].Date)
	})

	t.logger.WithFields(logrus.Fields{
		"project_id": projectID,
		"events":     len(events),
	}).Debug("Timeline assembled")
	return events, nil
}
