package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/pkg/types"
)

func TestTimeline_Build(t *testing.T) {
	st := newTestStore(t)
	accountID := addTestAccount(t, st)

	projectID, err := st.CreateProject("Budget Planning", "", nil)
	require.NoError(t, err)

	day := func(d int) time.Time {
		return time.Date(2025, 6, d, 12, 0, 0, 0, time.UTC)
	}

	// A two-message thread spanning day 2 and day 5, a standalone message
	// on day 1, and a milestone on day 3.
	for _, m := range []struct {
		id, thread string
		date       time.Time
	}{
		{"t1-a", "thread-1", day(2)},
		{"t1-b", "thread-1", day(5)},
		{"solo", "", day(1)},
	} {
		msg := addTestMessage(t, st, accountID, m.id, m.thread, "Budget Planning", m.date)
		require.NoError(t, st.AssignMessageToProject(msg.ID, projectID))
	}

	_, err = st.CreateMilestone(&types.Milestone{
		ProjectID: projectID,
		Type:      "deadline",
		Title:     "Draft due",
		Date:      day(3),
	})
	require.NoError(t, err)

	timeline := NewTimeline(st, testLogger())
	events, err := timeline.Build(projectID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Thread dated by its newest member (day 5), then milestone (day 3),
	// then the standalone message (day 1).
	assert.Equal(t, EventThread, events[0].Type)
	assert.Equal(t, day(5), events[0].Date.UTC())
	require.Len(t, events[0].Messages, 2)
	assert.Equal(t, "t1-b", events[0].Messages[0].MessageID)
	assert.Equal(t, "t1-a", events[0].Messages[1].MessageID)

	assert.Equal(t, EventMilestone, events[1].Type)
	assert.Equal(t, "Draft due", events[1].Milestone.Title)

	assert.Equal(t, EventMessage, events[2].Type)
	assert.Equal(t, "solo", events[2].Messages[0].MessageID)
}

func TestTimeline_SingleMessageThreadIsStillAThread(t *testing.T) {
	st := newTestStore(t)
	accountID := addTestAccount(t, st)

	projectID, err := st.CreateProject("Budget Planning", "", nil)
	require.NoError(t, err)

	date := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := addTestMessage(t, st, accountID, "m1", "thread-1", "Budget Planning", date)
	require.NoError(t, st.AssignMessageToProject(msg.ID, projectID))

	timeline := NewTimeline(st, testLogger())
	events, err := timeline.Build(projectID)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, EventThread, events[0].Type)
	assert.Equal(t, "thread-1", events[0].ThreadID)
	require.Len(t, events[0].Messages, 1)
}

func TestTimeline_AttachesMessageAttachments(t *testing.T) {
	st := newTestStore(t)
	accountID := addTestAccount(t, st)

	projectID, err := st.CreateProject("Budget Planning", "", nil)
	require.NoError(t, err)

	date := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := &types.Message{
		MessageID:      "m1",
		AccountID:      accountID,
		ThreadID:       "thread-1",
		Subject:        "Budget Planning",
		Date:           date,
		HasAttachments: true,
	}
	id, _, err := st.SaveMessage(msg)
	require.NoError(t, err)
	require.NoError(t, st.AssignMessageToProject(id, projectID))

	_, err = st.SaveAttachment(&types.Attachment{
		MessageID:   id,
		Filename:    "report.pdf",
		FilePath:    "1/1/report.pdf",
		IndexStatus: "pending",
	})
	require.NoError(t, err)

	timeline := NewTimeline(st, testLogger())
	events, err := timeline.Build(projectID)
	require.NoError(t, err)

	require.Len(t, events, 1)
	require.Len(t, events[0].Messages, 1)
	require.Len(t, events[0].Messages[0].Attachments, 1)
	assert.Equal(t, "report.pdf", events[0].Messages[0].Attachments[0].Filename)
}

func TestTimeline_EmptyProject(t *testing.T) {
	st := newTestStore(t)

	projectID, err := st.CreateProject("Empty", "", nil)
	require.NoError(t, err)

	timeline := NewTimeline(st, testLogger())
	events, err := timeline.Build(projectID)
	require.NoError(t, err)
	assert.Empty(t, events)
}
