package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanNotifier_Delivers(t *testing.T) {
	n := NewChanNotifier(4)

	n.Notify(SyncProgress{AccountID: 1, Status: StatusStarting})
	n.Notify(SyncProgress{AccountID: 1, Current: 1, Total: 2, Status: StatusSyncing})

	first := <-n.C()
	require.Equal(t, StatusStarting, first.Status)
	second := <-n.C()
	assert.Equal(t, 1, second.Current)
	assert.Equal(t, 2, second.Total)
}

func TestChanNotifier_DropsWhenFull(t *testing.T) {
	n := NewChanNotifier(1)

	n.Notify(SyncProgress{Current: 1, Status: StatusSyncing})
	// Buffer is full; this must not block.
	n.Notify(SyncProgress{Current: 2, Status: StatusSyncing})

	got := <-n.C()
	assert.Equal(t, 1, got.Current)

	select {
	case extra := <-n.C():
		t.Fatalf("expected dropped event, got %+v", extra)
	default:
	}
}
