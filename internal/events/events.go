// Package events carries sync progress out of the core without blocking it.
package events

import "github.com/sirupsen/logrus"

// Status is the lifecycle phase of a sync run.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SyncProgress is one progress report for an account's sync run.
type SyncProgress struct {
	AccountID int64  `json:"account_id"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
}

// Notifier receives progress reports. Implementations must not block: a slow
// consumer loses events, it never stalls the sync.
type Notifier interface {
	Notify(p SyncProgress)
}

// ChanNotifier forwards progress onto a channel, dropping reports the
// receiver is not ready for.
type ChanNotifier struct {
	ch chan SyncProgress
}

func NewChanNotifier(buffer int) *ChanNotifier {
	return &ChanNotifier{ch: make(chan SyncProgress, buffer)}
}

// C is the receive side.
func (n *ChanNotifier) C() <-chan SyncProgress {
	return n.ch
}

func (n *ChanNotifier) Notify(p SyncProgress) {
	select {
	case n.ch <- p:
	default:
	}
}

// LogNotifier writes progress to the structured log.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n *LogNotifier) Notify(p SyncProgress) {
	n.Logger.WithFields(logrus.Fields{
		"account_id": p.AccountID,
		"current":    p.Current,
		"total":      p.Total,
		"status":     p.Status,
	}).Info("Sync progress")
}

// NopNotifier discards progress.
type NopNotifier struct{}

func (NopNotifier) Notify(SyncProgress) {}
