// Package transfer owns the download state machine: transfer records, the
// scratch file each one assembles into, chunk verification and positional
// writes, and the terminal sweep that evicts old finished transfers.
//
// The manager delegates chunk bookkeeping (received set, retry ledger,
// arrival and retry timers) to pkg/tracker and consumes its events. It never
// talks to the network itself; the hub calls in with parsed protocol
// messages and a Notifier carries retry requests back out.
package transfer

import (
	"sync"
	"time"

	"github.com/marmos91/filepull/pkg/tracker"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal transfers are never
// re-opened.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value. Used to validate list
// filters coming from the control plane.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TransferError describes why a transfer failed.
type TransferError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Transfer is one file-pull operation. All mutable fields are guarded by mu;
// the manager is the only writer.
type Transfer struct {
	mu sync.Mutex

	id       string
	clientID string
	filePath string

	status         Status
	fileSize       int64
	totalChunks    int
	fileChecksum   string
	chunksReceived int
	bytesReceived  int64

	scratch   *scratchFile
	finalPath string
	ackTimer  tracker.Timer

	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time

	// retried preserves the tracker's failure ledger once the tracker
	// record is cleaned up, so the status API keeps reporting it for
	// terminal transfers.
	retried []tracker.LedgerEntry

	transferErr *TransferError
}

// stopAckTimerLocked disarms the acknowledgement deadline. Caller holds t.mu.
func (t *Transfer) stopAckTimerLocked() {
	if t.ackTimer != nil {
		t.ackTimer.Stop()
		t.ackTimer = nil
	}
}

// Progress is the per-transfer progress block exposed by the status API.
type Progress struct {
	ChunksReceived int                   `json:"chunksReceived"`
	TotalChunks    int                   `json:"totalChunks"`
	Percentage     int                   `json:"percentage"`
	BytesReceived  int64                 `json:"bytesReceived"`
	RetriedChunks  []tracker.LedgerEntry `json:"retriedChunks"`
}

// Snapshot is a read-only view of a transfer for the control plane.
type Snapshot struct {
	RequestID    string         `json:"requestId"`
	ClientID     string         `json:"clientId"`
	FilePath     string         `json:"filePath"`
	Status       Status         `json:"status"`
	FileSize     int64          `json:"fileSize"`
	FileChecksum string         `json:"fileChecksum,omitempty"`
	Progress     Progress       `json:"progress"`
	OutputPath   string         `json:"outputPath,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	Duration     string         `json:"duration,omitempty"`
	Error        *TransferError `json:"error,omitempty"`
}

// snapshotLocked builds a Snapshot. Caller holds t.mu; retried is the ledger
// from the tracker (nil once the tracker record is cleaned up).
func (t *Transfer) snapshotLocked(retried []tracker.LedgerEntry) *Snapshot {
	percentage := 0
	if t.totalChunks > 0 {
		percentage = 100 * t.chunksReceived / t.totalChunks
	}
	if retried == nil {
		retried = []tracker.LedgerEntry{}
	}

	snap := &Snapshot{
		RequestID:    t.id,
		ClientID:     t.clientID,
		FilePath:     t.filePath,
		Status:       t.status,
		FileSize:     t.fileSize,
		FileChecksum: t.fileChecksum,
		Progress: Progress{
			ChunksReceived: t.chunksReceived,
			TotalChunks:    t.totalChunks,
			Percentage:     percentage,
			BytesReceived:  t.bytesReceived,
			RetriedChunks:  retried,
		},
		OutputPath: t.finalPath,
		StartedAt:  t.createdAt,
		Error:      t.transferErr,
	}
	if t.completedAt != nil {
		completed := *t.completedAt
		snap.CompletedAt = &completed
		snap.Duration = completed.Sub(t.createdAt).String()
	}
	return snap
}
