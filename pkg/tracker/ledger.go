package tracker

import "time"

// ChunkStatus is the state of one chunk in the failure ledger.
type ChunkStatus string

const (
	// StatusPending means the chunk has not been received yet.
	StatusPending ChunkStatus = "pending"
	// StatusFailed means the last attempt for the chunk failed.
	StatusFailed ChunkStatus = "failed"
	// StatusSucceeded means the chunk was eventually received and verified.
	StatusSucceeded ChunkStatus = "succeeded"
)

// LedgerEntry records the retry history of one chunk. Entries only exist
// for chunks that failed at least once; the control plane exposes them as
// the transfer's "retried chunks".
type LedgerEntry struct {
	ChunkIndex    int         `json:"chunkIndex"`
	Attempts      int         `json:"attempts"`
	LastAttemptAt time.Time   `json:"lastAttemptAt"`
	Status        ChunkStatus `json:"status"`
	Reason        string      `json:"reason,omitempty"`
}

// Snapshot is a read-only view of a transfer's chunk bookkeeping.
type Snapshot struct {
	TotalChunks   int
	Received      int
	ExpectedNext  int
	Missing       []int
	RetriedChunks []LedgerEntry
	CreatedAt     time.Time
	LastActivity  time.Time
}
