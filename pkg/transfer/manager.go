package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/checksum"
	"github.com/marmos91/filepull/pkg/metrics"
	"github.com/marmos91/filepull/pkg/protocol"
	"github.com/marmos91/filepull/pkg/tracker"
)

// DefaultRetention is how long terminal transfers stay queryable before the
// sweeper evicts them.
const DefaultRetention = 24 * time.Hour

// DefaultSweepInterval is how often the sweeper scans for evictable
// transfers.
const DefaultSweepInterval = 1 * time.Hour

// scratchDirName is the subdirectory of the download dir holding in-flight
// scratch files.
const scratchDirName = ".tmp"

var (
	// ErrNotFound means no transfer exists under the given request id.
	ErrNotFound = errors.New("transfer not found")

	// ErrConflict means an explicit request id is already taken.
	ErrConflict = errors.New("transfer id already exists")

	// ErrActiveTransfer means the client already has a non-terminal
	// transfer.
	ErrActiveTransfer = errors.New("client already has an active transfer")

	// ErrTerminal means the operation is not legal on a terminal transfer.
	ErrTerminal = errors.New("transfer already in a terminal status")

	// ErrChunkOutOfRange means a FILE_CHUNK's index or declared chunk count
	// disagrees with the acknowledged transfer geometry. The frame is
	// rejected before anything touches the scratch file.
	ErrChunkOutOfRange = errors.New("chunk outside the acknowledged range")
)

// Notifier carries retry requests from the manager back to the endpoint.
// Sends are best-effort: a disconnected endpoint is not an error, the
// chunk's arrival timer still governs the wait.
type Notifier interface {
	NotifyRetry(clientID, requestID string, chunkIndex, attempt int, reason string)
}

// Config holds configuration for the Manager.
type Config struct {
	// DownloadDir is where completed files land; scratch files live in its
	// .tmp subdirectory.
	DownloadDir string

	// RemoveFailedScratch deletes the scratch file of a failed transfer
	// instead of leaving it on disk for inspection. Scratch files are always
	// deleted on cancel and on successful completion.
	RemoveFailedScratch bool

	// AckTimeout is how long a pending transfer waits for its DOWNLOAD_ACK
	// before failing and releasing the client's active slot.
	// Default: the tracker arrival timeout.
	AckTimeout time.Duration

	// Retention is how long terminal transfers stay queryable.
	// Default: 24h
	Retention time.Duration

	// SweepInterval is how often the sweeper runs. Default: 1h
	SweepInterval time.Duration

	// Tracker tunes per-chunk retry and timeout behavior.
	Tracker tracker.Config
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig(downloadDir string) Config {
	return Config{
		DownloadDir:   downloadDir,
		Retention:     DefaultRetention,
		SweepInterval: DefaultSweepInterval,
		Tracker:       tracker.DefaultConfig(),
	}
}

// ChunkResult reports what HandleChunk did with a FILE_CHUNK.
type ChunkResult struct {
	// Accepted means the chunk verified and is in the received set.
	Accepted bool

	// FirstTime is false for a replay of an already-received index.
	FirstTime bool

	// Complete means every chunk of the transfer has now been received.
	Complete bool

	// RetryScheduled means the chunk failed verification or writing and a
	// retry will be requested after backoff.
	RetryScheduled bool

	// RetryReason is the ledger reason when RetryScheduled is set.
	RetryReason string

	// Attempts is the failed-attempt count so far for this chunk.
	Attempts int

	// Discarded means the chunk arrived for a terminal, cancelled, or
	// not-yet-acknowledged transfer and was dropped.
	Discarded bool
}

// CompleteResult reports what HandleComplete did with a DOWNLOAD_COMPLETE.
type CompleteResult struct {
	// Completed means the file verified and was renamed into place.
	Completed bool

	// OutputPath is the final file path when Completed is set.
	OutputPath string

	// MissingChunks lists chunks still outstanding; retries have been
	// scheduled for each and the transfer stays in progress.
	MissingChunks []int

	// Discarded means the frame arrived for a terminal or
	// not-yet-acknowledged transfer.
	Discarded bool
}

// Filter selects transfers for List.
type Filter struct {
	Status   Status
	ClientID string
	Limit    int
	Offset   int
}

// Manager owns every transfer record and drives the download state machine.
// It implements tracker.Events so timer-driven retries and failures flow
// back through it.
type Manager struct {
	cfg     Config
	clock   tracker.Clock
	tracker *tracker.Tracker
	metrics metrics.TransferMetrics

	mu        sync.RWMutex
	transfers map[string]*Transfer
	notifier  Notifier
}

// New creates a Manager and prepares the download and scratch directories.
// A nil clock uses the real time package; met may be nil to disable metrics.
func New(cfg Config, clock tracker.Clock, met metrics.TransferMetrics) (*Manager, error) {
	if cfg.DownloadDir == "" {
		return nil, fmt.Errorf("download directory is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Tracker.MaxAttempts <= 0 {
		cfg.Tracker.MaxAttempts = tracker.DefaultMaxAttempts
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = cfg.Tracker.ArrivalTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = tracker.DefaultArrivalTimeout
	}
	if clock == nil {
		clock = tracker.NewRealClock()
	}

	if err := os.MkdirAll(filepath.Join(cfg.DownloadDir, scratchDirName), 0o700); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		clock:     clock,
		metrics:   met,
		transfers: make(map[string]*Transfer),
	}
	m.tracker = tracker.New(cfg.Tracker, clock, m)
	return m, nil
}

// SetNotifier wires the hub in after construction. Retries fired before a
// notifier is set are dropped.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Create registers a new pending transfer for the given endpoint and remote
// path. An empty requestID generates a fresh UUIDv4; an explicit one must be
// a valid UUIDv4 not already in use. At most one non-terminal transfer per
// client is allowed.
func (m *Manager) Create(clientID, filePath, requestID string) (*Snapshot, error) {
	if clientID == "" {
		return nil, fmt.Errorf("clientId is required")
	}
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	if requestID == "" {
		requestID = uuid.NewString()
	} else if !protocol.IsValidRequestID(requestID) {
		return nil, fmt.Errorf("requestId %q is not a valid UUIDv4", requestID)
	}

	now := m.clock.Now()
	t := &Transfer{
		id:        requestID,
		clientID:  clientID,
		filePath:  filePath,
		status:    StatusPending,
		scratch:   newScratchFile(filepath.Join(m.cfg.DownloadDir, scratchDirName, requestID)),
		createdAt: now,
		updatedAt: now,
	}

	m.mu.Lock()
	if _, exists := m.transfers[requestID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConflict, requestID)
	}
	for _, other := range m.transfers {
		if other.clientID != clientID {
			continue
		}
		other.mu.Lock()
		active := !other.status.Terminal()
		other.mu.Unlock()
		if active {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrActiveTransfer, clientID)
		}
	}
	m.transfers[requestID] = t
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordTransferCreated()
	}
	m.recordActive()

	logger.Info("transfer created",
		logger.KeyTransferID, requestID,
		logger.KeyClientID, clientID,
		logger.KeyFilePath, filePath)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ackTimer = m.clock.AfterFunc(m.cfg.AckTimeout, func() {
		m.ackTimedOut(requestID)
	})
	return t.snapshotLocked(nil), nil
}

// ackTimedOut fails a transfer whose DOWNLOAD_REQUEST was never acknowledged
// so the client's active slot does not stay occupied indefinitely.
func (m *Manager) ackTimedOut(requestID string) {
	t := m.lookup(requestID)
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return
	}
	m.failLocked(t, protocol.CodeClientNotConnected,
		"download request was not acknowledged in time", nil)
	duration := t.updatedAt.Sub(t.createdAt)
	t.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordTransferFinished(string(StatusFailed), duration)
	}
	m.recordActive()
}

// HandleAck applies a DOWNLOAD_ACK. A successful ack moves the transfer to
// in_progress and initializes chunk tracking; a refusal is immediately
// terminal.
func (m *Manager) HandleAck(ack *protocol.DownloadAck) error {
	t := m.lookup(ack.RequestID)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, ack.RequestID)
	}

	t.mu.Lock()
	if t.status != StatusPending {
		status := t.status
		t.mu.Unlock()
		logger.Warn("ignoring acknowledgement for non-pending transfer",
			logger.KeyTransferID, ack.RequestID,
			logger.KeyStatus, string(status))
		return nil
	}

	if !ack.Success {
		code := protocol.CodeInternalServerError
		message := "download refused by endpoint"
		if ack.Error != nil {
			code = ack.Error.Code
			message = ack.Error.Message
		}
		m.failLocked(t, code, message, nil)
		duration := t.updatedAt.Sub(t.createdAt)
		t.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordTransferFinished(string(StatusFailed), duration)
		}
		m.recordActive()
		return nil
	}

	if want := protocol.TotalChunksFor(ack.FileSize); ack.TotalChunks != want {
		m.failLocked(t, protocol.CodeInvalidRequest,
			"declared chunk count does not match file size",
			map[string]any{"fileSize": ack.FileSize, "totalChunks": ack.TotalChunks})
		duration := t.updatedAt.Sub(t.createdAt)
		t.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordTransferFinished(string(StatusFailed), duration)
		}
		m.recordActive()
		return nil
	}

	t.stopAckTimerLocked()
	t.fileSize = ack.FileSize
	t.totalChunks = ack.TotalChunks
	t.fileChecksum = strings.ToLower(ack.FileChecksum)
	t.status = StatusInProgress
	t.updatedAt = m.clock.Now()
	t.mu.Unlock()

	if err := m.tracker.Init(ack.RequestID, ack.TotalChunks); err != nil {
		return fmt.Errorf("init chunk tracking: %w", err)
	}

	logger.Info("download acknowledged",
		logger.KeyTransferID, ack.RequestID,
		logger.KeyClientID, t.clientID,
		"file_size", ack.FileSize,
		"total_chunks", ack.TotalChunks)
	return nil
}

// HandleChunk verifies and persists one FILE_CHUNK. A chunk whose index or
// declared chunk count falls outside the acknowledged geometry is rejected
// with ErrChunkOutOfRange and has no effect. Verification failures (bad
// base64, size or checksum mismatch, write errors) are recorded against the
// chunk and retried with backoff; the transfer fails once a chunk exhausts
// its attempts.
func (m *Manager) HandleChunk(c *protocol.FileChunk) (*ChunkResult, error) {
	t := m.lookup(c.RequestID)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c.RequestID)
	}

	t.mu.Lock()
	status := t.status
	totalChunks := t.totalChunks
	t.mu.Unlock()
	if status != StatusInProgress {
		logger.Warn("discarding chunk",
			logger.KeyTransferID, c.RequestID,
			logger.KeyChunkIndex, c.ChunkIndex,
			logger.KeyStatus, string(status))
		return &ChunkResult{Discarded: true}, nil
	}

	// The acknowledged chunk count bounds every scratch write; a frame
	// declaring its own geometry must not move the write window.
	if c.ChunkIndex >= totalChunks || c.TotalChunks != totalChunks {
		return nil, fmt.Errorf("%w: chunk %d of %d, transfer has %d",
			ErrChunkOutOfRange, c.ChunkIndex, c.TotalChunks, totalChunks)
	}

	if m.tracker.IsReceived(c.RequestID, c.ChunkIndex) {
		logger.Debug("duplicate chunk ignored",
			logger.KeyTransferID, c.RequestID,
			logger.KeyChunkIndex, c.ChunkIndex)
		return &ChunkResult{Accepted: true}, nil
	}

	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return m.chunkFailed(t, c.ChunkIndex, protocol.ReasonChecksumFailed, "invalid base64 payload")
	}
	if c.Size != len(data) {
		return m.chunkFailed(t, c.ChunkIndex, protocol.ReasonChecksumFailed, "declared size does not match payload")
	}
	if !checksum.Verify(data, c.Checksum) {
		return m.chunkFailed(t, c.ChunkIndex, protocol.ReasonChecksumFailed, "chunk checksum mismatch")
	}

	start := time.Now()
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return &ChunkResult{Discarded: true}, nil
	}
	writeErr := t.scratch.WriteAt(data, int64(c.ChunkIndex)*protocol.ChunkSize)
	t.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordChunkWrite(time.Since(start))
	}
	if writeErr != nil {
		logger.Error("scratch write failed",
			logger.KeyTransferID, c.RequestID,
			logger.KeyChunkIndex, c.ChunkIndex,
			logger.KeyError, writeErr.Error())
		return m.chunkFailed(t, c.ChunkIndex, protocol.ReasonWriteError, writeErr.Error())
	}

	first, err := m.tracker.MarkReceived(c.RequestID, c.ChunkIndex)
	if err != nil {
		// Tracking was cleaned up while we were writing (cancel raced in).
		return &ChunkResult{Discarded: true}, nil
	}

	t.mu.Lock()
	if first {
		t.chunksReceived++
		t.bytesReceived += int64(len(data))
	}
	t.updatedAt = m.clock.Now()
	t.mu.Unlock()

	if first && m.metrics != nil {
		m.metrics.RecordChunkReceived(len(data))
	}

	return &ChunkResult{
		Accepted:  true,
		FirstTime: first,
		Complete:  m.tracker.IsComplete(c.RequestID),
	}, nil
}

// chunkFailed records a failed chunk attempt. The tracker schedules the
// retry, or emits max-retries-exceeded back into the manager which fails
// the transfer.
func (m *Manager) chunkFailed(t *Transfer, chunkIndex int, reason, detail string) (*ChunkResult, error) {
	logger.Warn("chunk attempt failed",
		logger.KeyTransferID, t.id,
		logger.KeyChunkIndex, chunkIndex,
		logger.KeyReason, reason,
		logger.KeyError, detail)

	attempts, err := m.tracker.MarkFailed(t.id, chunkIndex, reason)
	if err != nil {
		return &ChunkResult{Discarded: true}, nil
	}

	return &ChunkResult{
		RetryScheduled: attempts < m.cfg.Tracker.MaxAttempts,
		RetryReason:    reason,
		Attempts:       attempts,
	}, nil
}

// HandleComplete applies a DOWNLOAD_COMPLETE. With chunks still missing it
// schedules a retry per missing index and leaves the transfer in progress;
// otherwise it verifies the whole file and renames it into place.
func (m *Manager) HandleComplete(comp *protocol.DownloadComplete) (*CompleteResult, error) {
	t := m.lookup(comp.RequestID)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, comp.RequestID)
	}

	t.mu.Lock()
	status := t.status
	t.mu.Unlock()
	if status != StatusInProgress {
		logger.Warn("discarding completion",
			logger.KeyTransferID, comp.RequestID,
			logger.KeyStatus, string(status))
		return &CompleteResult{Discarded: true}, nil
	}

	missing := m.tracker.Missing(comp.RequestID)
	if len(missing) > 0 {
		logger.Warn("completion received with chunks outstanding",
			logger.KeyTransferID, comp.RequestID,
			"missing_chunks", len(missing))
		for _, idx := range missing {
			if _, err := m.tracker.MarkFailed(comp.RequestID, idx, protocol.ReasonMissingAtComplete); err != nil {
				break
			}
			t.mu.Lock()
			terminal := t.status.Terminal()
			t.mu.Unlock()
			if terminal {
				break
			}
		}
		return &CompleteResult{MissingChunks: missing}, nil
	}

	t.mu.Lock()
	if err := t.scratch.Close(); err != nil {
		m.failLocked(t, protocol.CodeInternalServerError,
			fmt.Sprintf("close scratch file: %v", err), nil)
		duration := t.updatedAt.Sub(t.createdAt)
		t.mu.Unlock()
		m.tracker.Cleanup(comp.RequestID)
		if m.metrics != nil {
			m.metrics.RecordTransferFinished(string(StatusFailed), duration)
		}
		m.recordActive()
		return &CompleteResult{}, nil
	}
	scratchPath := t.scratch.path
	declared := t.fileChecksum
	t.mu.Unlock()
	if comp.FileChecksum != "" {
		declared = strings.ToLower(comp.FileChecksum)
	}

	actual, err := checksum.HashFile(scratchPath)
	if err != nil {
		m.Fail(comp.RequestID, protocol.CodeInternalServerError,
			fmt.Sprintf("hash assembled file: %v", err), nil)
		return &CompleteResult{}, nil
	}
	if actual != declared {
		m.Fail(comp.RequestID, protocol.CodeChunkChecksumFailed,
			"file checksum mismatch",
			map[string]any{"expected": declared, "actual": actual})
		return &CompleteResult{}, nil
	}

	now := m.clock.Now()
	finalPath := filepath.Join(m.cfg.DownloadDir, finalName(t.clientID, t.filePath, now))

	// The rename and the completed transition happen under the same lock
	// hold, so a concurrent cancel either lands before (and wins, keeping
	// the transfer cancelled) or blocks until the transfer is terminal.
	t.mu.Lock()
	if t.status.Terminal() {
		status := t.status
		t.mu.Unlock()
		logger.Warn("discarding completion",
			logger.KeyTransferID, comp.RequestID,
			logger.KeyStatus, string(status))
		return &CompleteResult{Discarded: true}, nil
	}
	if err := os.Rename(scratchPath, finalPath); err != nil {
		m.failLocked(t, protocol.CodeInternalServerError,
			fmt.Sprintf("rename to final path: %v", err), nil)
		duration := t.updatedAt.Sub(t.createdAt)
		t.mu.Unlock()
		m.tracker.Cleanup(comp.RequestID)
		if m.metrics != nil {
			m.metrics.RecordTransferFinished(string(StatusFailed), duration)
		}
		m.recordActive()
		return &CompleteResult{}, nil
	}
	t.status = StatusCompleted
	t.finalPath = finalPath
	t.completedAt = &now
	t.updatedAt = now
	m.captureLedgerLocked(t)
	duration := now.Sub(t.createdAt)
	t.mu.Unlock()

	m.tracker.Cleanup(comp.RequestID)
	if m.metrics != nil {
		m.metrics.RecordTransferFinished(string(StatusCompleted), duration)
	}
	m.recordActive()

	logger.Info("transfer completed",
		logger.KeyTransferID, comp.RequestID,
		logger.KeyClientID, t.clientID,
		logger.KeyFilePath, finalPath,
		logger.KeyDurationMs, float64(duration.Milliseconds()))

	return &CompleteResult{Completed: true, OutputPath: finalPath}, nil
}

// Cancel transitions a pending or in-progress transfer to cancelled and
// deletes its scratch file. Terminal transfers yield ErrTerminal.
func (m *Manager) Cancel(requestID, reason string) error {
	t := m.lookup(requestID)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	t.mu.Lock()
	if t.status.Terminal() {
		status := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, requestID, status)
	}
	t.stopAckTimerLocked()
	t.status = StatusCancelled
	now := m.clock.Now()
	t.updatedAt = now
	m.captureLedgerLocked(t)
	if err := t.scratch.Remove(); err != nil {
		logger.Warn("remove scratch file",
			logger.KeyTransferID, requestID,
			logger.KeyError, err.Error())
	}
	duration := now.Sub(t.createdAt)
	t.mu.Unlock()

	m.tracker.Cleanup(requestID)
	if m.metrics != nil {
		m.metrics.RecordTransferFinished(string(StatusCancelled), duration)
	}
	m.recordActive()

	logger.Info("transfer cancelled",
		logger.KeyTransferID, requestID,
		logger.KeyClientID, t.clientID,
		logger.KeyReason, reason)
	return nil
}

// Fail transitions a non-terminal transfer to failed with the given error.
// No-op for unknown ids and transfers already terminal.
func (m *Manager) Fail(requestID, code, message string, details map[string]any) {
	t := m.lookup(requestID)
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return
	}
	m.failLocked(t, code, message, details)
	duration := t.updatedAt.Sub(t.createdAt)
	t.mu.Unlock()

	m.tracker.Cleanup(requestID)
	if m.metrics != nil {
		m.metrics.RecordTransferFinished(string(StatusFailed), duration)
	}
	m.recordActive()
}

// failLocked is the shared failure transition. Caller holds t.mu and is
// responsible for tracker cleanup and metrics afterwards.
func (m *Manager) failLocked(t *Transfer, code, message string, details map[string]any) {
	t.stopAckTimerLocked()
	t.status = StatusFailed
	t.transferErr = &TransferError{Code: code, Message: message, Details: details}
	t.updatedAt = m.clock.Now()
	m.captureLedgerLocked(t)

	if err := t.scratch.Close(); err != nil {
		logger.Warn("close scratch file",
			logger.KeyTransferID, t.id,
			logger.KeyError, err.Error())
	}
	if m.cfg.RemoveFailedScratch {
		if err := t.scratch.Remove(); err != nil {
			logger.Warn("remove scratch file",
				logger.KeyTransferID, t.id,
				logger.KeyError, err.Error())
		}
	}

	logger.Error("transfer failed",
		logger.KeyTransferID, t.id,
		logger.KeyClientID, t.clientID,
		"code", code,
		logger.KeyError, message)
}

// FailForShutdown fails every non-terminal transfer. Called once during
// graceful shutdown, after the hub has stopped accepting messages.
func (m *Manager) FailForShutdown() {
	for _, id := range m.ids() {
		m.Fail(id, protocol.CodeInternalServerError, "shutdown", nil)
	}
}

// ClientFor returns the client id a transfer is bound to.
func (m *Manager) ClientFor(requestID string) (string, bool) {
	t := m.lookup(requestID)
	if t == nil {
		return "", false
	}
	return t.clientID, true
}

// Get returns a snapshot of one transfer.
func (m *Manager) Get(requestID string) (*Snapshot, error) {
	t := m.lookup(requestID)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return m.snapshot(t), nil
}

// List returns snapshots matching the filter, newest-first, with the total
// match count before pagination. A non-positive limit returns everything
// from the offset on.
func (m *Manager) List(f Filter) ([]*Snapshot, int) {
	m.mu.RLock()
	matched := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		if f.ClientID != "" && t.clientID != f.ClientID {
			continue
		}
		if f.Status != "" {
			t.mu.Lock()
			status := t.status
			t.mu.Unlock()
			if status != f.Status {
				continue
			}
		}
		matched = append(matched, t)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].createdAt.After(matched[j].createdAt)
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	snaps := make([]*Snapshot, 0, len(matched))
	for _, t := range matched {
		snaps = append(snaps, m.snapshot(t))
	}
	return snaps, total
}

// ActiveForClient returns the request id of the client's non-terminal
// transfer, if any.
func (m *Manager) ActiveForClient(clientID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, t := range m.transfers {
		if t.clientID != clientID {
			continue
		}
		t.mu.Lock()
		active := !t.status.Terminal()
		t.mu.Unlock()
		if active {
			return id, true
		}
	}
	return "", false
}

// ActiveCount returns the number of in-progress transfers, for the health
// endpoint.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.transfers {
		t.mu.Lock()
		if t.status == StatusInProgress {
			count++
		}
		t.mu.Unlock()
	}
	return count
}

// ArrivalTimeout implements tracker.Events: the awaited chunk never came,
// count it as a failed attempt so the backoff/retry machinery takes over.
func (m *Manager) ArrivalTimeout(transferID string, chunkIndex int) {
	t := m.lookup(transferID)
	if t == nil {
		return
	}
	t.mu.Lock()
	terminal := t.status.Terminal()
	t.mu.Unlock()
	if terminal {
		return
	}

	logger.Warn("chunk arrival timeout",
		logger.KeyTransferID, transferID,
		logger.KeyChunkIndex, chunkIndex)
	_, _ = m.tracker.MarkFailed(transferID, chunkIndex, protocol.ReasonArrivalTimeout)
}

// RetryDue implements tracker.Events: the backoff for a failed chunk has
// elapsed, ask the endpoint to resend it.
func (m *Manager) RetryDue(transferID string, chunkIndex, attempt int, reason string) {
	t := m.lookup(transferID)
	if t == nil {
		return
	}
	t.mu.Lock()
	terminal := t.status.Terminal()
	t.mu.Unlock()
	if terminal {
		return
	}

	if m.metrics != nil {
		m.metrics.RecordChunkRetry(reason)
	}

	m.mu.RLock()
	notifier := m.notifier
	m.mu.RUnlock()
	if notifier != nil {
		notifier.NotifyRetry(t.clientID, transferID, chunkIndex, attempt, reason)
	}

	logger.Info("chunk retry requested",
		logger.KeyTransferID, transferID,
		logger.KeyClientID, t.clientID,
		logger.KeyChunkIndex, chunkIndex,
		logger.KeyAttempt, attempt,
		logger.KeyReason, reason)
}

// MaxRetriesExceeded implements tracker.Events: a chunk exhausted its
// attempts, which fails the whole transfer.
func (m *Manager) MaxRetriesExceeded(transferID string, chunkIndex, attempts int, reason string) {
	m.Fail(transferID, protocol.CodeChunkTransferFailed,
		fmt.Sprintf("chunk %d failed after %d attempts", chunkIndex, attempts),
		map[string]any{"chunkIndex": chunkIndex, "reason": reason})
}

func (m *Manager) lookup(requestID string) *Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transfers[requestID]
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.transfers))
	for id := range m.transfers {
		ids = append(ids, id)
	}
	return ids
}

// snapshot builds a read view, preferring the live tracker ledger and
// falling back to the copy captured at the terminal transition.
func (m *Manager) snapshot(t *Transfer) *Snapshot {
	var retried []tracker.LedgerEntry
	if info, err := m.tracker.RetryInfo(t.id); err == nil {
		retried = info.RetriedChunks
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if retried == nil {
		retried = t.retried
	}
	return t.snapshotLocked(retried)
}

// captureLedgerLocked copies the tracker's ledger onto the transfer before
// tracking is cleaned up. Caller holds t.mu.
func (m *Manager) captureLedgerLocked(t *Transfer) {
	if info, err := m.tracker.RetryInfo(t.id); err == nil {
		t.retried = info.RetriedChunks
	}
}

func (m *Manager) recordActive() {
	if m.metrics == nil {
		return
	}

	m.mu.RLock()
	count := 0
	for _, t := range m.transfers {
		t.mu.Lock()
		if !t.status.Terminal() {
			count++
		}
		t.mu.Unlock()
	}
	m.mu.RUnlock()

	m.metrics.SetActiveTransfers(count)
}
