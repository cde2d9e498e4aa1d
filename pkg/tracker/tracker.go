// Package tracker keeps per-transfer chunk bookkeeping: which chunks have
// arrived, which failed and how often, which chunk is awaited next, and the
// arrival/retry timers that drive the retry protocol.
//
// The tracker owns every timer. Each (transfer, chunk) pair has at most one
// arrival timer and at most one retry timer; every state transition cancels
// the timers it obsoletes. Timer callbacks re-look-up state by id so they
// are safe to race with Cleanup.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Defaults match the protocol constants the endpoint agents are built
// against.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultJitterFraction = 0.10
	DefaultArrivalTimeout = 30 * time.Second
)

// ErrUnknownTransfer is returned for operations on a transfer id that was
// never initialized or has been cleaned up.
var ErrUnknownTransfer = errors.New("unknown transfer")

// Events receives tracker notifications. Callbacks run on timer goroutines
// without any tracker lock held, so implementations may call back into the
// tracker.
type Events interface {
	// ArrivalTimeout fires when the awaited chunk did not arrive in time.
	ArrivalTimeout(transferID string, chunkIndex int)

	// RetryDue fires after the backoff delay for a failed chunk. attempt is
	// the upcoming attempt number (1-based).
	RetryDue(transferID string, chunkIndex, attempt int, reason string)

	// MaxRetriesExceeded fires when a chunk has exhausted its attempts.
	MaxRetriesExceeded(transferID string, chunkIndex, attempts int, reason string)
}

// Config tunes retry and timeout behavior.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	ArrivalTimeout time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		JitterFraction: DefaultJitterFraction,
		ArrivalTimeout: DefaultArrivalTimeout,
	}
}

// record is the bookkeeping for one transfer.
type record struct {
	total        int
	received     map[int]bool
	ledger       map[int]*LedgerEntry
	expectedNext int
	createdAt    time.Time
	lastActivity time.Time

	arrivalTimers map[int]Timer
	retryTimers   map[int]Timer
}

// Tracker tracks chunk reception for all active transfers.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	events  Events
	records map[string]*record
}

// New creates a Tracker. A nil clock uses the real time package; events
// must not be nil.
func New(cfg Config, clock Clock, events Events) *Tracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.ArrivalTimeout <= 0 {
		cfg.ArrivalTimeout = DefaultArrivalTimeout
	}
	if clock == nil {
		clock = NewRealClock()
	}

	return &Tracker{
		cfg:     cfg,
		clock:   clock,
		events:  events,
		records: make(map[string]*record),
	}
}

// Init registers a transfer with its declared chunk count and arms the
// arrival timer for chunk 0. Calling Init again with the same total is a
// no-op; a different total is an error.
func (t *Tracker) Init(transferID string, totalChunks int) error {
	if totalChunks < 1 {
		return fmt.Errorf("transfer %s: totalChunks must be >= 1, got %d", transferID, totalChunks)
	}

	t.mu.Lock()
	if rec, ok := t.records[transferID]; ok {
		total := rec.total
		t.mu.Unlock()
		if total != totalChunks {
			return fmt.Errorf("transfer %s: already initialized with %d chunks, got %d", transferID, total, totalChunks)
		}
		return nil
	}

	now := t.clock.Now()
	rec := &record{
		total:         totalChunks,
		received:      make(map[int]bool),
		ledger:        make(map[int]*LedgerEntry),
		createdAt:     now,
		lastActivity:  now,
		arrivalTimers: make(map[int]Timer),
		retryTimers:   make(map[int]Timer),
	}
	t.records[transferID] = rec
	t.armArrivalTimerLocked(transferID, rec, 0)
	t.mu.Unlock()

	return nil
}

// MarkReceived records the arrival of a verified chunk. It cancels the
// chunk's timers, flips a failed ledger entry to succeeded (attempts are
// preserved for reporting), and advances the expected-next pointer. It
// returns false if the chunk was already in the received set.
func (t *Tracker) MarkReceived(transferID string, chunkIndex int) (bool, error) {
	t.mu.Lock()
	rec, ok := t.records[transferID]
	if !ok {
		t.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if err := rec.checkIndex(transferID, chunkIndex); err != nil {
		t.mu.Unlock()
		return false, err
	}

	if rec.received[chunkIndex] {
		t.mu.Unlock()
		return false, nil
	}

	rec.received[chunkIndex] = true
	rec.lastActivity = t.clock.Now()
	cancelTimerLocked(rec.arrivalTimers, chunkIndex)
	cancelTimerLocked(rec.retryTimers, chunkIndex)

	if entry, ok := rec.ledger[chunkIndex]; ok {
		entry.Status = StatusSucceeded
	}

	// Advance past every chunk that is already in, then wait for the next
	// gap. Retried chunks can arrive after later ones.
	if chunkIndex == rec.expectedNext {
		next := rec.expectedNext
		for next < rec.total && rec.received[next] {
			next++
		}
		rec.expectedNext = next
		if next < rec.total {
			t.armArrivalTimerLocked(transferID, rec, next)
		}
	}

	t.mu.Unlock()
	return true, nil
}

// MarkFailed records a failed attempt for a chunk. While attempts remain it
// schedules a retry after exponential backoff and returns the attempt count
// so far; once attempts reach the cap it emits MaxRetriesExceeded instead.
func (t *Tracker) MarkFailed(transferID string, chunkIndex int, reason string) (int, error) {
	t.mu.Lock()
	rec, ok := t.records[transferID]
	if !ok {
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if err := rec.checkIndex(transferID, chunkIndex); err != nil {
		t.mu.Unlock()
		return 0, err
	}

	now := t.clock.Now()
	entry, ok := rec.ledger[chunkIndex]
	if !ok {
		entry = &LedgerEntry{ChunkIndex: chunkIndex}
		rec.ledger[chunkIndex] = entry
	}
	entry.Attempts++
	entry.LastAttemptAt = now
	entry.Status = StatusFailed
	entry.Reason = reason
	rec.lastActivity = now
	attempts := entry.Attempts

	cancelTimerLocked(rec.retryTimers, chunkIndex)

	if attempts >= t.cfg.MaxAttempts {
		t.mu.Unlock()
		t.events.MaxRetriesExceeded(transferID, chunkIndex, attempts, reason)
		return attempts, nil
	}

	delay := retryDelay(t.cfg.BaseDelay, t.cfg.MaxDelay, t.cfg.JitterFraction, attempts)
	rec.retryTimers[chunkIndex] = t.clock.AfterFunc(delay, func() {
		t.onRetryDue(transferID, chunkIndex, attempts, reason)
	})
	t.mu.Unlock()

	return attempts, nil
}

// IsReceived reports whether a chunk is already in the received set.
// Unknown transfer ids yield false.
func (t *Tracker) IsReceived(transferID string, chunkIndex int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[transferID]
	if !ok {
		return false
	}
	return rec.received[chunkIndex]
}

// IsComplete reports whether every chunk of the transfer has been received.
func (t *Tracker) IsComplete(transferID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[transferID]
	if !ok {
		return false
	}
	return len(rec.received) == rec.total
}

// Missing returns the sorted chunk indices not yet received. Unknown
// transfer ids yield nil.
func (t *Tracker) Missing(transferID string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[transferID]
	if !ok {
		return nil
	}

	var missing []int
	for i := 0; i < rec.total; i++ {
		if !rec.received[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// Attempts returns the recorded attempt count for a chunk (0 if it never
// failed or the transfer is unknown).
func (t *Tracker) Attempts(transferID string, chunkIndex int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[transferID]
	if !ok {
		return 0
	}
	entry, ok := rec.ledger[chunkIndex]
	if !ok {
		return 0
	}
	return entry.Attempts
}

// RetryInfo returns a snapshot of the transfer's bookkeeping, or an error
// for unknown ids.
func (t *Tracker) RetryInfo(transferID string) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[transferID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}

	snap := &Snapshot{
		TotalChunks:  rec.total,
		Received:     len(rec.received),
		ExpectedNext: rec.expectedNext,
		CreatedAt:    rec.createdAt,
		LastActivity: rec.lastActivity,
	}
	for i := 0; i < rec.total; i++ {
		if !rec.received[i] {
			snap.Missing = append(snap.Missing, i)
		}
	}
	for _, entry := range rec.ledger {
		snap.RetriedChunks = append(snap.RetriedChunks, *entry)
	}
	sort.Slice(snap.RetriedChunks, func(i, j int) bool {
		return snap.RetriedChunks[i].ChunkIndex < snap.RetriedChunks[j].ChunkIndex
	})

	return snap, nil
}

// RestartArrivalTimer re-arms the arrival timer for a chunk, typically
// after a RETRY_CHUNK has been sent. No-op for unknown ids and for chunks
// already received.
func (t *Tracker) RestartArrivalTimer(transferID string, chunkIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[transferID]
	if !ok {
		return
	}
	if chunkIndex < 0 || chunkIndex >= rec.total || rec.received[chunkIndex] {
		return
	}
	t.armArrivalTimerLocked(transferID, rec, chunkIndex)
}

// Cleanup cancels every timer for the transfer and drops its record.
// Safe to call for unknown ids.
func (t *Tracker) Cleanup(transferID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[transferID]
	if !ok {
		return
	}
	for idx := range rec.arrivalTimers {
		cancelTimerLocked(rec.arrivalTimers, idx)
	}
	for idx := range rec.retryTimers {
		cancelTimerLocked(rec.retryTimers, idx)
	}
	delete(t.records, transferID)
}

// armArrivalTimerLocked (re)schedules the arrival timer for chunkIndex.
// Caller holds t.mu.
func (t *Tracker) armArrivalTimerLocked(transferID string, rec *record, chunkIndex int) {
	cancelTimerLocked(rec.arrivalTimers, chunkIndex)
	rec.arrivalTimers[chunkIndex] = t.clock.AfterFunc(t.cfg.ArrivalTimeout, func() {
		t.onArrivalTimeout(transferID, chunkIndex)
	})
}

// onArrivalTimeout runs on a timer goroutine. The event is suppressed if
// the chunk arrived or the transfer was cleaned up in the meantime.
func (t *Tracker) onArrivalTimeout(transferID string, chunkIndex int) {
	t.mu.Lock()
	rec, ok := t.records[transferID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(rec.arrivalTimers, chunkIndex)
	if rec.received[chunkIndex] {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.events.ArrivalTimeout(transferID, chunkIndex)
}

// onRetryDue runs on a timer goroutine after the backoff delay. The
// arrival timer for the chunk is restarted so a lost retry still times out.
func (t *Tracker) onRetryDue(transferID string, chunkIndex, attempts int, reason string) {
	t.mu.Lock()
	rec, ok := t.records[transferID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(rec.retryTimers, chunkIndex)
	if rec.received[chunkIndex] {
		t.mu.Unlock()
		return
	}
	t.armArrivalTimerLocked(transferID, rec, chunkIndex)
	t.mu.Unlock()

	t.events.RetryDue(transferID, chunkIndex, attempts, reason)
}

func (r *record) checkIndex(transferID string, chunkIndex int) error {
	if chunkIndex < 0 || chunkIndex >= r.total {
		return fmt.Errorf("transfer %s: chunk index %d out of range [0,%d)", transferID, chunkIndex, r.total)
	}
	return nil
}

func cancelTimerLocked(timers map[int]Timer, chunkIndex int) {
	if timer, ok := timers[chunkIndex]; ok {
		timer.Stop()
		delete(timers, chunkIndex)
	}
}
