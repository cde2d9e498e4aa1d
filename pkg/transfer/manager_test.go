package transfer

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/checksum"
	"github.com/marmos91/filepull/pkg/protocol"
	"github.com/marmos91/filepull/pkg/tracker"
)

func TestMain(m *testing.M) {
	logger.SetLevel("error")
	os.Exit(m.Run())
}

// testClock is a virtual clock; timers fire only when the test advances it.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*testTimer
	onNow  func()
}

type testTimer struct {
	clock    *testClock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	now := c.now
	hook := c.onNow
	c.onNow = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return now
}

// interceptNow runs f once, during the next Now() call, before the caller
// gets the time back. Used to splice an operation into a specific point of a
// manager code path.
func (c *testClock) interceptNow(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNow = f
}

func (c *testClock) AfterFunc(d time.Duration, f func()) tracker.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	tt := &testTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, tt)
	return tt
}

func (t *testTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward, firing due timers in deadline order.
// Timers armed by a firing callback run too if their deadline has passed.
func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		var next *testTimer
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			return c.timers[i].deadline.Before(c.timers[j].deadline)
		})
		for _, tt := range c.timers {
			if !tt.stopped && !tt.fired && !tt.deadline.After(target) {
				next = tt
				tt.fired = true
				break
			}
		}
		// Step now to the firing timer's deadline so callbacks that arm
		// follow-up timers (retry after timeout after retry...) see the
		// time at which they fired, letting the chain run within one
		// Advance.
		if next != nil {
			if next.deadline.After(c.now) {
				c.now = next.deadline
			}
		} else {
			c.now = target
		}
		c.mu.Unlock()

		if next == nil {
			return
		}
		next.f()
	}
}

// retryRecorder captures Notifier calls.
type retryRecorder struct {
	mu    sync.Mutex
	calls []retryCall
}

type retryCall struct {
	clientID   string
	requestID  string
	chunkIndex int
	attempt    int
	reason     string
}

func (r *retryRecorder) NotifyRetry(clientID, requestID string, chunkIndex, attempt int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, retryCall{clientID, requestID, chunkIndex, attempt, reason})
}

func (r *retryRecorder) all() []retryCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]retryCall(nil), r.calls...)
}

func newTestManager(t *testing.T) (*Manager, *testClock, *retryRecorder) {
	t.Helper()

	clock := newTestClock()
	cfg := DefaultConfig(t.TempDir())
	cfg.Tracker = tracker.Config{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0,
		ArrivalTimeout: 30 * time.Second,
	}

	m, err := New(cfg, clock, nil)
	require.NoError(t, err)

	rec := &retryRecorder{}
	m.SetNotifier(rec)
	return m, clock, rec
}

func chunkMsg(requestID string, index, total int, data []byte) *protocol.FileChunk {
	return &protocol.FileChunk{
		Type:        protocol.TypeFileChunk,
		RequestID:   requestID,
		ChunkIndex:  index,
		TotalChunks: total,
		Data:        base64.StdEncoding.EncodeToString(data),
		Checksum:    checksum.Hash(data),
		Size:        len(data),
	}
}

func ackFor(requestID string, content []byte) *protocol.DownloadAck {
	return &protocol.DownloadAck{
		Type:         protocol.TypeDownloadAck,
		RequestID:    requestID,
		Success:      true,
		FileSize:     int64(len(content)),
		TotalChunks:  protocol.TotalChunksFor(int64(len(content))),
		FileChecksum: checksum.Hash(content),
	}
}

func completeFor(requestID string, content []byte) *protocol.DownloadComplete {
	return &protocol.DownloadComplete{
		Type:         protocol.TypeDownloadComplete,
		RequestID:    requestID,
		Success:      true,
		TotalChunks:  protocol.TotalChunksFor(int64(len(content))),
		FileChecksum: checksum.Hash(content),
	}
}

func TestSingleChunkHappyPath(t *testing.T) {
	m, _, _ := newTestManager(t)

	content := []byte("Hello, World!")
	snap, err := m.Create("edge-001", "/data/x.txt", "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, snap.Status)

	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	res, err := m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, content))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.FirstTime)
	assert.True(t, res.Complete)

	done, err := m.HandleComplete(completeFor(snap.RequestID, content))
	require.NoError(t, err)
	require.True(t, done.Completed)

	got, err := os.ReadFile(done.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, ".txt", filepath.Ext(done.OutputPath))

	final, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress.Percentage)
	assert.NotNil(t, final.CompletedAt)
	assert.Empty(t, final.Progress.RetriedChunks)

	// Scratch file is gone after the rename.
	_, statErr := os.Stat(filepath.Join(m.cfg.DownloadDir, scratchDirName, snap.RequestID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMultiChunkAssembly(t *testing.T) {
	m, _, _ := newTestManager(t)

	chunk0 := make([]byte, protocol.ChunkSize)
	for i := range chunk0 {
		chunk0[i] = byte(i % 251)
	}
	chunk1 := []byte("tail of the file")
	content := append(append([]byte{}, chunk0...), chunk1...)

	snap, err := m.Create("edge-001", "/data/big.dat", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	// Deliver out of order: positional writes make order irrelevant.
	_, err = m.HandleChunk(chunkMsg(snap.RequestID, 1, 2, chunk1))
	require.NoError(t, err)
	res, err := m.HandleChunk(chunkMsg(snap.RequestID, 0, 2, chunk0))
	require.NoError(t, err)
	assert.True(t, res.Complete)

	done, err := m.HandleComplete(completeFor(snap.RequestID, content))
	require.NoError(t, err)
	require.True(t, done.Completed)

	got, err := os.ReadFile(done.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCreateValidation(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Create("", "/data/x.txt", "")
	assert.Error(t, err)
	_, err = m.Create("edge-001", "", "")
	assert.Error(t, err)
	_, err = m.Create("edge-001", "/data/x.txt", "not-a-uuid")
	assert.Error(t, err)

	snap, err := m.Create("edge-001", "/data/x.txt", "")
	require.NoError(t, err)

	_, err = m.Create("edge-002", "/data/y.txt", snap.RequestID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = m.Create("edge-001", "/data/y.txt", "")
	assert.ErrorIs(t, err, ErrActiveTransfer)

	// Once terminal, the client may start another transfer.
	require.NoError(t, m.Cancel(snap.RequestID, "test"))
	_, err = m.Create("edge-001", "/data/y.txt", "")
	assert.NoError(t, err)
}

func TestAckFailureIsTerminal(t *testing.T) {
	m, _, _ := newTestManager(t)

	snap, err := m.Create("edge-001", "/data/missing.txt", "")
	require.NoError(t, err)

	require.NoError(t, m.HandleAck(&protocol.DownloadAck{
		Type:      protocol.TypeDownloadAck,
		RequestID: snap.RequestID,
		Success:   false,
		Error:     &protocol.ErrorInfo{Code: protocol.CodeFileNotFound, Message: "no such file"},
	}))

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, protocol.CodeFileNotFound, got.Error.Code)

	// Chunks for a terminal transfer are discarded.
	res, err := m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, []byte("late")))
	require.NoError(t, err)
	assert.True(t, res.Discarded)
}

func TestAckChunkCountMismatch(t *testing.T) {
	m, _, _ := newTestManager(t)

	snap, err := m.Create("edge-001", "/data/x.txt", "")
	require.NoError(t, err)

	require.NoError(t, m.HandleAck(&protocol.DownloadAck{
		Type:         protocol.TypeDownloadAck,
		RequestID:    snap.RequestID,
		Success:      true,
		FileSize:     protocol.ChunkSize + 1,
		TotalChunks:  1, // should be 2
		FileChecksum: checksum.Hash([]byte("x")),
	}))

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, got.Error.Code)
}

func TestChecksumMismatchSchedulesRetry(t *testing.T) {
	m, clock, retries := newTestManager(t)

	chunk0 := []byte("first chunk")
	chunk1 := []byte("second chunk")
	content := append(append([]byte{}, chunk0...), chunk1...)

	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	ack := ackFor(snap.RequestID, content)
	ack.TotalChunks = 1
	ack.FileSize = int64(len(content))
	require.NoError(t, m.HandleAck(ack))

	bad := chunkMsg(snap.RequestID, 0, 1, chunk0)
	bad.Checksum = checksum.Hash([]byte("something else"))
	res, err := m.HandleChunk(bad)
	require.NoError(t, err)
	assert.True(t, res.RetryScheduled)
	assert.Equal(t, protocol.ReasonChecksumFailed, res.RetryReason)
	assert.Equal(t, 1, res.Attempts)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	require.Len(t, got.Progress.RetriedChunks, 1)
	assert.Equal(t, tracker.StatusFailed, got.Progress.RetriedChunks[0].Status)

	// Backoff elapses, the endpoint is asked to resend.
	clock.Advance(time.Second)
	calls := retries.all()
	require.Len(t, calls, 1)
	assert.Equal(t, retryCall{"edge-001", snap.RequestID, 0, 1, protocol.ReasonChecksumFailed}, calls[0])

	// The resend verifies; ledger keeps the attempt count.
	res, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, chunk0))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.FirstTime)

	got, err = m.Get(snap.RequestID)
	require.NoError(t, err)
	require.Len(t, got.Progress.RetriedChunks, 1)
	assert.Equal(t, tracker.StatusSucceeded, got.Progress.RetriedChunks[0].Status)
	assert.Equal(t, 1, got.Progress.RetriedChunks[0].Attempts)
}

func TestInvalidBase64IsChecksumClassFailure(t *testing.T) {
	m, _, _ := newTestManager(t)

	content := []byte("payload")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	msg := chunkMsg(snap.RequestID, 0, 1, content)
	msg.Data = "%%% not base64 %%%"
	res, err := m.HandleChunk(msg)
	require.NoError(t, err)
	assert.True(t, res.RetryScheduled)
	assert.Equal(t, protocol.ReasonChecksumFailed, res.RetryReason)
}

func TestMaxRetriesFailsTransfer(t *testing.T) {
	m, clock, _ := newTestManager(t)

	content := []byte("unlucky chunk")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	bad := chunkMsg(snap.RequestID, 0, 1, content)
	bad.Checksum = checksum.Hash([]byte("corrupted"))

	// Advance just past each backoff so the resend request fires without
	// the arrival timer adding failures of its own.
	for i, delay := range []time.Duration{time.Second, 2 * time.Second} {
		res, err := m.HandleChunk(bad)
		require.NoError(t, err)
		assert.True(t, res.RetryScheduled)
		assert.Equal(t, i+1, res.Attempts)
		clock.Advance(delay)
	}

	res, err := m.HandleChunk(bad)
	require.NoError(t, err)
	assert.False(t, res.RetryScheduled)
	assert.Equal(t, 3, res.Attempts)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, protocol.CodeChunkTransferFailed, got.Error.Code)
	assert.Equal(t, 0, got.Error.Details["chunkIndex"])
}

func TestDuplicateChunkIsNoOp(t *testing.T) {
	m, _, _ := newTestManager(t)

	chunk0 := []byte("once")
	chunk1 := []byte("and only once")
	content := append(append([]byte{}, chunk0...), chunk1...)

	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	ack := ackFor(snap.RequestID, content)
	require.NoError(t, m.HandleAck(ack))

	res, err := m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, chunk0))
	require.NoError(t, err)
	assert.True(t, res.FirstTime)

	res, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, chunk0))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.FirstTime)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Progress.ChunksReceived)
	assert.Equal(t, int64(len(chunk0)), got.Progress.BytesReceived)
}

func TestCancelMidTransfer(t *testing.T) {
	m, _, _ := newTestManager(t)

	chunk0 := []byte("some data")
	chunk1 := []byte("more data")
	content := append(append([]byte{}, chunk0...), chunk1...)

	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))
	_, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, chunk0))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(snap.RequestID, "operator request"))

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, statErr := os.Stat(filepath.Join(m.cfg.DownloadDir, scratchDirName, snap.RequestID))
	assert.True(t, os.IsNotExist(statErr), "scratch file must be deleted on cancel")

	// Late chunks are discarded; a second cancel conflicts.
	res, err := m.HandleChunk(chunkMsg(snap.RequestID, 1, 2, chunk1))
	require.NoError(t, err)
	assert.True(t, res.Discarded)
	assert.ErrorIs(t, m.Cancel(snap.RequestID, "again"), ErrTerminal)

	assert.ErrorIs(t, m.Cancel("11111111-2222-4333-8444-555555555555", "x"), ErrNotFound)
}

func TestCompleteWithMissingChunks(t *testing.T) {
	m, _, _ := newTestManager(t)

	chunk0 := make([]byte, protocol.ChunkSize)
	chunk1 := []byte("absent")
	content := append(append([]byte{}, chunk0...), chunk1...)

	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	ack := ackFor(snap.RequestID, content)
	require.NoError(t, m.HandleAck(ack))
	_, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 2, chunk0))
	require.NoError(t, err)

	done, err := m.HandleComplete(completeFor(snap.RequestID, content))
	require.NoError(t, err)
	assert.False(t, done.Completed)
	assert.Equal(t, []int{1}, done.MissingChunks)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	require.Len(t, got.Progress.RetriedChunks, 1)
	assert.Equal(t, protocol.ReasonMissingAtComplete, got.Progress.RetriedChunks[0].Reason)
}

func TestFileChecksumMismatchFailsTransfer(t *testing.T) {
	m, _, _ := newTestManager(t)

	content := []byte("actual bytes")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	ack := ackFor(snap.RequestID, content)
	ack.FileChecksum = checksum.Hash([]byte("declared something else"))
	require.NoError(t, m.HandleAck(ack))
	_, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, content))
	require.NoError(t, err)

	comp := completeFor(snap.RequestID, content)
	comp.FileChecksum = ack.FileChecksum
	done, err := m.HandleComplete(comp)
	require.NoError(t, err)
	assert.False(t, done.Completed)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "file checksum mismatch", got.Error.Message)
}

func TestArrivalTimeoutsEventuallyFailTransfer(t *testing.T) {
	m, clock, retries := newTestManager(t)

	content := []byte("never arrives")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	// Timeout -> backoff -> retry -> timeout, three times over.
	clock.Advance(5 * time.Minute)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, protocol.CodeChunkTransferFailed, got.Error.Code)

	calls := retries.all()
	require.Len(t, calls, 2)
	for i, call := range calls {
		assert.Equal(t, protocol.ReasonArrivalTimeout, call.reason)
		assert.Equal(t, i+1, call.attempt)
	}
}

func TestFailForShutdown(t *testing.T) {
	m, _, _ := newTestManager(t)

	pending, err := m.Create("edge-001", "/data/a.bin", "")
	require.NoError(t, err)

	content := []byte("in flight")
	inProgress, err := m.Create("edge-002", "/data/b.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(inProgress.RequestID, content)))

	m.FailForShutdown()

	for _, id := range []string{pending.RequestID, inProgress.RequestID} {
		got, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "shutdown", got.Error.Message)
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	m, clock, _ := newTestManager(t)

	var ids []string
	for _, client := range []string{"edge-001", "edge-002", "edge-003"} {
		snap, err := m.Create(client, "/data/x.bin", "")
		require.NoError(t, err)
		ids = append(ids, snap.RequestID)
		clock.Advance(time.Second)
	}
	require.NoError(t, m.Cancel(ids[0], "test"))

	all, total := m.List(Filter{})
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, ids[2], all[0].RequestID)
	assert.Equal(t, ids[0], all[2].RequestID)

	cancelled, total := m.List(Filter{Status: StatusCancelled})
	assert.Equal(t, 1, total)
	require.Len(t, cancelled, 1)
	assert.Equal(t, ids[0], cancelled[0].RequestID)

	byClient, total := m.List(Filter{ClientID: "edge-002"})
	assert.Equal(t, 1, total)
	require.Len(t, byClient, 1)
	assert.Equal(t, ids[1], byClient[0].RequestID)

	page, total := m.List(Filter{Limit: 1, Offset: 1})
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].RequestID)

	empty, total := m.List(Filter{Offset: 10})
	assert.Equal(t, 3, total)
	assert.Empty(t, empty)
}

func TestActiveForClient(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, ok := m.ActiveForClient("edge-001")
	assert.False(t, ok)

	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)

	id, ok := m.ActiveForClient("edge-001")
	assert.True(t, ok)
	assert.Equal(t, snap.RequestID, id)

	require.NoError(t, m.Cancel(snap.RequestID, "test"))
	_, ok = m.ActiveForClient("edge-001")
	assert.False(t, ok)
}

func TestSweepEvictsOldTerminalTransfers(t *testing.T) {
	m, clock, _ := newTestManager(t)

	done, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.Cancel(done.RequestID, "test"))

	live, err := m.Create("edge-002", "/data/y.bin", "")
	require.NoError(t, err)

	// Inside the retention window nothing is evicted.
	assert.Equal(t, 0, m.sweep(clock.Now().Add(time.Hour)))

	evicted := m.sweep(clock.Now().Add(25 * time.Hour))
	assert.Equal(t, 1, evicted)

	_, err = m.Get(done.RequestID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(live.RequestID)
	assert.NoError(t, err)
}

func TestChunkOutsideAcknowledgedRangeIsRejected(t *testing.T) {
	m, _, _ := newTestManager(t)

	content := []byte("fits in one chunk")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	res, err := m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, content))
	require.NoError(t, err)
	require.True(t, res.Accepted)

	// A frame declaring its own, larger geometry must not move the write
	// window past the acknowledged chunk count.
	stray := chunkMsg(snap.RequestID, 1, 2, []byte("stray bytes"))
	_, err = m.HandleChunk(stray)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	mismatched := chunkMsg(snap.RequestID, 0, 3, content)
	_, err = m.HandleChunk(mismatched)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	// The transfer is untouched and still completes with the right bytes.
	done, err := m.HandleComplete(completeFor(snap.RequestID, content))
	require.NoError(t, err)
	require.True(t, done.Completed)

	got, err := os.ReadFile(done.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	final, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Empty(t, final.Progress.RetriedChunks)
}

func TestChunkSizeMismatchSchedulesRetry(t *testing.T) {
	m, _, _ := newTestManager(t)

	content := []byte("short payload")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	msg := chunkMsg(snap.RequestID, 0, 1, content)
	msg.Size = len(content) + 4
	res, err := m.HandleChunk(msg)
	require.NoError(t, err)
	assert.True(t, res.RetryScheduled)
	assert.Equal(t, protocol.ReasonChecksumFailed, res.RetryReason)
	assert.Equal(t, 1, res.Attempts)
}

func TestFailedTransferRetainsScratchByDefault(t *testing.T) {
	m, _, _ := newTestManager(t)

	content := []byte("partial file")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))
	_, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, content))
	require.NoError(t, err)

	m.Fail(snap.RequestID, protocol.CodeInternalServerError, "boom", nil)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	_, statErr := os.Stat(filepath.Join(m.cfg.DownloadDir, scratchDirName, snap.RequestID))
	assert.NoError(t, statErr, "failed scratch file is kept for inspection")
}

func TestRemoveFailedScratchOptIn(t *testing.T) {
	clock := newTestClock()
	cfg := DefaultConfig(t.TempDir())
	cfg.RemoveFailedScratch = true
	m, err := New(cfg, clock, nil)
	require.NoError(t, err)

	content := []byte("partial file")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))
	_, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, content))
	require.NoError(t, err)

	m.Fail(snap.RequestID, protocol.CodeInternalServerError, "boom", nil)

	_, statErr := os.Stat(filepath.Join(cfg.DownloadDir, scratchDirName, snap.RequestID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCancelDuringFinalizationWins(t *testing.T) {
	m, clock, _ := newTestManager(t)

	content := []byte("contested bytes")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))
	_, err = m.HandleChunk(chunkMsg(snap.RequestID, 0, 1, content))
	require.NoError(t, err)

	// Splice the cancel in between the whole-file verification and the
	// completed transition.
	var cancelErr error
	clock.interceptNow(func() {
		cancelErr = m.Cancel(snap.RequestID, "operator request")
	})

	done, err := m.HandleComplete(completeFor(snap.RequestID, content))
	require.NoError(t, err)
	require.NoError(t, cancelErr)
	assert.True(t, done.Discarded)
	assert.False(t, done.Completed)

	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// Nothing landed in the download dir; only the scratch subdirectory
	// remains.
	entries, err := os.ReadDir(m.cfg.DownloadDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.True(t, entry.IsDir(), "unexpected file %s", entry.Name())
	}
}

func TestUnacknowledgedRequestTimesOut(t *testing.T) {
	m, clock, _ := newTestManager(t)

	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	clock.Advance(time.Second)
	got, err = m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, protocol.CodeClientNotConnected, got.Error.Code)

	// The client's active slot is free again.
	_, err = m.Create("edge-001", "/data/y.bin", "")
	assert.NoError(t, err)
}

func TestAckDisarmsRequestDeadline(t *testing.T) {
	m, clock, _ := newTestManager(t)

	content := []byte("acknowledged in time")
	snap, err := m.Create("edge-001", "/data/x.bin", "")
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	require.NoError(t, m.HandleAck(ackFor(snap.RequestID, content)))

	clock.Advance(2 * time.Second)
	got, err := m.Get(snap.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}
