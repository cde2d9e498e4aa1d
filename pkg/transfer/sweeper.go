package transfer

import (
	"context"
	"time"

	"github.com/marmos91/filepull/internal/logger"
)

// RunSweeper periodically evicts terminal transfers older than the retention
// window. Blocks until ctx is cancelled; run it on its own goroutine.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	logger.Debug("transfer sweeper started",
		"interval", m.cfg.SweepInterval.String(),
		"retention", m.cfg.Retention.String())

	for {
		select {
		case <-ctx.Done():
			logger.Debug("transfer sweeper stopped")
			return
		case <-ticker.C:
			if n := m.sweep(m.clock.Now()); n > 0 {
				logger.Info("evicted terminal transfers", "count", n)
			}
		}
	}
}

// sweep removes terminal transfers whose last update is older than the
// retention window. Returns the number evicted.
func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, t := range m.transfers {
		t.mu.Lock()
		old := t.status.Terminal() && now.Sub(t.updatedAt) > m.cfg.Retention
		t.mu.Unlock()
		if old {
			delete(m.transfers, id)
			evicted++
		}
	}
	return evicted
}
