package hub

import (
	"context"
	"time"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/protocol"
)

// RunHeartbeat pings every registered endpoint on each tick and terminates
// connections that have gone quiet past the stale timeout. Blocks until ctx
// is cancelled.
func (h *Hub) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	logger.Debug("heartbeat loop started",
		"interval", h.cfg.HeartbeatInterval.String(),
		"stale_timeout", h.cfg.StaleTimeout.String())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepStale(time.Now())
		}
	}
}

// sweepStale terminates endpoints whose last heartbeat is older than the
// stale timeout and pings the rest. Returns the number terminated.
func (h *Hub) sweepStale(now time.Time) int {
	stale := 0
	for _, e := range h.registry.all() {
		if now.Sub(e.heartbeat()) > h.cfg.StaleTimeout {
			logger.Warn("terminating stale endpoint",
				logger.KeyClientID, e.client(),
				logger.KeyRemoteAddr, e.remoteAddr,
				"last_heartbeat", e.heartbeat().Format(time.RFC3339))
			if h.metrics != nil {
				h.metrics.RecordStaleTermination()
			}
			h.teardown(e)
			stale++
			continue
		}

		if err := h.send(e, protocol.NewPing()); err != nil {
			logger.Debug("ping not delivered",
				logger.KeyClientID, e.client(),
				logger.KeyError, err.Error())
		}
	}
	return stale
}
