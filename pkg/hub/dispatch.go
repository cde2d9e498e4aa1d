package hub

import (
	"errors"
	"time"

	"github.com/marmos91/filepull/internal/logger"
	"github.com/marmos91/filepull/pkg/protocol"
	"github.com/marmos91/filepull/pkg/transfer"
)

// dispatch parses one inbound frame and routes it by tag. Messages other
// than REGISTER and PING are rejected until the connection has registered.
func (h *Hub) dispatch(e *endpoint, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordInvalidMessage()
		}
		logger.Warn("invalid message",
			logger.KeyConnID, e.connID,
			logger.KeyClientID, e.client(),
			logger.KeyError, err.Error())
		h.sendError(e, protocol.CodeInvalidRequest, err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.RecordMessageReceived(inboundTag(msg))
	}

	switch m := msg.(type) {
	case *protocol.Register:
		h.handleRegister(e, m)

	case *protocol.Heartbeat:
		e.touch()
		if m.Type == protocol.TypePing {
			if err := h.send(e, protocol.NewPong()); err != nil {
				logger.Debug("pong not delivered",
					logger.KeyConnID, e.connID,
					logger.KeyError, err.Error())
			}
		}

	case *protocol.DownloadAck:
		if !h.requireRegistered(e, m.Type) || !h.ownsTransfer(e, m.Type, m.RequestID) {
			return
		}
		if err := h.manager.HandleAck(m); err != nil {
			h.logManagerErr(e, string(m.Type), m.RequestID, err)
		}

	case *protocol.FileChunk:
		if !h.requireRegistered(e, m.Type) || !h.ownsTransfer(e, m.Type, m.RequestID) {
			return
		}
		start := time.Now()
		res, err := h.manager.HandleChunk(m)
		if err != nil {
			if errors.Is(err, transfer.ErrChunkOutOfRange) {
				h.sendError(e, protocol.CodeInvalidRequest, err.Error())
			}
			h.logManagerErr(e, string(m.Type), m.RequestID, err)
			return
		}
		logger.Debug("chunk handled",
			logger.KeyTransferID, m.RequestID,
			logger.KeyClientID, e.client(),
			logger.KeyChunkIndex, m.ChunkIndex,
			"accepted", res.Accepted,
			"complete", res.Complete,
			logger.KeyDurationMs, logger.Duration(start))

	case *protocol.DownloadComplete:
		if !h.requireRegistered(e, m.Type) || !h.ownsTransfer(e, m.Type, m.RequestID) {
			return
		}
		res, err := h.manager.HandleComplete(m)
		if err != nil {
			h.logManagerErr(e, string(m.Type), m.RequestID, err)
			return
		}
		if len(res.MissingChunks) > 0 {
			logger.Warn("completion announced with chunks still missing",
				logger.KeyTransferID, m.RequestID,
				logger.KeyClientID, e.client(),
				"missing", len(res.MissingChunks))
		}

	case *protocol.ErrorMessage:
		logger.Warn("error frame from endpoint",
			logger.KeyClientID, e.client(),
			"code", m.Code,
			logger.KeyError, m.Message)

	default:
		// Parse only yields the types above; nothing to do.
	}
}

// handleRegister claims the clientId for this connection. A duplicate id is
// refused with a failed ack but the connection stays open, so the agent can
// retry with a different id.
func (h *Hub) handleRegister(e *endpoint, msg *protocol.Register) {
	if e.registered() {
		h.sendError(e, protocol.CodeInvalidRequest, "connection already registered")
		return
	}

	if err := h.registry.register(msg.ClientID, e); err != nil {
		logger.Warn("registration refused",
			logger.KeyClientID, msg.ClientID,
			logger.KeyRemoteAddr, e.remoteAddr,
			logger.KeyError, err.Error())
		if sendErr := h.send(e, protocol.NewRegisterAck(false, err.Error())); sendErr != nil {
			logger.Debug("register ack not delivered",
				logger.KeyConnID, e.connID,
				logger.KeyError, sendErr.Error())
		}
		return
	}

	e.register(msg.ClientID, msg.Metadata)
	h.recordConnected()
	logger.Info("endpoint registered",
		logger.KeyClientID, msg.ClientID,
		logger.KeyRemoteAddr, e.remoteAddr)

	if err := h.send(e, protocol.NewRegisterAck(true, "registered")); err != nil {
		logger.Warn("register ack not delivered",
			logger.KeyClientID, msg.ClientID,
			logger.KeyError, err.Error())
	}
}

// requireRegistered gates transfer traffic behind a successful REGISTER.
func (h *Hub) requireRegistered(e *endpoint, tag protocol.MessageType) bool {
	if e.registered() {
		return true
	}
	logger.Warn("message before registration",
		logger.KeyConnID, e.connID,
		logger.KeyMessageType, string(tag))
	h.sendError(e, protocol.CodeInvalidRequest, "not registered")
	return false
}

// ownsTransfer gates transfer frames to the endpoint the transfer is bound
// to. Unknown request ids pass through; the manager reports those as not
// found.
func (h *Hub) ownsTransfer(e *endpoint, tag protocol.MessageType, requestID string) bool {
	owner, ok := h.manager.ClientFor(requestID)
	if !ok || owner == e.client() {
		return true
	}
	logger.Warn("frame for another client's transfer",
		logger.KeyClientID, e.client(),
		logger.KeyMessageType, string(tag),
		logger.KeyTransferID, requestID)
	h.sendError(e, protocol.CodeInvalidRequest, "transfer belongs to another client")
	return false
}

// logManagerErr reports a transfer-layer rejection of an inbound frame.
// An unknown requestId is routine (the transfer may have been swept or the
// frame raced a cancel) and logs at debug.
func (h *Hub) logManagerErr(e *endpoint, tag, requestID string, err error) {
	if errors.Is(err, transfer.ErrNotFound) {
		logger.Debug("frame for unknown transfer",
			logger.KeyClientID, e.client(),
			logger.KeyMessageType, tag,
			logger.KeyTransferID, requestID)
		return
	}
	logger.Warn("frame rejected",
		logger.KeyClientID, e.client(),
		logger.KeyMessageType, tag,
		logger.KeyTransferID, requestID,
		logger.KeyError, err.Error())
}

// inboundTag returns the protocol tag of a parsed inbound message.
func inboundTag(msg any) string {
	switch m := msg.(type) {
	case *protocol.Register:
		return string(m.Type)
	case *protocol.DownloadAck:
		return string(m.Type)
	case *protocol.FileChunk:
		return string(m.Type)
	case *protocol.DownloadComplete:
		return string(m.Type)
	case *protocol.Heartbeat:
		return string(m.Type)
	case *protocol.ErrorMessage:
		return string(m.Type)
	default:
		return "UNKNOWN"
	}
}
