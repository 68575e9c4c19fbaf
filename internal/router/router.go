// Package router dispatches typed envelopes between peers, maintaining the
// transfer table and the session registry as the single relay authority.
package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropwire/coordinator/internal/config"
	"github.com/dropwire/coordinator/internal/observability"
	"github.com/dropwire/coordinator/internal/protocol"
	"github.com/dropwire/coordinator/internal/registry"
	"github.com/dropwire/coordinator/internal/transfer"
)

// Error strings surfaced to peers in transfer-error envelopes.
const (
	errTargetNotFound     = "Target user not found"
	errTargetDisconnected = "Target user disconnected"
	errInvalidDescriptor  = "invalid file descriptor"
	errInvalidChunkIndex  = "invalid chunk index"
	errTransferIdle       = "transfer idle"
)

// Client is one connection's handle into the router. The session id is set
// on the first successful register and read only from the connection's
// read pump, which serializes all of a peer's inbound messages.
type Client struct {
	out       registry.Outbound
	sessionID string
}

// SessionID returns the registered session id, or "" before registration.
func (c *Client) SessionID() string { return c.sessionID }

// Router validates each inbound envelope against the session's current
// transfer state, mutates the transfer table, and forwards envelopes
// (possibly rewritten) to the counter-peer.
type Router struct {
	registry *registry.Registry
	table    *transfer.Table

	maxEnvelopeBytes int64
	transferIdle     time.Duration
	completionGrace  time.Duration
	sweepPeriod      time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRouter wires the router into the registry and transfer table. It
// installs itself as the registry's unregister hook so peer disconnects
// immediately cancel that peer's transfers.
func NewRouter(cfg *config.Config, reg *registry.Registry, table *transfer.Table, logger *observability.Logger, metrics *observability.Metrics) *Router {
	r := &Router{
		registry:         reg,
		table:            table,
		maxEnvelopeBytes: cfg.MaxEnvelopeBytes(),
		transferIdle:     cfg.TransferIdle(),
		completionGrace:  cfg.CompletionGrace(),
		sweepPeriod:      cfg.TransferSweep(),
		logger:           logger,
		metrics:          metrics,
	}
	reg.OnUnregister(r.sessionGone)
	return r
}

// Connect creates an unregistered client for a new connection. Envelopes
// other than register are dropped until the peer registers.
func (r *Router) Connect(out registry.Outbound) *Client {
	return &Client{out: out}
}

// Disconnect tears the client down: unregistering cancels its transfers
// and broadcasts the shrunk roster.
func (r *Router) Disconnect(c *Client, reason string) {
	if c.sessionID == "" {
		_ = c.out.Close()
		return
	}
	_ = r.registry.Unregister(c.sessionID, reason)
}

// HandleMessage runs one inbound frame through the codec and the state
// machine. Codec failures are soft: the frame is dropped, the session
// stays, and liveness is not refreshed.
func (r *Router) HandleMessage(c *Client, raw []byte) {
	env, err := protocol.Decode(raw, r.maxEnvelopeBytes)
	if err != nil {
		r.metrics.EnvelopesDropped.WithLabelValues(dropReason(err)).Inc()
		r.logger.EnvelopeDropped(c.sessionID, len(raw), err)
		return
	}
	r.metrics.EnvelopesInTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case protocol.TypeRegister:
		r.handleRegister(c, env)
	case protocol.TypePing:
		r.handlePing(c, env)
	case protocol.TypeTransferRequest:
		r.handleTransferRequest(c, env)
	case protocol.TypeTransferResponse:
		r.handleTransferResponse(c, env)
	case protocol.TypeFileChunk:
		r.handleFileChunk(c, env)
	case protocol.TypeChunkAck:
		r.handleChunkAck(c, env)
	case protocol.TypeTransferComplete:
		r.handleTransferComplete(c, env)
	case protocol.TypeCancelTransfer:
		r.handleCancelTransfer(c, env)
	case protocol.TypeResumeTransfer:
		r.handleResumeTransfer(c, env)
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrEnvelopeTooLarge):
		return "too_large"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	default:
		return "malformed"
	}
}

// touch refreshes liveness after a payload has decoded cleanly.
func (r *Router) touch(c *Client) {
	if c.sessionID != "" {
		r.registry.Touch(c.sessionID)
	}
}

// drop records a payload-level soft failure.
func (r *Router) drop(c *Client, size int, err error) {
	r.metrics.EnvelopesDropped.WithLabelValues("malformed").Inc()
	r.logger.EnvelopeDropped(c.sessionID, size, err)
}

// requireSession returns the client's session id, dropping the envelope if
// the peer has not registered yet.
func (r *Router) requireSession(c *Client, msgType string) (string, bool) {
	if c.sessionID == "" {
		r.metrics.EnvelopesDropped.WithLabelValues("unregistered").Inc()
		r.logger.EnvelopeDropped("", 0, errors.New(msgType+" before register"))
		return "", false
	}
	return c.sessionID, true
}

// newSessionID mints a process-unique opaque session id.
func newSessionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// sendError emits a transfer-error envelope to one peer.
func (r *Router) sendError(sessionID, message, fileID string) {
	r.registry.Send(sessionID, protocol.TypeTransferError, protocol.TransferErrorPayload{
		Error:  message,
		FileID: fileID,
	})
}

// emitSync publishes the derived sync snapshot to both peers of a transfer.
func (r *Router) emitSync(t *transfer.Transfer) {
	st := t.Status()
	payload := protocol.SyncStatusPayload{
		SenderID:           st.SenderID,
		ReceiverID:         st.ReceiverID,
		FileID:             st.FileID,
		SenderProgress:     st.SenderProgress,
		ReceiverProgress:   st.ReceiverProgress,
		SyncLag:            st.SyncLag,
		DuplicatesRejected: st.DuplicatesRejected,
		LastChunkTime:      st.LastChunkTime.UnixMilli(),
	}
	r.metrics.SyncLag.Observe(st.SyncLag)
	r.registry.Send(st.SenderID, protocol.TypeSyncStatus, payload)
	r.registry.Send(st.ReceiverID, protocol.TypeSyncStatus, payload)
}

// sessionGone fails and destroys every transfer the departed session
// participated in, notifying the surviving peer.
func (r *Router) sessionGone(sessionID string) {
	for _, t := range r.table.ForSession(sessionID) {
		key := t.Key()
		survivor := key.SenderID
		if survivor == sessionID {
			survivor = key.ReceiverID
		}
		if !t.State().Terminal() {
			_ = t.Fail("peer disconnected")
		}
		r.sendError(survivor, errTargetDisconnected, key.FileID)
		r.table.Remove(key, "peer disconnected")
	}
}

// failTransfer marks a transfer failed, notifies the given peers, and
// removes it from the table.
func (r *Router) failTransfer(t *transfer.Transfer, reason string, notify ...string) {
	if !t.State().Terminal() {
		_ = t.Fail(reason)
	}
	for _, sessionID := range notify {
		r.sendError(sessionID, reason, t.Key().FileID)
	}
	r.table.Remove(t.Key(), reason)
}

// Run drives the transfer sweep: idle live transfers fail with both peers
// notified; terminal transfers past the completion grace are reaped.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce()
		}
	}
}

// SweepOnce performs one idle/grace pass over the transfer table.
func (r *Router) SweepOnce() {
	for _, t := range r.table.IdleTransfers(r.transferIdle) {
		key := t.Key()
		r.failTransfer(t, errTransferIdle, key.SenderID, key.ReceiverID)
	}
	for _, t := range r.table.ReapableTransfers(r.completionGrace) {
		r.table.Remove(t.Key(), "grace expired")
	}
}
