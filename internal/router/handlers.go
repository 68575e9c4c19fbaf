package router

import (
	"errors"
	"strings"

	"github.com/dropwire/coordinator/internal/protocol"
	"github.com/dropwire/coordinator/internal/registry"
	"github.com/dropwire/coordinator/internal/transfer"
)

// handleRegister creates the session on first contact and treats repeats as
// device-name changes. A requested id that collides gets a fresh one; the
// accepted id always comes back in the registered reply.
func (r *Router) handleRegister(c *Client, env *protocol.Envelope) {
	var p protocol.RegisterPayload
	if len(env.Data) > 0 {
		if err := env.Unmarshal(&p); err != nil {
			r.drop(c, len(env.Data), err)
			return
		}
	}

	if c.sessionID != "" {
		r.touch(c)
		if p.DeviceName != "" {
			_ = r.registry.UpdateDeviceName(c.sessionID, p.DeviceName)
		}
		r.registry.Send(c.sessionID, protocol.TypeRegistered, protocol.RegisteredPayload{UserID: c.sessionID})
		return
	}

	sessionID := p.UserID
	if sessionID == "" {
		sessionID = newSessionID()
	}
	err := r.registry.Register(sessionID, p.DeviceName, c.out)
	if errors.Is(err, registry.ErrDuplicateSession) {
		sessionID = newSessionID()
		err = r.registry.Register(sessionID, p.DeviceName, c.out)
	}
	if err != nil {
		r.logger.Error(err, "failed to register session")
		return
	}

	c.sessionID = sessionID
	r.registry.Send(sessionID, protocol.TypeRegistered, protocol.RegisteredPayload{UserID: sessionID})
}

// handlePing echoes the timestamp back. Liveness refresh is the same as
// for any other envelope.
func (r *Router) handlePing(c *Client, env *protocol.Envelope) {
	var p protocol.PingPayload
	if len(env.Data) > 0 {
		if err := env.Unmarshal(&p); err != nil {
			r.drop(c, len(env.Data), err)
			return
		}
	}
	if _, ok := r.requireSession(c, protocol.TypePing); !ok {
		return
	}
	r.touch(c)
	r.registry.Send(c.sessionID, protocol.TypePong, protocol.PongPayload{Timestamp: p.Timestamp})
}

// handleTransferRequest creates a pending transfer and relays the offer to
// the receiver with the sender field rewritten.
func (r *Router) handleTransferRequest(c *Client, env *protocol.Envelope) {
	var p protocol.TransferRequestPayload
	if err := env.Unmarshal(&p); err != nil {
		r.drop(c, len(env.Data), err)
		return
	}
	senderID, ok := r.requireSession(c, protocol.TypeTransferRequest)
	if !ok {
		return
	}
	r.touch(c)

	if !r.registry.Has(p.ToUserID) {
		r.sendError(senderID, errTargetNotFound, p.FileID)
		return
	}

	key := transfer.Key{SenderID: senderID, ReceiverID: p.ToUserID, FileID: p.FileID}
	t, err := transfer.NewTransfer(key, transfer.FileDescriptor{
		ID:          p.FileID,
		Name:        p.FileInfo.Name,
		Size:        p.FileInfo.Size,
		ChunkSize:   p.FileInfo.ChunkSize,
		TotalChunks: p.FileInfo.TotalChunks,
		MIME:        p.FileInfo.Type,
	})
	if err != nil {
		r.sendError(senderID, errInvalidDescriptor, p.FileID)
		return
	}
	if err := r.table.Add(t); err != nil {
		r.sendError(senderID, "transfer already exists", p.FileID)
		return
	}
	r.logger.TransferCreated(senderID, p.ToUserID, p.FileID, p.FileInfo.Name, p.FileInfo.TotalChunks)

	forward := p
	forward.ToUserID = ""
	forward.From = senderID
	if !r.registry.Send(p.ToUserID, protocol.TypeTransferRequest, forward) {
		r.failTransfer(t, errTargetDisconnected, senderID)
		return
	}
	r.emitSync(t)
}

// handleTransferResponse resolves a pending offer: acceptance activates the
// transfer, rejection destroys it. Either way the sender hears back.
func (r *Router) handleTransferResponse(c *Client, env *protocol.Envelope) {
	var p protocol.TransferResponsePayload
	if err := env.Unmarshal(&p); err != nil {
		r.drop(c, len(env.Data), err)
		return
	}
	receiverID, ok := r.requireSession(c, protocol.TypeTransferResponse)
	if !ok {
		return
	}
	r.touch(c)

	key := transfer.Key{SenderID: p.ToUserID, ReceiverID: receiverID, FileID: p.FileID}
	t, exists := r.table.Get(key)
	if !exists {
		r.logger.WithSession(receiverID).Warn("transfer-response for unknown transfer")
		return
	}

	if p.Accepted {
		if err := t.Accept(); err != nil {
			r.logger.Error(err, "transfer acceptance rejected by state machine")
			return
		}
		r.registry.Send(p.ToUserID, protocol.TypeTransferAccepted, protocol.TransferAcceptedPayload{
			FromUserID: receiverID,
			FileID:     p.FileID,
		})
		return
	}

	_ = t.Cancel()
	r.registry.Send(p.ToUserID, protocol.TypeTransferRejected, protocol.TransferRejectedPayload{
		FromUserID: receiverID,
		FileID:     p.FileID,
		Reason:     p.Reason,
	})
	r.table.Remove(key, "rejected by receiver")
}

// handleFileChunk applies the chunk-relay rules: first-seen indices are
// forwarded exactly once and acked "received"; repeats are absorbed,
// counted, and acked "duplicate". The chunk body is never decoded.
func (r *Router) handleFileChunk(c *Client, env *protocol.Envelope) {
	var p protocol.FileChunkPayload
	if err := env.Unmarshal(&p); err != nil {
		r.drop(c, len(env.Data), err)
		return
	}
	senderID, ok := r.requireSession(c, protocol.TypeFileChunk)
	if !ok {
		return
	}
	r.touch(c)

	key := transfer.Key{SenderID: senderID, ReceiverID: p.ToUserID, FileID: p.FileID}
	t, exists := r.table.Get(key)
	if !exists {
		if !r.registry.Has(p.ToUserID) {
			r.sendError(senderID, errTargetDisconnected, p.FileID)
			return
		}
		r.logger.WithSession(senderID).Warn("file-chunk for unknown transfer")
		return
	}

	result, err := t.AcceptChunk(p.ChunkIndex)
	if errors.Is(err, transfer.ErrChunkOutOfRange) {
		r.failTransfer(t, errInvalidChunkIndex, senderID, p.ToUserID)
		return
	}
	if err != nil {
		r.logger.Error(err, "chunk rejected by state machine")
		return
	}

	if result.Duplicate {
		r.metrics.DuplicateChunks.Inc()
		r.logger.DuplicateChunk(senderID, p.FileID, p.ChunkIndex, t.Status().DuplicatesRejected)
		r.registry.Send(senderID, protocol.TypeChunkAck, protocol.ChunkAckPayload{
			FileID:     p.FileID,
			ChunkIndex: p.ChunkIndex,
			Status:     protocol.AckStatusDuplicate,
		})
		r.emitSync(t)
		return
	}

	forward := p
	forward.ToUserID = ""
	forward.From = senderID
	forward.Progress = result.ReceiverProgress
	if !r.registry.Send(p.ToUserID, protocol.TypeFileChunk, forward) {
		r.failTransfer(t, errTargetDisconnected, senderID)
		return
	}
	r.metrics.ChunksRelayed.Inc()
	r.metrics.ChunkBytesRelayed.Add(float64(len(p.Chunk)))
	r.logger.ChunkRelayed(senderID, p.ToUserID, p.FileID, p.ChunkIndex, result.ReceiverProgress)

	r.registry.Send(senderID, protocol.TypeChunkAck, protocol.ChunkAckPayload{
		FileID:           p.FileID,
		ChunkIndex:       p.ChunkIndex,
		Status:           protocol.AckStatusReceived,
		ReceiverProgress: result.ReceiverProgress,
	})
	r.emitSync(t)
}

// handleChunkAck folds a receiver-routed ack into transfer progress and
// forwards it to the sender unchanged.
func (r *Router) handleChunkAck(c *Client, env *protocol.Envelope) {
	var p protocol.ChunkAckPayload
	if err := env.Unmarshal(&p); err != nil {
		r.drop(c, len(env.Data), err)
		return
	}
	receiverID, ok := r.requireSession(c, protocol.TypeChunkAck)
	if !ok {
		return
	}
	r.touch(c)

	key := transfer.Key{SenderID: p.ToUserID, ReceiverID: receiverID, FileID: p.FileID}
	t, exists := r.table.Get(key)
	if !exists {
		r.logger.WithSession(receiverID).Warn("chunk-ack for unknown transfer")
		return
	}

	switch p.Status {
	case protocol.AckStatusReceived:
		t.ApplyReceivedAck(p.ReceiverProgress)
	case protocol.AckStatusDuplicate:
		t.ApplyDuplicateAck(p.ChunkIndex)
	}

	r.registry.Send(p.ToUserID, protocol.TypeChunkAck, protocol.ChunkAckPayload{
		FileID:           p.FileID,
		ChunkIndex:       p.ChunkIndex,
		Status:           p.Status,
		ReceiverProgress: p.ReceiverProgress,
	})
	r.emitSync(t)
}

// handleTransferComplete moves the transfer to completed and relays the
// notice. The table keeps the row for the completion grace so a late ack
// still resolves.
func (r *Router) handleTransferComplete(c *Client, env *protocol.Envelope) {
	var p protocol.TransferCompletePayload
	if err := env.Unmarshal(&p); err != nil {
		r.drop(c, len(env.Data), err)
		return
	}
	senderID, ok := r.requireSession(c, protocol.TypeTransferComplete)
	if !ok {
		return
	}
	r.touch(c)

	key := transfer.Key{SenderID: senderID, ReceiverID: p.ToUserID, FileID: p.FileID}
	t, exists := r.table.Get(key)
	if !exists {
		if !r.registry.Has(p.ToUserID) {
			r.sendError(senderID, errTargetDisconnected, p.FileID)
			return
		}
		r.logger.WithSession(senderID).Warn("transfer-complete for unknown transfer")
		return
	}

	if err := t.Complete(); err != nil {
		r.logger.Error(err, "completion rejected by state machine")
		return
	}

	forward := p
	forward.ToUserID = ""
	forward.From = senderID
	if !r.registry.Send(p.ToUserID, protocol.TypeTransferComplete, forward) {
		r.failTransfer(t, errTargetDisconnected, senderID)
		return
	}
}

// handleCancelTransfer cancels every matching transfer the caller is party
// to and relays the cancellation to the counter-peer. A repeat cancel
// matches nothing and is a no-op.
func (r *Router) handleCancelTransfer(c *Client, env *protocol.Envelope) {
	var p protocol.CancelTransferPayload
	if err := env.Unmarshal(&p); err != nil {
		r.drop(c, len(env.Data), err)
		return
	}
	sessionID, ok := r.requireSession(c, protocol.TypeCancelTransfer)
	if !ok {
		return
	}
	r.touch(c)

	for _, t := range r.resolveCancel(sessionID, p.TransferID) {
		key := t.Key()
		peer := key.SenderID
		if peer == sessionID {
			peer = key.ReceiverID
		}
		if err := t.Cancel(); err != nil {
			continue
		}
		r.registry.Send(peer, protocol.TypeCancelTransfer, protocol.CancelTransferPayload{
			TransferID: p.TransferID,
			Reason:     p.Reason,
			From:       sessionID,
		})
		r.table.Remove(key, "cancelled")
	}
}

// resolveCancel maps a wire transfer id onto table entries. The full
// sender:receiver:file triple is accepted; a bare id is treated as a file
// id scoped to transfers the caller participates in.
func (r *Router) resolveCancel(sessionID, transferID string) []*transfer.Transfer {
	if parts := strings.SplitN(transferID, ":", 3); len(parts) == 3 {
		key := transfer.Key{SenderID: parts[0], ReceiverID: parts[1], FileID: parts[2]}
		if key.SenderID != sessionID && key.ReceiverID != sessionID {
			return nil
		}
		if t, exists := r.table.Get(key); exists {
			return []*transfer.Transfer{t}
		}
		return nil
	}
	return r.table.FindByFile(sessionID, transferID)
}

// handleResumeTransfer forwards the resume request opaque; the sender owns
// resume semantics.
func (r *Router) handleResumeTransfer(c *Client, env *protocol.Envelope) {
	var p protocol.ResumeTransferPayload
	if err := env.Unmarshal(&p); err != nil {
		r.drop(c, len(env.Data), err)
		return
	}
	sessionID, ok := r.requireSession(c, protocol.TypeResumeTransfer)
	if !ok {
		return
	}
	r.touch(c)

	forward := p
	forward.ToUserID = ""
	forward.From = sessionID
	if !r.registry.Send(p.ToUserID, protocol.TypeResumeTransfer, forward) {
		r.sendError(sessionID, errTargetNotFound, p.FileID)
	}
}
