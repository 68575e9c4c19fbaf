package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEnvelopeTooLarge = errors.New("envelope exceeds byte ceiling")
	ErrMalformed        = errors.New("malformed envelope")
	ErrUnknownType      = errors.New("unknown message type")
)

// Message types accepted from clients.
const (
	TypeRegister         = "register"
	TypePing             = "ping"
	TypeTransferRequest  = "transfer-request"
	TypeTransferResponse = "transfer-response"
	TypeFileChunk        = "file-chunk"
	TypeChunkAck         = "chunk-ack"
	TypeTransferComplete = "transfer-complete"
	TypeCancelTransfer   = "cancel-transfer"
	TypeResumeTransfer   = "resume-transfer"
)

// Message types emitted to clients.
const (
	TypeRegistered       = "registered"
	TypePong             = "pong"
	TypeDevices          = "devices"
	TypeTransferAccepted = "transfer-accepted"
	TypeTransferRejected = "transfer-rejected"
	TypeSyncStatus       = "sync-status"
	TypeTransferError    = "transfer-error"
)

var inboundTypes = map[string]struct{}{
	TypeRegister:         {},
	TypePing:             {},
	TypeTransferRequest:  {},
	TypeTransferResponse: {},
	TypeFileChunk:        {},
	TypeChunkAck:         {},
	TypeTransferComplete: {},
	TypeCancelTransfer:   {},
	TypeResumeTransfer:   {},
}

// Envelope is the tagged wire frame. Data stays raw until a handler decodes
// it; chunk base64 strings are never re-encoded on the relay path.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses an inbound envelope, enforcing the byte ceiling and the
// catalogue of known inbound types. Failures here are soft: the caller logs
// and drops the message without disturbing the session.
func Decode(raw []byte, maxBytes int64) (*Envelope, error) {
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes over %d ceiling", ErrEnvelopeTooLarge, len(raw), maxBytes)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if _, known := inboundTypes[env.Type]; !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return &env, nil
}

// Encode marshals an outbound envelope.
func Encode(msgType string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(&Envelope{Type: msgType, Data: payload})
}

// Unmarshal decodes an envelope's data into the given payload struct.
func (e *Envelope) Unmarshal(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s carries no data", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
