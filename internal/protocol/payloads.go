package protocol

// FileInfo describes the file being offered. It is immutable for the life
// of one transfer.
type FileInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Type        string `json:"type,omitempty"`
	TotalChunks int64  `json:"totalChunks"`
	ChunkSize   int64  `json:"chunkSize"`
}

// Client -> coordinator payloads.

type RegisterPayload struct {
	UserID     string `json:"userId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type TransferRequestPayload struct {
	ToUserID string   `json:"toUserId"`
	FileID   string   `json:"fileId"`
	FileInfo FileInfo `json:"fileInfo"`
	// From is rewritten by the coordinator before forwarding.
	From string `json:"from,omitempty"`
}

type TransferResponsePayload struct {
	ToUserID string `json:"toUserId"`
	FileID   string `json:"fileId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// FileChunkPayload carries one base64-encoded chunk. The Chunk string is
// opaque to the coordinator; only From and Progress are rewritten on relay.
type FileChunkPayload struct {
	ToUserID    string  `json:"toUserId,omitempty"`
	FileID      string  `json:"fileId"`
	ChunkIndex  int64   `json:"chunkIndex"`
	Chunk       string  `json:"chunk"`
	TotalChunks int64   `json:"totalChunks"`
	ChunkSize   int64   `json:"chunkSize,omitempty"`
	From        string  `json:"from,omitempty"`
	Progress    float64 `json:"progress,omitempty"`
}

// Ack statuses.
const (
	AckStatusReceived  = "received"
	AckStatusDuplicate = "duplicate"
)

type ChunkAckPayload struct {
	ToUserID         string  `json:"toUserId,omitempty"`
	FileID           string  `json:"fileId"`
	ChunkIndex       int64   `json:"chunkIndex"`
	Status           string  `json:"status"`
	ReceiverProgress float64 `json:"receiverProgress,omitempty"`
}

type TransferCompletePayload struct {
	ToUserID string `json:"toUserId,omitempty"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName,omitempty"`
	From     string `json:"from,omitempty"`
}

type CancelTransferPayload struct {
	TransferID string `json:"transferId"`
	Reason     string `json:"reason,omitempty"`
	From       string `json:"from,omitempty"`
}

type ResumeTransferPayload struct {
	ToUserID  string `json:"toUserId"`
	FileID    string `json:"fileId"`
	FromChunk int64  `json:"fromChunk"`
	From      string `json:"from,omitempty"`
}

// Coordinator -> client payloads.

type RegisteredPayload struct {
	UserID string `json:"userId"`
}

type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// DeviceEntry is one roster row.
type DeviceEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TransferAcceptedPayload struct {
	FromUserID string `json:"fromUserId"`
	FileID     string `json:"fileId"`
}

type TransferRejectedPayload struct {
	FromUserID string `json:"fromUserId"`
	FileID     string `json:"fileId"`
	Reason     string `json:"reason,omitempty"`
}

type SyncStatusPayload struct {
	SenderID           string  `json:"senderId"`
	ReceiverID         string  `json:"receiverId"`
	FileID             string  `json:"fileId"`
	SenderProgress     float64 `json:"senderProgress"`
	ReceiverProgress   float64 `json:"receiverProgress"`
	SyncLag            float64 `json:"syncLag"`
	DuplicatesRejected int64   `json:"duplicatesRejected"`
	LastChunkTime      int64   `json:"lastChunkTime"`
}

type TransferErrorPayload struct {
	Error  string `json:"error"`
	FileID string `json:"fileId,omitempty"`
}
