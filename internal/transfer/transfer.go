package transfer

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrTransferAlreadyExists  = errors.New("transfer already exists")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrChunkOutOfRange        = errors.New("chunk index out of range")
	ErrInvalidDescriptor      = errors.New("invalid file descriptor")
)

// State represents the lifecycle state of a transfer.
type State int

const (
	StatePending State = iota + 1
	StateActive
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var validTransitions = map[State][]State{
	StatePending:   {StateActive, StateFailed, StateCancelled},
	StateActive:    {StateCompleted, StateFailed, StateCancelled},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// Key identifies a transfer: one attempted delivery of one file between
// two sessions.
type Key struct {
	SenderID   string
	ReceiverID string
	FileID     string
}

// FileDescriptor is the sender-declared shape of the file. Immutable for
// the life of the transfer.
type FileDescriptor struct {
	ID          string
	Name        string
	Size        int64
	ChunkSize   int64
	TotalChunks int64
	MIME        string
}

// Validate rejects descriptors the relay cannot track.
func (fd FileDescriptor) Validate() error {
	if fd.ID == "" {
		return ErrInvalidDescriptor
	}
	if fd.TotalChunks <= 0 {
		return ErrInvalidDescriptor
	}
	if fd.Size < 0 || fd.ChunkSize < 0 {
		return ErrInvalidDescriptor
	}
	return nil
}

// SyncStatus is the derived two-sided progress snapshot emitted after every
// chunk or ack that mutates a transfer.
type SyncStatus struct {
	SenderID           string
	ReceiverID         string
	FileID             string
	SenderProgress     float64
	ReceiverProgress   float64
	SyncLag            float64
	DuplicatesRejected int64
	LastChunkTime      time.Time
}

// Transfer holds per-transfer relay state. Peers are referenced by session
// id only and resolved through the registry at forward time.
type Transfer struct {
	key  Key
	file FileDescriptor

	state      State
	received   *ChunkBitmap
	dupCounted *ChunkBitmap
	sentPct    float64
	recvPct    float64
	duplicates int64
	lastChunk  time.Time
	endedAt    time.Time
	failReason string

	mu sync.Mutex
}

// NewTransfer creates a pending transfer with an empty received set.
func NewTransfer(key Key, file FileDescriptor) (*Transfer, error) {
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &Transfer{
		key:        key,
		file:       file,
		state:      StatePending,
		received:   NewChunkBitmap(file.TotalChunks),
		dupCounted: NewChunkBitmap(file.TotalChunks),
		lastChunk:  time.Now(),
	}, nil
}

// Key returns the transfer identity triple.
func (t *Transfer) Key() Key { return t.key }

// File returns the immutable descriptor.
func (t *Transfer) File() FileDescriptor { return t.file }

// State returns the current lifecycle state.
func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// FailReason returns the recorded failure reason, if any.
func (t *Transfer) FailReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failReason
}

func (t *Transfer) transitionLocked(to State) error {
	for _, allowed := range validTransitions[t.state] {
		if allowed == to {
			t.state = to
			if to.Terminal() {
				t.endedAt = time.Now()
			}
			return nil
		}
	}
	return ErrInvalidStateTransition
}

// Accept moves a pending transfer to active on receiver acceptance.
func (t *Transfer) Accept() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(StateActive)
}

// ChunkResult reports how an inbound chunk mutated the transfer.
type ChunkResult struct {
	Duplicate        bool
	ReceiverProgress float64
}

// AcceptChunk applies one inbound chunk index. A first-seen index grows the
// received set and both progress figures; an already-seen index only bumps
// the duplicate count. Either way the activity clock refreshes. A chunk on
// a pending transfer activates it (acceptance is implicit in the sender's
// first chunk).
func (t *Transfer) AcceptChunk(chunkIndex int64) (ChunkResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return ChunkResult{}, ErrInvalidStateTransition
	}
	if chunkIndex < 0 || chunkIndex >= t.file.TotalChunks {
		return ChunkResult{}, ErrChunkOutOfRange
	}
	if t.state == StatePending {
		if err := t.transitionLocked(StateActive); err != nil {
			return ChunkResult{}, err
		}
	}

	newlySet, err := t.received.Set(chunkIndex)
	if err != nil {
		return ChunkResult{}, err
	}
	t.lastChunk = time.Now()

	if !newlySet {
		t.duplicates++
		// Remember the index so a receiver-routed duplicate ack for it is
		// not counted a second time.
		_, _ = t.dupCounted.Set(chunkIndex)
		return ChunkResult{Duplicate: true, ReceiverProgress: t.recvPct}, nil
	}

	t.recvPct = float64(t.received.Received()) / float64(t.file.TotalChunks) * 100

	// The highest index seen implies the sender has produced at least
	// through it; out-of-order indices never reduce sent progress.
	sent := float64(chunkIndex+1) / float64(t.file.TotalChunks) * 100
	if sent > 100 {
		sent = 100
	}
	if sent > t.sentPct {
		t.sentPct = sent
	}

	return ChunkResult{ReceiverProgress: t.recvPct}, nil
}

// ApplyReceivedAck folds a receiver-routed "received" ack into progress.
// Receiver progress is monotonic and never exceeds sender progress.
func (t *Transfer) ApplyReceivedAck(receiverProgress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if receiverProgress > t.recvPct {
		t.recvPct = receiverProgress
	}
	if t.recvPct > t.sentPct {
		t.recvPct = t.sentPct
	}
}

// ApplyDuplicateAck counts a receiver-routed "duplicate" ack, unless the
// same index was already counted when the duplicate arrived inbound. The
// count never decrements.
func (t *Transfer) ApplyDuplicateAck(chunkIndex int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dupCounted.Has(chunkIndex) {
		return
	}
	_, _ = t.dupCounted.Set(chunkIndex)
	t.duplicates++
}

// Complete marks the transfer completed. The table reaps it after the
// grace period so late acks still resolve.
func (t *Transfer) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(StateCompleted)
}

// Fail marks the transfer failed with a reason.
func (t *Transfer) Fail(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StateFailed); err != nil {
		return err
	}
	t.failReason = reason
	return nil
}

// Cancel marks the transfer cancelled.
func (t *Transfer) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(StateCancelled)
}

// IdleExpired reports whether a live transfer has gone without chunk
// activity past the cutoff.
func (t *Transfer) IdleExpired(cutoff time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.state.Terminal() && time.Since(t.lastChunk) > cutoff
}

// GraceExpired reports whether a terminal transfer is past its grace
// period and ready to reap.
func (t *Transfer) GraceExpired(grace time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Terminal() && time.Since(t.endedAt) > grace
}

// Status returns the derived sync snapshot.
func (t *Transfer) Status() SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	lag := t.sentPct - t.recvPct
	if lag < 0 {
		lag = 0
	}
	return SyncStatus{
		SenderID:           t.key.SenderID,
		ReceiverID:         t.key.ReceiverID,
		FileID:             t.key.FileID,
		SenderProgress:     t.sentPct,
		ReceiverProgress:   t.recvPct,
		SyncLag:            lag,
		DuplicatesRejected: t.duplicates,
		LastChunkTime:      t.lastChunk,
	}
}
