package transfer

import (
	"errors"
	"testing"
	"time"
)

func testKey() Key {
	return Key{SenderID: "alice", ReceiverID: "bob", FileID: "file-1"}
}

func testFile(totalChunks int64) FileDescriptor {
	return FileDescriptor{
		ID:          "file-1",
		Name:        "photo.jpg",
		Size:        totalChunks * 65536,
		ChunkSize:   65536,
		TotalChunks: totalChunks,
		MIME:        "image/jpeg",
	}
}

func TestNewTransfer_InvalidDescriptor(t *testing.T) {
	cases := []FileDescriptor{
		{ID: "", TotalChunks: 10},
		{ID: "f1", TotalChunks: 0},
		{ID: "f1", TotalChunks: -1},
		{ID: "f1", TotalChunks: 10, Size: -1},
		{ID: "f1", TotalChunks: 10, ChunkSize: -1},
	}
	for _, fd := range cases {
		if _, err := NewTransfer(testKey(), fd); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Expected ErrInvalidDescriptor for %+v, got %v", fd, err)
		}
	}
}

func TestTransfer_Lifecycle(t *testing.T) {
	tr, err := NewTransfer(testKey(), testFile(10))
	if err != nil {
		t.Fatalf("NewTransfer failed: %v", err)
	}
	if tr.State() != StatePending {
		t.Fatalf("Expected PENDING, got %v", tr.State())
	}

	if err := tr.Accept(); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if tr.State() != StateActive {
		t.Fatalf("Expected ACTIVE, got %v", tr.State())
	}

	if err := tr.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if tr.State() != StateCompleted {
		t.Fatalf("Expected COMPLETED, got %v", tr.State())
	}

	// Terminal states admit nothing.
	if err := tr.Cancel(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition after completion, got %v", err)
	}
	if err := tr.Fail("too late"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition after completion, got %v", err)
	}
}

func TestTransfer_CompleteFromPendingRejected(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))

	if err := tr.Complete(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("Expected ErrInvalidStateTransition for PENDING->COMPLETED, got %v", err)
	}
}

func TestTransfer_ChunkActivatesPending(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))

	result, err := tr.AcceptChunk(0)
	if err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}
	if result.Duplicate {
		t.Error("First chunk must not be a duplicate")
	}
	if tr.State() != StateActive {
		t.Errorf("Expected chunk to activate pending transfer, got %v", tr.State())
	}
}

func TestTransfer_DuplicateChunk(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))

	if _, err := tr.AcceptChunk(4); err != nil {
		t.Fatalf("AcceptChunk failed: %v", err)
	}

	result, err := tr.AcceptChunk(4)
	if err != nil {
		t.Fatalf("Repeat AcceptChunk failed: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("Expected repeat chunk to be a duplicate")
	}

	st := tr.Status()
	if st.DuplicatesRejected != 1 {
		t.Errorf("Expected 1 duplicate, got %d", st.DuplicatesRejected)
	}
	if st.ReceiverProgress != 10 {
		t.Errorf("Duplicate must not grow progress: got %v", st.ReceiverProgress)
	}
}

func TestTransfer_ProgressMonotonicOutOfOrder(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))

	// Highest index first implies the sender produced through it.
	tr.AcceptChunk(7)
	st := tr.Status()
	if st.SenderProgress != 80 {
		t.Fatalf("Expected sender progress 80 after index 7, got %v", st.SenderProgress)
	}

	// A lower index must never reduce sender progress.
	tr.AcceptChunk(2)
	st = tr.Status()
	if st.SenderProgress != 80 {
		t.Errorf("Sender progress regressed to %v", st.SenderProgress)
	}
	if st.ReceiverProgress != 20 {
		t.Errorf("Expected receiver progress 20, got %v", st.ReceiverProgress)
	}
	if st.SyncLag != 60 {
		t.Errorf("Expected sync lag 60, got %v", st.SyncLag)
	}
}

func TestTransfer_SingleChunkCompletes(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(1))

	tr.AcceptChunk(0)
	st := tr.Status()
	if st.SenderProgress != 100 || st.ReceiverProgress != 100 {
		t.Errorf("Expected 100/100 for single-chunk file, got %v/%v", st.SenderProgress, st.ReceiverProgress)
	}
	if st.SyncLag != 0 {
		t.Errorf("Expected zero lag, got %v", st.SyncLag)
	}
}

func TestTransfer_ChunkOutOfRange(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))

	if _, err := tr.AcceptChunk(10); !errors.Is(err, ErrChunkOutOfRange) {
		t.Errorf("Expected ErrChunkOutOfRange for index 10 of 10, got %v", err)
	}
	if _, err := tr.AcceptChunk(-1); !errors.Is(err, ErrChunkOutOfRange) {
		t.Errorf("Expected ErrChunkOutOfRange for negative index, got %v", err)
	}
}

func TestTransfer_ChunkAfterTerminal(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))
	tr.AcceptChunk(0)
	tr.Cancel()

	if _, err := tr.AcceptChunk(1); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition for chunk on cancelled transfer, got %v", err)
	}
}

func TestTransfer_ReceivedAckClampedToSender(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))
	tr.AcceptChunk(4) // sender 50, receiver 10

	// A receiver ack claiming more than the sender produced is clamped.
	tr.ApplyReceivedAck(90)
	st := tr.Status()
	if st.ReceiverProgress != 50 {
		t.Errorf("Expected receiver progress clamped to 50, got %v", st.ReceiverProgress)
	}

	// Acks never move progress backwards.
	tr.ApplyReceivedAck(20)
	st = tr.Status()
	if st.ReceiverProgress != 50 {
		t.Errorf("Receiver progress regressed to %v", st.ReceiverProgress)
	}
}

func TestTransfer_DuplicateAckCountedOnce(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))
	tr.AcceptChunk(3)
	tr.AcceptChunk(3) // inbound duplicate: counted now

	// The receiver-routed duplicate ack for the same index must not
	// count a second time.
	tr.ApplyDuplicateAck(3)
	if st := tr.Status(); st.DuplicatesRejected != 1 {
		t.Errorf("Expected 1 duplicate, got %d", st.DuplicatesRejected)
	}

	// A duplicate the relay never saw inbound still counts.
	tr.ApplyDuplicateAck(5)
	if st := tr.Status(); st.DuplicatesRejected != 2 {
		t.Errorf("Expected 2 duplicates, got %d", st.DuplicatesRejected)
	}

	// And repeats of that ack do not.
	tr.ApplyDuplicateAck(5)
	if st := tr.Status(); st.DuplicatesRejected != 2 {
		t.Errorf("Expected duplicates to stay at 2, got %d", st.DuplicatesRejected)
	}
}

func TestTransfer_FailRecordsReason(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))

	if err := tr.Fail("peer disconnected"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if tr.State() != StateFailed {
		t.Errorf("Expected FAILED, got %v", tr.State())
	}
	if tr.FailReason() != "peer disconnected" {
		t.Errorf("Expected fail reason recorded, got %q", tr.FailReason())
	}
}

func TestTransfer_IdleAndGrace(t *testing.T) {
	tr, _ := NewTransfer(testKey(), testFile(10))
	tr.AcceptChunk(0)

	if tr.IdleExpired(time.Hour) {
		t.Error("Fresh transfer must not be idle-expired")
	}
	if !tr.IdleExpired(0) {
		t.Error("Zero cutoff must report idle")
	}
	if tr.GraceExpired(0) {
		t.Error("Live transfer must never be grace-expired")
	}

	tr.Complete()
	if tr.IdleExpired(0) {
		t.Error("Terminal transfer must not be idle-expired")
	}
	if !tr.GraceExpired(0) {
		t.Error("Completed transfer past zero grace must be reapable")
	}
}
