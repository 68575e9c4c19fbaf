package transfer

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dropwire/coordinator/internal/observability"
)

// One metrics set per test binary; Prometheus registration is global.
var testMetrics = observability.NewMetrics()

func newTestTable() *Table {
	return NewTable(observability.NewLogger("test", "test", io.Discard), testMetrics)
}

func TestTable_AddAndGet(t *testing.T) {
	tb := newTestTable()
	tr, _ := NewTransfer(testKey(), testFile(10))

	if err := tb.Add(tr); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, exists := tb.Get(testKey())
	if !exists {
		t.Fatal("Expected transfer to be found")
	}
	if got != tr {
		t.Error("Get returned a different transfer")
	}
	if tb.Count() != 1 {
		t.Errorf("Expected count 1, got %d", tb.Count())
	}
}

func TestTable_DuplicateKey(t *testing.T) {
	tb := newTestTable()
	tr1, _ := NewTransfer(testKey(), testFile(10))
	tr2, _ := NewTransfer(testKey(), testFile(20))

	tb.Add(tr1)
	if err := tb.Add(tr2); !errors.Is(err, ErrTransferAlreadyExists) {
		t.Fatalf("Expected ErrTransferAlreadyExists, got %v", err)
	}
}

func TestTable_SameFileDifferentPeers(t *testing.T) {
	tb := newTestTable()
	tr1, _ := NewTransfer(Key{SenderID: "alice", ReceiverID: "bob", FileID: "f1"}, testFile(10))
	tr2, _ := NewTransfer(Key{SenderID: "alice", ReceiverID: "carol", FileID: "f1"}, testFile(10))

	if err := tb.Add(tr1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := tb.Add(tr2); err != nil {
		t.Fatalf("Same file to a second receiver must be a distinct transfer: %v", err)
	}
	if tb.Count() != 2 {
		t.Errorf("Expected 2 transfers, got %d", tb.Count())
	}
}

func TestTable_Remove(t *testing.T) {
	tb := newTestTable()
	tr, _ := NewTransfer(testKey(), testFile(10))
	tb.Add(tr)
	tr.Cancel()

	tb.Remove(testKey(), "cancelled")
	if _, exists := tb.Get(testKey()); exists {
		t.Error("Expected transfer gone after Remove")
	}

	// Removing an absent key is a no-op.
	tb.Remove(testKey(), "cancelled")
}

func TestTable_ForSession(t *testing.T) {
	tb := newTestTable()
	asSender, _ := NewTransfer(Key{SenderID: "alice", ReceiverID: "bob", FileID: "f1"}, testFile(10))
	asReceiver, _ := NewTransfer(Key{SenderID: "carol", ReceiverID: "alice", FileID: "f2"}, testFile(10))
	unrelated, _ := NewTransfer(Key{SenderID: "carol", ReceiverID: "bob", FileID: "f3"}, testFile(10))
	tb.Add(asSender)
	tb.Add(asReceiver)
	tb.Add(unrelated)

	got := tb.ForSession("alice")
	if len(got) != 2 {
		t.Fatalf("Expected 2 transfers for alice, got %d", len(got))
	}
}

func TestTable_FindByFile(t *testing.T) {
	tb := newTestTable()
	mine, _ := NewTransfer(Key{SenderID: "alice", ReceiverID: "bob", FileID: "f1"}, testFile(10))
	other, _ := NewTransfer(Key{SenderID: "carol", ReceiverID: "dave", FileID: "f1"}, testFile(10))
	tb.Add(mine)
	tb.Add(other)

	got := tb.FindByFile("alice", "f1")
	if len(got) != 1 {
		t.Fatalf("Expected 1 transfer, got %d", len(got))
	}
	if got[0] != mine {
		t.Error("FindByFile matched a transfer alice is not party to")
	}

	if got := tb.FindByFile("alice", "missing"); len(got) != 0 {
		t.Errorf("Expected no transfers for unknown file, got %d", len(got))
	}
}

func TestTable_Sweeps(t *testing.T) {
	tb := newTestTable()
	live, _ := NewTransfer(Key{SenderID: "a", ReceiverID: "b", FileID: "f1"}, testFile(10))
	done, _ := NewTransfer(Key{SenderID: "a", ReceiverID: "b", FileID: "f2"}, testFile(10))
	tb.Add(live)
	tb.Add(done)
	done.AcceptChunk(0)
	done.Complete()

	idle := tb.IdleTransfers(0)
	if len(idle) != 1 || idle[0] != live {
		t.Errorf("Expected only the live transfer to be idle, got %d", len(idle))
	}
	if idle := tb.IdleTransfers(time.Hour); len(idle) != 0 {
		t.Errorf("Expected no idle transfers under a long cutoff, got %d", len(idle))
	}

	reap := tb.ReapableTransfers(0)
	if len(reap) != 1 || reap[0] != done {
		t.Errorf("Expected only the terminal transfer to be reapable, got %d", len(reap))
	}
	if reap := tb.ReapableTransfers(time.Hour); len(reap) != 0 {
		t.Errorf("Expected no reapable transfers within grace, got %d", len(reap))
	}
}
