package transfer

import (
	"strings"
	"sync"
	"time"

	"github.com/dropwire/coordinator/internal/observability"
)

// Table is the authoritative in-memory store of live transfers, keyed by
// (sender, receiver, file-id). It exclusively owns Transfers; the router
// holds references only for the span of one envelope.
type Table struct {
	transfers map[Key]*Transfer
	mu        sync.RWMutex

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewTable creates an empty transfer table.
func NewTable(logger *observability.Logger, metrics *observability.Metrics) *Table {
	return &Table{
		transfers: make(map[Key]*Transfer),
		logger:    logger,
		metrics:   metrics,
	}
}

// Add inserts a transfer under its key.
func (tb *Table) Add(t *Transfer) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if _, exists := tb.transfers[t.Key()]; exists {
		return ErrTransferAlreadyExists
	}
	tb.transfers[t.Key()] = t
	tb.metrics.TransfersActive.Inc()
	return nil
}

// Get retrieves a transfer by key.
func (tb *Table) Get(key Key) (*Transfer, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	t, exists := tb.transfers[key]
	return t, exists
}

// Remove deletes a transfer and records its terminal outcome.
func (tb *Table) Remove(key Key, reason string) {
	tb.mu.Lock()
	t, exists := tb.transfers[key]
	if exists {
		delete(tb.transfers, key)
	}
	tb.mu.Unlock()

	if !exists {
		return
	}
	outcome := strings.ToLower(t.State().String())
	tb.metrics.RecordTransferEnd(outcome)
	tb.logger.TransferEnded(key.SenderID, key.ReceiverID, key.FileID, t.State().String(), reason)
}

// ForSession returns every transfer in which the session participates, as
// sender or receiver.
func (tb *Table) ForSession(sessionID string) []*Transfer {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	var out []*Transfer
	for key, t := range tb.transfers {
		if key.SenderID == sessionID || key.ReceiverID == sessionID {
			out = append(out, t)
		}
	}
	return out
}

// FindByFile returns transfers with the given file id in which the session
// participates. Used to resolve wire-level cancel requests.
func (tb *Table) FindByFile(sessionID, fileID string) []*Transfer {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	var out []*Transfer
	for key, t := range tb.transfers {
		if key.FileID != fileID {
			continue
		}
		if key.SenderID == sessionID || key.ReceiverID == sessionID {
			out = append(out, t)
		}
	}
	return out
}

// IdleTransfers returns live transfers without chunk activity past the
// cutoff.
func (tb *Table) IdleTransfers(cutoff time.Duration) []*Transfer {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	var out []*Transfer
	for _, t := range tb.transfers {
		if t.IdleExpired(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// ReapableTransfers returns terminal transfers past their grace period.
func (tb *Table) ReapableTransfers(grace time.Duration) []*Transfer {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	var out []*Transfer
	for _, t := range tb.transfers {
		if t.GraceExpired(grace) {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of transfers in the table.
func (tb *Table) Count() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.transfers)
}
