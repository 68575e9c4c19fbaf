package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dropwire/coordinator/internal/observability"
	"github.com/dropwire/coordinator/internal/protocol"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("session id already registered")
)

// Registry owns the set of live sessions and the broadcast roster. All
// session mutations pass through it; other components hold session ids,
// never *Session pointers.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	sendDeadline time.Duration
	settleDelay  time.Duration

	// onUnregister is invoked after a session is removed, outside the
	// registry lock, so the transfer table can cancel its transfers.
	onUnregister func(sessionID string)

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRegistry creates a session registry.
func NewRegistry(sendDeadline, settleDelay time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		sendDeadline: sendDeadline,
		settleDelay:  settleDelay,
		logger:       logger,
		metrics:      metrics,
	}
}

// OnUnregister sets the hook invoked when a session is removed.
func (r *Registry) OnUnregister(fn func(sessionID string)) {
	r.onUnregister = fn
}

// Register inserts a session and schedules roster broadcasts: one now, one
// after the settle delay to absorb simultaneous arrivals.
func (r *Registry) Register(sessionID, deviceName string, out Outbound) error {
	r.mu.Lock()
	if _, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	now := time.Now()
	r.sessions[sessionID] = &Session{
		ID:          sessionID,
		DeviceName:  deviceName,
		ConnectedAt: now,
		lastSeen:    now,
		out:         out,
	}
	r.mu.Unlock()

	r.metrics.SessionsActive.Inc()
	r.metrics.SessionsTotal.Inc()
	r.logger.SessionRegistered(sessionID, deviceName, DisplayName(deviceName, sessionID))

	r.ScheduleRosterBroadcast()
	return nil
}

// UpdateDeviceName overwrites the declared device name and schedules a
// roster broadcast.
func (r *Registry) UpdateDeviceName(sessionID, newName string) error {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if !exists {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	s.DeviceName = newName
	r.mu.Unlock()

	r.ScheduleRosterBroadcast()
	return nil
}

// Unregister removes the session, fires the unregister hook (which cancels
// that session's transfers), and schedules a roster broadcast.
func (r *Registry) Unregister(sessionID, reason string) error {
	r.mu.Lock()
	s, exists := r.sessions[sessionID]
	if !exists {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	_ = s.out.Close()
	r.metrics.SessionsActive.Dec()
	r.logger.SessionClosed(sessionID, reason)

	if r.onUnregister != nil {
		r.onUnregister(sessionID)
	}

	r.ScheduleRosterBroadcast()
	return nil
}

// Touch refreshes a session's last-heartbeat time. Every accepted inbound
// envelope counts; rejected ones do not.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	if s, exists := r.sessions[sessionID]; exists {
		s.lastSeen = time.Now()
	}
	r.mu.Unlock()
}

// Has reports whether a session is live.
func (r *Registry) Has(sessionID string) bool {
	r.mu.RLock()
	_, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	return exists
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StaleSessions returns ids whose last heartbeat is older than the window.
func (r *Registry) StaleSessions(window time.Duration) []string {
	cutoff := time.Now().Add(-window)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// IdleFor returns how long a session has gone without an inbound envelope.
func (r *Registry) IdleFor(sessionID string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, exists := r.sessions[sessionID]; exists {
		return time.Since(s.lastSeen)
	}
	return 0
}

// Send encodes and delivers an envelope to one session. It returns false
// when the session is unknown or the write misses the per-send deadline;
// eviction on repeated failure is the liveness monitor's call, not Send's.
func (r *Registry) Send(sessionID, msgType string, data interface{}) bool {
	r.mu.RLock()
	s, exists := r.sessions[sessionID]
	r.mu.RUnlock()
	if !exists {
		return false
	}

	frame, err := protocol.Encode(msgType, data)
	if err != nil {
		r.logger.Error(err, "failed to encode outbound envelope")
		return false
	}

	if err := s.out.Send(frame, r.sendDeadline); err != nil {
		r.metrics.SendTimeouts.Inc()
		r.logger.SendTimeout(sessionID, msgType, err)
		return false
	}
	r.metrics.EnvelopesOutTotal.WithLabelValues(msgType).Inc()
	return true
}

// Roster returns the current device list, self included, sorted by id so
// every recipient sees the same order.
func (r *Registry) Roster() []protocol.DeviceEntry {
	r.mu.RLock()
	entries := make([]protocol.DeviceEntry, 0, len(r.sessions))
	for id, s := range r.sessions {
		entries = append(entries, protocol.DeviceEntry{
			ID:   id,
			Name: DisplayName(s.DeviceName, id),
		})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// BroadcastRoster recomputes the roster and sends it to every live session.
// Entries are computed fresh each broadcast; no cache is kept.
func (r *Registry) BroadcastRoster() {
	entries := r.Roster()

	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if r.Send(id, protocol.TypeDevices, entries) {
			r.metrics.RosterFanoutSends.Inc()
		}
	}
	r.metrics.RosterBroadcasts.Inc()
	r.logger.RosterBroadcast(len(ids))
}

// ScheduleRosterBroadcast broadcasts immediately and again after the settle
// delay, so peers arriving in the same instant converge on the same list.
func (r *Registry) ScheduleRosterBroadcast() {
	go r.BroadcastRoster()
	if r.settleDelay > 0 {
		time.AfterFunc(r.settleDelay, r.BroadcastRoster)
	}
}

// CloseAll disconnects every session during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.out.Close()
	}
}
