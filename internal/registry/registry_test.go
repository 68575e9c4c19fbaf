package registry

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dropwire/coordinator/internal/observability"
	"github.com/dropwire/coordinator/internal/protocol"
)

var testMetrics = observability.NewMetrics()

// fakeOutbound records sent frames. Roster broadcasts arrive from
// background goroutines, so access is locked.
type fakeOutbound struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	fail   bool
}

func (f *fakeOutbound) Send(data []byte, deadline time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write deadline exceeded")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeOutbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOutbound) framesOfType(t *testing.T, msgType string) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []protocol.Envelope
	for _, frame := range f.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Unparseable outbound frame: %v", err)
		}
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeOutbound) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRegistry() *Registry {
	return NewRegistry(time.Second, 0, observability.NewLogger("test", "test", io.Discard), testMetrics)
}

func TestRegistry_RegisterAndDuplicate(t *testing.T) {
	r := newTestRegistry()

	if err := r.Register("s1", "Windows PC", &fakeOutbound{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.Has("s1") {
		t.Error("Expected session s1 to be live")
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Count())
	}

	err := r.Register("s1", "iPhone", &fakeOutbound{})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("Expected ErrDuplicateSession, got %v", err)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := newTestRegistry()
	out := &fakeOutbound{}
	r.Register("s1", "Mac", out)

	var hookCalled string
	r.OnUnregister(func(id string) { hookCalled = id })

	if err := r.Unregister("s1", "connection closed"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if r.Has("s1") {
		t.Error("Expected session removed")
	}
	if !out.isClosed() {
		t.Error("Expected outbound closed on unregister")
	}
	if hookCalled != "s1" {
		t.Errorf("Expected unregister hook for s1, got %q", hookCalled)
	}

	if err := r.Unregister("s1", "again"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound on repeat, got %v", err)
	}
}

func TestRegistry_SendToMissingSession(t *testing.T) {
	r := newTestRegistry()

	if r.Send("ghost", protocol.TypePong, protocol.PongPayload{}) {
		t.Error("Send to an unknown session must report false")
	}
}

func TestRegistry_SendFailureKeepsSession(t *testing.T) {
	r := newTestRegistry()
	out := &fakeOutbound{fail: true}
	r.Register("s1", "Mac", out)

	if r.Send("s1", protocol.TypePong, protocol.PongPayload{}) {
		t.Error("Expected Send to report failure")
	}
	// A missed deadline is not an eviction; that is the monitor's call.
	if !r.Has("s1") {
		t.Error("Session must survive a failed send")
	}
}

func TestRegistry_RosterIncludesSelfSorted(t *testing.T) {
	r := newTestRegistry()
	r.Register("bbb", "iPhone 15", &fakeOutbound{})
	r.Register("aaa", "Windows PC (Chrome)", &fakeOutbound{})

	roster := r.Roster()
	if len(roster) != 2 {
		t.Fatalf("Expected 2 roster entries, got %d", len(roster))
	}
	if roster[0].ID != "aaa" || roster[1].ID != "bbb" {
		t.Errorf("Expected roster sorted by id, got %v", roster)
	}
	if roster[0].Name != "PC-aaa" {
		t.Errorf("Expected display name PC-aaa, got %q", roster[0].Name)
	}
	if roster[1].Name != "iPhone-bbb" {
		t.Errorf("Expected display name iPhone-bbb, got %q", roster[1].Name)
	}
}

func TestRegistry_BroadcastReachesEveryone(t *testing.T) {
	r := newTestRegistry()
	out1 := &fakeOutbound{}
	out2 := &fakeOutbound{}
	r.Register("s1", "Mac", out1)
	r.Register("s2", "Android", out2)

	r.BroadcastRoster()

	for name, out := range map[string]*fakeOutbound{"s1": out1, "s2": out2} {
		envs := out.framesOfType(t, protocol.TypeDevices)
		if len(envs) == 0 {
			t.Fatalf("Expected %s to receive a devices envelope", name)
		}
		var entries []protocol.DeviceEntry
		if err := json.Unmarshal(envs[len(envs)-1].Data, &entries); err != nil {
			t.Fatalf("Bad devices payload: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("Expected %s to see 2 devices (self included), got %d", name, len(entries))
		}
	}
}

func TestRegistry_UpdateDeviceName(t *testing.T) {
	r := newTestRegistry()
	r.Register("s1", "Windows PC", &fakeOutbound{})

	if err := r.UpdateDeviceName("s1", "iPad Pro"); err != nil {
		t.Fatalf("UpdateDeviceName failed: %v", err)
	}
	roster := r.Roster()
	if roster[0].Name != "iPad-s1" {
		t.Errorf("Expected renamed entry iPad-s1, got %q", roster[0].Name)
	}

	if err := r.UpdateDeviceName("ghost", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistry_TouchAndStaleness(t *testing.T) {
	r := newTestRegistry()
	r.Register("s1", "Mac", &fakeOutbound{})

	if stale := r.StaleSessions(time.Hour); len(stale) != 0 {
		t.Errorf("Fresh session must not be stale, got %v", stale)
	}

	time.Sleep(5 * time.Millisecond)
	if stale := r.StaleSessions(time.Millisecond); len(stale) != 1 {
		t.Fatalf("Expected 1 stale session, got %d", len(stale))
	}

	r.Touch("s1")
	if stale := r.StaleSessions(time.Millisecond); len(stale) != 0 {
		t.Errorf("Touched session must not be stale, got %v", stale)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry()
	out1 := &fakeOutbound{}
	out2 := &fakeOutbound{}
	r.Register("s1", "Mac", out1)
	r.Register("s2", "Android", out2)

	r.CloseAll()
	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
	if !out1.isClosed() || !out2.isClosed() {
		t.Error("Expected all outbounds closed")
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		deviceName string
		sessionID  string
		want       string
	}{
		{"Windows PC (Chrome)", "abc123def", "PC-abc123"},
		{"Linux PC (Firefox)", "abc123def", "PC-abc123"},
		{"iPhone 15 Pro", "xyz789qrs", "iPhone-xyz789"},
		{"iPad Air", "xyz789qrs", "iPad-xyz789"},
		{"Android (Pixel)", "aaa", "Android-aaa"},
		{"MacBook", "bbb", "Mac-bbb"},
		{"Custom Rig", "ccc", "Custom Rig-ccc"},
		{"", "dddddd11", "Device-dddddd"},
	}
	for _, tc := range cases {
		got := DisplayName(tc.deviceName, tc.sessionID)
		if got != tc.want {
			t.Errorf("DisplayName(%q, %q) = %q, want %q", tc.deviceName, tc.sessionID, got, tc.want)
		}
	}
}
