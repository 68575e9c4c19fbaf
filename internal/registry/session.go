package registry

import (
	"strings"
	"time"
)

// Outbound is a session's send handle. Implementations must be safe for
// concurrent use; Send returns once the frame is written or the deadline
// passes.
type Outbound interface {
	Send(data []byte, deadline time.Duration) error
	Close() error
}

// Session is one connected peer's live relationship with the coordinator.
// All fields are owned by the Registry; outside code works with snapshots.
type Session struct {
	ID          string
	DeviceName  string
	ConnectedAt time.Time

	lastSeen time.Time
	out      Outbound
}

// rosterSuffixLen is how much of the session id leaks into display names.
const rosterSuffixLen = 6

// classTokens maps declared device-class prefixes to the short label shown
// in the roster. Order matters: longer prefixes first.
var classTokens = []struct {
	prefix string
	label  string
}{
	{"Windows PC", "PC"},
	{"Linux PC", "PC"},
	{"iPhone", "iPhone"},
	{"iPad", "iPad"},
	{"Android", "Android"},
	{"Mac", "Mac"},
}

// DisplayName derives the roster name for a device: a recognized class
// token collapses to its label, anything else keeps the declared name, and
// both get a short session-id suffix to stay unambiguous without leaking
// the full identifier.
func DisplayName(deviceName, sessionID string) string {
	suffix := sessionID
	if len(suffix) > rosterSuffixLen {
		suffix = suffix[:rosterSuffixLen]
	}

	base := deviceName
	for _, ct := range classTokens {
		if strings.HasPrefix(deviceName, ct.prefix) {
			base = ct.label
			break
		}
	}
	if base == "" {
		base = "Device"
	}
	return base + "-" + suffix
}
