package metrics

import "sync"

// Counter names. Names are intentionally simple; a follow-up metrics task can
// standardize and export these via Prometheus/OTel.
const (
	ClientsConnected    = "clients_connected"
	ClientsDisconnected = "clients_disconnected"

	MessagesRouted      = "messages_routed"
	MessagesMalformed   = "messages_malformed"
	MessagesUnknown     = "messages_unknown_kind"
	MessagesRateLimited = "messages_rate_limited"

	SendFailures = "send_failures"

	MeetingsCreated    = "meetings_created"
	MeetingsTerminated = "meetings_terminated"
	TextBroadcasts     = "text_broadcasts"
	RelaysForwarded    = "relays_forwarded"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type exists to keep the routing and registry logic observable and
// testable without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
