// Package client tracks connected clients: their identifier, display name
// and outbound send handle. The registry is the only owner of this state;
// other components refer to clients by identifier.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/openmeet/signaling-relay/internal/metrics"
)

// ErrNotFound reports an operation against an identifier that is not
// currently registered.
var ErrNotFound = errors.New("client not registered")

// Sender delivers one structured message to a client's transport. It must be
// safe for concurrent use and must report failures instead of panicking.
type Sender interface {
	Send(v any) error
}

// SendResult distinguishes "client already gone" (a no-op for broadcast and
// cleanup paths) from a transport-level failure (logged and swallowed).
type SendResult int

const (
	SendDelivered SendResult = iota
	SendNotFound
	SendFailed
)

type entry struct {
	nickname string
	sender   Sender
}

// Registry maps client identifiers to their session state under a single
// mutex. It never exposes the underlying map.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*entry
}

func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		log:     log,
		metrics: m,
		clients: make(map[string]*entry),
	}
}

// DefaultNickname derives the placeholder display name for a client that has
// not chosen one.
func DefaultNickname(clientID string) string {
	short := clientID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("User-%s", short)
}

// Register adds a client with a generated placeholder nickname and returns
// that nickname. Registering an identifier that is already present replaces
// its entry; identifiers are unique per connection so this only happens if
// the caller reuses one.
func (r *Registry) Register(clientID string, sender Sender) string {
	nickname := DefaultNickname(clientID)
	r.mu.Lock()
	r.clients[clientID] = &entry{nickname: nickname, sender: sender}
	r.mu.Unlock()
	return nickname
}

// Rename updates a client's display name. Meetings the client already joined
// keep their join-time snapshot of the old name.
func (r *Registry) Rename(clientID, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	old := e.nickname
	e.nickname = nickname
	r.log.Debug("client_renamed", "client_id", clientID, "old", old, "new", nickname)
	return nil
}

// Nickname returns the client's current display name.
func (r *Registry) Nickname(clientID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[clientID]
	if !ok {
		return "", ErrNotFound
	}
	return e.nickname, nil
}

// IsRegistered reports whether the identifier currently has a live entry.
func (r *Registry) IsRegistered(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[clientID]
	return ok
}

// Send delivers a message to a client. A missing client is not an error for
// the caller; a transport failure is counted and logged here and never aborts
// the caller's broadcast.
func (r *Registry) Send(clientID string, msg any) SendResult {
	r.mu.Lock()
	e, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return SendNotFound
	}

	if err := e.sender.Send(msg); err != nil {
		r.metrics.Inc(metrics.SendFailures)
		r.log.Warn("client_send_failed", "client_id", clientID, "err", err)
		return SendFailed
	}
	return SendDelivered
}

// Unregister removes the client. Removing an absent identifier is a no-op.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
