// Package meeting implements the meeting state machine: creation,
// membership, text broadcast and termination, with cascading cleanup when
// clients disconnect.
package meeting

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/openmeet/signaling-relay/internal/client"
	"github.com/openmeet/signaling-relay/internal/metrics"
	"github.com/openmeet/signaling-relay/internal/protocol"
)

var (
	ErrAlreadyExists = errors.New("meeting already exists")
	ErrNotFound      = errors.New("meeting not found")
	ErrAlreadyMember = errors.New("client is already a participant")
	ErrNotMember     = errors.New("client is not a participant")
	ErrNotAuthorized = errors.New("only the meeting creator may terminate it")
)

type meeting struct {
	creatorID string
	// participants maps client identifier to the display name snapshotted at
	// join time. A later rename does not rewrite entries here.
	participants map[string]string
}

func (m *meeting) snapshot() map[string]string {
	out := make(map[string]string, len(m.participants))
	for id, nickname := range m.participants {
		out[id] = nickname
	}
	return out
}

// Registry owns all meeting state under a single mutex. Outbound broadcasts
// are computed and handed to the client registry inside the same critical
// section as the mutation that triggered them, so no observer can see a
// participant list that is stale relative to a later mutation.
type Registry struct {
	log     *slog.Logger
	clients *client.Registry
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	meetings map[string]*meeting
}

// NewRegistry builds a meeting registry. now may be nil, in which case
// time.Now is used; tests inject a fixed clock for deterministic timestamps.
func NewRegistry(log *slog.Logger, clients *client.Registry, m *metrics.Metrics, now func() time.Time) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		log:      log,
		clients:  clients,
		metrics:  m,
		now:      now,
		meetings: make(map[string]*meeting),
	}
}

// Create starts a new meeting with the creator as its only participant.
func (r *Registry) Create(meetingID, creatorID, creatorName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.meetings[meetingID]; ok {
		return ErrAlreadyExists
	}

	m := &meeting{
		creatorID:    creatorID,
		participants: map[string]string{creatorID: creatorName},
	}
	r.meetings[meetingID] = m

	r.log.Info("meeting_created", "meeting_id", meetingID, "creator_id", creatorID, "creator_nickname", creatorName)
	r.metrics.Inc(metrics.MeetingsCreated)

	r.clients.Send(creatorID, protocol.NewMeetingCreated(meetingID))
	r.broadcastParticipantsLocked(meetingID, m)
	return nil
}

// Join adds a participant. The joiner receives the full participant snapshot;
// everyone (joiner included) then receives a participants update.
func (r *Registry) Join(meetingID, clientID, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[meetingID]
	if !ok {
		return ErrNotFound
	}
	if _, member := m.participants[clientID]; member {
		return ErrAlreadyMember
	}

	m.participants[clientID] = nickname
	r.log.Info("participant_joined", "meeting_id", meetingID, "client_id", clientID, "nickname", nickname)

	r.clients.Send(clientID, protocol.NewJoinedMeeting(meetingID, m.snapshot()))
	r.broadcastParticipantsLocked(meetingID, m)
	return nil
}

// Leave removes a participant. Removing the last participant terminates the
// meeting immediately.
func (r *Registry) Leave(meetingID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(meetingID, clientID)
}

func (r *Registry) leaveLocked(meetingID, clientID string) error {
	m, ok := r.meetings[meetingID]
	if !ok {
		return ErrNotMember
	}
	if _, member := m.participants[clientID]; !member {
		return ErrNotMember
	}

	delete(m.participants, clientID)
	r.log.Info("participant_left", "meeting_id", meetingID, "client_id", clientID)

	// Best effort: the leaver may already be gone (disconnect cleanup).
	r.clients.Send(clientID, protocol.NewLeftMeeting(meetingID))
	r.broadcastParticipantsLocked(meetingID, m)

	if len(m.participants) == 0 {
		r.terminateLocked(meetingID)
	}
	return nil
}

// Terminate ends a meeting on behalf of requesterID. Only the recorded
// creator is authorized, whether or not it is still a participant.
func (r *Registry) Terminate(requesterID, meetingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[meetingID]
	if !ok {
		return ErrNotFound
	}
	if m.creatorID != requesterID {
		return ErrNotAuthorized
	}
	r.terminateLocked(meetingID)
	return nil
}

// terminateLocked removes the meeting and notifies every former participant
// still reachable. Terminating an absent meeting is a silent no-op.
func (r *Registry) terminateLocked(meetingID string) {
	m, ok := r.meetings[meetingID]
	if !ok {
		return
	}
	delete(r.meetings, meetingID)

	r.log.Info("meeting_terminated", "meeting_id", meetingID)
	r.metrics.Inc(metrics.MeetingsTerminated)

	msg := protocol.NewMeetingTerminated(meetingID)
	for id := range m.participants {
		r.clients.Send(id, msg)
	}
}

// BroadcastText delivers a text message to every participant, the sender
// included, stamped with the server time. A meeting that is absent or empty
// drops the message without notifying the sender.
func (r *Registry) BroadcastText(meetingID, senderID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meetings[meetingID]
	if !ok || len(m.participants) == 0 {
		r.log.Debug("text_broadcast_dropped", "meeting_id", meetingID, "sender_id", senderID)
		return
	}

	nickname, member := m.participants[senderID]
	if !member {
		nickname = client.DefaultNickname(senderID)
	}
	msg := protocol.NewTextMessage(senderID, nickname, content, r.now().Format(protocol.TimestampLayout))

	for id := range m.participants {
		r.clients.Send(id, msg)
	}
	r.metrics.Inc(metrics.TextBroadcasts)
}

// PurgeClient removes the client from every meeting it belongs to. Used by
// the connection lifecycle on disconnect; a failed leave for one meeting must
// not stop the purge of the others.
func (r *Registry) PurgeClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for meetingID, m := range r.meetings {
		if _, member := m.participants[clientID]; member {
			_ = r.leaveLocked(meetingID, clientID)
		}
	}
}

func (r *Registry) broadcastParticipantsLocked(meetingID string, m *meeting) {
	msg := protocol.NewParticipantsUpdate(meetingID, m.snapshot(), m.creatorID)
	for id := range m.participants {
		r.clients.Send(id, msg)
	}
}

// Participants returns a copy of the participant set and the creator
// identifier, or ok=false when the meeting is absent.
func (r *Registry) Participants(meetingID string) (participants map[string]string, creatorID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, found := r.meetings[meetingID]
	if !found {
		return nil, "", false
	}
	return m.snapshot(), m.creatorID, true
}

// Count returns the number of active meetings.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.meetings)
}
