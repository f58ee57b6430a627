package meeting

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openmeet/signaling-relay/internal/client"
	"github.com/openmeet/signaling-relay/internal/metrics"
	"github.com/openmeet/signaling-relay/internal/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []any
}

func (s *recordingSender) Send(v any) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, v)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) messages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.msgs...)
}

func (s *recordingSender) lastParticipantsUpdate() (protocol.ParticipantsUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if u, ok := s.msgs[i].(protocol.ParticipantsUpdate); ok {
			return u, true
		}
	}
	return protocol.ParticipantsUpdate{}, false
}

func (s *recordingSender) received(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		switch v := m.(type) {
		case protocol.MeetingTerminated:
			if v.Kind == kind {
				return true
			}
		case protocol.LeftMeeting:
			if v.Kind == kind {
				return true
			}
		case protocol.JoinedMeeting:
			if v.Kind == kind {
				return true
			}
		case protocol.MeetingCreated:
			if v.Kind == kind {
				return true
			}
		}
	}
	return false
}

var testClock = func() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

type fixture struct {
	clients  *client.Registry
	meetings *Registry
	senders  map[string]*recordingSender
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	f := &fixture{
		clients: client.NewRegistry(nil, nil),
		senders: make(map[string]*recordingSender),
	}
	f.meetings = NewRegistry(nil, f.clients, metrics.New(), testClock)
	for _, id := range ids {
		s := &recordingSender{}
		f.senders[id] = s
		f.clients.Register(id, s)
	}
	return f
}

func TestCreateDuplicateFailsAndKeepsMembership(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Create("standup", "b", "bob"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Create err=%v, want ErrAlreadyExists", err)
	}

	participants, creatorID, ok := f.meetings.Participants("standup")
	if !ok || creatorID != "a" {
		t.Fatalf("Participants ok=%v creator=%q", ok, creatorID)
	}
	if len(participants) != 1 || participants["a"] != "alice" {
		t.Fatalf("participants=%v, want {a: alice}", participants)
	}
}

func TestJoinBroadcastsConsistentParticipantSet(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Join("standup", "b", "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		update, ok := f.senders[id].lastParticipantsUpdate()
		if !ok {
			t.Fatalf("client %s received no participants_update", id)
		}
		if len(update.Participants) != 2 || update.Participants["a"] != "alice" || update.Participants["b"] != "bob" {
			t.Fatalf("client %s saw participants=%v, want {a: alice, b: bob}", id, update.Participants)
		}
		if update.CreatorID != "a" {
			t.Fatalf("client %s saw creator=%q, want a", id, update.CreatorID)
		}
	}

	if !f.senders["b"].received(protocol.KindJoinedMeeting) {
		t.Fatalf("joiner did not receive joined_meeting")
	}
}

func TestJoinFailures(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Join("nope", "a", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join(absent) err=%v, want ErrNotFound", err)
	}

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Join("standup", "a", "alice"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("Join(member) err=%v, want ErrAlreadyMember", err)
	}
}

func TestLeaveLastParticipantTerminatesMeeting(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Leave("standup", "a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	if _, _, ok := f.meetings.Participants("standup"); ok {
		t.Fatalf("meeting still active after last leave")
	}
	if !f.senders["a"].received(protocol.KindLeftMeeting) {
		t.Fatalf("leaver did not receive left_meeting")
	}

	// A terminated meeting is not implicitly recreated by a join attempt.
	if err := f.meetings.Join("standup", "b", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join after termination err=%v, want ErrNotFound", err)
	}
}

func TestLeaveNonMember(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Leave("absent", "a"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Leave(absent meeting) err=%v, want ErrNotMember", err)
	}

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Leave("standup", "b"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Leave(non-member) err=%v, want ErrNotMember", err)
	}
}

func TestTerminateRequiresCreator(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Join("standup", "b", "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if err := f.meetings.Terminate("b", "standup"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Terminate(non-creator) err=%v, want ErrNotAuthorized", err)
	}
	if _, _, ok := f.meetings.Participants("standup"); !ok {
		t.Fatalf("meeting gone after unauthorized terminate")
	}

	if err := f.meetings.Terminate("a", "standup"); err != nil {
		t.Fatalf("Terminate(creator): %v", err)
	}
	if _, _, ok := f.meetings.Participants("standup"); ok {
		t.Fatalf("meeting still active after creator terminate")
	}
	for _, id := range []string{"a", "b"} {
		if !f.senders[id].received(protocol.KindMeetingTerminated) {
			t.Fatalf("client %s did not receive meeting_terminated", id)
		}
	}

	if err := f.meetings.Terminate("a", "standup"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Terminate(absent) err=%v, want ErrNotFound", err)
	}
}

func TestTerminateAuthorityOutlivesMembership(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Join("standup", "b", "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := f.meetings.Leave("standup", "a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	// The creator left but retains termination authority.
	if err := f.meetings.Terminate("a", "standup"); err != nil {
		t.Fatalf("Terminate after leaving: %v", err)
	}
	if !f.senders["b"].received(protocol.KindMeetingTerminated) {
		t.Fatalf("remaining participant did not receive meeting_terminated")
	}
}

func TestBroadcastTextReachesAllParticipants(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Join("standup", "b", "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	f.meetings.BroadcastText("standup", "a", "hello")

	for _, id := range []string{"a", "b"} {
		var got *protocol.TextMessage
		for _, m := range f.senders[id].messages() {
			if tm, ok := m.(protocol.TextMessage); ok {
				got = &tm
			}
		}
		if got == nil {
			t.Fatalf("client %s received no text_message", id)
		}
		if got.SenderID != "a" || got.SenderNickname != "alice" || got.Content != "hello" {
			t.Fatalf("client %s got %+v", id, got)
		}
		if got.Timestamp != "2024-05-01 12:00:00" {
			t.Fatalf("timestamp=%q", got.Timestamp)
		}
	}
}

func TestBroadcastTextAbsentMeetingIsSilentlyDropped(t *testing.T) {
	f := newFixture(t, "a")

	f.meetings.BroadcastText("nope", "a", "hello")

	if msgs := f.senders["a"].messages(); len(msgs) != 0 {
		t.Fatalf("sender received %v, want nothing", msgs)
	}
}

func TestNicknameSnapshotTakenAtJoinTime(t *testing.T) {
	f := newFixture(t, "a", "b")

	if err := f.meetings.Create("standup", "a", "alice"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.meetings.Join("standup", "b", "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Rename in the client registry after joining; broadcasts keep using the
	// join-time snapshot.
	if err := f.clients.Rename("a", "renamed"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	f.meetings.BroadcastText("standup", "a", "hi")

	var got *protocol.TextMessage
	for _, m := range f.senders["b"].messages() {
		if tm, ok := m.(protocol.TextMessage); ok {
			got = &tm
		}
	}
	if got == nil {
		t.Fatalf("no text_message received")
	}
	if got.SenderNickname != "alice" {
		t.Fatalf("sender_nickname=%q, want join-time snapshot %q", got.SenderNickname, "alice")
	}
}

func TestPurgeClientCascades(t *testing.T) {
	f := newFixture(t, "a", "b", "c")

	// M1: a and b. M2: a, b and c.
	if err := f.meetings.Create("m1", "a", "alice"); err != nil {
		t.Fatalf("Create m1: %v", err)
	}
	if err := f.meetings.Join("m1", "b", "bob"); err != nil {
		t.Fatalf("Join m1: %v", err)
	}
	if err := f.meetings.Create("m2", "a", "alice"); err != nil {
		t.Fatalf("Create m2: %v", err)
	}
	if err := f.meetings.Join("m2", "b", "bob"); err != nil {
		t.Fatalf("Join m2: %v", err)
	}
	if err := f.meetings.Join("m2", "c", "carol"); err != nil {
		t.Fatalf("Join m2: %v", err)
	}

	// b disconnects: gone from both meetings; both stay active (non-empty).
	f.clients.Unregister("b")
	f.meetings.PurgeClient("b")

	p1, _, ok := f.meetings.Participants("m1")
	if !ok || len(p1) != 1 || p1["a"] != "alice" {
		t.Fatalf("m1 participants=%v ok=%v", p1, ok)
	}
	p2, _, ok := f.meetings.Participants("m2")
	if !ok || len(p2) != 2 {
		t.Fatalf("m2 participants=%v ok=%v", p2, ok)
	}

	// a disconnects: m1 empties and terminates; m2 keeps c.
	f.clients.Unregister("a")
	f.meetings.PurgeClient("a")

	if _, _, ok := f.meetings.Participants("m1"); ok {
		t.Fatalf("m1 still active after purge emptied it")
	}
	p2, _, ok = f.meetings.Participants("m2")
	if !ok || len(p2) != 1 || p2["c"] != "carol" {
		t.Fatalf("m2 participants=%v ok=%v", p2, ok)
	}

	update, ok := f.senders["c"].lastParticipantsUpdate()
	if !ok {
		t.Fatalf("c received no participants_update")
	}
	if _, stillThere := update.Participants["a"]; stillThere {
		t.Fatalf("c's update still lists purged client: %v", update.Participants)
	}
}

func TestClientMayBelongToMultipleMeetings(t *testing.T) {
	f := newFixture(t, "a")

	if err := f.meetings.Create("m1", "a", "alice"); err != nil {
		t.Fatalf("Create m1: %v", err)
	}
	if err := f.meetings.Create("m2", "a", "alice"); err != nil {
		t.Fatalf("Create m2: %v", err)
	}
	if f.meetings.Count() != 2 {
		t.Fatalf("Count=%d, want 2", f.meetings.Count())
	}
}
