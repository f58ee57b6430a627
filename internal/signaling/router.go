package signaling

import (
	"errors"
	"io"
	"log/slog"

	"github.com/openmeet/signaling-relay/internal/client"
	"github.com/openmeet/signaling-relay/internal/meeting"
	"github.com/openmeet/signaling-relay/internal/metrics"
	"github.com/openmeet/signaling-relay/internal/protocol"
)

type handlerFunc func(clientID string, msg protocol.ClientMessage)

// Router dispatches inbound messages to the operation their kind names. The
// dispatch table is built once at construction and read-only afterwards;
// unknown kinds are rejected explicitly, never silently ignored.
type Router struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	clients  *client.Registry
	meetings *meeting.Registry

	handlers map[string]handlerFunc
}

func NewRouter(log *slog.Logger, m *metrics.Metrics, clients *client.Registry, meetings *meeting.Registry) *Router {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	r := &Router{
		log:      log,
		metrics:  m,
		clients:  clients,
		meetings: meetings,
	}
	r.handlers = map[string]handlerFunc{
		protocol.KindSetNickname:      r.handleSetNickname,
		protocol.KindCreateMeeting:    r.handleCreateMeeting,
		protocol.KindJoinMeeting:      r.handleJoinMeeting,
		protocol.KindLeaveMeeting:     r.handleLeaveMeeting,
		protocol.KindTextMessage:      r.handleTextMessage,
		protocol.KindTerminateMeeting: r.handleTerminateMeeting,
		protocol.KindWebRTCOffer:      r.handleWebRTCOffer,
		protocol.KindWebRTCAnswer:     r.handleWebRTCAnswer,
		protocol.KindICECandidate:     r.handleICECandidate,
	}
	return r
}

// Route decodes one inbound frame and invokes the handler its kind names.
// Malformed frames and unknown kinds are reported to the sender only and
// never touch the registries.
func (r *Router) Route(clientID string, data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		r.metrics.Inc(metrics.MessagesMalformed)
		r.log.Debug("malformed_message", "client_id", clientID, "err", err)
		r.sendError(clientID, "unparseable message")
		return
	}

	h, ok := r.handlers[msg.Kind]
	if !ok {
		r.metrics.Inc(metrics.MessagesUnknown)
		r.log.Debug("unknown_message_kind", "client_id", clientID, "kind", msg.Kind)
		r.sendError(clientID, "unknown message type")
		return
	}

	r.metrics.Inc(metrics.MessagesRouted)
	h(clientID, msg)
}

func (r *Router) sendError(clientID, message string) {
	r.clients.Send(clientID, protocol.NewError(message))
}

func (r *Router) handleSetNickname(clientID string, msg protocol.ClientMessage) {
	if msg.Nickname == "" {
		r.sendError(clientID, "nickname must not be empty")
		return
	}
	if err := r.clients.Rename(clientID, msg.Nickname); err != nil {
		// The client disconnected while the message was in flight; nobody is
		// left to reply to.
		return
	}
	r.clients.Send(clientID, protocol.NewNicknameSet(msg.Nickname))
}

func (r *Router) handleCreateMeeting(clientID string, msg protocol.ClientMessage) {
	if msg.MeetingID == "" {
		r.sendError(clientID, "meeting_id must not be empty")
		return
	}
	if err := r.meetings.Create(msg.MeetingID, clientID, r.nickname(clientID)); err != nil {
		r.sendError(clientID, meetingErrorText(err))
	}
}

func (r *Router) handleJoinMeeting(clientID string, msg protocol.ClientMessage) {
	if msg.MeetingID == "" {
		r.sendError(clientID, "meeting_id must not be empty")
		return
	}
	if err := r.meetings.Join(msg.MeetingID, clientID, r.nickname(clientID)); err != nil {
		r.sendError(clientID, meetingErrorText(err))
	}
}

func (r *Router) handleLeaveMeeting(clientID string, msg protocol.ClientMessage) {
	if msg.MeetingID == "" {
		r.sendError(clientID, "meeting_id must not be empty")
		return
	}
	if err := r.meetings.Leave(msg.MeetingID, clientID); err != nil {
		r.sendError(clientID, meetingErrorText(err))
	}
}

func (r *Router) handleTextMessage(clientID string, msg protocol.ClientMessage) {
	if msg.MeetingID == "" || msg.Content == "" {
		r.sendError(clientID, "meeting_id and content must not be empty")
		return
	}
	r.meetings.BroadcastText(msg.MeetingID, clientID, msg.Content)
}

func (r *Router) handleTerminateMeeting(clientID string, msg protocol.ClientMessage) {
	if msg.MeetingID == "" {
		r.sendError(clientID, "meeting_id must not be empty")
		return
	}
	if err := r.meetings.Terminate(clientID, msg.MeetingID); err != nil {
		r.sendError(clientID, meetingErrorText(err))
	}
}

func (r *Router) nickname(clientID string) string {
	nickname, err := r.clients.Nickname(clientID)
	if err != nil {
		return client.DefaultNickname(clientID)
	}
	return nickname
}

func meetingErrorText(err error) string {
	switch {
	case errors.Is(err, meeting.ErrAlreadyExists):
		return "meeting already exists"
	case errors.Is(err, meeting.ErrNotFound):
		return "meeting not found"
	case errors.Is(err, meeting.ErrAlreadyMember):
		return "you are already in this meeting"
	case errors.Is(err, meeting.ErrNotMember):
		return "you are not in this meeting"
	case errors.Is(err, meeting.ErrNotAuthorized):
		return "only the meeting creator can terminate the meeting"
	default:
		return "internal error"
	}
}
