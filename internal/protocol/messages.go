// Package protocol defines the JSON messages exchanged with signaling
// clients. Every message carries a `type` field naming its kind; the
// remaining fields depend on the kind.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound message kinds.
const (
	KindSetNickname      = "set_nickname"
	KindCreateMeeting    = "create_meeting"
	KindJoinMeeting      = "join_meeting"
	KindLeaveMeeting     = "leave_meeting"
	KindTextMessage      = "text_message"
	KindTerminateMeeting = "terminate_meeting"
	KindWebRTCOffer      = "webrtc_offer"
	KindWebRTCAnswer     = "webrtc_answer"
	KindICECandidate     = "ice_candidate"
)

// Outbound message kinds.
const (
	KindWelcome            = "welcome"
	KindError              = "error"
	KindNicknameSet        = "nickname_set"
	KindMeetingCreated     = "meeting_created"
	KindJoinedMeeting      = "joined_meeting"
	KindLeftMeeting        = "left_meeting"
	KindParticipantsUpdate = "participants_update"
	KindMeetingTerminated  = "meeting_terminated"
)

// TimestampLayout is the format of text-message timestamps on the wire.
const TimestampLayout = "2006-01-02 15:04:05"

// ClientMessage is the inbound envelope. Only the fields relevant to the
// declared kind are expected to be set; each handler validates its own
// required fields. Negotiation payloads (offer/answer/candidate) are kept as
// raw JSON: the relay forwards them without interpreting their content.
type ClientMessage struct {
	Kind      string          `json:"type"`
	Nickname  string          `json:"nickname,omitempty"`
	MeetingID string          `json:"meeting_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	TargetID  string          `json:"target_id,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ParseClientMessage decodes an inbound frame. A decode error means the frame
// is malformed; an unknown kind is not an error at this layer (the router
// rejects it so the sender gets a kind-specific reply).
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	return msg, nil
}

type Error struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Kind: KindError, Message: message}
}

// Welcome is sent once per connection, before the receive loop starts, so the
// client learns the identifier other parties must use to address it.
type Welcome struct {
	Kind     string `json:"type"`
	ClientID string `json:"client_id"`
	Nickname string `json:"nickname"`
}

func NewWelcome(clientID, nickname string) Welcome {
	return Welcome{Kind: KindWelcome, ClientID: clientID, Nickname: nickname}
}

type NicknameSet struct {
	Kind     string `json:"type"`
	Nickname string `json:"nickname"`
}

func NewNicknameSet(nickname string) NicknameSet {
	return NicknameSet{Kind: KindNicknameSet, Nickname: nickname}
}

type MeetingCreated struct {
	Kind      string `json:"type"`
	MeetingID string `json:"meeting_id"`
}

func NewMeetingCreated(meetingID string) MeetingCreated {
	return MeetingCreated{Kind: KindMeetingCreated, MeetingID: meetingID}
}

type JoinedMeeting struct {
	Kind         string            `json:"type"`
	MeetingID    string            `json:"meeting_id"`
	Participants map[string]string `json:"participants"`
}

func NewJoinedMeeting(meetingID string, participants map[string]string) JoinedMeeting {
	return JoinedMeeting{Kind: KindJoinedMeeting, MeetingID: meetingID, Participants: participants}
}

type LeftMeeting struct {
	Kind      string `json:"type"`
	MeetingID string `json:"meeting_id"`
}

func NewLeftMeeting(meetingID string) LeftMeeting {
	return LeftMeeting{Kind: KindLeftMeeting, MeetingID: meetingID}
}

type ParticipantsUpdate struct {
	Kind         string            `json:"type"`
	MeetingID    string            `json:"meeting_id"`
	Participants map[string]string `json:"participants"`
	CreatorID    string            `json:"creator_id"`
}

func NewParticipantsUpdate(meetingID string, participants map[string]string, creatorID string) ParticipantsUpdate {
	return ParticipantsUpdate{
		Kind:         KindParticipantsUpdate,
		MeetingID:    meetingID,
		Participants: participants,
		CreatorID:    creatorID,
	}
}

type MeetingTerminated struct {
	Kind      string `json:"type"`
	MeetingID string `json:"meeting_id"`
}

func NewMeetingTerminated(meetingID string) MeetingTerminated {
	return MeetingTerminated{Kind: KindMeetingTerminated, MeetingID: meetingID}
}

type TextMessage struct {
	Kind           string `json:"type"`
	SenderID       string `json:"sender_id"`
	SenderNickname string `json:"sender_nickname"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

func NewTextMessage(senderID, senderNickname, content, timestamp string) TextMessage {
	return TextMessage{
		Kind:           KindTextMessage,
		SenderID:       senderID,
		SenderNickname: senderNickname,
		Content:        content,
		Timestamp:      timestamp,
	}
}

type webrtcOffer struct {
	Kind   string          `json:"type"`
	FromID string          `json:"from_id"`
	Offer  json.RawMessage `json:"offer"`
}

type webrtcAnswer struct {
	Kind   string          `json:"type"`
	FromID string          `json:"from_id"`
	Answer json.RawMessage `json:"answer"`
}

type iceCandidate struct {
	Kind      string          `json:"type"`
	FromID    string          `json:"from_id"`
	Candidate json.RawMessage `json:"candidate"`
}

// NewForward builds the outbound message that delivers a relayed negotiation
// payload to its target. kind must be one of the three relay kinds.
func NewForward(kind, fromID string, payload json.RawMessage) (any, error) {
	switch kind {
	case KindWebRTCOffer:
		return webrtcOffer{Kind: kind, FromID: fromID, Offer: payload}, nil
	case KindWebRTCAnswer:
		return webrtcAnswer{Kind: kind, FromID: fromID, Answer: payload}, nil
	case KindICECandidate:
		return iceCandidate{Kind: kind, FromID: fromID, Candidate: payload}, nil
	default:
		return nil, fmt.Errorf("kind %q is not relayable", kind)
	}
}
