// Command meet-client-go drives an end-to-end exchange against a running
// relay: two clients connect, share a meeting, negotiate a WebRTC data
// channel through the relay operations, and pass a message peer to peer.
//
// Usage:
//
//	RELAY_URL=ws://127.0.0.1:8080/ws go run ./e2e/meet-client-go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

const meetingID = "e2e-demo"

type envelope struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"client_id,omitempty"`
	MeetingID string          `json:"meeting_id,omitempty"`
	Nickname  string          `json:"nickname,omitempty"`
	Content   string          `json:"content,omitempty"`
	Message   string          `json:"message,omitempty"`
	TargetID  string          `json:"target_id,omitempty"`
	FromID    string          `json:"from_id,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type relayClient struct {
	name string
	conn *websocket.Conn
	id   string

	mu sync.Mutex

	incoming chan envelope
}

func dialRelay(name, url string) (*relayClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: dial %s: %w", name, url, err)
	}
	c := &relayClient{name: name, conn: conn, incoming: make(chan envelope, 64)}

	var welcome envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		return nil, fmt.Errorf("%s: read welcome: %w", name, err)
	}
	if welcome.Type != "welcome" || welcome.ClientID == "" {
		return nil, fmt.Errorf("%s: unexpected first message %+v", name, welcome)
	}
	c.id = welcome.ClientID

	go func() {
		defer close(c.incoming)
		for {
			var msg envelope
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			c.incoming <- msg
		}
	}()

	return c, nil
}

func (c *relayClient) send(msg envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// await discards meeting-membership broadcasts until a message of the wanted
// kind arrives. Error messages from the relay abort the run.
func (c *relayClient) await(kind string) (envelope, error) {
	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg, ok := <-c.incoming:
			if !ok {
				return envelope{}, fmt.Errorf("%s: connection closed while waiting for %s", c.name, kind)
			}
			if msg.Type == "error" {
				return envelope{}, fmt.Errorf("%s: relay error: %s", c.name, msg.Message)
			}
			if msg.Type == kind {
				return msg, nil
			}
		case <-deadline:
			return envelope{}, fmt.Errorf("%s: timed out waiting for %s", c.name, kind)
		}
	}
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(webrtc.Configuration{})
}

func forwardCandidates(c *relayClient, pc *webrtc.PeerConnection, targetID string) {
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		payload, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		_ = c.send(envelope{Type: "ice_candidate", TargetID: targetID, Candidate: payload})
	})
}

func applyCandidate(pc *webrtc.PeerConnection, raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return err
	}
	return pc.AddICECandidate(init)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func main() {
	url := os.Getenv("RELAY_URL")
	if url == "" {
		url = "ws://127.0.0.1:8080/ws"
	}

	alice, err := dialRelay("alice", url)
	if err != nil {
		fail(err)
	}
	bob, err := dialRelay("bob", url)
	if err != nil {
		fail(err)
	}
	fmt.Printf("connected: alice=%s bob=%s\n", alice.id, bob.id)

	if err := alice.send(envelope{Type: "set_nickname", Nickname: "alice"}); err != nil {
		fail(err)
	}
	if _, err := alice.await("nickname_set"); err != nil {
		fail(err)
	}

	if err := alice.send(envelope{Type: "create_meeting", MeetingID: meetingID}); err != nil {
		fail(err)
	}
	if _, err := alice.await("meeting_created"); err != nil {
		fail(err)
	}
	if err := bob.send(envelope{Type: "join_meeting", MeetingID: meetingID}); err != nil {
		fail(err)
	}
	if _, err := bob.await("joined_meeting"); err != nil {
		fail(err)
	}
	fmt.Printf("meeting %q established\n", meetingID)

	pcA, err := newPeerConnection()
	if err != nil {
		fail(fmt.Errorf("alice: peer connection: %w", err))
	}
	pcB, err := newPeerConnection()
	if err != nil {
		fail(fmt.Errorf("bob: peer connection: %w", err))
	}
	forwardCandidates(alice, pcA, bob.id)
	forwardCandidates(bob, pcB, alice.id)

	received := make(chan string, 1)
	pcB.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			received <- string(msg.Data)
		})
	})

	dc, err := pcA.CreateDataChannel("chat", nil)
	if err != nil {
		fail(fmt.Errorf("alice: data channel: %w", err))
	}
	dc.OnOpen(func() {
		_ = dc.SendText("hello through the relay")
	})

	offer, err := pcA.CreateOffer(nil)
	if err != nil {
		fail(fmt.Errorf("alice: create offer: %w", err))
	}
	if err := pcA.SetLocalDescription(offer); err != nil {
		fail(fmt.Errorf("alice: set local description: %w", err))
	}
	offerJSON, err := json.Marshal(offer)
	if err != nil {
		fail(err)
	}
	if err := alice.send(envelope{Type: "webrtc_offer", TargetID: bob.id, Offer: offerJSON}); err != nil {
		fail(err)
	}

	// Bob answers the relayed offer and both sides exchange candidates until
	// the data channel opens.
	go func() {
		for msg := range bob.incoming {
			switch msg.Type {
			case "webrtc_offer":
				var desc webrtc.SessionDescription
				if err := json.Unmarshal(msg.Offer, &desc); err != nil {
					fail(fmt.Errorf("bob: decode offer: %w", err))
				}
				if err := pcB.SetRemoteDescription(desc); err != nil {
					fail(fmt.Errorf("bob: set remote description: %w", err))
				}
				answer, err := pcB.CreateAnswer(nil)
				if err != nil {
					fail(fmt.Errorf("bob: create answer: %w", err))
				}
				if err := pcB.SetLocalDescription(answer); err != nil {
					fail(fmt.Errorf("bob: set local description: %w", err))
				}
				answerJSON, err := json.Marshal(answer)
				if err != nil {
					fail(err)
				}
				if err := bob.send(envelope{Type: "webrtc_answer", TargetID: msg.FromID, Answer: answerJSON}); err != nil {
					fail(err)
				}
			case "ice_candidate":
				if err := applyCandidate(pcB, msg.Candidate); err != nil {
					fail(fmt.Errorf("bob: add candidate: %w", err))
				}
			}
		}
	}()

	go func() {
		for msg := range alice.incoming {
			switch msg.Type {
			case "webrtc_answer":
				var desc webrtc.SessionDescription
				if err := json.Unmarshal(msg.Answer, &desc); err != nil {
					fail(fmt.Errorf("alice: decode answer: %w", err))
				}
				if err := pcA.SetRemoteDescription(desc); err != nil {
					fail(fmt.Errorf("alice: set remote description: %w", err))
				}
			case "ice_candidate":
				if err := applyCandidate(pcA, msg.Candidate); err != nil {
					fail(fmt.Errorf("alice: add candidate: %w", err))
				}
			}
		}
	}()

	select {
	case text := <-received:
		fmt.Printf("bob received over data channel: %q\n", text)
	case <-time.After(30 * time.Second):
		fail(fmt.Errorf("timed out waiting for data channel message"))
	}

	_ = pcA.Close()
	_ = pcB.Close()
	_ = alice.conn.Close()
	_ = bob.conn.Close()
	fmt.Println("OK")
}
