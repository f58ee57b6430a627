package signaling

import (
	"encoding/json"

	"github.com/openmeet/signaling-relay/internal/client"
	"github.com/openmeet/signaling-relay/internal/metrics"
	"github.com/openmeet/signaling-relay/internal/protocol"
)

// The relay operations forward session descriptions and ICE candidates between
// exactly two clients. Payloads pass through byte for byte; the relay attaches
// the sender's identity and never inspects the contents.

func (r *Router) handleWebRTCOffer(clientID string, msg protocol.ClientMessage) {
	r.forward(clientID, msg.TargetID, protocol.KindWebRTCOffer, "offer", msg.Offer)
}

func (r *Router) handleWebRTCAnswer(clientID string, msg protocol.ClientMessage) {
	r.forward(clientID, msg.TargetID, protocol.KindWebRTCAnswer, "answer", msg.Answer)
}

func (r *Router) handleICECandidate(clientID string, msg protocol.ClientMessage) {
	r.forward(clientID, msg.TargetID, protocol.KindICECandidate, "candidate", msg.Candidate)
}

func (r *Router) forward(fromID, targetID, kind, field string, payload json.RawMessage) {
	if targetID == "" || len(payload) == 0 {
		r.sendError(fromID, "missing target_id or "+field)
		return
	}
	out, err := protocol.NewForward(kind, fromID, payload)
	if err != nil {
		r.sendError(fromID, "internal error")
		return
	}
	switch r.clients.Send(targetID, out) {
	case client.SendDelivered:
		r.metrics.Inc(metrics.RelaysForwarded)
		r.log.Debug("relay_forward", "kind", kind, "from_id", fromID, "target_id", targetID)
	case client.SendNotFound:
		r.sendError(fromID, "target client not found")
	case client.SendFailed:
		// Delivery failures are already counted and logged by the client
		// registry; the sender learns about the dead peer through the
		// participant updates that follow its disconnect.
	}
}
