// Package relay forwards call negotiation payloads between two named
// participants. It keeps no per-call state.
package relay

import (
	"encoding/json"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

// Kind is the signaling verb being relayed.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

// Locator resolves a username to its live connection.
type Locator interface {
	Lookup(username string) (string, bool)
}

// Unicaster delivers one event to one connection.
type Unicaster interface {
	Unicast(connID string, msg interface{}) error
}

type Relay struct {
	sessions Locator
	out      Unicaster
}

func New(sessions Locator, out Unicaster) *Relay {
	return &Relay{sessions: sessions, out: out}
}

// Forward sends payload from sender to target's current connection. It
// returns false when the target has no live session or the kind is unknown.
func (r *Relay) Forward(kind Kind, sender, target string, payload json.RawMessage) bool {
	envelope, ok := envelopeFor(kind, sender, payload)
	if !ok {
		return false
	}

	connID, ok := r.sessions.Lookup(target)
	if !ok {
		return false
	}

	if err := r.out.Unicast(connID, envelope); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).
			Str(pkglog.FieldEvent, string(kind)).
			Str(pkglog.FieldUsername, sender).
			Str(pkglog.FieldTarget, target).
			Msg("failed to queue signaling envelope")
		return false
	}
	return true
}

func envelopeFor(kind Kind, sender string, payload json.RawMessage) (interface{}, bool) {
	switch kind {
	case KindOffer:
		return &domain.IncomingSDPMessage{Type: domain.MsgTypeIncomingOffer, SDPPayload: payload, Sender: sender}, true
	case KindAnswer:
		return &domain.IncomingSDPMessage{Type: domain.MsgTypeIncomingAnswer, SDPPayload: payload, Sender: sender}, true
	case KindICECandidate:
		return &domain.IncomingICEMessage{Type: domain.MsgTypeIncomingICE, Candidate: payload, Sender: sender}, true
	default:
		return nil, false
	}
}
