package negotiation

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a realtime event. Values are the wire event names.
type EventType string

const (
	EventNewMessage EventType = "new-message"
	EventAccepted   EventType = "negotiation-accepted"
	EventDeclined   EventType = "negotiation-declined"
	EventFinalized  EventType = "negotiation-finalized"
	EventTyping     EventType = "user-typing"
	EventStopTyping EventType = "user-stop-typing"
)

// Event describes one applied transition together with the resulting
// negotiation snapshot.
type Event struct {
	Type          EventType    `json:"type"`
	NegotiationID uuid.UUID    `json:"negotiationId"`
	Message       *Message     `json:"message,omitempty"`
	Negotiation   *Negotiation `json:"negotiation"`
	Timestamp     time.Time    `json:"timestamp"`
}

// NewEvent snapshots n for broadcast.
func NewEvent(t EventType, n *Negotiation, msg *Message) Event {
	ev := Event{
		Type:          t,
		NegotiationID: n.NegotiationID,
		Negotiation:   n.Clone(),
		Timestamp:     n.UpdatedAt,
	}
	if msg != nil {
		m := *msg
		ev.Message = &m
	}
	return ev
}

// Publisher receives events in the order transitions were applied for a
// given negotiation.
type Publisher interface {
	Publish(ev Event)
}
