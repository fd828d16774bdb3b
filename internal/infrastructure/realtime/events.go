package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
)

// Server-to-client event names that are not negotiation transitions.
const (
	EventJoined = "joined"
	EventLeft   = "left"
	EventError  = "error"
)

type newMessagePayload struct {
	NegotiationID uuid.UUID                `json:"negotiationId"`
	SenderID      uuid.UUID                `json:"senderId"`
	SenderRole    negotiation.Role         `json:"senderRole"`
	OfferedPrice  *decimal.Decimal         `json:"offeredPrice,omitempty"`
	Note          *string                  `json:"note,omitempty"`
	Timestamp     time.Time                `json:"timestamp"`
	Negotiation   *negotiation.Negotiation `json:"negotiation"`
}

type acceptedPayload struct {
	NegotiationID uuid.UUID                `json:"negotiationId"`
	FinalPrice    *decimal.Decimal         `json:"finalPrice"`
	AccepterID    uuid.UUID                `json:"accepterId"`
	Timestamp     time.Time                `json:"timestamp"`
	Negotiation   *negotiation.Negotiation `json:"negotiation"`
}

type declinedPayload struct {
	NegotiationID uuid.UUID                `json:"negotiationId"`
	DeclinerID    uuid.UUID                `json:"declinerId"`
	Timestamp     time.Time                `json:"timestamp"`
	Negotiation   *negotiation.Negotiation `json:"negotiation"`
}

type finalizedPayload struct {
	NegotiationID uuid.UUID                `json:"negotiationId"`
	FinalPrice    *decimal.Decimal         `json:"finalPrice"`
	Timestamp     time.Time                `json:"timestamp"`
	Negotiation   *negotiation.Negotiation `json:"negotiation"`
}

// TypingPayload is relayed for user-typing and user-stop-typing.
type TypingPayload struct {
	NegotiationID uuid.UUID        `json:"negotiationId"`
	UserID        uuid.UUID        `json:"userId"`
	UserRole      negotiation.Role `json:"userRole,omitempty"`
}

// ErrorPayload reports a failed client request on the same connection.
type ErrorPayload struct {
	Kind          negotiation.Kind `json:"kind"`
	Message       string           `json:"message"`
	Retryable     bool             `json:"retryable"`
	RequestEvent  string           `json:"requestEvent,omitempty"`
	NegotiationID *uuid.UUID       `json:"negotiationId,omitempty"`
}

// EncodeEvent builds the wire frame for a negotiation event.
func EncodeEvent(ev negotiation.Event) (*Frame, error) {
	var payload any
	switch ev.Type {
	case negotiation.EventNewMessage:
		if ev.Message == nil {
			return nil, fmt.Errorf("%s event without message", ev.Type)
		}
		payload = newMessagePayload{
			NegotiationID: ev.NegotiationID,
			SenderID:      ev.Message.SenderID,
			SenderRole:    ev.Message.SenderRole,
			OfferedPrice:  ev.Message.OfferedPrice,
			Note:          ev.Message.Note,
			Timestamp:     ev.Message.Timestamp,
			Negotiation:   ev.Negotiation,
		}
	case negotiation.EventAccepted:
		if ev.Message == nil {
			return nil, fmt.Errorf("%s event without message", ev.Type)
		}
		payload = acceptedPayload{
			NegotiationID: ev.NegotiationID,
			FinalPrice:    ev.Negotiation.FinalPrice,
			AccepterID:    ev.Message.SenderID,
			Timestamp:     ev.Timestamp,
			Negotiation:   ev.Negotiation,
		}
	case negotiation.EventDeclined:
		if ev.Message == nil {
			return nil, fmt.Errorf("%s event without message", ev.Type)
		}
		payload = declinedPayload{
			NegotiationID: ev.NegotiationID,
			DeclinerID:    ev.Message.SenderID,
			Timestamp:     ev.Timestamp,
			Negotiation:   ev.Negotiation,
		}
	case negotiation.EventFinalized:
		payload = finalizedPayload{
			NegotiationID: ev.NegotiationID,
			FinalPrice:    ev.Negotiation.FinalPrice,
			Timestamp:     ev.Timestamp,
			Negotiation:   ev.Negotiation,
		}
	default:
		return nil, fmt.Errorf("unsupported event type %q", ev.Type)
	}
	return encodeFrame(string(ev.Type), payload)
}

// TypingFrame builds a user-typing or user-stop-typing frame.
func TypingFrame(t negotiation.EventType, p TypingPayload) (*Frame, error) {
	if t != negotiation.EventTyping && t != negotiation.EventStopTyping {
		return nil, fmt.Errorf("unsupported typing event %q", t)
	}
	return encodeFrame(string(t), p)
}

// ErrorFrame reports err for the client request named requestEvent.
func ErrorFrame(requestEvent string, negotiationID *uuid.UUID, err error) *Frame {
	p := ErrorPayload{
		Kind:          negotiation.KindOf(err),
		Message:       err.Error(),
		Retryable:     negotiation.IsRetryable(err),
		RequestEvent:  requestEvent,
		NegotiationID: negotiationID,
	}
	f, encErr := encodeFrame(EventError, p)
	if encErr != nil {
		return NewFrame(EventError, json.RawMessage(`{"kind":"INTERNAL_ERROR","message":"internal error"}`))
	}
	return f
}

// ControlFrame builds an acknowledgement such as joined or left.
func ControlFrame(event string, negotiationID uuid.UUID) *Frame {
	f, err := encodeFrame(event, map[string]uuid.UUID{"negotiationId": negotiationID})
	if err != nil {
		return NewFrame(event, json.RawMessage(`{}`))
	}
	return f
}

func encodeFrame(event string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return NewFrame(event, data), nil
}
