package negotiation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a negotiation
type Status string

const (
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusFinalized Status = "finalized"
)

// Role identifies which party sent a message
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
)

// Valid reports whether r is a known party role.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleFarmer
}

// Unit is the quantity unit copied from the product listing
type Unit string

const (
	UnitKg      Unit = "kg"
	UnitGram    Unit = "gram"
	UnitLiter   Unit = "liter"
	UnitPiece   Unit = "piece"
	UnitDozen   Unit = "dozen"
	UnitQuintal Unit = "quintal"
	UnitTon     Unit = "ton"
)

// Valid reports whether u is in the closed set of listing units.
func (u Unit) Valid() bool {
	switch u {
	case UnitKg, UnitGram, UnitLiter, UnitPiece, UnitDozen, UnitQuintal, UnitTon:
		return true
	}
	return false
}

// MessageKind separates ordinary offers from transition messages
type MessageKind string

const (
	KindOffer      MessageKind = "offer"
	KindAcceptance MessageKind = "acceptance"
	KindDecline    MessageKind = "decline"
)

// IsSystem reports whether the message was produced by a transition.
func (k MessageKind) IsSystem() bool {
	return k == KindAcceptance || k == KindDecline
}

const (
	MaxNoteLength = 1000
	declineNotice = "Declined the negotiation - no agreement reached on price"
)

// Message is one entry of the append-only negotiation log
type Message struct {
	MessageID    uuid.UUID        `json:"messageId"`
	SenderID     uuid.UUID        `json:"senderId"`
	SenderRole   Role             `json:"senderRole"`
	OfferedPrice *decimal.Decimal `json:"offeredPrice,omitempty"`
	Note         *string          `json:"note,omitempty"`
	Kind         MessageKind      `json:"kind"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Negotiation is a bargaining session between one buyer and one farmer
// over one product listing.
type Negotiation struct {
	NegotiationID uuid.UUID        `json:"negotiationId"`
	ProductID     uuid.UUID        `json:"productId"`
	BuyerID       uuid.UUID        `json:"buyerId"`
	FarmerID      uuid.UUID        `json:"farmerId"`
	Quantity      int              `json:"quantity"`
	Unit          Unit             `json:"unit"`
	InitialPrice  decimal.Decimal  `json:"initialPrice"`
	FinalPrice    *decimal.Decimal `json:"finalPrice,omitempty"`
	Status        Status           `json:"status"`
	Messages      []Message        `json:"messages"`
	Version       int64            `json:"version"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Draft carries everything needed to open a negotiation. FarmerID, Unit and
// ListPrice come from the product at creation time.
type Draft struct {
	ProductID    uuid.UUID
	BuyerID      uuid.UUID
	FarmerID     uuid.UUID
	Quantity     int
	Unit         Unit
	ListPrice    decimal.Decimal
	OfferedPrice *decimal.Decimal
	Note         *string
}

var now = func() time.Time { return time.Now().UTC() }

// New opens a negotiation with the buyer's opening offer as its first message.
func New(d Draft) (*Negotiation, error) {
	if d.ProductID == uuid.Nil || d.BuyerID == uuid.Nil || d.FarmerID == uuid.Nil {
		return nil, fmt.Errorf("%w: product, buyer and farmer ids are required", ErrValidation)
	}
	if d.BuyerID == d.FarmerID {
		return nil, fmt.Errorf("%w: buyer and farmer must be different users", ErrValidation)
	}
	if d.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if !d.Unit.Valid() {
		return nil, fmt.Errorf("%w: unknown unit %q", ErrValidation, d.Unit)
	}
	initial := d.ListPrice
	if d.OfferedPrice != nil {
		initial = *d.OfferedPrice
	}
	if err := CheckPrice("price", initial); err != nil {
		return nil, err
	}
	note, err := normalizeNote(d.Note)
	if err != nil {
		return nil, err
	}

	ts := now()
	n := &Negotiation{
		NegotiationID: uuid.New(),
		ProductID:     d.ProductID,
		BuyerID:       d.BuyerID,
		FarmerID:      d.FarmerID,
		Quantity:      d.Quantity,
		Unit:          d.Unit,
		InitialPrice:  initial,
		Status:        StatusOpen,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	price := initial
	n.append(d.BuyerID, RoleBuyer, &price, note, KindOffer)
	return n, nil
}

// RoleOf returns the role userID plays in the negotiation.
func (n *Negotiation) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case n.BuyerID:
		return RoleBuyer, true
	case n.FarmerID:
		return RoleFarmer, true
	}
	return "", false
}

// IsTerminal returns true if no further transitions are permitted
func (n *Negotiation) IsTerminal() bool {
	return n.Status == StatusRejected || n.Status == StatusFinalized
}

// PendingOffer returns the most recent priced, non-system message.
func (n *Negotiation) PendingOffer() *Message {
	for i := len(n.Messages) - 1; i >= 0; i-- {
		m := &n.Messages[i]
		if m.Kind.IsSystem() {
			continue
		}
		if m.OfferedPrice != nil && m.OfferedPrice.IsPositive() {
			return m
		}
	}
	return nil
}

// LastMessage returns the newest message, or nil for an empty log.
func (n *Negotiation) LastMessage() *Message {
	if len(n.Messages) == 0 {
		return nil
	}
	return &n.Messages[len(n.Messages)-1]
}

// AddMessage appends an ordinary offer or note from one of the parties.
func (n *Negotiation) AddMessage(senderID uuid.UUID, role Role, offeredPrice *decimal.Decimal, note *string) (*Message, error) {
	if n.Status != StatusOpen {
		return nil, fmt.Errorf("%w: status is %s", ErrNotOpen, n.Status)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown sender role %q", ErrValidation, role)
	}
	if offeredPrice != nil {
		if err := CheckPrice("offered price", *offeredPrice); err != nil {
			return nil, err
		}
	}
	clean, err := normalizeNote(note)
	if err != nil {
		return nil, err
	}
	if offeredPrice == nil && clean == nil {
		return nil, fmt.Errorf("%w: message needs an offered price or a note", ErrValidation)
	}
	if actual, ok := n.RoleOf(senderID); !ok || actual != role {
		return nil, ErrNotAuthorized
	}
	return n.append(senderID, role, offeredPrice, clean, KindOffer), nil
}

// Accept closes the negotiation at the resolved price. acceptedPrice, when
// set, overrides the price found in the message history.
func (n *Negotiation) Accept(accepterID uuid.UUID, acceptedPrice *decimal.Decimal) (*Message, error) {
	role, err := n.checkResolvable(accepterID, ErrSelfAcceptance)
	if err != nil {
		return nil, err
	}
	if acceptedPrice != nil {
		if err := CheckPrice("accepted price", *acceptedPrice); err != nil {
			return nil, err
		}
	}

	final := ResolvePrice(n.Messages, acceptedPrice, n.InitialPrice)
	note := "Accepted at " + final.String()
	n.Status = StatusAccepted
	n.FinalPrice = &final
	price := final
	return n.append(accepterID, role, &price, &note, KindAcceptance), nil
}

// Decline rejects the negotiation. The final price stays unset.
func (n *Negotiation) Decline(declinerID uuid.UUID) (*Message, error) {
	role, err := n.checkResolvable(declinerID, ErrSelfDecline)
	if err != nil {
		return nil, err
	}
	note := declineNotice
	n.Status = StatusRejected
	n.FinalPrice = nil
	return n.append(declinerID, role, nil, &note, KindDecline), nil
}

// Finalize moves an accepted negotiation to finalized once an order is
// placed against it.
func (n *Negotiation) Finalize() error {
	if n.Status != StatusAccepted {
		return fmt.Errorf("%w: status is %s", ErrNotAccepted, n.Status)
	}
	n.Status = StatusFinalized
	n.UpdatedAt = n.nextTimestamp()
	return nil
}

func (n *Negotiation) checkResolvable(actorID uuid.UUID, selfErr error) (Role, error) {
	if n.Status != StatusOpen {
		return "", fmt.Errorf("%w: status is %s", ErrNotOpen, n.Status)
	}
	role, ok := n.RoleOf(actorID)
	if !ok {
		return "", ErrNotAuthorized
	}
	if pending := n.PendingOffer(); pending != nil && pending.SenderID == actorID {
		return "", selfErr
	}
	return role, nil
}

func (n *Negotiation) append(senderID uuid.UUID, role Role, price *decimal.Decimal, note *string, kind MessageKind) *Message {
	ts := n.nextTimestamp()
	n.Messages = append(n.Messages, Message{
		MessageID:    uuid.New(),
		SenderID:     senderID,
		SenderRole:   role,
		OfferedPrice: price,
		Note:         note,
		Kind:         kind,
		Timestamp:    ts,
	})
	n.UpdatedAt = ts
	return &n.Messages[len(n.Messages)-1]
}

// nextTimestamp never goes backwards relative to the log, even if the wall
// clock does.
func (n *Negotiation) nextTimestamp() time.Time {
	ts := now()
	if last := n.LastMessage(); last != nil && ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}
	if ts.Before(n.UpdatedAt) {
		ts = n.UpdatedAt
	}
	return ts
}

func normalizeNote(note *string) (*string, error) {
	if note == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > MaxNoteLength {
		return nil, fmt.Errorf("%w: note exceeds %d characters", ErrValidation, MaxNoteLength)
	}
	return &trimmed, nil
}

// Clone returns a deep copy that callers may mutate freely.
func (n *Negotiation) Clone() *Negotiation {
	if n == nil {
		return nil
	}
	out := *n
	if n.FinalPrice != nil {
		fp := *n.FinalPrice
		out.FinalPrice = &fp
	}
	out.Messages = make([]Message, len(n.Messages))
	copy(out.Messages, n.Messages)
	return &out
}
