package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agri-market/agri-market/internal/domain/negotiation"
)

type negotiationDocument struct {
	ID           string                `bson:"_id"`
	ProductID    string                `bson:"product_id"`
	BuyerID      string                `bson:"buyer_id"`
	FarmerID     string                `bson:"farmer_id"`
	Quantity     int                   `bson:"quantity"`
	Unit         string                `bson:"unit"`
	InitialPrice primitive.Decimal128  `bson:"initial_price"`
	FinalPrice   *primitive.Decimal128 `bson:"final_price"`
	Status       string                `bson:"status"`
	Messages     []messageDocument     `bson:"messages"`
	Version      int64                 `bson:"version"`
	CreatedAt    time.Time             `bson:"created_at"`
	UpdatedAt    time.Time             `bson:"updated_at"`
}

type messageDocument struct {
	MessageID    string                `bson:"message_id"`
	SenderID     string                `bson:"sender_id"`
	SenderRole   string                `bson:"sender_role"`
	OfferedPrice *primitive.Decimal128 `bson:"offered_price,omitempty"`
	Note         *string               `bson:"note,omitempty"`
	Kind         string                `bson:"kind"`
	Timestamp    time.Time             `bson:"timestamp"`
}

// NegotiationRepository implements negotiation.Repository with one document
// per negotiation and the message log embedded in it.
type NegotiationRepository struct {
	coll *mongo.Collection
}

func NewNegotiationRepository(db *mongo.Database) *NegotiationRepository {
	return &NegotiationRepository{coll: db.Collection(CollectionNegotiations)}
}

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	doc, err := toNegotiationDocument(n)
	if err != nil {
		return err
	}
	doc.Version = 1
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return storeError(err)
	}
	n.Version = 1
	return nil
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	var doc negotiationDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: negotiationID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", negotiation.ErrNotFound, negotiationID)
		}
		return nil, storeError(err)
	}
	return fromNegotiationDocument(&doc)
}

func (r *NegotiationRepository) Update(ctx context.Context, n *negotiation.Negotiation, appended []negotiation.Message) error {
	finalPrice, err := toNullableDecimal128(n.FinalPrice)
	if err != nil {
		return err
	}
	msgs := make([]messageDocument, 0, len(appended))
	for i := range appended {
		m, err := toMessageDocument(&appended[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}

	filter := bson.D{
		{Key: "_id", Value: n.NegotiationID.String()},
		{Key: "version", Value: n.Version},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(n.Status)},
			{Key: "final_price", Value: finalPrice},
			{Key: "updated_at", Value: n.UpdatedAt},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	if len(msgs) > 0 {
		update = append(update, bson.E{Key: "$push", Value: bson.D{
			{Key: "messages", Value: bson.D{{Key: "$each", Value: msgs}}},
		}})
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeError(err)
	}
	if res.MatchedCount == 0 {
		count, err := r.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: n.NegotiationID.String()}})
		if err != nil {
			return storeError(err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", negotiation.ErrNotFound, n.NegotiationID)
		}
		return fmt.Errorf("%w: %s at version %d", negotiation.ErrStoreConflict, n.NegotiationID, n.Version)
	}
	n.Version++
	return nil
}

func (r *NegotiationRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, bson.D{{Key: "buyer_id", Value: buyerID.String()}}, limit, offset)
}

func (r *NegotiationRepository) ListByFarmer(ctx context.Context, farmerID uuid.UUID, limit, offset int) ([]*negotiation.Negotiation, error) {
	return r.list(ctx, bson.D{{Key: "farmer_id", Value: farmerID.String()}}, limit, offset)
}

func (r *NegotiationRepository) list(ctx context.Context, filter bson.D, limit, offset int) ([]*negotiation.Negotiation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeError(err)
	}
	defer cur.Close(ctx)

	out := make([]*negotiation.Negotiation, 0)
	for cur.Next(ctx) {
		var doc negotiationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		n, err := fromNegotiationDocument(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, storeError(cur.Err())
}

func toNegotiationDocument(n *negotiation.Negotiation) (*negotiationDocument, error) {
	initial, err := toDecimal128(n.InitialPrice)
	if err != nil {
		return nil, err
	}
	final, err := toNullableDecimal128(n.FinalPrice)
	if err != nil {
		return nil, err
	}
	doc := &negotiationDocument{
		ID:           n.NegotiationID.String(),
		ProductID:    n.ProductID.String(),
		BuyerID:      n.BuyerID.String(),
		FarmerID:     n.FarmerID.String(),
		Quantity:     n.Quantity,
		Unit:         string(n.Unit),
		InitialPrice: initial,
		FinalPrice:   final,
		Status:       string(n.Status),
		Messages:     make([]messageDocument, 0, len(n.Messages)),
		Version:      n.Version,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
	for i := range n.Messages {
		m, err := toMessageDocument(&n.Messages[i])
		if err != nil {
			return nil, err
		}
		doc.Messages = append(doc.Messages, m)
	}
	return doc, nil
}

func toMessageDocument(m *negotiation.Message) (messageDocument, error) {
	price, err := toNullableDecimal128(m.OfferedPrice)
	if err != nil {
		return messageDocument{}, err
	}
	return messageDocument{
		MessageID:    m.MessageID.String(),
		SenderID:     m.SenderID.String(),
		SenderRole:   string(m.SenderRole),
		OfferedPrice: price,
		Note:         m.Note,
		Kind:         string(m.Kind),
		Timestamp:    m.Timestamp,
	}, nil
}

func fromNegotiationDocument(doc *negotiationDocument) (*negotiation.Negotiation, error) {
	var (
		n   negotiation.Negotiation
		err error
	)
	if n.NegotiationID, err = uuid.Parse(doc.ID); err != nil {
		return nil, err
	}
	if n.ProductID, err = uuid.Parse(doc.ProductID); err != nil {
		return nil, err
	}
	if n.BuyerID, err = uuid.Parse(doc.BuyerID); err != nil {
		return nil, err
	}
	if n.FarmerID, err = uuid.Parse(doc.FarmerID); err != nil {
		return nil, err
	}
	if n.InitialPrice, err = fromDecimal128(doc.InitialPrice); err != nil {
		return nil, err
	}
	if n.FinalPrice, err = fromNullableDecimal128(doc.FinalPrice); err != nil {
		return nil, err
	}
	n.Quantity = doc.Quantity
	n.Unit = negotiation.Unit(doc.Unit)
	n.Status = negotiation.Status(doc.Status)
	n.Version = doc.Version
	n.CreatedAt = doc.CreatedAt.UTC()
	n.UpdatedAt = doc.UpdatedAt.UTC()
	n.Messages = make([]negotiation.Message, 0, len(doc.Messages))
	for _, md := range doc.Messages {
		m := negotiation.Message{
			SenderRole: negotiation.Role(md.SenderRole),
			Note:       md.Note,
			Kind:       negotiation.MessageKind(md.Kind),
			Timestamp:  md.Timestamp.UTC(),
		}
		if m.MessageID, err = uuid.Parse(md.MessageID); err != nil {
			return nil, err
		}
		if m.SenderID, err = uuid.Parse(md.SenderID); err != nil {
			return nil, err
		}
		if m.OfferedPrice, err = fromNullableDecimal128(md.OfferedPrice); err != nil {
			return nil, err
		}
		n.Messages = append(n.Messages, m)
	}
	return &n, nil
}
