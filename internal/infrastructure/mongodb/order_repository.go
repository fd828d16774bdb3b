package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agri-market/agri-market/internal/domain/order"
)

type orderDocument struct {
	ID            string               `bson:"_id"`
	OrderNumber   string               `bson:"order_number"`
	BuyerID       string               `bson:"buyer_id"`
	FarmerID      string               `bson:"farmer_id"`
	ProductID     string               `bson:"product_id"`
	NegotiationID *string              `bson:"negotiation_id,omitempty"`
	Quantity      int                  `bson:"quantity"`
	Unit          string               `bson:"unit"`
	PricePerUnit  primitive.Decimal128 `bson:"price_per_unit"`
	TotalAmount   primitive.Decimal128 `bson:"total_amount"`
	Status        string               `bson:"status"`
	PaymentMethod string               `bson:"payment_method"`
	Notes         *string              `bson:"notes,omitempty"`
	CreatedAt     time.Time            `bson:"created_at"`
}

// OrderRepository implements order.Repository on the orders collection. A
// unique partial index on negotiation_id backs ErrNegotiationAlreadyUsed.
type OrderRepository struct {
	coll *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{coll: db.Collection(CollectionOrders)}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	doc, err := toOrderDocument(o)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return order.ErrNegotiationAlreadyUsed
		}
		return storeError(err)
	}
	return nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: orderID.String()}})
	if err != nil {
		return storeError(err)
	}
	if res.DeletedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	var doc orderDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: orderID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, storeError(err)
	}
	return fromOrderDocument(&doc)
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]*order.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.D{{Key: "buyer_id", Value: buyerID.String()}}, opts)
	if err != nil {
		return nil, storeError(err)
	}
	defer cur.Close(ctx)

	out := make([]*order.Order, 0)
	for cur.Next(ctx) {
		var doc orderDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		o, err := fromOrderDocument(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, storeError(cur.Err())
}

func toOrderDocument(o *order.Order) (*orderDocument, error) {
	price, err := toDecimal128(o.PricePerUnit)
	if err != nil {
		return nil, err
	}
	total, err := toDecimal128(o.TotalAmount)
	if err != nil {
		return nil, err
	}
	doc := &orderDocument{
		ID:            o.OrderID.String(),
		OrderNumber:   o.OrderNumber,
		BuyerID:       o.BuyerID.String(),
		FarmerID:      o.FarmerID.String(),
		ProductID:     o.ProductID.String(),
		Quantity:      o.Quantity,
		Unit:          o.Unit,
		PricePerUnit:  price,
		TotalAmount:   total,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt,
	}
	if o.NegotiationID != nil {
		id := o.NegotiationID.String()
		doc.NegotiationID = &id
	}
	return doc, nil
}

func fromOrderDocument(doc *orderDocument) (*order.Order, error) {
	var (
		o   order.Order
		err error
	)
	if o.OrderID, err = uuid.Parse(doc.ID); err != nil {
		return nil, err
	}
	if o.BuyerID, err = uuid.Parse(doc.BuyerID); err != nil {
		return nil, err
	}
	if o.FarmerID, err = uuid.Parse(doc.FarmerID); err != nil {
		return nil, err
	}
	if o.ProductID, err = uuid.Parse(doc.ProductID); err != nil {
		return nil, err
	}
	if doc.NegotiationID != nil {
		id, err := uuid.Parse(*doc.NegotiationID)
		if err != nil {
			return nil, err
		}
		o.NegotiationID = &id
	}
	if o.PricePerUnit, err = fromDecimal128(doc.PricePerUnit); err != nil {
		return nil, err
	}
	if o.TotalAmount, err = fromDecimal128(doc.TotalAmount); err != nil {
		return nil, err
	}
	o.OrderNumber = doc.OrderNumber
	o.Quantity = doc.Quantity
	o.Unit = doc.Unit
	o.Status = order.Status(doc.Status)
	o.PaymentMethod = order.PaymentMethod(doc.PaymentMethod)
	o.Notes = doc.Notes
	o.CreatedAt = doc.CreatedAt.UTC()
	return &o, nil
}
