package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/agri-market/agri-market/internal/domain/product"
)

type productDocument struct {
	ID          string               `bson:"_id"`
	FarmerID    string               `bson:"farmer_id"`
	Name        string               `bson:"name"`
	Category    string               `bson:"category"`
	Price       primitive.Decimal128 `bson:"price"`
	Unit        string               `bson:"unit"`
	Quantity    int                  `bson:"quantity"`
	IsAvailable bool                 `bson:"is_available"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

// ProductRepository implements product.Repository on the products collection.
type ProductRepository struct {
	coll *mongo.Collection
}

func NewProductRepository(db *mongo.Database) *ProductRepository {
	return &ProductRepository{coll: db.Collection(CollectionProducts)}
}

func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	if p.ProductID == uuid.Nil {
		p.ProductID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	price, err := toDecimal128(p.Price)
	if err != nil {
		return err
	}
	_, err = r.coll.InsertOne(ctx, productDocument{
		ID:          p.ProductID.String(),
		FarmerID:    p.FarmerID.String(),
		Name:        p.Name,
		Category:    p.Category,
		Price:       price,
		Unit:        p.Unit,
		Quantity:    p.Quantity,
		IsAvailable: p.IsAvailable,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	})
	return storeError(err)
}

func (r *ProductRepository) GetProduct(ctx context.Context, productID uuid.UUID) (*product.Product, error) {
	var doc productDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: productID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, product.ErrNotFound
		}
		return nil, storeError(err)
	}
	return fromProductDocument(&doc)
}

// Reserve decrements stock in a single pipeline update guarded on the
// available quantity, flipping is_available off when stock runs out.
func (r *ProductRepository) Reserve(ctx context.Context, productID uuid.UUID, quantity int) error {
	filter := bson.D{
		{Key: "_id", Value: productID.String()},
		{Key: "is_available", Value: true},
		{Key: "quantity", Value: bson.D{{Key: "$gte", Value: quantity}}},
	}
	remaining := bson.D{{Key: "$subtract", Value: bson.A{"$quantity", quantity}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "quantity", Value: remaining},
			{Key: "is_available", Value: bson.D{{Key: "$gt", Value: bson.A{remaining, 0}}}},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeError(err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if err := p.CanSupply(quantity); err != nil {
		return err
	}
	return product.ErrInsufficientStock
}

func (r *ProductRepository) Release(ctx context.Context, productID uuid.UUID, quantity int) error {
	restored := bson.D{{Key: "$add", Value: bson.A{"$quantity", quantity}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "quantity", Value: restored},
			{Key: "is_available", Value: bson.D{{Key: "$gt", Value: bson.A{restored, 0}}}},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
	}
	res, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: productID.String()}}, update)
	if err != nil {
		return storeError(err)
	}
	if res.MatchedCount == 0 {
		return product.ErrNotFound
	}
	return nil
}

func fromProductDocument(doc *productDocument) (*product.Product, error) {
	var (
		p   product.Product
		err error
	)
	if p.ProductID, err = uuid.Parse(doc.ID); err != nil {
		return nil, err
	}
	if p.FarmerID, err = uuid.Parse(doc.FarmerID); err != nil {
		return nil, err
	}
	if p.Price, err = fromDecimal128(doc.Price); err != nil {
		return nil, err
	}
	p.Name = doc.Name
	p.Category = doc.Category
	p.Unit = doc.Unit
	p.Quantity = doc.Quantity
	p.IsAvailable = doc.IsAvailable
	p.CreatedAt = doc.CreatedAt.UTC()
	p.UpdatedAt = doc.UpdatedAt.UTC()
	return &p, nil
}
