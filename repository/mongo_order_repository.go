package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yashrajoria/webhook-service/models"
)

type MongoOrderRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{
		collection: db.Collection("orders"),
		now:        time.Now,
	}
}

type mongoOrder struct {
	ID                string          `bson:"_id"`
	BuyerID           string          `bson:"buyer_id"`
	LineItems         []mongoLineItem `bson:"line_items,omitempty"`
	Total             int64           `bson:"total"`
	Currency          string          `bson:"currency,omitempty"`
	ShippingAddress   string          `bson:"shipping_address"`
	PhoneNumber       string          `bson:"phone_number,omitempty"`
	PaymentReference  string          `bson:"payment_reference"`
	PaymentStatus     string          `bson:"payment_status"`
	FulfillmentStatus string          `bson:"fulfillment_status"`
	CheckoutSessionID string          `bson:"checkout_session_id,omitempty"`
	ProviderEventID   string          `bson:"provider_event_id,omitempty"`
	CreatedAt         time.Time       `bson:"created_at"`
	UpdatedAt         time.Time       `bson:"updated_at"`
}

type mongoLineItem struct {
	ID        string `bson:"id"`
	ProductID string `bson:"product_id"`
	Position  int    `bson:"position"`
}

func (m *mongoOrder) toModel() *models.Order {
	o := &models.Order{
		BuyerID:           m.BuyerID,
		Total:             m.Total,
		Currency:          m.Currency,
		ShippingAddress:   m.ShippingAddress,
		PhoneNumber:       m.PhoneNumber,
		PaymentReference:  m.PaymentReference,
		PaymentStatus:     m.PaymentStatus,
		FulfillmentStatus: m.FulfillmentStatus,
		CheckoutSessionID: m.CheckoutSessionID,
		ProviderEventID:   m.ProviderEventID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	o.ID, _ = uuid.Parse(m.ID)
	for _, item := range m.LineItems {
		itemID, _ := uuid.Parse(item.ID)
		o.LineItems = append(o.LineItems, models.OrderItem{
			ID:        itemID,
			OrderID:   o.ID,
			ProductID: item.ProductID,
			Position:  item.Position,
		})
	}
	return o
}

// EnsureIndexes creates the unique index on payment_reference that
// CreateOrderIfAbsent depends on. Safe to run on every startup.
func (r *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "payment_reference", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_payment_reference"),
	})
	if err != nil {
		return fmt.Errorf("create payment_reference index: %w", err)
	}
	return nil
}

// CreateOrderIfAbsent relies on the unique index: the second insert of a
// reference fails with a duplicate key error instead of writing.
func (r *MongoOrderRepository) CreateOrderIfAbsent(ctx context.Context, order *models.Order) (uuid.UUID, bool, error) {
	assignIDs(order)
	now := r.now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	doc := mongoOrder{
		ID:                order.ID.String(),
		BuyerID:           order.BuyerID,
		Total:             order.Total,
		Currency:          order.Currency,
		ShippingAddress:   order.ShippingAddress,
		PhoneNumber:       order.PhoneNumber,
		PaymentReference:  order.PaymentReference,
		PaymentStatus:     order.PaymentStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		CheckoutSessionID: order.CheckoutSessionID,
		ProviderEventID:   order.ProviderEventID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, item := range order.LineItems {
		doc.LineItems = append(doc.LineItems, mongoLineItem{
			ID:        item.ID.String(),
			ProductID: item.ProductID,
			Position:  item.Position,
		})
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err == nil {
		return order.ID, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return uuid.Nil, false, err
	}

	var existing struct {
		ID string `bson:"_id"`
	}
	err = r.collection.FindOne(ctx,
		bson.M{"payment_reference": order.PaymentReference},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Decode(&existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load existing order: %w", err)
	}
	id, err := uuid.Parse(existing.ID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("stored order id %q: %w", existing.ID, err)
	}
	return id, false, nil
}

func (r *MongoOrderRepository) FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var doc mongoOrder
	err := r.collection.FindOne(ctx, bson.M{"payment_reference": reference}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}
