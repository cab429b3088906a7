package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/yashrajoria/webhook-service/models"
)

// DynamoAPI is the subset of *dynamodb.Client the order store calls.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoOrderRepository stores one item per order with payment_reference as
// the partition key.
type DynamoOrderRepository struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamoOrderRepository(client DynamoAPI, table string) *DynamoOrderRepository {
	return &DynamoOrderRepository{client: client, table: table, now: time.Now}
}

type ddbOrder struct {
	PaymentReference  string        `dynamodbav:"payment_reference"`
	OrderID           string        `dynamodbav:"id"`
	BuyerID           string        `dynamodbav:"buyer_id"`
	LineItems         []ddbLineItem `dynamodbav:"line_items,omitempty"`
	Total             int64         `dynamodbav:"total"`
	Currency          string        `dynamodbav:"currency,omitempty"`
	ShippingAddress   string        `dynamodbav:"shipping_address"`
	PhoneNumber       string        `dynamodbav:"phone_number,omitempty"`
	PaymentStatus     string        `dynamodbav:"payment_status"`
	FulfillmentStatus string        `dynamodbav:"fulfillment_status"`
	CheckoutSessionID string        `dynamodbav:"checkout_session_id,omitempty"`
	ProviderEventID   string        `dynamodbav:"provider_event_id,omitempty"`
	CreatedAt         string        `dynamodbav:"created_at"`
	UpdatedAt         string        `dynamodbav:"updated_at"`
}

type ddbLineItem struct {
	ID        string `dynamodbav:"id"`
	ProductID string `dynamodbav:"product_id"`
	Position  int    `dynamodbav:"position"`
}

func toDDBOrder(o *models.Order) *ddbOrder {
	d := &ddbOrder{
		PaymentReference:  o.PaymentReference,
		OrderID:           o.ID.String(),
		BuyerID:           o.BuyerID,
		Total:             o.Total,
		Currency:          o.Currency,
		ShippingAddress:   o.ShippingAddress,
		PhoneNumber:       o.PhoneNumber,
		PaymentStatus:     o.PaymentStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		CheckoutSessionID: o.CheckoutSessionID,
		ProviderEventID:   o.ProviderEventID,
		CreatedAt:         o.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         o.UpdatedAt.Format(time.RFC3339Nano),
	}
	for _, item := range o.LineItems {
		d.LineItems = append(d.LineItems, ddbLineItem{
			ID:        item.ID.String(),
			ProductID: item.ProductID,
			Position:  item.Position,
		})
	}
	return d
}

func (d *ddbOrder) toModel() *models.Order {
	o := &models.Order{
		BuyerID:           d.BuyerID,
		Total:             d.Total,
		Currency:          d.Currency,
		ShippingAddress:   d.ShippingAddress,
		PhoneNumber:       d.PhoneNumber,
		PaymentReference:  d.PaymentReference,
		PaymentStatus:     d.PaymentStatus,
		FulfillmentStatus: d.FulfillmentStatus,
		CheckoutSessionID: d.CheckoutSessionID,
		ProviderEventID:   d.ProviderEventID,
	}
	o.ID, _ = uuid.Parse(d.OrderID)
	for _, item := range d.LineItems {
		itemID, _ := uuid.Parse(item.ID)
		o.LineItems = append(o.LineItems, models.OrderItem{
			ID:        itemID,
			OrderID:   o.ID,
			ProductID: item.ProductID,
			Position:  item.Position,
		})
	}
	if t, err := time.Parse(time.RFC3339Nano, d.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, d.UpdatedAt); err == nil {
		o.UpdatedAt = t
	}
	return o
}

// CreateOrderIfAbsent issues a PutItem conditioned on the reference being
// unused. A failed condition means another delivery already created it.
func (r *DynamoOrderRepository) CreateOrderIfAbsent(ctx context.Context, order *models.Order) (uuid.UUID, bool, error) {
	assignIDs(order)
	now := r.now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	item, err := attributevalue.MarshalMap(toDDBOrder(order))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("marshal order: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(payment_reference)"),
	})
	if err == nil {
		return order.ID, true, nil
	}

	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return uuid.Nil, false, fmt.Errorf("dynamodb PutItem failed: %w", err)
	}

	existing, err := r.FindByPaymentReference(ctx, order.PaymentReference)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load existing order: %w", err)
	}
	return existing.ID, false, nil
}

func (r *DynamoOrderRepository) FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"payment_reference": reference})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrOrderNotFound
	}
	var d ddbOrder
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return d.toModel(), nil
}
