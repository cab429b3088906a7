package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yashrajoria/webhook-service/models"
)

// ErrOrderNotFound is returned when no order has the requested reference.
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository persists orders keyed by payment reference.
//
// CreateOrderIfAbsent must be a single atomic conditional write at the
// storage layer. A "find, then insert" sequence in application code lets two
// concurrent redeliveries both pass the find and both insert.
type OrderRepository interface {
	// CreateOrderIfAbsent stores order and its line items unless an order with
	// the same PaymentReference exists. It returns the ID of the stored order
	// and whether this call created it.
	CreateOrderIfAbsent(ctx context.Context, order *models.Order) (uuid.UUID, bool, error)
	FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
}

// assignIDs gives a new order and its line items identifiers if the caller
// left them unset.
func assignIDs(order *models.Order) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.LineItems {
		if order.LineItems[i].ID == uuid.Nil {
			order.LineItems[i].ID = uuid.New()
		}
		order.LineItems[i].OrderID = order.ID
	}
}

// GormOrderRepository implements OrderRepository using GORM on Postgres
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new instance of GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Migrate creates the orders tables, including the unique index on
// payment_reference the conditional insert relies on.
func (r *GormOrderRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.Order{}, &models.OrderItem{})
}

// CreateOrderIfAbsent inserts with ON CONFLICT (payment_reference) DO NOTHING.
// A concurrent insert of the same reference blocks on the unique index until
// the first transaction commits, then affects zero rows.
func (r *GormOrderRepository) CreateOrderIfAbsent(ctx context.Context, order *models.Order) (uuid.UUID, bool, error) {
	var (
		id      uuid.UUID
		created bool
	)

	assignIDs(order)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_reference"}},
			DoNothing: true,
		}).Omit(clause.Associations).Create(order)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			var existing models.Order
			if err := tx.Select("id").Where("payment_reference = ?", order.PaymentReference).Take(&existing).Error; err != nil {
				return fmt.Errorf("load existing order: %w", err)
			}
			id = existing.ID
			return nil
		}

		if len(order.LineItems) > 0 {
			if err := tx.Create(&order.LineItems).Error; err != nil {
				return fmt.Errorf("insert line items: %w", err)
			}
		}
		id = order.ID
		created = true
		return nil
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, created, nil
}

// FindByPaymentReference loads an order with its line items.
func (r *GormOrderRepository) FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("payment_reference = ?", reference).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
