package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/yashrajoria/webhook-service/models"
)

const ordersBucket = "orders"

// BoltOrderRepository keeps orders in an embedded BoltDB file, keyed by
// payment reference. Bolt serializes read-write transactions, so the
// check-and-put in CreateOrderIfAbsent cannot interleave with another.
type BoltOrderRepository struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltOrderRepository opens (or creates) the database at path.
func NewBoltOrderRepository(path string) (*BoltOrderRepository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ordersBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltOrderRepository{db: db, now: time.Now}, nil
}

// Close releases the database file lock.
func (r *BoltOrderRepository) Close() error {
	return r.db.Close()
}

func (r *BoltOrderRepository) CreateOrderIfAbsent(ctx context.Context, order *models.Order) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}

	var (
		id      uuid.UUID
		created bool
	)
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ordersBucket))

		if existing := b.Get([]byte(order.PaymentReference)); existing != nil {
			var stored models.Order
			if err := json.Unmarshal(existing, &stored); err != nil {
				return fmt.Errorf("decode stored order: %w", err)
			}
			id = stored.ID
			return nil
		}

		assignIDs(order)
		now := r.now().UTC()
		order.CreatedAt = now
		order.UpdatedAt = now

		data, err := json.Marshal(order)
		if err != nil {
			return err
		}
		id = order.ID
		created = true
		return b.Put([]byte(order.PaymentReference), data)
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, created, nil
}

func (r *BoltOrderRepository) FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var order models.Order
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(ordersBucket)).Get([]byte(reference))
		if v == nil {
			return ErrOrderNotFound
		}
		return json.Unmarshal(v, &order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Count returns the number of stored orders.
func (r *BoltOrderRepository) Count() (int, error) {
	var n int
	err := r.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(ordersBucket)).Stats().KeyN
		return nil
	})
	return n, err
}
