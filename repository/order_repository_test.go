package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yashrajoria/webhook-service/models"
	"github.com/yashrajoria/webhook-service/repository"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func sampleOrder(reference string) *models.Order {
	order := &models.Order{
		ID:                uuid.New(),
		BuyerID:           "u1",
		Total:             15000,
		Currency:          "usd",
		ShippingAddress:   "1 Main St, not provided, Springfield, not provided, 12345, US",
		PaymentReference:  reference,
		PaymentStatus:     models.PaymentPaid,
		FulfillmentStatus: models.FulfillmentPending,
	}
	order.LineItems = models.NewOrderItems(order.ID, []string{"p1", "p2"})
	return order
}

var insertOrderSQL = regexp.QuoteMeta(`INSERT INTO "orders"`) + `.*` + regexp.QuoteMeta(`ON CONFLICT ("payment_reference") DO NOTHING`)

func TestCreateOrderIfAbsent_Creates(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormOrderRepository(gormDB)
	order := sampleOrder("pi_abc")

	mock.ExpectBegin()
	mock.ExpectExec(insertOrderSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "order_items"`)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	id, created, err := repo.CreateOrderIfAbsent(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, order.ID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderIfAbsent_ExistingReferenceIsNoOp(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormOrderRepository(gormDB)
	existingID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(insertOrderSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "orders" WHERE payment_reference = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existingID))
	mock.ExpectCommit()

	id, created, err := repo.CreateOrderIfAbsent(context.Background(), sampleOrder("pi_abc"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existingID, id)
	assert.NoError(t, mock.ExpectationsWereMet(), "no line items are written for a duplicate")
}

func TestCreateOrderIfAbsent_StoreUnavailable(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(insertOrderSQL).WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	id, created, err := repo.CreateOrderIfAbsent(context.Background(), sampleOrder("pi_abc"))
	assert.Error(t, err)
	assert.False(t, created)
	assert.Equal(t, uuid.Nil, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderIfAbsent_AssignsMissingIDs(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormOrderRepository(gormDB)
	order := sampleOrder("pi_new")
	order.ID = uuid.Nil
	order.LineItems = []models.OrderItem{{ProductID: "p1"}}

	mock.ExpectBegin()
	mock.ExpectExec(insertOrderSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "order_items"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, created, err := repo.CreateOrderIfAbsent(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, id, order.LineItems[0].OrderID)
	assert.NotEqual(t, uuid.Nil, order.LineItems[0].ID)
}

func TestFindByPaymentReference(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormOrderRepository(gormDB)
	orderID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE payment_reference = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "buyer_id", "total", "payment_reference", "payment_status", "fulfillment_status", "created_at"}).
			AddRow(orderID, "u1", 15000, "pi_abc", "paid", "pending", now))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_items" WHERE "order_items"."order_id" = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "position"}).
			AddRow(uuid.New(), orderID, "p1", 0).
			AddRow(uuid.New(), orderID, "p2", 1))

	order, err := repo.FindByPaymentReference(context.Background(), "pi_abc")
	require.NoError(t, err)
	assert.Equal(t, orderID, order.ID)
	assert.Equal(t, "pi_abc", order.PaymentReference)
	require.Len(t, order.LineItems, 2)
	assert.Equal(t, "p1", order.LineItems[0].ProductID)
}

func TestFindByPaymentReference_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormOrderRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err := repo.FindByPaymentReference(context.Background(), "pi_missing")
	assert.Nil(t, order)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}
