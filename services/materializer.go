package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/webhook-service/errors"
	"github.com/yashrajoria/webhook-service/models"
	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/repository"
	"github.com/yashrajoria/webhook-service/webhook"
)

// ErrIncompletePayload marks checkout data that can never become an order.
// Retrying it cannot help, so it is acknowledged rather than failed.
var ErrIncompletePayload = errors.New("incomplete checkout payload")

// AddressNotProvided replaces each missing shipping sub-field.
const AddressNotProvided = "not provided"

const (
	DefaultStoreTimeout  = 5 * time.Second
	DefaultNotifyTimeout = 10 * time.Second
)

// CheckoutPayload is the part of a completed checkout an order is built from.
type CheckoutPayload struct {
	EventID          string
	SessionID        string
	BuyerID          string   `validate:"required"`
	ProductIDs       []string `validate:"required,min=1,dive,required"`
	Total            int64    `validate:"gte=0"`
	Currency         string
	Shipping         webhook.Address
	Phone            string
	PaymentReference string `validate:"required"`
	PaymentStatus    string
}

// PayloadFromCheckout copies a verified checkout event into a payload.
func PayloadFromCheckout(ev webhook.CheckoutCompleted) CheckoutPayload {
	s := ev.Session
	return CheckoutPayload{
		EventID:          ev.EventID(),
		SessionID:        s.SessionID,
		BuyerID:          s.BuyerID,
		ProductIDs:       s.ProductIDs,
		Total:            s.Total,
		Currency:         s.Currency,
		Shipping:         s.Shipping,
		Phone:            s.Phone,
		PaymentReference: s.PaymentReference,
		PaymentStatus:    s.PaymentStatus,
	}
}

// FormatShippingAddress renders line1, line2, city, state, postal code and
// country joined by ", ", using AddressNotProvided for blanks.
func FormatShippingAddress(a webhook.Address) string {
	parts := []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			p = AddressNotProvided
		}
		parts[i] = p
	}
	return strings.Join(parts, ", ")
}

type MaterializeResult struct {
	OrderID uuid.UUID
	Created bool
}

// Materializer turns checkout payloads into orders, at most one per payment
// reference. It holds no lock around the store call; the store's conditional
// insert is the only guard against concurrent redeliveries.
type Materializer struct {
	repo          repository.OrderRepository
	notifier      Notifier
	metrics       MetricsRecorder
	logger        *zap.Logger
	validate      *validator.Validate
	storeTimeout  time.Duration
	notifyTimeout time.Duration

	mu      sync.RWMutex
	closing bool
	wg      sync.WaitGroup
}

func NewMaterializer(repo repository.OrderRepository, notifier Notifier, metrics MetricsRecorder, logger *zap.Logger, storeTimeout time.Duration) *Materializer {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Materializer{
		repo:          repo,
		notifier:      notifier,
		metrics:       metrics,
		logger:        logger,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		storeTimeout:  storeTimeout,
		notifyTimeout: DefaultNotifyTimeout,
	}
}

// Materialize creates the order for p, or returns the existing order's ID
// with Created=false when p's payment reference was already materialized.
func (m *Materializer) Materialize(ctx context.Context, p CheckoutPayload) (MaterializeResult, error) {
	if err := m.validate.Struct(p); err != nil {
		return MaterializeResult{}, apperrors.Client("incomplete checkout payload",
			fmt.Errorf("%w: %s", ErrIncompletePayload, describeValidation(err)))
	}

	status := p.PaymentStatus
	if status == "" {
		status = models.PaymentPaid
	}
	order := &models.Order{
		ID:                uuid.New(),
		BuyerID:           p.BuyerID,
		Total:             p.Total,
		Currency:          p.Currency,
		ShippingAddress:   FormatShippingAddress(p.Shipping),
		PhoneNumber:       p.Phone,
		PaymentReference:  p.PaymentReference,
		PaymentStatus:     status,
		FulfillmentStatus: models.FulfillmentPending,
		CheckoutSessionID: p.SessionID,
		ProviderEventID:   p.EventID,
	}
	order.LineItems = models.NewOrderItems(order.ID, p.ProductIDs)

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	id, created, err := m.repo.CreateOrderIfAbsent(storeCtx, order)
	if err != nil {
		return MaterializeResult{}, apperrors.Transient("failed to store order", err)
	}

	log := m.logger.With(
		zap.String("order_id", id.String()),
		zap.String("payment_reference", p.PaymentReference),
		zap.String("event_id", p.EventID),
	)
	if !created {
		log.Info("Order already materialized")
		m.record(ctx, awspkg.MetricOrdersDuplicate, nil)
		return MaterializeResult{OrderID: id}, nil
	}

	log.Info("Order created",
		zap.String("buyer_id", p.BuyerID),
		zap.Int("line_items", len(order.LineItems)),
		zap.Int64("total", p.Total),
	)
	m.record(ctx, awspkg.MetricOrdersCreated, map[string]string{"Currency": p.Currency})
	m.invalidate(ctx, id)
	return MaterializeResult{OrderID: id, Created: true}, nil
}

// invalidate runs after the response path has moved on; it outlives the
// request context but is bounded by notifyTimeout.
func (m *Materializer) invalidate(ctx context.Context, orderID uuid.UUID) {
	m.spawn(func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
		defer cancel()

		for _, scope := range OrderCreatedScopes {
			if err := m.notifier.Invalidate(nctx, scope); err != nil {
				m.logger.Warn("Cache invalidation failed",
					zap.String("scope", string(scope)),
					zap.String("order_id", orderID.String()),
					zap.Error(err),
				)
				_ = m.metrics.RecordCount(nctx, awspkg.MetricCacheInvalidationFailed, map[string]string{"Scope": string(scope)})
			}
		}
	})
}

func (m *Materializer) record(ctx context.Context, metric string, dimensions map[string]string) {
	m.spawn(func() {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.notifyTimeout)
		defer cancel()
		if err := m.metrics.RecordCount(mctx, metric, dimensions); err != nil {
			m.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
		}
	})
}

// spawn runs fn in the background, or inline once Wait has been called.
func (m *Materializer) spawn(fn func()) {
	m.mu.RLock()
	if m.closing {
		m.mu.RUnlock()
		fn()
		return
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Wait blocks until background notifications and metric writes finish.
// Orders materialized afterwards, such as requests still draining after a
// shutdown timeout, notify synchronously instead.
func (m *Materializer) Wait() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.wg.Wait()
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(fields, "; ")
}
