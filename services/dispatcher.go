package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/webhook"
)

// OrderMaterializer is satisfied by *Materializer.
type OrderMaterializer interface {
	Materialize(ctx context.Context, p CheckoutPayload) (MaterializeResult, error)
}

// Dispatcher routes verified events. It keeps no state between calls.
//
// A nil error means the event should be acknowledged. Errors returned are
// transient and should make the provider redeliver.
type Dispatcher struct {
	materializer OrderMaterializer
	metrics      MetricsRecorder
	logger       *zap.Logger
}

func NewDispatcher(materializer OrderMaterializer, metrics MetricsRecorder, logger *zap.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Dispatcher{materializer: materializer, metrics: metrics, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event webhook.Event) error {
	log := d.logger.With(
		zap.String("event_id", event.EventID()),
		zap.String("event_kind", string(event.Kind())),
	)

	switch ev := event.(type) {
	case webhook.CheckoutCompleted:
		res, err := d.materializer.Materialize(ctx, PayloadFromCheckout(ev))
		if errors.Is(err, ErrIncompletePayload) {
			log.Warn("Checkout payload cannot produce an order", zap.String("session_id", ev.Session.SessionID), zap.Error(err))
			_ = d.metrics.RecordCount(ctx, awspkg.MetricIncompletePayload, nil)
			return nil
		}
		if err != nil {
			log.Error("Order materialization failed", zap.Error(err))
			return err
		}
		log.Info("Checkout processed",
			zap.String("order_id", res.OrderID.String()),
			zap.Bool("created", res.Created),
		)

	case webhook.PaymentSucceeded:
		log.Info("Payment succeeded",
			zap.String("payment_intent", ev.PaymentIntentID),
			zap.Int64("amount", ev.Amount),
			zap.String("currency", ev.Currency),
		)

	case webhook.PaymentFailed:
		log.Info("Payment failed",
			zap.String("payment_intent", ev.PaymentIntentID),
			zap.String("failure_code", ev.FailureCode),
			zap.String("failure_message", ev.FailureMessage),
		)

	default:
		log.Info("Unhandled webhook event type", zap.String("event_type", event.Metadata().Type))
		_ = d.metrics.RecordCount(ctx, awspkg.MetricWebhookUnhandled, nil)
	}
	return nil
}
