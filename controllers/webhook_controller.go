package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/webhook-service/errors"
	"github.com/yashrajoria/webhook-service/logger"
	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/services"
	"github.com/yashrajoria/webhook-service/webhook"
)

// DefaultMaxBodyBytes caps webhook bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 64 << 10

type EventVerifier interface {
	Verify(payload []byte, sigHeader string) (webhook.Event, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, event webhook.Event) error
}

// WebhookController receives payment provider notifications.
type WebhookController struct {
	Verifier     EventVerifier
	Dispatcher   EventDispatcher
	Metrics      services.MetricsRecorder
	Logger       *zap.Logger
	MaxBodyBytes int64
}

func NewWebhookController(verifier EventVerifier, dispatcher EventDispatcher, metrics services.MetricsRecorder, logger *zap.Logger, maxBodyBytes int64) *WebhookController {
	if metrics == nil {
		metrics = services.NopMetrics{}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &WebhookController{
		Verifier:     verifier,
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Logger:       logger,
		MaxBodyBytes: maxBodyBytes,
	}
}

// PaymentWebhook verifies the raw body, dispatches the event and acknowledges
// it. Verification failures are 400 so the provider stops retrying; storage
// failures are 500 so it retries.
func (wc *WebhookController) PaymentWebhook(c *gin.Context) {
	log := logger.FromContext(c, wc.Logger)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, wc.MaxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			wc.reject("too_large")
			_ = c.Error(apperrors.Client("request body too large", err))
			return
		}
		_ = c.Error(apperrors.Client("failed to read request body", err))
		return
	}

	event, err := wc.Verifier.Verify(payload, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		_ = c.Error(wc.classifyVerifyError(err))
		return
	}

	log.Info("Processing webhook",
		zap.String("event_type", event.Metadata().Type),
		zap.String("event_id", event.EventID()),
	)

	if err := wc.Dispatcher.Dispatch(c.Request.Context(), event); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (wc *WebhookController) classifyVerifyError(err error) error {
	switch {
	case errors.Is(err, webhook.ErrMissingSecret):
		return apperrors.Configuration("webhook secret not configured", err)
	case errors.Is(err, webhook.ErrMissingSignature):
		wc.reject("missing_signature")
		return apperrors.Client("missing signature", err)
	case errors.Is(err, webhook.ErrInvalidSignature):
		wc.reject("invalid_signature")
		return apperrors.Client("invalid signature", err)
	case errors.Is(err, webhook.ErrMalformedEvent):
		wc.reject("malformed_event")
		return apperrors.Client("malformed event", err)
	}
	return apperrors.Client("invalid webhook", err)
}

func (wc *WebhookController) reject(reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = wc.Metrics.RecordCount(ctx, awspkg.MetricWebhookRejected, map[string]string{"Reason": reason})
	}()
}
