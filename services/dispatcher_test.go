package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/yashrajoria/webhook-service/errors"
	"github.com/yashrajoria/webhook-service/webhook"
)

type mockMaterializer struct{ mock.Mock }

func (m *mockMaterializer) Materialize(ctx context.Context, p CheckoutPayload) (MaterializeResult, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(MaterializeResult), args.Error(1)
}

func checkoutEvent() webhook.CheckoutCompleted {
	return webhook.CheckoutCompleted{
		Meta: webhook.Meta{ID: "evt_1", Type: "checkout.session.completed", Created: time.Unix(1700000000, 0)},
		Session: webhook.CheckoutSession{
			SessionID:        "cs_test_1",
			BuyerID:          "u1",
			ProductIDs:       []string{"p1", "p2"},
			Total:            15000,
			PaymentReference: "pi_abc",
		},
	}
}

func TestDispatch_CheckoutCompleted(t *testing.T) {
	mat := new(mockMaterializer)
	mat.On("Materialize", mock.Anything, mock.MatchedBy(func(p CheckoutPayload) bool {
		return p.EventID == "evt_1" && p.BuyerID == "u1" && p.PaymentReference == "pi_abc" && len(p.ProductIDs) == 2
	})).Return(MaterializeResult{OrderID: uuid.New(), Created: true}, nil).Once()

	d := NewDispatcher(mat, nil, zap.NewNop())
	assert.NoError(t, d.Dispatch(context.Background(), checkoutEvent()))
	mat.AssertExpectations(t)
}

func TestDispatch_IncompletePayloadIsAcknowledged(t *testing.T) {
	mat := new(mockMaterializer)
	mat.On("Materialize", mock.Anything, mock.Anything).
		Return(MaterializeResult{}, apperrors.Client("incomplete checkout payload", ErrIncompletePayload))
	metrics := &recordingMetrics{}
	core, logs := observer.New(zap.WarnLevel)

	d := NewDispatcher(mat, metrics, zap.New(core))
	assert.NoError(t, d.Dispatch(context.Background(), checkoutEvent()))
	assert.Equal(t, 1, logs.FilterMessage("Checkout payload cannot produce an order").Len())
	assert.Equal(t, 1, metrics.Count("WebhookIncompletePayload"))
}

func TestDispatch_TransientFailureIsReturned(t *testing.T) {
	mat := new(mockMaterializer)
	storeErr := apperrors.Transient("failed to store order", assert.AnError)
	mat.On("Materialize", mock.Anything, mock.Anything).Return(MaterializeResult{}, storeErr)

	d := NewDispatcher(mat, nil, zap.NewNop())
	err := d.Dispatch(context.Background(), checkoutEvent())
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestDispatch_LogOnlyKinds(t *testing.T) {
	mat := new(mockMaterializer)
	metrics := &recordingMetrics{}
	core, logs := observer.New(zap.InfoLevel)
	d := NewDispatcher(mat, metrics, zap.New(core))

	events := []webhook.Event{
		webhook.PaymentSucceeded{Meta: webhook.Meta{ID: "evt_2"}, PaymentIntentID: "pi_1", Amount: 500},
		webhook.PaymentFailed{Meta: webhook.Meta{ID: "evt_3"}, PaymentIntentID: "pi_2", FailureCode: "card_declined"},
		webhook.Unrecognized{Meta: webhook.Meta{ID: "evt_4", Type: "charge.refunded"}},
	}
	for _, ev := range events {
		assert.NoError(t, d.Dispatch(context.Background(), ev))
	}

	mat.AssertNotCalled(t, "Materialize", mock.Anything, mock.Anything)
	assert.Equal(t, 1, logs.FilterMessage("Payment succeeded").Len())
	assert.Equal(t, 1, logs.FilterMessage("Payment failed").Len())
	unhandled := logs.FilterMessage("Unhandled webhook event type").All()
	if assert.Len(t, unhandled, 1) {
		assert.Equal(t, "charge.refunded", unhandled[0].ContextMap()["event_type"])
	}
	assert.Equal(t, 1, metrics.Count("WebhookUnhandled"))
}
