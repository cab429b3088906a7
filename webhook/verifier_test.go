package webhook

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

const checkoutBody = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "created": 1700000000,
  "livemode": false,
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "amount_total": 15000,
      "currency": "usd",
      "payment_status": "paid",
      "payment_intent": "pi_abc",
      "metadata": {"user_id": "u1", "product_ids": "p1,p2"},
      "customer_details": {
        "phone": "+15550100",
        "address": {"line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US"}
      }
    }
  }
}`

func sign(body string) string {
	return Sign([]byte(body), testSecret, time.Now())
}

func TestVerify_CheckoutCompleted(t *testing.T) {
	v := NewVerifier(testSecret, 0)

	event, err := v.Verify([]byte(checkoutBody), sign(checkoutBody))
	require.NoError(t, err)

	completed, ok := event.(CheckoutCompleted)
	require.True(t, ok, "got %T", event)
	assert.Equal(t, KindCheckoutCompleted, completed.Kind())
	assert.Equal(t, "evt_1", completed.EventID())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), completed.Metadata().Created)

	s := completed.Session
	assert.Equal(t, "cs_test_1", s.SessionID)
	assert.Equal(t, "u1", s.BuyerID)
	assert.Equal(t, []string{"p1", "p2"}, s.ProductIDs)
	assert.Equal(t, int64(15000), s.Total)
	assert.Equal(t, "usd", s.Currency)
	assert.Equal(t, "pi_abc", s.PaymentReference)
	assert.Equal(t, "paid", s.PaymentStatus)
	assert.Equal(t, "+15550100", s.Phone)
	assert.Equal(t, Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}, s.Shipping)
}

func TestVerify_PaymentReferenceFallsBackToSession(t *testing.T) {
	body := `{"id":"evt_2","type":"checkout.session.completed","data":{"object":{"id":"cs_no_pi","object":"checkout.session","metadata":{"user_id":"u1","product_ids":"[\"p1\"]"}}}}`
	v := NewVerifier(testSecret, 0)

	event, err := v.Verify([]byte(body), sign(body))
	require.NoError(t, err)

	s := event.(CheckoutCompleted).Session
	assert.Equal(t, "cs_no_pi", s.PaymentReference)
	assert.Equal(t, []string{"p1"}, s.ProductIDs)
	assert.Equal(t, Address{}, s.Shipping)
}

func TestVerify_PaymentIntentEvents(t *testing.T) {
	v := NewVerifier(testSecret, time.Minute)

	succeeded := `{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","amount":500,"currency":"eur"}}}`
	event, err := v.Verify([]byte(succeeded), sign(succeeded))
	require.NoError(t, err)
	assert.Equal(t, PaymentSucceeded{
		Meta:            Meta{ID: "evt_3", Type: "payment_intent.succeeded", Created: time.Unix(0, 0).UTC()},
		PaymentIntentID: "pi_1",
		Amount:          500,
		Currency:        "eur",
	}, event)

	failed := `{"id":"evt_4","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent","last_payment_error":{"code":"card_declined","message":"Your card was declined."}}}}`
	event, err = v.Verify([]byte(failed), sign(failed))
	require.NoError(t, err)
	pf, ok := event.(PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "pi_2", pf.PaymentIntentID)
	assert.Equal(t, "card_declined", pf.FailureCode)
	assert.Equal(t, "Your card was declined.", pf.FailureMessage)
}

func TestVerify_UnrecognizedKind(t *testing.T) {
	body := `{"id":"evt_5","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`
	v := NewVerifier(testSecret, 0)

	event, err := v.Verify([]byte(body), sign(body))
	require.NoError(t, err)
	assert.Equal(t, KindUnrecognized, event.Kind())
	assert.Equal(t, "charge.refunded", event.Metadata().Type)
}

func TestVerify_Rejections(t *testing.T) {
	v := NewVerifier(testSecret, 0)
	valid := sign(checkoutBody)

	tests := []struct {
		name    string
		body    string
		header  string
		wantErr error
	}{
		{"missing header", checkoutBody, "", ErrMissingSignature},
		{"garbage header", checkoutBody, "not-a-signature", ErrInvalidSignature},
		{"wrong secret", checkoutBody, Sign([]byte(checkoutBody), "whsec_other", time.Now()), ErrInvalidSignature},
		{"tampered body", checkoutBody + " ", valid, ErrInvalidSignature},
		{"stale timestamp", checkoutBody, Sign([]byte(checkoutBody), testSecret, time.Now().Add(-10*time.Minute)), ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := v.Verify([]byte(tt.body), tt.header)
			assert.Nil(t, event)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerify_MissingSecret(t *testing.T) {
	v := NewVerifier("", 0)

	event, err := v.Verify([]byte(checkoutBody), sign(checkoutBody))
	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerify_SignatureOverAnyOtherBodyFails(t *testing.T) {
	v := NewVerifier(testSecret, 0)
	header := sign(checkoutBody)

	for i := 0; i < 20; i++ {
		body := fmt.Sprintf(`{"id":"evt_%d","type":"checkout.session.completed","data":{"object":{"id":"cs_%d"}}}`, i, i)
		event, err := v.Verify([]byte(body), header)
		assert.Nil(t, event)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	}
}

func TestVerify_MalformedBodies(t *testing.T) {
	v := NewVerifier(testSecret, 0)

	bodies := map[string]string{
		"not json":           `checkout please`,
		"missing type":       `{"id":"evt_1","data":{"object":{}}}`,
		"missing id":         `{"type":"checkout.session.completed","data":{"object":{}}}`,
		"missing data":       `{"id":"evt_1","type":"checkout.session.completed"}`,
		"null object":        `{"id":"evt_1","type":"checkout.session.completed","data":{"object":null}}`,
		"wrong object type":  `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`,
		"object without id":  `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"object":"payment_intent"}}}`,
		"object not decoded": `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","amount_total":"lots"}}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			event, err := v.Verify([]byte(body), sign(body))
			assert.Nil(t, event)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestParseProductIDs(t *testing.T) {
	assert.Equal(t, []string{"p1", "p2"}, ParseProductIDs("p1, p2"))
	assert.Equal(t, []string{"p1", "p2"}, ParseProductIDs(`["p1"," p2 ",""]`))
	assert.Equal(t, []string{"p1"}, ParseProductIDs("p1,,"))
	assert.Nil(t, ParseProductIDs(""))
	assert.Nil(t, ParseProductIDs("[broken"))
}
