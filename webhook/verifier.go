// Package webhook authenticates payment provider notifications and turns
// them into typed events.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v80"
	stripewebhook "github.com/stripe/stripe-go/v80/webhook"
)

// SignatureHeader is the header the provider signs deliveries with.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = stripewebhook.DefaultTolerance

// Metadata keys the storefront attaches to checkout sessions.
const (
	MetadataBuyerID    = "user_id"
	MetadataProductIDs = "product_ids"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrMissingSecret    = errors.New("webhook signing secret not configured")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedEvent   = errors.New("malformed event")
)

type envelope struct {
	ID       string        `json:"id" validate:"required"`
	Type     string        `json:"type" validate:"required"`
	Created  int64         `json:"created"`
	Livemode bool          `json:"livemode"`
	Data     *envelopeData `json:"data" validate:"required"`
}

type envelopeData struct {
	Object json.RawMessage `json:"object" validate:"required"`
}

// Verifier checks provider signatures and parses verified bodies.
type Verifier struct {
	secret    string
	tolerance time.Duration
	validate  *validator.Validate
}

// NewVerifier creates a verifier for the shared signing secret. A zero
// tolerance selects DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    secret,
		tolerance: tolerance,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Verify authenticates payload against sigHeader and only then decodes it.
// The signature is computed over the exact bytes received; the body is never
// re-encoded before verification.
func (v *Verifier) Verify(payload []byte, sigHeader string) (Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, ErrMissingSignature
	}
	if v.secret == "" {
		return nil, ErrMissingSecret
	}
	if err := stripewebhook.ValidatePayloadWithTolerance(payload, sigHeader, v.secret, v.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return v.parse(payload)
}

func (v *Verifier) parse(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := v.validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	object := bytes.TrimSpace(env.Data.Object)
	if bytes.Equal(object, []byte("null")) {
		return nil, fmt.Errorf("%w: data.object is null", ErrMalformedEvent)
	}

	meta := Meta{
		ID:       env.ID,
		Type:     env.Type,
		Created:  time.Unix(env.Created, 0).UTC(),
		Livemode: env.Livemode,
	}

	switch stripe.EventType(env.Type) {
	case stripe.EventTypeCheckoutSessionCompleted:
		return decodeCheckoutCompleted(meta, object)
	case stripe.EventTypePaymentIntentSucceeded:
		pi, err := decodePaymentIntent(object)
		if err != nil {
			return nil, err
		}
		return PaymentSucceeded{Meta: meta, PaymentIntentID: pi.ID, Amount: pi.Amount, Currency: string(pi.Currency)}, nil
	case stripe.EventTypePaymentIntentPaymentFailed:
		pi, err := decodePaymentIntent(object)
		if err != nil {
			return nil, err
		}
		failed := PaymentFailed{Meta: meta, PaymentIntentID: pi.ID}
		if pi.LastPaymentError != nil {
			failed.FailureCode = string(pi.LastPaymentError.Code)
			failed.FailureMessage = pi.LastPaymentError.Msg
		}
		return failed, nil
	default:
		return Unrecognized{Meta: meta}, nil
	}
}

func decodeCheckoutCompleted(meta Meta, object []byte) (Event, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(object, &sess); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %w", ErrMalformedEvent, err)
	}
	if sess.ID == "" || (sess.Object != "" && sess.Object != "checkout.session") {
		return nil, fmt.Errorf("%w: data.object is not a checkout session", ErrMalformedEvent)
	}

	out := CheckoutSession{
		SessionID:        sess.ID,
		BuyerID:          strings.TrimSpace(sess.Metadata[MetadataBuyerID]),
		ProductIDs:       ParseProductIDs(sess.Metadata[MetadataProductIDs]),
		Total:            sess.AmountTotal,
		Currency:         string(sess.Currency),
		PaymentReference: sess.ID,
		PaymentStatus:    string(sess.PaymentStatus),
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		out.PaymentReference = sess.PaymentIntent.ID
	}
	if cd := sess.CustomerDetails; cd != nil {
		out.Phone = cd.Phone
		if a := cd.Address; a != nil {
			out.Shipping = Address{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
	}
	return CheckoutCompleted{Meta: meta, Session: out}, nil
}

func decodePaymentIntent(object []byte) (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(object, &pi); err != nil {
		return nil, fmt.Errorf("%w: payment intent: %w", ErrMalformedEvent, err)
	}
	if pi.ID == "" || (pi.Object != "" && pi.Object != "payment_intent") {
		return nil, fmt.Errorf("%w: data.object is not a payment intent", ErrMalformedEvent)
	}
	return &pi, nil
}

// ParseProductIDs accepts either a JSON array of strings or a comma-separated
// list. Blank entries are dropped.
func ParseProductIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parts []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &parts); err != nil {
			return nil
		}
	} else {
		parts = strings.Split(raw, ",")
	}

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
