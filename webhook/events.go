package webhook

import "time"

// Kind discriminates verified provider events.
type Kind string

const (
	KindCheckoutCompleted Kind = "checkout-completed"
	KindPaymentSucceeded  Kind = "payment-succeeded"
	KindPaymentFailed     Kind = "payment-failed"
	KindUnrecognized      Kind = "unrecognized"
)

// Event is a verified provider notification. The set of implementations is
// closed: only this package can construct one, and only after the signature
// over the raw body has been checked.
type Event interface {
	Kind() Kind
	EventID() string
	Metadata() Meta
	verified()
}

// Meta is the envelope data common to every event.
type Meta struct {
	ID       string
	Type     string
	Created  time.Time
	Livemode bool
}

func (m Meta) EventID() string { return m.ID }
func (m Meta) Metadata() Meta  { return m }
func (Meta) verified()         {}

// Address holds the structured shipping fields reported by the provider.
// Any of them may be empty.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// CheckoutSession is the data a completed checkout carries into order creation.
type CheckoutSession struct {
	SessionID  string
	BuyerID    string
	ProductIDs []string
	// Total is in the currency's minor units.
	Total            int64
	Currency         string
	Shipping         Address
	Phone            string
	PaymentReference string
	PaymentStatus    string
}

type CheckoutCompleted struct {
	Meta
	Session CheckoutSession
}

func (CheckoutCompleted) Kind() Kind { return KindCheckoutCompleted }

type PaymentSucceeded struct {
	Meta
	PaymentIntentID string
	Amount          int64
	Currency        string
}

func (PaymentSucceeded) Kind() Kind { return KindPaymentSucceeded }

type PaymentFailed struct {
	Meta
	PaymentIntentID string
	FailureCode     string
	FailureMessage  string
}

func (PaymentFailed) Kind() Kind { return KindPaymentFailed }

// Unrecognized is any correctly signed event of a type this service ignores.
type Unrecognized struct {
	Meta
}

func (Unrecognized) Kind() Kind { return KindUnrecognized }
