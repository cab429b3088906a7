package webhook

import (
	"time"

	stripewebhook "github.com/stripe/stripe-go/v80/webhook"
)

// Sign returns a signature header for payload as the provider would compute
// it at the given time. Used by the sign-event command and in tests.
func Sign(payload []byte, secret string, at time.Time) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}
