package webhook

import (
	"fmt"

	"github.com/stripe/stripe-go/v72"
	stripewebhook "github.com/stripe/stripe-go/v72/webhook"
)

// Verifier authenticates inbound webhook deliveries. The signature covers
// the exact raw request bytes, so callers must hand over the body unmodified.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty webhook secret is invalid")
	}
	return &Verifier{
		secret: secret,
	}, nil
}

// Verify returns the typed event only if the signature matches. A missing
// signature header fails verification the same way a bad one does.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (stripe.Event, error) {
	return stripewebhook.ConstructEvent(payload, signatureHeader, v.secret)
}
