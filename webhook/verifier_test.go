package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

// signPayload builds a Stripe-Signature header the way the provider does:
// v1 = HMAC-SHA256(secret, "<timestamp>.<payload>")
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}

func TestVerifierAcceptsValidSignature(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	event, err := v.Verify(payload, signPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "invoice.paid", event.Type)
}

func TestVerifierRejectsTamperedBody(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	header := signPayload(payload, testSecret, time.Now())

	tampered := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"amount":1}}}`)
	_, err = v.Verify(tampered, header)
	assert.Error(t, err)
}

func TestVerifierRejectsMissingHeader(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	_, err = v.Verify([]byte(`{}`), "")
	assert.Error(t, err)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	_, err = v.Verify(payload, signPayload(payload, "whsec_other", time.Now()))
	assert.Error(t, err)
}
