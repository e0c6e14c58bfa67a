package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap/zaptest"
)

type fakeProcessor struct {
	processed []stripe.Event
	err       error
}

func (f *fakeProcessor) Process(ctx context.Context, event stripe.Event) error {
	f.processed = append(f.processed, event)
	return f.err
}

type fakeDeduper struct {
	seen map[string]bool
}

func (f *fakeDeduper) Seen(eventID string) bool {
	return f.seen[eventID]
}

func (f *fakeDeduper) Mark(eventID string) {
	f.seen[eventID] = true
}

func newServiceFixture(t *testing.T, processor *fakeProcessor, deduper Deduper) http.Handler {
	t.Helper()
	verifier, err := NewVerifier(testSecret)
	require.NoError(t, err)
	svc, err := NewService(ServiceOptions{
		Verifier:  verifier,
		Processor: processor,
		Deduper:   deduper,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc.Router()
}

func deliver(handler http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/", strings.NewReader(string(payload)))
	if len(signature) > 0 {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestDeliveryAcknowledged(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newServiceFixture(t, processor, nil)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	w := deliver(handler, payload, signPayload(payload, testSecret, time.Now()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)
	require.Len(t, processor.processed, 1)
	assert.Equal(t, "evt_1", processor.processed[0].ID)
}

func TestInvalidSignatureRejectedBeforeProcessing(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newServiceFixture(t, processor, nil)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	stale := signPayload(payload, testSecret, time.Now())
	tampered := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"amount":1}}}`)

	w := deliver(handler, tampered, stale)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	// No side effect may occur before verification
	assert.Empty(t, processor.processed)
}

func TestMissingSignatureRejected(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newServiceFixture(t, processor, nil)

	w := deliver(handler, []byte(`{}`), "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, processor.processed)
}

func TestDuplicateDeliveryShortCircuits(t *testing.T) {
	processor := &fakeProcessor{}
	handler := newServiceFixture(t, processor, &fakeDeduper{seen: make(map[string]bool)})

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	sig := signPayload(payload, testSecret, time.Now())

	first := deliver(handler, payload, sig)
	assert.Equal(t, http.StatusOK, first.Code)

	second := deliver(handler, payload, sig)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), `"duplicate":true`)
	assert.Len(t, processor.processed, 1)
}

func TestFailedDeliveryIsNotMarkedAsDuplicate(t *testing.T) {
	processor := &fakeProcessor{err: assert.AnError}
	handler := newServiceFixture(t, processor, &fakeDeduper{seen: make(map[string]bool)})

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	sig := signPayload(payload, testSecret, time.Now())

	first := deliver(handler, payload, sig)
	assert.Equal(t, http.StatusInternalServerError, first.Code)

	// The provider retries after a failure; the retry must be processed,
	// not acknowledged as a duplicate
	processor.err = nil
	second := deliver(handler, payload, sig)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.NotContains(t, second.Body.String(), `"duplicate":true`)
	assert.Len(t, processor.processed, 2)

	third := deliver(handler, payload, sig)
	assert.Equal(t, http.StatusOK, third.Code)
	assert.Contains(t, third.Body.String(), `"duplicate":true`)
	assert.Len(t, processor.processed, 2)
}

func TestProcessingFailureReturnsServerError(t *testing.T) {
	processor := &fakeProcessor{err: assert.AnError}
	handler := newServiceFixture(t, processor, nil)

	payload := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)
	w := deliver(handler, payload, signPayload(payload, testSecret, time.Now()))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
