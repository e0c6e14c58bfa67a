package webhook

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"

	resp "github.com/memberhq/billing/response"

	"github.com/go-chi/chi"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// Stripe caps event payloads well below this; anything larger is garbage
const maxBodyBytes = 65536

// Processor applies a verified event; implemented by Engine
type Processor interface {
	Process(ctx context.Context, event stripe.Event) error
}

type ServiceOptions struct {
	Verifier  *Verifier
	Processor Processor
	Deduper   Deduper // optional
	Logger    *zap.Logger
}

// Service exposes the webhook delivery endpoint
type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.Verifier == nil {
		return nil, fmt.Errorf("nil Verifier is invalid")
	}
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

type receipt struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

func (s *Service) handleDelivery(w http.ResponseWriter, r *http.Request) {
	// The signature covers the exact raw bytes, so no decoding middleware
	// may touch the body before this read
	payload, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
		return
	}

	event, err := s.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.Logger.Warn("Rejecting webhook delivery with invalid signature",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrInvalidSignature())
		return
	}

	if s.Deduper != nil && s.Deduper.Seen(event.ID) {
		resp.WriteResponse(w, r, receipt{Received: true, Duplicate: true})
		return
	}

	if err := s.Processor.Process(r.Context(), event); err != nil {
		s.Logger.Error("Webhook processing failed",
			zap.String("EventID", event.ID),
			zap.String("EventType", event.Type),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Event processing failed"))
		return
	}

	// Mark only after success: a failed delivery must stay unmarked so the
	// provider's retry is actually reprocessed
	if s.Deduper != nil {
		s.Deduper.Mark(event.ID)
	}

	resp.WriteResponse(w, r, receipt{Received: true})
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.handleDelivery)

	return r
}
