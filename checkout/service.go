package checkout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	resp "github.com/memberhq/billing/response"
	"github.com/memberhq/billing/webhook"

	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

type ServiceOptions struct {
	StripeClient   *client.API
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Service hands the frontend its two billing redirects: a Checkout Session
// for purchase and a Billing Portal session for self-management. This is
// also where the planType metadata discriminator gets stamped onto the
// subscription, since later lifecycle events carry no other signal.
type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

type CreateSessionRequest struct {
	Email      string   `json:"email"`
	PriceID    string   `json:"priceId"`
	PlanType   string   `json:"planType"` // "service" routes to the service package flow
	PlanName   string   `json:"planName"`
	Services   []string `json:"services"`
	SuccessURL string   `json:"successUrl"`
	CancelURL  string   `json:"cancelUrl"`
}

type SessionResponse struct {
	SessionID string `json:"sessionId"` // Consumed by stripe.js redirectToCheckout
}

type RedirectResponse struct {
	URL string `json:"url"`
}

func (s *Service) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if len(req.Email) == 0 || len(req.PriceID) == 0 || len(req.SuccessURL) == 0 || len(req.CancelURL) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("email, priceId, successUrl, and cancelUrl are required"))
		return
	}

	logger := s.Logger.With(
		zap.String("Email", req.Email),
		zap.String("PriceID", req.PriceID),
	)

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(req.Email),
		SuccessURL:    stripe.String(req.SuccessURL),
		CancelURL:     stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.PlanType == webhook.PlanTypeService {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				webhook.MetadataPlanType: webhook.PlanTypeService,
				webhook.MetadataPlanName: req.PlanName,
				webhook.MetadataServices: strings.Join(req.Services, ","),
			},
		}
	}

	sess, err := s.StripeClient.CheckoutSessions.New(params)
	if err != nil {
		logger.Error("Unable to create checkout session in Stripe",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}

	resp.WriteResponse(w, r, SessionResponse{SessionID: sess.ID})
}

type CreatePortalRequest struct {
	CustomerID string `json:"customerId"`
	ReturnURL  string `json:"returnUrl"`
}

func (s *Service) createPortal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePortalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if len(req.CustomerID) == 0 || len(req.ReturnURL) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("customerId and returnUrl are required"))
		return
	}

	params := &stripe.BillingPortalSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer:  stripe.String(req.CustomerID),
		ReturnURL: stripe.String(req.ReturnURL),
	}

	sess, err := s.StripeClient.BillingPortalSessions.New(params)
	if err != nil {
		s.Logger.Error("Unable to create billing portal session in Stripe",
			zap.String("CustomerID", req.CustomerID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to open billing portal"))
		return
	}

	resp.WriteResponse(w, r, RedirectResponse{URL: sess.URL})
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Post("/session", s.createSession)
	r.Post("/portal", s.createPortal)

	return r
}
