package subscription

import (
	"fmt"
	"net/http"

	resp "github.com/memberhq/billing/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

type ServiceOptions struct {
	SubscriptionManager *Manager
	Logger              *zap.Logger
}

// Service exposes read-only access to the store for the member portal.
// Feature gating happens in the application; this only reports state.
type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) listByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "userId")
	if len(userID) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("userId is required"))
		return
	}

	subs, err := s.SubscriptionManager.ListByUser(ctx, userID)
	if err != nil {
		s.Logger.Error("Unable to list subscriptions",
			zap.String("UserID", userID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to list subscriptions"))
		return
	}

	resp.WriteResponse(w, r, subs)
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/user/{userId}", s.listByUser)

	return r
}
