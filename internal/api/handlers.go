package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"healthmate/internal/auth"
	"healthmate/internal/domain"
	"healthmate/internal/gateway"
	"healthmate/internal/models"
	"healthmate/internal/service"

	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 64 << 10

type checkoutRequest struct {
	Goal     string       `json:"goal"`
	Duration int          `json:"duration"`
	Price    models.Money `json:"price"`
}

func (s *HTTPServer) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	providerID := strings.TrimSpace(chi.URLParam(r, "providerID"))

	var body checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.Goal = strings.TrimSpace(body.Goal)

	switch {
	case providerID == "":
		writeError(w, http.StatusBadRequest, "provider id is required")
		return
	case body.Goal == "":
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	case body.Duration <= 0:
		writeError(w, http.StatusBadRequest, "duration must be positive")
		return
	case body.Price <= 0:
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	session, err := s.deps.Checkout.CreateCheckout(r.Context(), gateway.CheckoutRequest{
		RequesterID:    claims.Sub,
		RequesterEmail: claims.Email,
		ProviderID:     providerID,
		Goal:           body.Goal,
		Duration:       body.Duration,
		Price:          body.Price,
		SuccessURL:     s.deps.Payments.SuccessURL,
		CancelURL:      s.deps.Payments.CancelURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Str("provider_id", providerID).Str("requester_id", claims.Sub).Msg("failed to create checkout session")
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	res, err := s.deps.Intake.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, webhookAck(res))
	case errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid signature")
	case res != nil && res.Outcome == models.WebhookOutcomeInvalid:
		// acknowledged so the gateway stops redelivering a payload that will never parse
		writeJSON(w, http.StatusOK, webhookAck(res))
	default:
		writeError(w, http.StatusInternalServerError, "failed to process event")
	}
}

func webhookAck(res *service.IntakeResult) map[string]any {
	ack := map[string]any{"received": true, "outcome": res.Outcome}
	if res.Engagement != nil {
		ack["engagement_id"] = res.Engagement.ID
	}
	return ack
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

func (s *HTTPServer) handleDecision(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.deps.Decisions.Decide(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(body.Decision),
		service.Actor{UserID: claims.Sub, Role: claims.Role})
	if err != nil {
		// the decision itself is committed whenever a result comes back
		if res != nil && (errors.Is(err, domain.ErrRefundFailed) || errors.Is(err, domain.ErrFollowUpPending)) {
			writeJSON(w, statusForError(err), res)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	list, err := s.deps.Ledger.ListPendingForProvider(r.Context(), claims.Sub)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeEngagements(w, list)
}

func (s *HTTPServer) handleAccepted(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())

	var (
		list []*models.Engagement
		err  error
	)
	switch claims.Role {
	case models.RoleProvider:
		list, err = s.deps.Ledger.ListAcceptedForProvider(r.Context(), claims.Sub)
	case models.RoleRequester:
		list, err = s.deps.Ledger.ListAcceptedForRequester(r.Context(), claims.Sub)
	default:
		list, err = s.deps.Ledger.ListAll(r.Context(), models.StatusAccepted, 0)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeEngagements(w, list)
}

func (s *HTTPServer) handleGetEngagement(w http.ResponseWriter, r *http.Request) {
	e, err := s.visibleEngagement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	e, err := s.visibleEngagement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	msgs, err := s.deps.Messages.ListByEngagement(r.Context(), e.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"engagement_id": e.ID, "messages": msgs})
}

// visibleEngagement loads an engagement the caller participates in.
func (s *HTTPServer) visibleEngagement(ctx context.Context, id string) (*models.Engagement, error) {
	claims, _ := auth.FromContext(ctx)
	e, err := s.deps.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claims.Role != models.RoleAdmin && !e.IsParticipant(claims.Sub) {
		return nil, domain.ErrForbidden
	}
	return e, nil
}

func (s *HTTPServer) handleAdminEngagements(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := s.deps.Ledger.ListAll(r.Context(), status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeEngagements(w, list)
}

func (s *HTTPServer) handleUnreconciled(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Ledger.ListUnrefunded(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeEngagements(w, list)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.deps.Auth.Parse(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", claims.Sub).Msg("websocket upgrade failed")
		return
	}

	s.deps.Hub.Serve(context.WithoutCancel(r.Context()), conn, claims.Sub, claims.Role)
}

func writeEngagements(w http.ResponseWriter, list []*models.Engagement) {
	if list == nil {
		list = []*models.Engagement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"engagements": list})
}
