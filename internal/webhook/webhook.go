package webhook

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/gratefultolord/natal_chart_bot/internal/payment"
	"github.com/gratefultolord/natal_chart_bot/internal/storage"
)

// notification mirrors the provider's webhook body.
type notification struct {
	Event  string `json:"event"`
	Object struct {
		ID                  string `json:"id"`
		Status              string `json:"status"`
		CancellationDetails struct {
			Party  string `json:"party"`
			Reason string `json:"reason"`
		} `json:"cancellation_details"`
	} `json:"object"`
}

// Handler receives payment provider notifications over plain HTTP POST.
type Handler struct {
	payments *payment.Orchestrator
	token    string
	logger   zerolog.Logger
}

func NewHandler(payments *payment.Orchestrator, token string, logger zerolog.Logger) *Handler {
	return &Handler{
		payments: payments,
		token:    token,
		logger:   logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/payments/webhook", h.handleNotification)
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if h.token != "" && r.Header.Get("X-Webhook-Token") != h.token {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var n notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		h.logger.Warn().Err(err).Msg("malformed webhook body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if n.Object.ID == "" || n.Object.Status == "" {
		h.logger.Warn().Str("event", n.Event).Msg("webhook without payment id or status")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	err := h.payments.Reconcile(r.Context(), payment.Notification{
		ProviderPaymentID: n.Object.ID,
		Status:            n.Object.Status,
		CancelReason:      n.Object.CancellationDetails.Reason,
		CancelParty:       n.Object.CancellationDetails.Party,
	})

	// An unknown payment ID is recorded as an anomaly; acknowledging it
	// stops the provider from redelivering something we cannot match.
	if err != nil && !errors.Is(err, storage.ErrPaymentNotFound) {
		h.logger.Error().Err(err).Str("provider_payment_id", n.Object.ID).Msg("reconcile failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
