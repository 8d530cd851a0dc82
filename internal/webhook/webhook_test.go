package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
	"github.com/gratefultolord/natal_chart_bot/internal/payment"
	"github.com/gratefultolord/natal_chart_bot/internal/storage"
)

func newTestHandler(t *testing.T, token string) (*storage.MemoryStore, http.Handler) {
	t.Helper()

	store := storage.NewMemory()

	require.NoError(t, store.UpsertProfile(context.Background(), &domain.Profile{TelegramUserID: 100}))
	require.NoError(t, store.CreatePayment(context.Background(), &domain.Payment{
		ID:                "internal-1",
		ProviderPaymentID: "prov-1",
		TelegramUserID:    100,
		Amount:            49900,
		Status:            domain.PaymentPending,
	}))

	payments := payment.NewOrchestrator(store, nil, 49900, "https://t.me/bot", zerolog.Nop())

	mux := http.NewServeMux()
	NewHandler(payments, token, zerolog.Nop()).Register(mux)

	return store, mux
}

const succeededBody = `{
	"event": "payment.succeeded",
	"object": {"id": "prov-1", "status": "succeeded"}
}`

func TestWebhookSucceeded(t *testing.T) {
	store, handler := newTestHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(succeededBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	profile, err := store.GetProfile(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, profile.Paid)
}

func TestWebhookCanceledKeepsReason(t *testing.T) {
	store, handler := newTestHandler(t, "")

	body := `{
		"event": "payment.canceled",
		"object": {
			"id": "prov-1",
			"status": "canceled",
			"cancellation_details": {"party": "payment_network", "reason": "3d_secure_failed"}
		}
	}`

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	events, err := store.EventsByUser(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPaymentCanceled, events[0].Type)

	payload, err := events[0].PaymentPayload()
	require.NoError(t, err)
	assert.Equal(t, "3d_secure_failed", payload.CancelReason)
}

func TestWebhookUnknownPaymentAcknowledged(t *testing.T) {
	_, handler := newTestHandler(t, "")

	body := `{"event": "payment.succeeded", "object": {"id": "ghost", "status": "succeeded"}}`

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookReplayedNotification(t *testing.T) {
	store, handler := newTestHandler(t, "")

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(succeededBody))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	events, err := store.EventsByUser(context.Background(), 100)
	require.NoError(t, err)

	successes := 0
	for _, e := range events {
		if e.Type == domain.EventPaymentSuccess {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestWebhookBadRequests(t *testing.T) {
	_, handler := newTestHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"object":{}}`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/payments/webhook", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookTokenCheck(t *testing.T) {
	store, handler := newTestHandler(t, "sekret")

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(succeededBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(succeededBody))
	req.Header.Set("X-Webhook-Token", "sekret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	profile, err := store.GetProfile(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, profile.Paid)
}
