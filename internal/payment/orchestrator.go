package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
	"github.com/gratefultolord/natal_chart_bot/internal/storage"
)

// ProviderAPI is the outbound slice of the provider the orchestrator uses.
type ProviderAPI interface {
	CreatePayment(ctx context.Context, amountKopecks int64, description, returnURL, idempotencyKey string) (*CreatedPayment, error)
}

// Orchestrator creates payment intents and reconciles provider
// notifications against stored payment rows.
type Orchestrator struct {
	store     storage.Store
	provider  ProviderAPI
	price     int64
	returnURL string
	logger    zerolog.Logger

	// onSucceeded fires once per pending->succeeded transition,
	// after the paid flag and the payment_success event are recorded.
	onSucceeded func(telegramUserID int64)
}

func NewOrchestrator(store storage.Store, provider ProviderAPI, price int64, returnURL string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		provider:  provider,
		price:     price,
		returnURL: returnURL,
		logger:    logger,
	}
}

// OnSucceeded registers the success callback (e.g. a chat notification).
func (o *Orchestrator) OnSucceeded(fn func(telegramUserID int64)) {
	o.onSucceeded = fn
}

// Price returns the report price in kopecks.
func (o *Orchestrator) Price() int64 {
	return o.price
}

// Initiate registers a payment with the provider and persists the
// pending row. On provider failure nothing is persisted, so a retry
// starts clean.
func (o *Orchestrator) Initiate(ctx context.Context, telegramUserID int64) (string, error) {
	paymentID := uuid.New().String()

	created, err := o.provider.CreatePayment(
		ctx,
		o.price,
		fmt.Sprintf("Натальная карта для пользователя %d", telegramUserID),
		o.returnURL,
		paymentID,
	)
	if err != nil {
		return "", fmt.Errorf("Orchestrator.Initiate: %w", err)
	}

	status := created.Status
	if status == "" {
		status = domain.PaymentPending
	}

	err = o.store.CreatePayment(ctx, &domain.Payment{
		ID:                paymentID,
		ProviderPaymentID: created.ID,
		TelegramUserID:    telegramUserID,
		Amount:            o.price,
		Status:            status,
	})
	if err != nil {
		return "", fmt.Errorf("Orchestrator.Initiate: %w", err)
	}

	err = o.store.AppendEvent(ctx, telegramUserID, domain.EventPaymentStart, domain.MarshalPayload(domain.PaymentPayload{
		PaymentID:         paymentID,
		ProviderPaymentID: created.ID,
		Amount:            o.price,
	}))
	if err != nil {
		o.logger.Error().Err(err).Int64("user_id", telegramUserID).Msg("cannot append payment_start event")
	}

	return created.ConfirmationURL, nil
}

func isSettled(status string) bool {
	return status == domain.PaymentSucceeded || status == domain.PaymentCanceled
}

// Notification is one provider webhook message after decoding.
type Notification struct {
	ProviderPaymentID string
	Status            string
	CancelReason      string
	CancelParty       string
}

// Reconcile applies a provider notification to the stored payment.
// Replays and out-of-order deliveries are no-ops: every write is
// conditioned on the previously observed status, and a settled payment
// never transitions again.
func (o *Orchestrator) Reconcile(ctx context.Context, n Notification) error {
	payment, err := o.store.PaymentByProviderID(ctx, n.ProviderPaymentID)
	if errors.Is(err, storage.ErrPaymentNotFound) {
		o.logger.Warn().
			Str("provider_payment_id", n.ProviderPaymentID).
			Str("status", n.Status).
			Msg("notification for unknown payment")
		return fmt.Errorf("Orchestrator.Reconcile: %w", err)
	}
	if err != nil {
		return fmt.Errorf("Orchestrator.Reconcile: %w", err)
	}

	if payment.Status == n.Status {
		return nil
	}

	// succeeded and canceled are final: a stale notification delivered
	// after settlement must not move the payment again.
	if isSettled(payment.Status) {
		o.logger.Warn().
			Str("provider_payment_id", n.ProviderPaymentID).
			Str("stored_status", payment.Status).
			Str("status", n.Status).
			Msg("ignoring notification for settled payment")
		return nil
	}

	changed, err := o.store.UpdatePaymentStatus(ctx, n.ProviderPaymentID, payment.Status, n.Status)
	if err != nil {
		return fmt.Errorf("Orchestrator.Reconcile: %w", err)
	}

	if !changed {
		// Lost the race to a concurrent delivery of the same notification.
		return nil
	}

	switch n.Status {
	case domain.PaymentSucceeded:
		if err := o.store.MarkPaid(ctx, payment.TelegramUserID); err != nil {
			return fmt.Errorf("Orchestrator.Reconcile: %w", err)
		}

		err = o.store.AppendEvent(ctx, payment.TelegramUserID, domain.EventPaymentSuccess, domain.MarshalPayload(domain.PaymentPayload{
			PaymentID:         payment.ID,
			ProviderPaymentID: payment.ProviderPaymentID,
			Amount:            payment.Amount,
		}))
		if err != nil {
			return fmt.Errorf("Orchestrator.Reconcile: %w", err)
		}

		o.logger.Info().
			Int64("user_id", payment.TelegramUserID).
			Str("payment_id", payment.ID).
			Msg("payment succeeded")

		if o.onSucceeded != nil {
			o.onSucceeded(payment.TelegramUserID)
		}
	case domain.PaymentCanceled:
		err = o.store.AppendEvent(ctx, payment.TelegramUserID, domain.EventPaymentCanceled, domain.MarshalPayload(domain.PaymentPayload{
			PaymentID:         payment.ID,
			ProviderPaymentID: payment.ProviderPaymentID,
			Amount:            payment.Amount,
			CancelReason:      n.CancelReason,
			CancelParty:       n.CancelParty,
		}))
		if err != nil {
			return fmt.Errorf("Orchestrator.Reconcile: %w", err)
		}
	case domain.PaymentFailed:
		err = o.store.AppendEvent(ctx, payment.TelegramUserID, domain.EventPaymentError, domain.MarshalPayload(domain.PaymentPayload{
			PaymentID:         payment.ID,
			ProviderPaymentID: payment.ProviderPaymentID,
			Amount:            payment.Amount,
			Detail:            n.CancelReason,
		}))
		if err != nil {
			return fmt.Errorf("Orchestrator.Reconcile: %w", err)
		}
	}

	return nil
}

// DetectStuck finds generation starts older than the threshold with no
// terminal event and annotates each with a synthetic error event. The
// synthetic event itself closes the start, so a second sweep skips it.
func (o *Orchestrator) DetectStuck(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	starts, err := o.store.OpenGenerationStarts(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("Orchestrator.DetectStuck: %w", err)
	}

	marked := 0
	for _, start := range starts {
		err = o.store.AppendEvent(ctx, start.TelegramUserID, domain.EventGenerationFailed, domain.MarshalPayload(domain.GenerationPayload{
			Error:        fmt.Sprintf("generation exceeded %s without a terminal event", threshold),
			Stuck:        true,
			StartEventID: start.ID,
		}))
		if err != nil {
			return marked, fmt.Errorf("Orchestrator.DetectStuck: %w", err)
		}

		o.logger.Warn().
			Int64("user_id", start.TelegramUserID).
			Int64("start_event_id", start.ID).
			Msg("stuck generation annotated")
		marked++
	}

	return marked, nil
}
