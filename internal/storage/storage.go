package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
)

var (
	// ErrProfileNotFound is returned when no profile row exists for the user.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrPaymentNotFound is returned when no payment row matches the provider ID.
	ErrPaymentNotFound = errors.New("payment not found")
)

// Store is the persistence capability set the bot needs: atomic profile
// upserts, append-only events and payment rows. Implementations are
// selected once at startup and never branched on by call sites.
type Store interface {
	GetProfile(ctx context.Context, telegramUserID int64) (*domain.Profile, error)
	// UpsertProfile writes the collected profile fields. On an existing row
	// the paid flag is left untouched; only MarkPaid and ResetProfile write it.
	UpsertProfile(ctx context.Context, profile *domain.Profile) error
	MarkPaid(ctx context.Context, telegramUserID int64) error
	// ResetProfile nulls the birth fields and the paid flag, returning the
	// user to "new". Maintenance only; the row itself stays.
	ResetProfile(ctx context.Context, telegramUserID int64) error

	AppendEvent(ctx context.Context, telegramUserID int64, eventType string, payload json.RawMessage) error
	EventsByUser(ctx context.Context, telegramUserID int64) ([]domain.Event, error)
	// OpenGenerationStarts returns generation-start events older than cutoff
	// with no later terminal event for the same user.
	OpenGenerationStarts(ctx context.Context, cutoff time.Time) ([]domain.Event, error)

	CreatePayment(ctx context.Context, payment *domain.Payment) error
	PaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error)
	// UpdatePaymentStatus moves the payment from status `from` to `to` and
	// reports whether a row actually changed. A replayed notification finds
	// the row already at `to` and changes nothing.
	UpdatePaymentStatus(ctx context.Context, providerPaymentID, from, to string) (bool, error)

	Close() error
}
