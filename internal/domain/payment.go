package domain

import "time"

// Payment statuses as reported by the provider and stored as-is.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentCanceled  = "canceled"
	PaymentFailed    = "failed"
)

// Payment tracks one provider transaction. Exactly one row exists per
// provider payment ID; the row is never deleted.
type Payment struct {
	ID                string    `db:"id"`
	ProviderPaymentID string    `db:"provider_payment_id"`
	TelegramUserID    int64     `db:"telegram_user_id"`
	Amount            int64     `db:"amount"`
	Status            string    `db:"status"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}
