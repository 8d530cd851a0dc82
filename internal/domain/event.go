package domain

import (
	"encoding/json"
	"time"
)

// Event type names as they appear in the events table.
const (
	EventStart            = "start"
	EventProfileComplete  = "profile_complete"
	EventPaymentStart     = "payment_start"
	EventPaymentSuccess   = "payment_success"
	EventPaymentError     = "payment_error"
	EventPaymentCanceled  = "payment_canceled"
	EventGenerationStart  = "natal_chart_generation_start"
	EventGenerationOK     = "natal_chart_success"
	EventGenerationFailed = "natal_chart_error"
)

// Event is an immutable, timestamped record of something that happened
// to a user. Payload shape depends on Type; it is opaque at the storage
// boundary and decoded through the typed payloads below.
type Event struct {
	ID             int64           `db:"id"`
	TelegramUserID int64           `db:"telegram_user_id"`
	Type           string          `db:"event_type"`
	Payload        json.RawMessage `db:"payload"`
	CreatedAt      time.Time       `db:"created_at"`
}

// IsGenerationTerminal reports whether the event closes a generation
// attempt (success or error, in either delivery form).
func (e *Event) IsGenerationTerminal() bool {
	return e.Type == EventGenerationOK || e.Type == EventGenerationFailed
}

// PaymentPayload is attached to payment_* events.
// CancelReason and CancelParty are the provider's strings verbatim.
type PaymentPayload struct {
	PaymentID         string `json:"payment_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	Amount            int64  `json:"amount,omitempty"`
	CancelReason      string `json:"cancel_reason,omitempty"`
	CancelParty       string `json:"cancel_party,omitempty"`
	Detail            string `json:"detail,omitempty"`
}

// GenerationPayload is attached to natal_chart_* events.
type GenerationPayload struct {
	Error        string `json:"error,omitempty"`
	Stuck        bool   `json:"stuck,omitempty"`
	StartEventID int64  `json:"start_event_id,omitempty"`
	Delivery     string `json:"delivery,omitempty"` // "pdf" or "text"
}

func MarshalPayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func (e *Event) PaymentPayload() (PaymentPayload, error) {
	var p PaymentPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func (e *Event) GenerationPayload() (GenerationPayload, error) {
	var p GenerationPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}
