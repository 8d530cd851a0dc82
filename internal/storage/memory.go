package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
)

// MemoryStore keeps everything in process memory. Selected by
// STORAGE=memory; also the fixture backend for tests.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[int64]domain.Profile
	events   []domain.Event
	payments map[string]domain.Payment
	nextID   int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[int64]domain.Profile),
		payments: make(map[string]domain.Payment),
		nextID:   1,
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, telegramUserID int64) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[telegramUserID]
	if !ok {
		return nil, ErrProfileNotFound
	}

	return &profile, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, profile *domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *profile
	if existing, ok := s.profiles[profile.TelegramUserID]; ok {
		stored.Paid = existing.Paid
	}
	stored.UpdatedAt = time.Now().UTC()
	s.profiles[profile.TelegramUserID] = stored

	return nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, telegramUserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[telegramUserID]
	if !ok {
		return nil
	}

	profile.Paid = true
	profile.UpdatedAt = time.Now().UTC()
	s.profiles[telegramUserID] = profile

	return nil
}

func (s *MemoryStore) ResetProfile(_ context.Context, telegramUserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[telegramUserID]
	if !ok {
		return nil
	}

	profile.BirthName = nil
	profile.BirthDate = nil
	profile.BirthTime = nil
	profile.BirthPlace = nil
	profile.BirthCity = nil
	profile.BirthCountry = nil
	profile.Paid = false
	profile.UpdatedAt = time.Now().UTC()
	s.profiles[telegramUserID] = profile

	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, telegramUserID int64, eventType string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	s.events = append(s.events, domain.Event{
		ID:             s.nextID,
		TelegramUserID: telegramUserID,
		Type:           eventType,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	})
	s.nextID++

	return nil
}

func (s *MemoryStore) EventsByUser(_ context.Context, telegramUserID int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, event := range s.events {
		if event.TelegramUserID == telegramUserID {
			out = append(out, event)
		}
	}

	return out, nil
}

func (s *MemoryStore) OpenGenerationStarts(_ context.Context, cutoff time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, start := range s.events {
		if start.Type != domain.EventGenerationStart || !start.CreatedAt.Before(cutoff) {
			continue
		}

		closed := false
		for _, later := range s.events {
			if later.TelegramUserID == start.TelegramUserID &&
				later.IsGenerationTerminal() &&
				later.CreatedAt.After(start.CreatedAt) {
				closed = true
				break
			}
		}

		if !closed {
			out = append(out, start)
		}
	}

	return out, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *payment
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.payments[payment.ProviderPaymentID] = stored

	return nil
}

func (s *MemoryStore) PaymentByProviderID(_ context.Context, providerPaymentID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[providerPaymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}

	return &payment, nil
}

func (s *MemoryStore) UpdatePaymentStatus(_ context.Context, providerPaymentID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[providerPaymentID]
	if !ok || payment.Status != from {
		return false, nil
	}

	payment.Status = to
	payment.UpdatedAt = time.Now().UTC()
	s.payments[providerPaymentID] = payment

	return true, nil
}
