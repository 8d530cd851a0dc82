package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/gratefultolord/natal_chart_bot/internal/config"
	"github.com/gratefultolord/natal_chart_bot/internal/domain"
)

// PostgresStore is the production Store backed by sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(cfg *config.Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	dbConn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewPostgres: cannot connect to database: %w", err)
	}

	dbConn.SetMaxOpenConns(20)
	dbConn.SetMaxIdleConns(5)
	dbConn.SetConnMaxLifetime(60 * time.Minute)

	return &PostgresStore{db: dbConn}, nil
}

// RunMigrations executes the given SQL files in order.
func (s *PostgresStore) RunMigrations(paths ...string) error {
	for _, path := range paths {
		script, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("PostgresStore.RunMigrations: cannot read %s: %w", path, err)
		}

		if _, err := s.db.Exec(string(script)); err != nil {
			return fmt.Errorf("PostgresStore.RunMigrations: cannot apply %s: %w", path, err)
		}
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) GetProfile(ctx context.Context, telegramUserID int64) (*domain.Profile, error) {
	var profile domain.Profile

	err := s.db.GetContext(ctx, &profile, `
	    SELECT * FROM profiles
		WHERE telegram_user_id = $1
	`, telegramUserID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("PostgresStore.GetProfile: %w", err)
	}

	return &profile, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, profile *domain.Profile) error {
	_, err := s.db.ExecContext(ctx, `
	    INSERT INTO profiles
		(telegram_user_id, display_name, birth_name, birth_date, birth_time, birth_place, birth_city, birth_country, paid, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (telegram_user_id) DO UPDATE SET
		    display_name = EXCLUDED.display_name,
		    birth_name = EXCLUDED.birth_name,
		    birth_date = EXCLUDED.birth_date,
		    birth_time = EXCLUDED.birth_time,
		    birth_place = EXCLUDED.birth_place,
		    birth_city = EXCLUDED.birth_city,
		    birth_country = EXCLUDED.birth_country,
		    updated_at = NOW()
	`,
		profile.TelegramUserID,
		profile.DisplayName,
		profile.BirthName,
		profile.BirthDate,
		profile.BirthTime,
		profile.BirthPlace,
		profile.BirthCity,
		profile.BirthCountry,
		profile.Paid,
	)

	if err != nil {
		return fmt.Errorf("PostgresStore.UpsertProfile: %w", err)
	}

	return nil
}

func (s *PostgresStore) MarkPaid(ctx context.Context, telegramUserID int64) error {
	_, err := s.db.ExecContext(ctx, `
	    UPDATE profiles
		SET paid = TRUE, updated_at = NOW()
		WHERE telegram_user_id = $1
	`, telegramUserID)

	if err != nil {
		return fmt.Errorf("PostgresStore.MarkPaid: %w", err)
	}

	return nil
}

func (s *PostgresStore) ResetProfile(ctx context.Context, telegramUserID int64) error {
	_, err := s.db.ExecContext(ctx, `
	    UPDATE profiles
		SET birth_name = NULL,
		    birth_date = NULL,
		    birth_time = NULL,
		    birth_place = NULL,
		    birth_city = NULL,
		    birth_country = NULL,
		    paid = FALSE,
		    updated_at = NOW()
		WHERE telegram_user_id = $1
	`, telegramUserID)

	if err != nil {
		return fmt.Errorf("PostgresStore.ResetProfile: %w", err)
	}

	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, telegramUserID int64, eventType string, payload json.RawMessage) error {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
	    INSERT INTO events (telegram_user_id, event_type, payload)
		VALUES ($1, $2, $3)
	`, telegramUserID, eventType, []byte(payload))

	if err != nil {
		return fmt.Errorf("PostgresStore.AppendEvent: %w", err)
	}

	return nil
}

func (s *PostgresStore) EventsByUser(ctx context.Context, telegramUserID int64) ([]domain.Event, error) {
	var events []domain.Event

	err := s.db.SelectContext(ctx, &events, `
	    SELECT * FROM events
		WHERE telegram_user_id = $1
		ORDER BY created_at
	`, telegramUserID)

	if err != nil {
		return nil, fmt.Errorf("PostgresStore.EventsByUser: %w", err)
	}

	return events, nil
}

func (s *PostgresStore) OpenGenerationStarts(ctx context.Context, cutoff time.Time) ([]domain.Event, error) {
	var events []domain.Event

	err := s.db.SelectContext(ctx, &events, `
	    SELECT e.* FROM events e
		WHERE e.event_type = $1
		  AND e.created_at < $2
		  AND NOT EXISTS (
		      SELECT 1 FROM events t
			  WHERE t.telegram_user_id = e.telegram_user_id
			    AND t.event_type IN ($3, $4)
			    AND t.created_at > e.created_at
		  )
		ORDER BY e.created_at
	`, domain.EventGenerationStart, cutoff, domain.EventGenerationOK, domain.EventGenerationFailed)

	if err != nil {
		return nil, fmt.Errorf("PostgresStore.OpenGenerationStarts: %w", err)
	}

	return events, nil
}

func (s *PostgresStore) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	_, err := s.db.ExecContext(ctx, `
	    INSERT INTO payments (id, provider_payment_id, telegram_user_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
	`,
		payment.ID,
		payment.ProviderPaymentID,
		payment.TelegramUserID,
		payment.Amount,
		payment.Status,
	)

	if err != nil {
		return fmt.Errorf("PostgresStore.CreatePayment: %w", err)
	}

	return nil
}

func (s *PostgresStore) PaymentByProviderID(ctx context.Context, providerPaymentID string) (*domain.Payment, error) {
	var payment domain.Payment

	err := s.db.GetContext(ctx, &payment, `
	    SELECT * FROM payments
		WHERE provider_payment_id = $1
	`, providerPaymentID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("PostgresStore.PaymentByProviderID: %w", err)
	}

	return &payment, nil
}

func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, providerPaymentID, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	    UPDATE payments
		SET status = $3, updated_at = NOW()
		WHERE provider_payment_id = $1 AND status = $2
	`, providerPaymentID, from, to)

	if err != nil {
		return false, fmt.Errorf("PostgresStore.UpdatePaymentStatus: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("PostgresStore.UpdatePaymentStatus: %w", err)
	}

	return affected > 0, nil
}
