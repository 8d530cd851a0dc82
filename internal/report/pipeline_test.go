package report

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
	"github.com/gratefultolord/natal_chart_bot/internal/files"
	"github.com/gratefultolord/natal_chart_bot/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
	errs []error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, c)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}

	return tgbotapi.Message{}, nil
}

func (f *fakeSender) sentCopy() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]tgbotapi.Chattable, len(f.sent))
	copy(out, f.sent)
	return out
}

type stubGenerator struct {
	text string
	err  error
}

func (s stubGenerator) Generate(_ context.Context, _ *domain.Profile) (string, error) {
	return s.text, s.err
}

type stubRenderer struct {
	err error
}

func (s stubRenderer) Render(_, _, _ string) error {
	return s.err
}

func completeProfile(userID int64, paid bool) *domain.Profile {
	return &domain.Profile{
		TelegramUserID: userID,
		BirthName:      pointer.To("Анна"),
		BirthDate:      pointer.To("01.01.2000"),
		BirthTime:      pointer.To("10:00"),
		BirthPlace:     pointer.To("Париж, Франция"),
		Paid:           paid,
	}
}

func newTestPipeline(t *testing.T, store storage.Store, sender Sender, gen Generator, renderer Renderer) *Pipeline {
	t.Helper()

	fileService, err := files.NewFileService(t.TempDir())
	require.NoError(t, err)

	return NewPipeline(store, sender, gen, renderer, fileService, zerolog.Nop())
}

func countEvents(t *testing.T, store storage.Store, userID int64, eventType string) int {
	t.Helper()

	events, err := store.EventsByUser(context.Background(), userID)
	require.NoError(t, err)

	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func waitForEvent(t *testing.T, store storage.Store, userID int64, eventType string, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return countEvents(t, store, userID, eventType) == want
	}, 2*time.Second, 10*time.Millisecond, "expected %d %s events", want, eventType)
}

func TestRequestReportIncompleteProfile(t *testing.T) {
	store := storage.NewMemory()
	sender := &fakeSender{}
	pipeline := newTestPipeline(t, store, sender, stubGenerator{text: "x"}, stubRenderer{})

	started, err := pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, started)

	assert.Zero(t, countEvents(t, store, 100, domain.EventGenerationStart))

	sent := sender.sentCopy()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].(tgbotapi.MessageConfig).Text, "анкету")
}

func TestRequestReportUnpaid(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.UpsertProfile(context.Background(), completeProfile(100, false)))

	sender := &fakeSender{}
	pipeline := newTestPipeline(t, store, sender, stubGenerator{text: "x"}, stubRenderer{})

	started, err := pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, started)

	assert.Zero(t, countEvents(t, store, 100, domain.EventGenerationStart))

	sent := sender.sentCopy()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].(tgbotapi.MessageConfig).Text, "оплаты")
}

func TestRequestReportDeliversPDF(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.UpsertProfile(context.Background(), completeProfile(100, true)))

	sender := &fakeSender{}
	pipeline := newTestPipeline(t, store, sender, stubGenerator{text: "Ваша карта"}, stubRenderer{})

	started, err := pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, started)

	waitForEvent(t, store, 100, domain.EventGenerationOK, 1)
	assert.Equal(t, 1, countEvents(t, store, 100, domain.EventGenerationStart))

	var gotDocument bool
	for _, c := range sender.sentCopy() {
		if _, ok := c.(tgbotapi.DocumentConfig); ok {
			gotDocument = true
		}
	}
	assert.True(t, gotDocument)

	events, err := store.EventsByUser(context.Background(), 100)
	require.NoError(t, err)
	for _, e := range events {
		if e.Type == domain.EventGenerationOK {
			payload, err := e.GenerationPayload()
			require.NoError(t, err)
			assert.Equal(t, "pdf", payload.Delivery)
		}
	}
}

func TestGeneratorErrorRecordsGenerationError(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.UpsertProfile(context.Background(), completeProfile(100, true)))

	sender := &fakeSender{}
	pipeline := newTestPipeline(t, store, sender, stubGenerator{err: errors.New("quota exceeded")}, stubRenderer{})

	started, err := pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, started)

	waitForEvent(t, store, 100, domain.EventGenerationFailed, 1)

	events, err := store.EventsByUser(context.Background(), 100)
	require.NoError(t, err)
	for _, e := range events {
		if e.Type == domain.EventGenerationFailed {
			payload, err := e.GenerationPayload()
			require.NoError(t, err)
			assert.Contains(t, payload.Error, "quota exceeded")
		}
	}

	// The user sees the generic apology, never the provider detail.
	var apology bool
	for _, c := range sender.sentCopy() {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			assert.NotContains(t, msg.Text, "quota")
			if msg.Text == msgGenerationFailed {
				apology = true
			}
		}
	}
	assert.True(t, apology)

	// A fresh request starts an independent attempt.
	started, err = pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, started)

	waitForEvent(t, store, 100, domain.EventGenerationStart, 2)
}

// ctxStrictStore fails writes on an expired context the way a SQL
// backend would.
type ctxStrictStore struct {
	storage.Store
}

func (s ctxStrictStore) AppendEvent(ctx context.Context, userID int64, eventType string, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.AppendEvent(ctx, userID, eventType, payload)
}

type deadlineGenerator struct{}

func (deadlineGenerator) Generate(ctx context.Context, _ *domain.Profile) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTerminalEventSurvivesGenerationDeadline(t *testing.T) {
	mem := storage.NewMemory()
	require.NoError(t, mem.UpsertProfile(context.Background(), completeProfile(100, true)))

	sender := &fakeSender{}
	pipeline := newTestPipeline(t, ctxStrictStore{Store: mem}, sender, deadlineGenerator{}, stubRenderer{})
	pipeline.genTimeout = 10 * time.Millisecond

	started, err := pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, started)

	// The deadline killed generation, yet the terminal event lands and
	// closes the start for the sweep.
	waitForEvent(t, mem, 100, domain.EventGenerationFailed, 1)

	events, err := mem.EventsByUser(context.Background(), 100)
	require.NoError(t, err)
	for _, e := range events {
		if e.Type == domain.EventGenerationFailed {
			payload, err := e.GenerationPayload()
			require.NoError(t, err)
			assert.Contains(t, payload.Error, "context deadline exceeded")
		}
	}
}

func TestPDFFailureFallsBackToText(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.UpsertProfile(context.Background(), completeProfile(100, true)))

	sender := &fakeSender{}
	pipeline := newTestPipeline(t, store, sender, stubGenerator{text: "Ваша натальная карта"}, stubRenderer{err: errors.New("no font")})

	_, err := pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)

	// Delivery via text still counts as success.
	waitForEvent(t, store, 100, domain.EventGenerationOK, 1)

	var textDelivered bool
	for _, c := range sender.sentCopy() {
		if _, ok := c.(tgbotapi.DocumentConfig); ok {
			t.Fatal("document must not be sent when rendering fails")
		}
		if msg, ok := c.(tgbotapi.MessageConfig); ok && msg.Text == "Ваша натальная карта" {
			textDelivered = true
		}
	}
	assert.True(t, textDelivered)

	events, err := store.EventsByUser(context.Background(), 100)
	require.NoError(t, err)
	for _, e := range events {
		if e.Type == domain.EventGenerationOK {
			payload, err := e.GenerationPayload()
			require.NoError(t, err)
			assert.Equal(t, "text", payload.Delivery)
		}
	}
}

func TestMarkupFallbackTiers(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.UpsertProfile(context.Background(), completeProfile(100, true)))

	parseErr := errors.New("Bad Request: can't parse entities: unclosed entity")
	sender := &fakeSender{
		// First send is the "generation started" notice, then the three
		// delivery tiers for the single chunk.
		errs: []error{nil, parseErr, parseErr, nil},
	}
	pipeline := newTestPipeline(t, store, sender, stubGenerator{text: "*сломанная разметка"}, stubRenderer{err: errors.New("no font")})

	_, err := pipeline.RequestReport(context.Background(), 100)
	require.NoError(t, err)

	waitForEvent(t, store, 100, domain.EventGenerationOK, 1)

	sent := sender.sentCopy()
	require.Len(t, sent, 4)

	first := sent[1].(tgbotapi.MessageConfig)
	assert.Equal(t, "*сломанная разметка", first.Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, first.ParseMode)

	second := sent[2].(tgbotapi.MessageConfig)
	assert.Equal(t, `\*сломанная разметка`, second.Text)

	third := sent[3].(tgbotapi.MessageConfig)
	assert.Equal(t, "сломанная разметка", third.Text)
	assert.Empty(t, third.ParseMode)
}
