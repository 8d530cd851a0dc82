package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
	"github.com/gratefultolord/natal_chart_bot/internal/files"
	"github.com/gratefultolord/natal_chart_bot/internal/storage"
)

// Sender is the outgoing half of the chat transport.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Renderer produces a PDF file from report text.
type Renderer interface {
	Render(title, text, outPath string) error
}

const (
	promptFillProfile    = "Чтобы получить натальную карту, сначала заполните анкету: имя, дата, время и место рождения."
	promptPaymentMissing = "Натальная карта доступна после оплаты. Нажмите «Получить натальную карту», чтобы перейти к оплате."
	msgGenerationStarted = "Готовим вашу натальную карту. Обычно это занимает пару минут — мы пришлём её в этот чат."
	msgGenerationFailed  = "К сожалению, не получилось подготовить натальную карту. Пожалуйста, попробуйте ещё раз чуть позже."
)

// Pipeline produces and delivers the report once payment and profile
// preconditions hold. Generation runs off the update-handling path.
type Pipeline struct {
	store      storage.Store
	sender     Sender
	generator  Generator
	renderer   Renderer
	files      *files.FileService
	logger     zerolog.Logger
	genTimeout time.Duration
}

func NewPipeline(
	store storage.Store,
	sender Sender,
	generator Generator,
	renderer Renderer,
	fileService *files.FileService,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:      store,
		sender:     sender,
		generator:  generator,
		renderer:   renderer,
		files:      fileService,
		logger:     logger,
		genTimeout: 5 * time.Minute,
	}
}

// RequestReport checks the preconditions and, if both hold, records the
// generation start and kicks off background generation. It reports
// whether generation was started.
func (p *Pipeline) RequestReport(ctx context.Context, userID int64) (bool, error) {
	profile, err := p.store.GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrProfileNotFound) {
		return false, fmt.Errorf("Pipeline.RequestReport: %w", err)
	}

	if !profile.IsComplete() {
		p.send(tgbotapi.NewMessage(userID, promptFillProfile))
		return false, nil
	}

	if !profile.Paid {
		p.send(tgbotapi.NewMessage(userID, promptPaymentMissing))
		return false, nil
	}

	err = p.store.AppendEvent(ctx, userID, domain.EventGenerationStart, domain.MarshalPayload(domain.GenerationPayload{}))
	if err != nil {
		return false, fmt.Errorf("Pipeline.RequestReport: %w", err)
	}

	p.send(tgbotapi.NewMessage(userID, msgGenerationStarted))

	go p.run(*profile)

	return true, nil
}

func (p *Pipeline) run(profile domain.Profile) {
	genCtx, cancel := context.WithTimeout(context.Background(), p.genTimeout)
	defer cancel()

	userID := profile.TelegramUserID

	text, err := p.generator.Generate(genCtx, &profile)

	// The terminal event must be written even when the generation
	// deadline has already expired.
	ctx, cancelEvents := context.WithTimeout(context.Background(), time.Minute)
	defer cancelEvents()

	if err != nil {
		p.logger.Error().Err(err).Int64("user_id", userID).Msg("report generation failed")

		appendErr := p.store.AppendEvent(ctx, userID, domain.EventGenerationFailed, domain.MarshalPayload(domain.GenerationPayload{
			Error: err.Error(),
		}))
		if appendErr != nil {
			p.logger.Error().Err(appendErr).Int64("user_id", userID).Msg("cannot append natal_chart_error event")
		}

		p.send(tgbotapi.NewMessage(userID, msgGenerationFailed))
		return
	}

	delivery := p.deliver(userID, profile, text)

	err = p.store.AppendEvent(ctx, userID, domain.EventGenerationOK, domain.MarshalPayload(domain.GenerationPayload{
		Delivery: delivery,
	}))
	if err != nil {
		p.logger.Error().Err(err).Int64("user_id", userID).Msg("cannot append natal_chart_success event")
	}
}

// deliver tries PDF first and falls back to chunked text. It returns
// the delivery form that reached the user.
func (p *Pipeline) deliver(userID int64, profile domain.Profile, text string) string {
	title := "Натальная карта"
	if profile.BirthName != nil && *profile.BirthName != "" {
		title = "Натальная карта — " + *profile.BirthName
	}

	path := p.files.NewReportPath(".pdf")

	if err := p.renderer.Render(title, text, path); err != nil {
		p.logger.Warn().Err(err).Int64("user_id", userID).Msg("pdf render failed, delivering text")
		p.deliverText(userID, text)
		return "text"
	}

	doc := tgbotapi.NewDocument(userID, tgbotapi.FilePath(path))
	doc.Caption = title

	if _, err := p.sender.Send(doc); err != nil {
		p.logger.Warn().Err(err).Int64("user_id", userID).Msg("document send failed, delivering text")
		p.deliverText(userID, text)

		if err := p.files.DeleteFile(path); err != nil {
			p.logger.Warn().Err(err).Msg("cannot delete report file")
		}
		return "text"
	}

	if err := p.files.DeleteFile(path); err != nil {
		p.logger.Warn().Err(err).Msg("cannot delete report file")
	}

	return "pdf"
}

func (p *Pipeline) deliverText(userID int64, text string) {
	for _, chunk := range ChunkText(text, messageLimit) {
		p.sendWithMarkupFallback(userID, chunk)
	}
}

// sendWithMarkupFallback delivers one chunk in three tiers: as-is with
// markup, with delimiters balanced, and finally stripped plain text.
func (p *Pipeline) sendWithMarkupFallback(userID int64, chunk string) {
	msg := tgbotapi.NewMessage(userID, chunk)
	msg.ParseMode = tgbotapi.ModeMarkdown

	_, err := p.sender.Send(msg)
	if err == nil {
		return
	}

	if !isMarkupError(err) {
		p.logger.Error().Err(err).Int64("user_id", userID).Msg("transport error delivering report chunk")
		return
	}

	msg = tgbotapi.NewMessage(userID, BalanceMarkup(chunk))
	msg.ParseMode = tgbotapi.ModeMarkdown

	_, err = p.sender.Send(msg)
	if err == nil {
		return
	}

	plain := tgbotapi.NewMessage(userID, StripMarkup(chunk))
	if _, err := p.sender.Send(plain); err != nil {
		p.logger.Error().Err(err).Int64("user_id", userID).Msg("transport error delivering plain report chunk")
	}
}

func isMarkupError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}

func (p *Pipeline) send(msg tgbotapi.MessageConfig) {
	if _, err := p.sender.Send(msg); err != nil {
		p.logger.Error().Err(err).Int64("user_id", msg.ChatID).Msg("cannot send message")
	}
}
