package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/AlekSi/pointer"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
	"github.com/gratefultolord/natal_chart_bot/internal/payment"
	"github.com/gratefultolord/natal_chart_bot/internal/report"
	"github.com/gratefultolord/natal_chart_bot/internal/storage"
)

const (
	btnProfile = "Мой профиль"
	btnReport  = "Получить натальную карту"
	btnEdit    = "Изменить данные"
	btnFill    = "Заполнить анкету"
)

const (
	promptName  = "Укажите имя, на которое составить натальную карту"
	promptDate  = "Укажите дату рождения в формате ДД.ММ.ГГГГ (например, 15.03.1990)"
	promptTime  = "Укажите время рождения в формате ЧЧ:ММ (например, 09:30)"
	promptPlace = "Укажите место рождения: город и страну (например, Москва, Россия)"

	msgInternalError = "Произошла ошибка. Попробуйте позже"
)

// Sender is the slice of the transport the handlers use. *tgbotapi.BotAPI
// satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type BotService struct {
	botAPI   *tgbotapi.BotAPI
	sender   Sender
	store    storage.Store
	payments *payment.Orchestrator
	reports  *report.Pipeline
	logger   zerolog.Logger

	stateMu    sync.Mutex
	userStates map[int64]*UserState

	lockMu    sync.Mutex
	userLocks map[int64]*sync.Mutex
}

func New(
	botAPI *tgbotapi.BotAPI,
	store storage.Store,
	payments *payment.Orchestrator,
	reports *report.Pipeline,
	logger zerolog.Logger,
) *BotService {
	return &BotService{
		botAPI:     botAPI,
		sender:     botAPI,
		store:      store,
		payments:   payments,
		reports:    reports,
		logger:     logger,
		userStates: make(map[int64]*UserState),
		userLocks:  make(map[int64]*sync.Mutex),
	}
}

// Start consumes the update channel. Updates for the same user are
// serialized through a per-user lock; different users run concurrently.
func (b *BotService) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.botAPI.GetUpdatesChan(u)

	for update := range updates {
		userID := updateUserID(update)
		if userID == 0 {
			continue
		}

		go func(update tgbotapi.Update, userID int64) {
			lock := b.lockFor(userID)
			lock.Lock()
			defer lock.Unlock()

			b.HandleUpdate(update)
		}(update, userID)
	}
}

func (b *BotService) HandleUpdate(update tgbotapi.Update) {
	ctx := context.Background()

	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	text := update.Message.Text

	if update.Message.IsCommand() {
		switch update.Message.Command() {
		case "start":
			b.handleStart(ctx, update.Message)
		default:
			b.send(tgbotapi.NewMessage(chatID, "Неизвестная команда. Используйте меню ниже"))
		}
		return
	}

	// Menu actions are accepted in any state.
	switch text {
	case btnProfile:
		b.handleViewProfile(ctx, chatID)
		return
	case btnReport:
		b.handleRequestReport(ctx, chatID)
		return
	case btnEdit:
		b.handleEditMenu(chatID)
		return
	case btnFill:
		b.beginCollection(ctx, chatID)
		return
	}

	state := b.state(ctx, chatID)

	switch {
	case state.Step == StateCollectingName:
		b.handleCollectName(ctx, chatID, text)
	case state.Step == StateCollectingDate:
		b.handleCollectDate(ctx, chatID, text)
	case state.Step == StateCollectingTime:
		b.handleCollectTime(ctx, chatID, text)
	case state.Step == StateCollectingPlace:
		b.handleCollectPlace(ctx, chatID, text)
	case strings.HasPrefix(state.Step, StateEditingPrefix):
		b.handleEditInput(ctx, chatID, strings.TrimPrefix(state.Step, StateEditingPrefix), text)
	case state.Step == StateComplete:
		b.send(b.withMenu(ctx, chatID, tgbotapi.NewMessage(chatID, "Выберите действие в меню")))
	default:
		b.send(b.withMenu(ctx, chatID, tgbotapi.NewMessage(chatID, "Нажмите «"+btnFill+"», чтобы начать")))
	}
}

func (b *BotService) handleStart(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	profile, err := b.store.GetProfile(ctx, chatID)
	if errors.Is(err, storage.ErrProfileNotFound) {
		displayName := message.Chat.FirstName
		if message.From != nil {
			displayName = strings.TrimSpace(message.From.FirstName + " " + message.From.LastName)
		}

		profile = &domain.Profile{
			TelegramUserID: chatID,
			DisplayName:    displayName,
		}

		if err := b.store.UpsertProfile(ctx, profile); err != nil {
			b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot create profile")
			b.send(tgbotapi.NewMessage(chatID, msgInternalError))
			return
		}

		if err := b.store.AppendEvent(ctx, chatID, domain.EventStart, nil); err != nil {
			b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot append start event")
		}
	} else if err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot load profile")
		b.send(tgbotapi.NewMessage(chatID, msgInternalError))
		return
	}

	welcome := "Привет! Я составляю персональные натальные карты по дате, времени и месту рождения.\n\n" +
		"Заполните короткую анкету, и после оплаты вы получите подробный разбор вашей карты " +
		"в виде PDF прямо в этом чате."

	msg := tgbotapi.NewMessage(chatID, welcome)
	msg.ReplyMarkup = mainMenuKeyboard(profile.IsComplete())
	b.send(msg)

	if profile.IsComplete() {
		b.setState(chatID, StateComplete)
	} else {
		b.setState(chatID, StateIdle)
	}
}

func (b *BotService) beginCollection(ctx context.Context, chatID int64) {
	profile := b.profileOrNil(ctx, chatID)

	step, prompt := nextCollectionStep(profile)
	if step == StateComplete {
		b.setState(chatID, StateComplete)
		msg := tgbotapi.NewMessage(chatID, "Анкета уже заполнена. Вы можете изменить данные через меню")
		msg.ReplyMarkup = mainMenuKeyboard(true)
		b.send(msg)
		return
	}

	b.setState(chatID, step)

	msg := tgbotapi.NewMessage(chatID, prompt)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	b.send(msg)
}

func (b *BotService) handleCollectName(ctx context.Context, chatID int64, text string) {
	if err := ValidateName(text); err != nil {
		b.send(tgbotapi.NewMessage(chatID, err.Error()))
		return
	}

	if err := b.saveField(ctx, chatID, FieldName, text); err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot save name")
		b.send(tgbotapi.NewMessage(chatID, msgInternalError))
		return
	}

	b.setState(chatID, StateCollectingDate)
	b.send(tgbotapi.NewMessage(chatID, promptDate))
}

func (b *BotService) handleCollectDate(ctx context.Context, chatID int64, text string) {
	if err := ValidateDate(text); err != nil {
		b.send(tgbotapi.NewMessage(chatID, err.Error()))
		return
	}

	if err := b.saveField(ctx, chatID, FieldDate, text); err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot save birth date")
		b.send(tgbotapi.NewMessage(chatID, msgInternalError))
		return
	}

	b.setState(chatID, StateCollectingTime)
	b.send(tgbotapi.NewMessage(chatID, promptTime))
}

func (b *BotService) handleCollectTime(ctx context.Context, chatID int64, text string) {
	if err := ValidateTime(text); err != nil {
		b.send(tgbotapi.NewMessage(chatID, err.Error()))
		return
	}

	if err := b.saveField(ctx, chatID, FieldTime, text); err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot save birth time")
		b.send(tgbotapi.NewMessage(chatID, msgInternalError))
		return
	}

	b.setState(chatID, StateCollectingPlace)
	b.send(tgbotapi.NewMessage(chatID, promptPlace))
}

func (b *BotService) handleCollectPlace(ctx context.Context, chatID int64, text string) {
	if err := ValidatePlace(text); err != nil {
		b.send(tgbotapi.NewMessage(chatID, err.Error()))
		return
	}

	if err := b.saveField(ctx, chatID, FieldPlace, text); err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot save birth place")
		b.send(tgbotapi.NewMessage(chatID, msgInternalError))
		return
	}

	if err := b.store.AppendEvent(ctx, chatID, domain.EventProfileComplete, nil); err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot append profile_complete event")
	}

	b.setState(chatID, StateComplete)

	msg := tgbotapi.NewMessage(chatID, "Анкета заполнена! Теперь вы можете получить натальную карту")
	msg.ReplyMarkup = mainMenuKeyboard(true)
	b.send(msg)
}

func (b *BotService) handleViewProfile(ctx context.Context, chatID int64) {
	profile := b.profileOrNil(ctx, chatID)
	if profile == nil {
		msg := tgbotapi.NewMessage(chatID, "Анкета пока пуста. Нажмите «"+btnFill+"», чтобы начать")
		msg.ReplyMarkup = mainMenuKeyboard(false)
		b.send(msg)
		return
	}

	paid := "не получена"
	if profile.Paid {
		paid = "получена"
	}

	text := fmt.Sprintf(
		"Имя: %s\nДата рождения: %s\nВремя рождения: %s\nМесто рождения: %s\nОплата: %s",
		dashIfEmpty(profile.BirthName),
		dashIfEmpty(profile.BirthDate),
		dashIfEmpty(profile.BirthTime),
		dashIfEmpty(profile.BirthPlace),
		paid,
	)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenuKeyboard(profile.IsComplete())
	b.send(msg)
}

func (b *BotService) handleEditMenu(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Что изменить?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Имя", "edit:"+FieldName),
			tgbotapi.NewInlineKeyboardButtonData("Дата", "edit:"+FieldDate),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Время", "edit:"+FieldTime),
			tgbotapi.NewInlineKeyboardButtonData("Место", "edit:"+FieldPlace),
		),
	)
	b.send(msg)
}

func (b *BotService) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if _, err := b.sender.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn().Err(err).Msg("cannot answer callback query")
	}

	if query.Message == nil {
		return
	}

	chatID := query.Message.Chat.ID

	if strings.HasPrefix(query.Data, "edit:") {
		field := strings.TrimPrefix(query.Data, "edit:")

		prompt := editPrompt(field)
		if prompt == "" {
			return
		}

		b.setState(chatID, StateEditingPrefix+field)
		b.send(tgbotapi.NewMessage(chatID, prompt))
	}
}

func (b *BotService) handleEditInput(ctx context.Context, chatID int64, field, text string) {
	var err error

	switch field {
	case FieldName:
		err = ValidateName(text)
	case FieldDate:
		err = ValidateDate(text)
	case FieldTime:
		err = ValidateTime(text)
	case FieldPlace:
		err = ValidatePlace(text)
	default:
		b.setState(chatID, StateIdle)
		return
	}

	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, err.Error()))
		return
	}

	if err := b.saveField(ctx, chatID, field, text); err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Str("field", field).Msg("cannot save field")
		b.send(tgbotapi.NewMessage(chatID, msgInternalError))
		return
	}

	profile := b.profileOrNil(ctx, chatID)
	if profile.IsComplete() {
		b.setState(chatID, StateComplete)

		msg := tgbotapi.NewMessage(chatID, "Готово, данные обновлены")
		msg.ReplyMarkup = mainMenuKeyboard(true)
		b.send(msg)
		return
	}

	b.send(tgbotapi.NewMessage(chatID, "Готово, данные обновлены"))
	b.beginCollection(ctx, chatID)
}

func (b *BotService) handleRequestReport(ctx context.Context, chatID int64) {
	profile := b.profileOrNil(ctx, chatID)

	if !profile.IsComplete() {
		b.send(tgbotapi.NewMessage(chatID, "Чтобы получить натальную карту, сначала заполните анкету"))
		b.beginCollection(ctx, chatID)
		return
	}

	if !profile.Paid {
		b.offerPayment(ctx, chatID)
		return
	}

	if _, err := b.reports.RequestReport(ctx, chatID); err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot request report")
		b.send(tgbotapi.NewMessage(chatID, msgInternalError))
	}
}

func (b *BotService) offerPayment(ctx context.Context, chatID int64) {
	confirmationURL, err := b.payments.Initiate(ctx, chatID)
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot initiate payment")
		b.send(tgbotapi.NewMessage(chatID, "Не удалось создать платёж. Попробуйте ещё раз через пару минут"))
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Натальная карта доступна после оплаты (%d ₽). Нажмите кнопку, чтобы перейти к оплате",
		b.payments.Price()/100,
	))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Оплатить", confirmationURL),
		),
	)
	b.send(msg)
}

// NotifyPaymentSucceeded is wired as the payment orchestrator's success
// callback.
func (b *BotService) NotifyPaymentSucceeded(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Оплата прошла успешно! Нажмите «"+btnReport+"», и мы подготовим ваш разбор")
	msg.ReplyMarkup = mainMenuKeyboard(true)
	b.send(msg)
}

func (b *BotService) state(ctx context.Context, chatID int64) *UserState {
	b.stateMu.Lock()
	if state, ok := b.userStates[chatID]; ok {
		b.stateMu.Unlock()
		return state
	}
	b.stateMu.Unlock()

	// No in-memory state (fresh process): rederive from the profile.
	step := StateIdle
	if b.profileOrNil(ctx, chatID).IsComplete() {
		step = StateComplete
	}

	state := &UserState{Step: step}

	b.stateMu.Lock()
	b.userStates[chatID] = state
	b.stateMu.Unlock()

	return state
}

func (b *BotService) setState(chatID int64, step string) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	b.userStates[chatID] = &UserState{Step: step}
}

func (b *BotService) lockFor(userID int64) *sync.Mutex {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()

	lock, ok := b.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		b.userLocks[userID] = lock
	}

	return lock
}

func (b *BotService) profileOrNil(ctx context.Context, chatID int64) *domain.Profile {
	profile, err := b.store.GetProfile(ctx, chatID)
	if err != nil {
		if !errors.Is(err, storage.ErrProfileNotFound) {
			b.logger.Error().Err(err).Int64("user_id", chatID).Msg("cannot load profile")
		}
		return nil
	}

	return profile
}

func (b *BotService) saveField(ctx context.Context, chatID int64, field, value string) error {
	profile, err := b.store.GetProfile(ctx, chatID)
	if errors.Is(err, storage.ErrProfileNotFound) {
		profile = &domain.Profile{TelegramUserID: chatID}
	} else if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(value)

	switch field {
	case FieldName:
		profile.BirthName = pointer.To(trimmed)
	case FieldDate:
		profile.BirthDate = pointer.To(trimmed)
	case FieldTime:
		profile.BirthTime = pointer.To(trimmed)
	case FieldPlace:
		profile.BirthPlace = pointer.To(trimmed)

		city, country := domain.SplitPlace(trimmed)
		profile.BirthCity = pointer.To(city)
		if country != "" {
			profile.BirthCountry = pointer.To(country)
		}
	}

	return b.store.UpsertProfile(ctx, profile)
}

func (b *BotService) withMenu(ctx context.Context, chatID int64, msg tgbotapi.MessageConfig) tgbotapi.MessageConfig {
	msg.ReplyMarkup = mainMenuKeyboard(b.profileOrNil(ctx, chatID).IsComplete())
	return msg
}

func (b *BotService) send(msg tgbotapi.MessageConfig) {
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("user_id", msg.ChatID).Msg("cannot send message")
	}
}

func mainMenuKeyboard(complete bool) tgbotapi.ReplyKeyboardMarkup {
	rows := [][]tgbotapi.KeyboardButton{}

	if !complete {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnFill),
		))
	}

	rows = append(rows,
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnProfile),
			tgbotapi.NewKeyboardButton(btnReport),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnEdit),
		),
	)

	return tgbotapi.NewReplyKeyboard(rows...)
}

func nextCollectionStep(profile *domain.Profile) (string, string) {
	switch {
	case profile == nil || profile.BirthName == nil || *profile.BirthName == "":
		return StateCollectingName, promptName
	case profile.BirthDate == nil || *profile.BirthDate == "":
		return StateCollectingDate, promptDate
	case profile.BirthTime == nil || *profile.BirthTime == "":
		return StateCollectingTime, promptTime
	case profile.BirthPlace == nil || *profile.BirthPlace == "":
		return StateCollectingPlace, promptPlace
	default:
		return StateComplete, ""
	}
}

func editPrompt(field string) string {
	switch field {
	case FieldName:
		return promptName
	case FieldDate:
		return promptDate
	case FieldTime:
		return promptTime
	case FieldPlace:
		return promptPlace
	default:
		return ""
	}
}

func dashIfEmpty(s *string) string {
	if s == nil || *s == "" {
		return "—"
	}
	return *s
}

func updateUserID(update tgbotapi.Update) int64 {
	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
		return update.CallbackQuery.Message.Chat.ID
	}

	if update.Message != nil {
		return update.Message.Chat.ID
	}

	return 0
}
