package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/gratefultolord/natal_chart_bot/internal/domain"
)

// Generator produces the report text for a complete profile.
type Generator interface {
	Generate(ctx context.Context, profile *domain.Profile) (string, error)
}

const systemPrompt = "Ты профессиональный астролог. Составь подробную натальную карту " +
	"по данным рождения. Пиши по-русски, структурируй текст заголовками и абзацами."

// OpenAIGenerator calls the Chat Completions API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, profile *domain.Profile) (string, error) {
	prompt := fmt.Sprintf(
		"Имя: %s\nДата рождения: %s\nВремя рождения: %s\nМесто рождения: %s",
		stringOrEmpty(profile.BirthName),
		stringOrEmpty(profile.BirthDate),
		stringOrEmpty(profile.BirthTime),
		stringOrEmpty(profile.BirthPlace),
	)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(4096),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAIGenerator.Generate: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("OpenAIGenerator.Generate: empty completion")
	}

	return resp.Choices[0].Message.Content, nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StaticGenerator returns a fixed report and never fails. It stands in
// when no generator credentials are configured, so report delivery
// survives generator downtime.
type StaticGenerator struct{}

func (StaticGenerator) Generate(_ context.Context, profile *domain.Profile) (string, error) {
	name := stringOrEmpty(profile.BirthName)

	return fmt.Sprintf(
		"Натальная карта для %s\n\n"+
			"Дата рождения: %s\nВремя рождения: %s\nМесто рождения: %s\n\n"+
			"Подробная интерпретация временно недоступна. Мы подготовим полный разбор "+
			"вашей карты и пришлём его в этом чате, как только сервис восстановится.",
		name,
		stringOrEmpty(profile.BirthDate),
		stringOrEmpty(profile.BirthTime),
		stringOrEmpty(profile.BirthPlace),
	), nil
}
