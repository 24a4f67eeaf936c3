package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/zhouzirui/mathbot/backend/internal/config"
)

// OpenAIChatModel implements eino's model.ChatModel over the OpenAI chat
// completions API.
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
}

var _ model.ChatModel = (*OpenAIChatModel)(nil)

// NewOpenAIChatModel creates the adapter. BaseURL allows OpenAI-compatible gateways.
func NewOpenAIChatModel(cfg config.AIConfig) *OpenAIChatModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIChatModel{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := callOptions(m.model, m.temperature, m.maxTokens, opts)

	params := openai.ChatCompletionNewParams{
		Messages:    openai.F(toOpenAIMessages(input)),
		Model:       openai.F(*options.Model),
		Temperature: openai.F(float64(*options.Temperature)),
		MaxTokens:   openai.F(int64(*options.MaxTokens)),
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty completion")
	}

	choice := completion.Choices[0]
	msg := schema.AssistantMessage(choice.Message.Content, nil)
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: string(choice.FinishReason),
		Usage: &schema.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	return msg, nil
}

func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return singleChunkStream(msg), nil
}

func (m *OpenAIChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errToolsUnsupported
}

func toOpenAIMessages(input []*schema.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case schema.Assistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	return messages
}
