package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/mathbot/backend/internal/config"
)

// AnthropicChatModel implements eino's model.ChatModel over the Anthropic
// Messages API. System messages are lifted into the request's system field.
type AnthropicChatModel struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
}

var _ model.ChatModel = (*AnthropicChatModel)(nil)

// NewAnthropicChatModel creates the adapter.
func NewAnthropicChatModel(cfg config.AIConfig) *AnthropicChatModel {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicChatModel{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (m *AnthropicChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := callOptions(m.model, m.temperature, m.maxTokens, opts)

	system, messages := toAnthropicMessages(input)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(*options.Model),
		MaxTokens:   int64(*options.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(float64(*options.Temperature)),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	msg := schema.AssistantMessage(text.String(), nil)
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: string(resp.StopReason),
		Usage: &schema.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	return msg, nil
}

func (m *AnthropicChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return singleChunkStream(msg), nil
}

func (m *AnthropicChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errToolsUnsupported
}

func toAnthropicMessages(input []*schema.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(input))

	for _, msg := range input {
		switch msg.Role {
		case schema.System:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case schema.Assistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, messages
}
