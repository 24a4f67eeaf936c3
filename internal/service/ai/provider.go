package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/mathbot/backend/internal/config"
)

var errToolsUnsupported = errors.New("tool calling is not supported by this model adapter")

// NewChatModel constructs the eino chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.ChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case config.ProviderArk:
		return cfg.NewArkChatModel(ctx)
	case config.ProviderOpenAI:
		return NewOpenAIChatModel(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropicChatModel(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// callOptions resolves per-call overrides on top of the adapter defaults.
func callOptions(modelName string, temperature float64, maxTokens int, opts []model.Option) *model.Options {
	temp := float32(temperature)
	return model.GetCommonOptions(&model.Options{
		Model:       &modelName,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}, opts...)
}

// singleChunkStream adapts a blocking reply to eino's streaming contract.
func singleChunkStream(msg *schema.Message) *schema.StreamReader[*schema.Message] {
	return schema.StreamReaderFromArray([]*schema.Message{msg})
}
