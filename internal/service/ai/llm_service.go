package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/mathbot/backend/internal/config"
	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
)

// Service runs the tutoring chain: system prompt, replayed history, then the
// new user message.
type Service struct {
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewServiceFromConfig builds the provider model from cfg and compiles the chain.
func NewServiceFromConfig(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewService(ctx, chatModel)
}

// NewService compiles the tutoring chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		systemPrompt: MathTutorTemplate().BuildSystemPrompt(),
		chain:        runnable,
	}, nil
}

// Reply sends history plus message to the model and returns the reply text.
func (s *Service) Reply(ctx context.Context, history chat.History, message string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  s.systemPrompt,
		"history": buildHistoryMessages(history),
		"query":   message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated response, history=%d, length=%d", len(history), len(response.Content))
	return response.Content, nil
}

func buildHistoryMessages(history chat.History) []*schema.Message {
	recent := history.Recent(chat.HistoryLimit)
	if len(recent) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(recent))
	for _, turn := range recent {
		switch turn.Type {
		case chat.TurnHuman:
			messages = append(messages, schema.UserMessage(turn.Content))
		case chat.TurnAI:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}
