package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/ashish23d/GreatX/internal/config"
	"github.com/ashish23d/GreatX/internal/models"
)

// EinoChat answers chat turns with any eino chat model.
type EinoChat struct {
	model model.BaseChatModel
}

func NewEinoChat(m model.BaseChatModel) *EinoChat {
	return &EinoChat{model: m}
}

// Complete implements ChatCompleter.
func (c *EinoChat) Complete(ctx context.Context, history []Turn, utterance, persona string) (string, error) {
	messages := make([]*schema.Message, 0, len(history)+2)
	if persona != "" {
		messages = append(messages, schema.SystemMessage(persona))
	}
	for _, turn := range history {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Text, nil))
		default:
			messages = append(messages, schema.UserMessage(turn.Text))
		}
	}
	messages = append(messages, schema.UserMessage(utterance))

	resp, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate chat reply: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

// NewChatModel builds the eino chat model for the configured provider.
// The gemini provider reuses genaiClient when one is supplied.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, genaiClient *genai.Client) (model.BaseChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client := genaiClient
		if client == nil {
			client, err = genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  provCfg.APIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, fmt.Errorf("create gemini client: %w", err)
			}
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}
