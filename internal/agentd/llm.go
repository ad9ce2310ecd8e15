package agentd

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/solstice-ai/warden/internal/config"
	"github.com/solstice-ai/warden/internal/store"
)

// ChatClient is the completion provider behind POST /chat. The concrete
// client talks to an OpenAI-compatible endpoint; tests swap in a canned one.
// An empty model selects the configured default.
type ChatClient interface {
	Complete(ctx context.Context, history []store.Conversation, message, model string, maxTokens int) (reply string, tokens int, err error)
}

type openAIChat struct {
	client *openai.Client
	model  string
}

// NewChatClient builds the provider client from config. A custom base URL
// points the same client at any OpenAI-compatible server.
func NewChatClient(cfg config.Config) (ChatClient, error) {
	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY not set")
	}

	cc := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		cc.BaseURL = cfg.LLMBaseURL
	}
	return &openAIChat{client: openai.NewClientWithConfig(cc), model: cfg.LLMModel}, nil
}

const systemPrompt = "You are a helpful AI assistant running on a self-hosted deployment. Be concise and accurate."

func (o *openAIChat) Complete(ctx context.Context, history []store.Conversation, message, model string, maxTokens int) (string, int, error) {
	if model == "" {
		model = o.model
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, turn := range history {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.UserMessage},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.AssistantResponse},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", 0, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, resp.Usage.TotalTokens, nil
}
