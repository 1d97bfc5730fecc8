package llm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	openaioption "github.com/openai/openai-go/v3/option"
)

// DefaultMaxTokens bounds a completion when the request leaves it unset.
const DefaultMaxTokens = 512

// Completion is one request to a Backend.
type Completion struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// Backend produces text for a loaded model.
type Backend interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// BackendOptions selects and configures a Backend.
type BackendOptions struct {
	// Provider is "openai", "ollama", "azure-openai" or "anthropic".
	Provider   string
	APIKey     string
	BaseURL    string
	APIVersion string
	MaxRetries int
}

// NewBackend returns the client for opts.Provider.
func NewBackend(opts BackendOptions) (Backend, error) {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	switch opts.Provider {
	case "anthropic":
		return newAnthropicBackend(opts), nil
	case "openai", "ollama", "azure-openai", "":
		return newOpenAIBackend(opts)
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.Provider)
	}
}

// ModelName derives the API model name from a model file path: the base name
// without its extension.
func ModelName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type openAIBackend struct {
	client openai.Client
}

func newOpenAIBackend(o BackendOptions) (*openAIBackend, error) {
	opts := []openaioption.RequestOption{
		openaioption.WithMaxRetries(o.MaxRetries),
	}
	switch o.Provider {
	case "azure-openai":
		if o.BaseURL == "" {
			return nil, errors.New("azure-openai requires a base URL")
		}
		version := o.APIVersion
		if version == "" {
			version = "2024-06-01"
		}
		opts = append(opts,
			azure.WithEndpoint(o.BaseURL, version),
			azure.WithAPIKey(o.APIKey),
		)
	default:
		if o.APIKey != "" {
			opts = append(opts, openaioption.WithAPIKey(o.APIKey))
		}
		if o.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(o.BaseURL))
		} else if o.Provider == "ollama" {
			opts = append(opts, openaioption.WithBaseURL("http://localhost:11434/v1"))
		}
	}
	return &openAIBackend{client: openai.NewClient(opts...)}, nil
}

func (b *openAIBackend) Complete(ctx context.Context, c Completion) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if c.System != "" {
		messages = append(messages, openai.SystemMessage(c.System))
	}
	messages = append(messages, openai.UserMessage(c.Prompt))

	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.Model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens(c.MaxTokens))),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("OpenAI API error (HTTP %d): %s", apiErr.StatusCode, truncate(apiErr.Error(), 500))
		}
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no choices in completion response")
	}
	return completion.Choices[0].Message.Content, nil
}

type anthropicBackend struct {
	client anthropic.Client
}

func newAnthropicBackend(o BackendOptions) *anthropicBackend {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithMaxRetries(o.MaxRetries),
	}
	if o.APIKey != "" {
		opts = append(opts, anthropicoption.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(o.BaseURL))
	}
	return &anthropicBackend{client: anthropic.NewClient(opts...)}
}

func (b *anthropicBackend) Complete(ctx context.Context, c Completion) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: int64(maxTokens(c.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(c.Prompt)),
		},
	}
	if c.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.System}}
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("Anthropic API error (HTTP %d): %s", apiErr.StatusCode, truncate(apiErr.Error(), 500))
		}
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(v.Text)
		}
	}
	return text.String(), nil
}

func maxTokens(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
