package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// SampleRate is the rate of the mono audio every Backend returns. It matches
// the OpenAI speech API's raw PCM output.
const SampleRate = 24000

// Backend turns text into audio with a loaded voice.
type Backend interface {
	Synthesize(ctx context.Context, v *Voice, text string) ([]float32, error)
}

// BackendOptions configures the speech client.
type BackendOptions struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible speech server.
	BaseURL    string
	MaxRetries int
}

type openAIBackend struct {
	client openai.Client
}

// NewBackend returns a Backend on the OpenAI speech API.
func NewBackend(o BackendOptions) Backend {
	if o.MaxRetries == 0 {
		o.MaxRetries = 2
	}
	opts := []option.RequestOption{option.WithMaxRetries(o.MaxRetries)}
	if o.APIKey != "" {
		opts = append(opts, option.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	return &openAIBackend{client: openai.NewClient(opts...)}
}

func (b *openAIBackend) Synthesize(ctx context.Context, v *Voice, text string) ([]float32, error) {
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(v.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(v.Name),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if v.Speed != 0 {
		params.Speed = openai.Float(v.Speed)
	}
	if v.Instructions != "" {
		params.Instructions = openai.String(v.Instructions)
	}

	resp, err := b.client.Audio.Speech.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("Failed to synthesize (HTTP %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("Failed to synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading speech audio: %w", err)
	}
	return PCM16ToSamples(pcm), nil
}
