package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
)

// Embedder turns text into a vector.
type Embedder interface {
	ID() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderOptions configures embedders that call a remote API.
type EmbedderOptions struct {
	APIKey  string
	BaseURL string
}

// DefaultModel is the embedding model used when none is selected.
const DefaultModel = "hash-256"

type modelSpec struct {
	info   ModelInfo
	remote bool
	build  func(EmbedderOptions) Embedder
}

var models = []modelSpec{
	{
		info: ModelInfo{ID: "hash-256", Name: "Feature hash 256", Description: "Offline hashed bag of words and bigrams", Dimension: 256},
		build: func(EmbedderOptions) Embedder {
			return &hashEmbedder{id: "hash-256", dim: 256}
		},
	},
	{
		info: ModelInfo{ID: "hash-1024", Name: "Feature hash 1024", Description: "Offline hashed bag of words and bigrams, fewer collisions", Dimension: 1024},
		build: func(EmbedderOptions) Embedder {
			return &hashEmbedder{id: "hash-1024", dim: 1024}
		},
	},
	{
		info:   ModelInfo{ID: "text-embedding-3-small", Name: "OpenAI text-embedding-3-small", Description: "Remote embeddings from an OpenAI-compatible API", Dimension: 1536},
		remote: true,
		build: func(o EmbedderOptions) Embedder {
			return newOpenAIEmbedder("text-embedding-3-small", 1536, o)
		},
	},
}

// Catalog lists the models available with opts. Remote models need an API
// key or base URL.
func Catalog(opts EmbedderOptions) []ModelInfo {
	var out []ModelInfo
	for _, m := range models {
		if m.remote && opts.APIKey == "" && opts.BaseURL == "" {
			continue
		}
		out = append(out, m.info)
	}
	return out
}

// NewEmbedder builds the embedder with the given model id.
func NewEmbedder(id string, opts EmbedderOptions) (Embedder, error) {
	for _, m := range models {
		if m.info.ID != id {
			continue
		}
		if m.remote && opts.APIKey == "" && opts.BaseURL == "" {
			return nil, fmt.Errorf("model %s needs an API key", id)
		}
		return m.build(opts), nil
	}
	return nil, fmt.Errorf("unknown embedding model: %s", id)
}

// hashEmbedder maps unigrams and bigrams into a fixed number of signed
// buckets and L2-normalizes the result.
type hashEmbedder struct {
	id  string
	dim int
}

func (e *hashEmbedder) ID() string     { return e.id }
func (e *hashEmbedder) Dimension() int { return e.dim }

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(vec)
	return vec, nil
}

func (e *hashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
}

// cosine returns the cosine similarity of a and b, or 0 when their
// dimensions differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

type openAIEmbedder struct {
	client openai.Client
	id     string
	dim    int
}

func newOpenAIEmbedder(id string, dim int, o EmbedderOptions) *openAIEmbedder {
	opts := []openaioption.RequestOption{openaioption.WithMaxRetries(2)}
	if o.APIKey != "" {
		opts = append(opts, openaioption.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(o.BaseURL))
	}
	return &openAIEmbedder{client: openai.NewClient(opts...), id: id, dim: dim}
}

func (e *openAIEmbedder) ID() string     { return e.id }
func (e *openAIEmbedder) Dimension() int { return e.dim }

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.id),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response has no data")
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}
