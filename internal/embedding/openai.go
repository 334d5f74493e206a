package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"threatlens-lab/internal/config"
	"threatlens-lab/pkg/logger"
)

const availabilityProbeInterval = 60 * time.Second

// OpenAIProvider embeds text through an OpenAI-compatible API. Requests
// are rate-limited client-side so backfills do not trip provider quotas.
type OpenAIProvider struct {
	client  *openai.Client
	cfg     config.EmbeddingConfig
	limiter *rate.Limiter
	logger  *logger.Logger

	mu          sync.Mutex
	lastProbe   time.Time
	lastHealthy bool
}

// NewOpenAIProvider creates an OpenAI embedding provider
func NewOpenAIProvider(cfg config.EmbeddingConfig, log *logger.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  log.WithComponent("embedding"),
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Available probes the API, caching the verdict briefly so the hot
// path does not pay a round trip per document
func (p *OpenAIProvider) Available(ctx context.Context) bool {
	p.mu.Lock()
	if time.Since(p.lastProbe) < availabilityProbeInterval {
		healthy := p.lastHealthy
		p.mu.Unlock()
		return healthy
	}
	p.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.ListModels(probeCtx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("embedding provider unavailable")
	}

	p.mu.Lock()
	p.lastProbe = time.Now()
	p.lastHealthy = err == nil
	p.mu.Unlock()

	return err == nil
}

// Embed returns the vector for one text
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order. Inputs are
// chunked by the configured batch size.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (p *OpenAIProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait: %w", err)
	}

	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := p.cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(model),
		Dimensions: p.cfg.Dimensions,
	}

	resp, err := p.client.CreateEmbeddings(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
