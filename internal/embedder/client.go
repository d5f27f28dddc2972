package embedder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/TonyKrueger/support-agent-one/internal/ratelimit"
)

// Client pipeline defaults.
const (
	// DefaultBatchSize is the number of texts sent per provider request.
	DefaultBatchSize = 20
	// DefaultConcurrency is the number of provider requests in flight at once.
	DefaultConcurrency = 4
	// DefaultMaxAttempts is the total attempts per batch before giving up.
	DefaultMaxAttempts = 5
	// defaultRetryInterval is the initial backoff between retry attempts.
	defaultRetryInterval = 500 * time.Millisecond
)

// Client wraps a provider Embedder with content caching, batching, rate
// limiting, pacing, and retries. It implements Embedder itself, so it can
// stand in anywhere a provider is expected. Safe for concurrent use.
type Client struct {
	// provider performs the actual embedding calls.
	provider Embedder
	// cache is the content-addressed embedding cache; nil disables caching.
	cache *Cache
	// limiter is the sliding-window admission limiter; nil disables it.
	limiter *ratelimit.Limiter
	// pacer spaces provider requests out over time.
	pacer *rate.Limiter
	// batchSize is the number of texts per provider request.
	batchSize int
	// concurrency bounds the number of in-flight provider requests.
	concurrency int
	// maxAttempts is the total attempts per batch, including the first.
	maxAttempts int
	// retryInterval is the initial backoff between attempts.
	retryInterval time.Duration
	// log receives retry and batch diagnostics.
	log *slog.Logger
}

// ClientConfig holds the settings for constructing a Client.
type ClientConfig struct {
	// Provider performs the actual embedding calls. Required.
	Provider Embedder
	// Cache is the shared embedding cache. Nil disables caching.
	Cache *Cache
	// Limiter is the shared admission limiter. Nil disables admission checks.
	Limiter *ratelimit.Limiter
	// BatchSize is the number of texts per provider request (default 20).
	BatchSize int
	// Concurrency bounds in-flight provider requests (default 4).
	Concurrency int
	// MaxAttempts is the total attempts per batch (default 5).
	MaxAttempts int
	// RequestsPerSecond paces provider calls; 0 means unpaced.
	RequestsPerSecond float64
	// Logger receives retry and batch diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// NewClient constructs a Client from the given config, applying defaults
// for any zero-valued tuning field.
func NewClient(cfg *ClientConfig) *Client {
	c := &Client{
		provider:      cfg.Provider,
		cache:         cfg.Cache,
		limiter:       cfg.Limiter,
		batchSize:     cfg.BatchSize,
		concurrency:   cfg.Concurrency,
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: defaultRetryInterval,
		log:           cfg.Logger,
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if cfg.RequestsPerSecond > 0 {
		c.pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	} else {
		c.pacer = rate.NewLimiter(rate.Inf, 1)
	}
	return c
}

// CacheStats returns the cache counters, or a zero snapshot when caching
// is disabled.
func (c *Client) CacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return c.cache.Stats()
}

// Embed satisfies the Embedder interface by delegating to EmbedAll.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.EmbedAll(ctx, texts)
}

// EmbedAll embeds every text, serving repeats from the cache and sending
// only the misses to the provider in concurrent batches. The returned
// slice is parallel to the input. On any batch failure the whole call
// fails; partial results are never returned.
func (c *Client) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	// Read through the cache, deduplicating identical texts so each unique
	// content is embedded at most once per call.
	var pending []string
	pendingIdx := make(map[string]int, len(texts))
	for i, t := range texts {
		if c.cache != nil {
			if v, ok := c.cache.Get(t); ok {
				results[i] = v
				continue
			}
		}
		if _, ok := pendingIdx[t]; !ok {
			pendingIdx[t] = len(pending)
			pending = append(pending, t)
		}
	}

	if len(pending) > 0 {
		c.log.Debug("embedding cache misses",
			slog.Int("total", len(texts)),
			slog.Int("misses", len(pending)),
		)
		vecs := make([][]float32, len(pending))
		if err := c.embedBatches(ctx, pending, vecs); err != nil {
			return nil, err
		}
		if c.cache != nil {
			for i, t := range pending {
				c.cache.Put(t, vecs[i])
			}
		}
		for i, t := range texts {
			if results[i] == nil {
				results[i] = vecs[pendingIdx[t]]
			}
		}
	}

	return results, nil
}

// embedBatches splits texts into batches and embeds them with bounded
// concurrency, writing vectors into out (parallel to texts). The first
// batch error wins; later batches are skipped once a failure is recorded.
func (c *Client) embedBatches(ctx context.Context, texts []string, out [][]float32) error {
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			vecs, err := c.embedBatch(ctx, texts[start:end])
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			copy(out[start:end], vecs)
		}(start, end)
	}

	wg.Wait()
	return firstErr
}

// embedBatch sends one batch to the provider: admission check, pacing,
// then retries with exponential backoff on transient failures.
func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if c.limiter != nil && !c.limiter.Allow(ratelimit.ResourceEmbeddings) {
		return nil, &RateLimitedError{
			Resource:   ratelimit.ResourceEmbeddings,
			RetryAfter: c.limiter.RetryAfter(ratelimit.ResourceEmbeddings),
		}
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx)

	attempts := 0
	var vecs [][]float32
	op := func() error {
		attempts++
		v, err := c.provider.Embed(ctx, batch)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vecs = v
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.log.Warn("embed attempt failed, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("backoff", next),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if IsTransient(err) && ctx.Err() == nil {
			return nil, &ExhaustedError{Attempts: attempts, Err: err}
		}
		return nil, err
	}
	return vecs, nil
}
