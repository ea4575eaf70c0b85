package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"coachdev/logger"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultCapacity = 128

// Generator produces a model response for a fully rendered prompt.
type Generator interface {
	GetResponse(ctx context.Context, prompt string) (string, error)
}

type ModelInvocationError struct {
	Err error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("language model call failed: %v", e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type ResponseCacheProps struct {
	Capacity  int
	Generator Generator
	Logger    *logger.LogMiddleware
	// OnEvict is called with the prompt of every entry removed from the cache.
	OnEvict func(prompt string)
}

// ResponseCache memoizes prompt -> response with least-recently-used
// eviction. Keys are exact prompt strings.
type ResponseCache struct {
	logger    *logger.LogMiddleware
	generator Generator
	entries   *lru.Cache[string, string]
	group     singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func New(args ResponseCacheProps) (*ResponseCache, error) {
	capacity := args.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	log := args.Logger
	if log == nil {
		log = logger.Nop()
	}

	c := &ResponseCache{logger: log, generator: args.Generator}

	entries, err := lru.NewWithEvict(capacity, func(prompt string, _ string) {
		c.evictions.Add(1)
		if args.OnEvict != nil {
			args.OnEvict(prompt)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("could not create response cache: %w", err)
	}
	c.entries = entries

	return c, nil
}

// Get marks the entry as most recently used.
func (c *ResponseCache) Get(prompt string) (string, bool) {
	return c.entries.Get(prompt)
}

func (c *ResponseCache) Put(prompt string, response string) {
	c.entries.Add(prompt, response)
}

func (c *ResponseCache) Len() int {
	return c.entries.Len()
}

func (c *ResponseCache) Stats() Stats {
	return Stats{
		Entries:   c.entries.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// GetOrGenerate returns the cached response for prompt, calling the generator
// once on a miss. Failed generations are not stored.
func (c *ResponseCache) GetOrGenerate(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("cache/GetOrGenerate")
	ctx, span := tracer.Start(ctx, "GetOrGenerate")
	defer span.End()

	span.SetAttributes(attribute.Int("prompt.length", len(prompt)))

	if response, ok := c.entries.Get(prompt); ok {
		c.hits.Add(1)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		c.logger.Logger(ctx).Debug("[Cache] Hit", zap.Int("prompt_length", len(prompt)))
		return response, nil
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))

	// The shared call outlives any single caller, so one caller giving up
	// cannot fail the others waiting on the same prompt.
	genCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(prompt, func() (interface{}, error) {
		// Another caller may have filled the entry while we waited.
		if response, ok := c.entries.Peek(prompt); ok {
			return response, nil
		}
		c.misses.Add(1)

		response, err := c.generator.GetResponse(genCtx, prompt)
		if err != nil {
			return nil, err
		}
		c.entries.Add(prompt, response)
		return response, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		err := ctx.Err()
		span.RecordError(err)
		return "", &ModelInvocationError{Err: err}
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		c.logger.Logger(ctx).Error("[Cache] Model invocation failed", zap.Error(res.Err))
		return "", &ModelInvocationError{Err: res.Err}
	}

	span.SetAttributes(attribute.Bool("cache.shared", res.Shared))
	return res.Val.(string), nil
}
