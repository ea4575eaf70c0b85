package ollamaapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coachdev/logger"
	"coachdev/modelapi"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var ErrEmptyResponse = errors.New("no response received")

type OllamaConnectProps struct {
	Logger     *logger.LogMiddleware
	Model      string
	BaseURL    string
	APIKey     string
	MaxWorkers int
	MaxTokens  int
}

// Ollama talks to any OpenAI-compatible chat completion endpoint; by default
// the one a local Ollama server exposes under /v1.
type Ollama struct {
	logger    *logger.LogMiddleware
	semaphore *semaphore.Weighted
	client    *openai.Client
	model     string
	maxTokens int
}

func Connect(ctx context.Context, args OllamaConnectProps) *Ollama {
	tracer := otel.Tracer("ollamaapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	maxWorkers := args.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	sem := semaphore.NewWeighted(int64(maxWorkers))

	model := args.Model
	if model == "" {
		model = modelapi.DEFAULT_MODEL_NAME
	}
	baseURL := args.BaseURL
	if baseURL == "" {
		baseURL = modelapi.OLLAMA_BASE_URL
	}
	apiKey := args.APIKey
	if apiKey == "" {
		// Ollama ignores the key but the client insists on sending one.
		apiKey = "ollama"
	}

	log := args.Logger
	if log == nil {
		log = logger.Nop()
	}

	span.SetAttributes(
		attribute.Int("maxWorkers", maxWorkers),
		attribute.String("model", model),
		attribute.String("api.url", baseURL),
	)

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL
	client := openai.NewClientWithConfig(config)

	log.Logger(ctx).Info("[OllamaAPI] Language model client ready",
		zap.String("model", model),
		zap.String("base_url", baseURL),
	)

	return &Ollama{
		logger:    log,
		semaphore: sem,
		client:    client,
		model:     model,
		maxTokens: args.MaxTokens,
	}
}

func (o *Ollama) Model() string {
	return o.model
}

// GetResponse sends prompt as a single user message and returns the text of
// the first choice. It makes exactly one request.
func (o *Ollama) GetResponse(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("ollamaapi/GetResponse")
	ctx, span := tracer.Start(ctx, "GetResponse")
	defer span.End()

	span.SetAttributes(
		attribute.String("request.model", o.model),
		attribute.Int("prompt.length", len(prompt)),
	)

	if err := o.semaphore.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to acquire semaphore: %w", err)
	}
	defer o.semaphore.Release(1)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		span.RecordError(err)
		o.logger.Logger(ctx).Error("[OllamaAPI] Chat completion request failed",
			zap.Error(err),
			zap.String("model", o.model),
		)
		return "", fmt.Errorf("chat completion with %s: %w", o.model, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		span.RecordError(ErrEmptyResponse)
		o.logger.Logger(ctx).Warn("[OllamaAPI] Empty chat completion", zap.String("model", o.model))
		return "", ErrEmptyResponse
	}

	span.AddEvent("Request successful")
	span.SetAttributes(attribute.Int("response.length", len(resp.Choices[0].Message.Content)))

	return resp.Choices[0].Message.Content, nil
}
