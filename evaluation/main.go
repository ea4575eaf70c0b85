package evaluation

import (
	"context"
	"fmt"
	"strings"

	"coachdev/config"
	"coachdev/logger"
	"coachdev/prompt"
	"coachdev/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ResponseCache is the part of cache.ResponseCache the dispatcher needs.
type ResponseCache interface {
	GetOrGenerate(ctx context.Context, prompt string) (string, error)
}

type Templates interface {
	Template(name string) (string, bool)
}

type DispatcherProps struct {
	Templates Templates
	Cache     ResponseCache
	Logger    *logger.LogMiddleware
}

type Dispatcher struct {
	templates Templates
	cache     ResponseCache
	logger    *logger.LogMiddleware
}

func NewDispatcher(args DispatcherProps) *Dispatcher {
	log := args.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{templates: args.Templates, cache: args.Cache, logger: log}
}

// FlattenHistory joins every message with a single space. Roles are dropped.
func FlattenHistory(history []session.Message) string {
	texts := make([]string, len(history))
	for i, m := range history {
		texts[i] = m.Text
	}
	return strings.Join(texts, " ")
}

func (d *Dispatcher) EvaluateChat(ctx context.Context, history []session.Message) (string, error) {
	return d.evaluate(ctx, config.Chat, prompt.Bindings{
		prompt.UserMessage: FlattenHistory(history),
	})
}

func (d *Dispatcher) EvaluateImpromptu(ctx context.Context, promptText string, userResponse string) (string, error) {
	return d.evaluate(ctx, config.ImpromptuSpeaking, prompt.Bindings{
		prompt.PromptText:   promptText,
		prompt.UserResponse: userResponse,
	})
}

func (d *Dispatcher) EvaluateStorytelling(ctx context.Context, userStory string) (string, error) {
	return d.evaluate(ctx, config.Storytelling, prompt.Bindings{
		prompt.UserStory: userStory,
	})
}

func (d *Dispatcher) EvaluateConflict(ctx context.Context, scenario string, userResponse string) (string, error) {
	return d.evaluate(ctx, config.ConflictResolution, prompt.Bindings{
		prompt.PromptText:   scenario,
		prompt.UserResponse: userResponse,
	})
}

func (d *Dispatcher) EvaluatePresentation(ctx context.Context, userInput string) (string, error) {
	return d.evaluate(ctx, config.Presentation, prompt.Bindings{
		prompt.UserInput: userInput,
	})
}

func (d *Dispatcher) evaluate(ctx context.Context, templateName string, bindings prompt.Bindings) (string, error) {
	tracer := otel.Tracer("evaluation/evaluate")
	ctx, span := tracer.Start(ctx, "evaluate")
	defer span.End()

	span.SetAttributes(attribute.String("template", templateName))

	tmpl, ok := d.templates.Template(templateName)
	if !ok {
		err := fmt.Errorf("no evaluation template named %q", templateName)
		span.RecordError(err)
		return "", err
	}

	rendered := prompt.Render(tmpl, bindings)
	span.SetAttributes(attribute.Int("prompt.length", len(rendered)))

	d.logger.Logger(ctx).Info("[Evaluation] Dispatching prompt",
		zap.String("template", templateName),
		zap.Int("prompt_length", len(rendered)),
	)

	response, err := d.cache.GetOrGenerate(ctx, rendered)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	return response, nil
}
