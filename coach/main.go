package coach

import (
	"context"
	"errors"
	"io"
	"strings"

	"coachdev/cache"
	"coachdev/config"
	"coachdev/logger"
	"coachdev/session"
	"coachdev/transcription"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ErrEmptyInput = errors.New("empty input")

type Evaluator interface {
	EvaluateChat(ctx context.Context, history []session.Message) (string, error)
	EvaluateImpromptu(ctx context.Context, promptText string, userResponse string) (string, error)
	EvaluateStorytelling(ctx context.Context, userStory string) (string, error)
	EvaluateConflict(ctx context.Context, scenario string, userResponse string) (string, error)
	EvaluatePresentation(ctx context.Context, userInput string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) transcription.Result
}

type CoachProps struct {
	Logger      *logger.LogMiddleware
	Evaluator   Evaluator
	Transcriber Transcriber
	Sessions    *session.Store
}

// Coach is the single entry point for user actions. It is shared by every
// session; per-user state lives in the session.Session passed in.
type Coach struct {
	logger      *logger.LogMiddleware
	evaluator   Evaluator
	transcriber Transcriber
	sessions    *session.Store
}

func New(args CoachProps) *Coach {
	log := args.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Coach{
		logger:      log,
		evaluator:   args.Evaluator,
		transcriber: args.Transcriber,
		sessions:    args.Sessions,
	}
}

func (c *Coach) Sessions() *session.Store {
	return c.sessions
}

// SendChatMessage records the message, evaluates the whole conversation and
// records the reply. A failed evaluation leaves the user message in place so
// the history shows what was sent.
func (c *Coach) SendChatMessage(ctx context.Context, s *session.Session, message string) (string, error) {
	tracer := otel.Tracer("coach/SendChatMessage")
	ctx, span := tracer.Start(ctx, "SendChatMessage")
	defer span.End()

	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyInput
	}

	history := s.AppendUser(message)
	span.SetAttributes(attribute.Int("history.length", len(history)))

	reply, err := c.evaluator.EvaluateChat(ctx, history)
	if err != nil {
		span.RecordError(err)
		c.logger.SessionLogger(ctx, s.ID).Error("[Coach] Chat evaluation failed", zap.Error(err))
		return "", err
	}

	s.Append(session.RoleAI, reply)
	return reply, nil
}

// SubmitImpromptu evaluates response against the session's current topic and
// returns the feedback together with the topic that was graded.
func (c *Coach) SubmitImpromptu(ctx context.Context, s *session.Session, response string) (string, string, error) {
	if strings.TrimSpace(response) == "" {
		return "", "", ErrEmptyInput
	}
	topic := s.ImpromptuPrompt()
	feedback, err := c.run(ctx, s, session.ModuleImpromptu, func(ctx context.Context) (string, error) {
		return c.evaluator.EvaluateImpromptu(ctx, topic, response)
	})
	return feedback, topic, err
}

func (c *Coach) SubmitStory(ctx context.Context, s *session.Session, story string) (string, error) {
	if strings.TrimSpace(story) == "" {
		return "", ErrEmptyInput
	}
	return c.run(ctx, s, session.ModuleStorytelling, func(ctx context.Context) (string, error) {
		return c.evaluator.EvaluateStorytelling(ctx, story)
	})
}

// SubmitConflict is SubmitImpromptu for the conflict scenario.
func (c *Coach) SubmitConflict(ctx context.Context, s *session.Session, response string) (string, string, error) {
	if strings.TrimSpace(response) == "" {
		return "", "", ErrEmptyInput
	}
	scenario := s.ConflictPrompt()
	feedback, err := c.run(ctx, s, session.ModuleConflict, func(ctx context.Context) (string, error) {
		return c.evaluator.EvaluateConflict(ctx, scenario, response)
	})
	return feedback, scenario, err
}

func (c *Coach) AssessPresentation(ctx context.Context, s *session.Session, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrEmptyInput
	}
	return c.run(ctx, s, session.ModulePresentation, func(ctx context.Context) (string, error) {
		return c.evaluator.EvaluatePresentation(ctx, input)
	})
}

// Submit routes input to whichever module the session has selected.
func (c *Coach) Submit(ctx context.Context, s *session.Session, input string) (string, error) {
	switch s.Module() {
	case session.ModuleImpromptu:
		feedback, _, err := c.SubmitImpromptu(ctx, s, input)
		return feedback, err
	case session.ModuleStorytelling:
		return c.SubmitStory(ctx, s, input)
	case session.ModuleConflict:
		feedback, _, err := c.SubmitConflict(ctx, s, input)
		return feedback, err
	case session.ModulePresentation:
		return c.AssessPresentation(ctx, s, input)
	default:
		return c.SendChatMessage(ctx, s, input)
	}
}

func (c *Coach) Transcribe(ctx context.Context, audio io.Reader, filename string) transcription.Result {
	return c.transcriber.Transcribe(ctx, audio, filename)
}

func (c *Coach) run(ctx context.Context, s *session.Session, module session.Module, evaluate func(context.Context) (string, error)) (string, error) {
	tracer := otel.Tracer("coach/" + string(module))
	ctx, span := tracer.Start(ctx, string(module))
	defer span.End()

	span.SetAttributes(attribute.String("session.id", s.ID))

	feedback, err := evaluate(ctx)
	if err != nil {
		span.RecordError(err)
		c.logger.SessionLogger(ctx, s.ID).Error("[Coach] Evaluation failed", zap.String("module", string(module)), zap.Error(err))
		return "", err
	}
	return feedback, nil
}

// UserMessage turns any per-interaction error into text that can be shown
// to the user in place of feedback.
func UserMessage(err error) string {
	var cerr *config.ConfigError
	var merr *cache.ModelInvocationError
	var terr *transcription.TranscriptionError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput):
		return "Please provide a response."
	case errors.Is(err, session.ErrNotFound):
		return "This practice session has ended. Start a new one to continue."
	case errors.Is(err, transcription.ErrDependencyUnavailable):
		return transcription.Result{Err: err}.Display()
	case errors.As(err, &terr):
		return transcription.Result{Err: err}.Display()
	case errors.As(err, &merr):
		return "The AI coach is unavailable right now. Please try submitting again."
	case errors.As(err, &cerr):
		return "The coach is misconfigured: " + cerr.Reason
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled before feedback was ready."
	default:
		return "Something went wrong while preparing your feedback."
	}
}
