package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"coachdev/logger"
	"coachdev/prompt"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const DefaultPath = "config.json"

// Template names under "evaluation_prompts".
const (
	Chat               = "chat"
	ImpromptuSpeaking  = "impromptu_speaking"
	Storytelling       = "storytelling"
	ConflictResolution = "conflict_resolution"
	Presentation       = "presentation"
)

var RequiredTemplates = []string{Chat, ImpromptuSpeaking, Storytelling, ConflictResolution, Presentation}

// placeholders each template is rendered with.
var placeholders = map[string][]string{
	Chat:               {prompt.UserMessage},
	ImpromptuSpeaking:  {prompt.PromptText, prompt.UserResponse},
	Storytelling:       {prompt.UserStory},
	ConflictResolution: {prompt.PromptText, prompt.UserResponse},
	Presentation:       {prompt.UserInput},
}

type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

type file struct {
	ImpromptuPrompts  []string          `json:"impromptu_prompts"`
	ConflictPrompts   []string          `json:"conflict_prompts"`
	EvaluationPrompts map[string]string `json:"evaluation_prompts"`
}

// Configuration is immutable once loaded and safe to share between sessions.
type Configuration struct {
	templates        map[string]string
	impromptuPrompts []string
	conflictPrompts  []string
	intn             func(n int) int
}

type LoadProps struct {
	Path   string
	Logger *logger.LogMiddleware
}

func Load(ctx context.Context, args LoadProps) (*Configuration, error) {
	tracer := otel.Tracer("config/Load")
	ctx, span := tracer.Start(ctx, "Load")
	defer span.End()

	log := args.Logger
	if log == nil {
		log = logger.Nop()
	}

	path := args.Path
	if path == "" {
		path = DefaultPath
	}
	span.SetAttributes(attribute.String("config.path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		reason := "could not read file"
		if errors.Is(err, os.ErrNotExist) {
			reason = "file not found"
		}
		return nil, &ConfigError{Path: path, Reason: reason, Err: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		span.RecordError(err)
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		return nil, err
	}

	for _, name := range RequiredTemplates {
		if missing := cfg.MissingPlaceholders(name); len(missing) > 0 {
			log.Logger(ctx).Warn("[Config] Template never receives user input",
				zap.String("template", name),
				zap.Strings("missing_placeholders", missing),
			)
		}
	}

	log.Logger(ctx).Info("[Config] Loaded coaching configuration",
		zap.String("path", path),
		zap.Int("impromptu_prompts", len(cfg.impromptuPrompts)),
		zap.Int("conflict_prompts", len(cfg.conflictPrompts)),
	)

	return cfg, nil
}

// Parse validates raw JSON. Either every required key is present and non-empty
// or an error is returned; there is no partially loaded configuration.
func Parse(data []byte) (*Configuration, error) {
	var f file
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, &ConfigError{Reason: "malformed JSON", Err: err}
	}

	if len(f.ImpromptuPrompts) == 0 {
		return nil, &ConfigError{Reason: "missing impromptu_prompts"}
	}
	if len(f.ConflictPrompts) == 0 {
		return nil, &ConfigError{Reason: "missing conflict_prompts"}
	}
	if f.EvaluationPrompts == nil {
		return nil, &ConfigError{Reason: "missing evaluation_prompts"}
	}
	for _, name := range RequiredTemplates {
		if strings.TrimSpace(f.EvaluationPrompts[name]) == "" {
			return nil, &ConfigError{Reason: "missing evaluation_prompts." + name}
		}
	}

	templates := make(map[string]string, len(f.EvaluationPrompts))
	for k, v := range f.EvaluationPrompts {
		templates[k] = v
	}

	return &Configuration{
		templates:        templates,
		impromptuPrompts: append([]string(nil), f.ImpromptuPrompts...),
		conflictPrompts:  append([]string(nil), f.ConflictPrompts...),
		intn:             rand.IntN,
	}, nil
}

// WithRand returns a copy that draws scenarios using intn.
func (c *Configuration) WithRand(intn func(n int) int) *Configuration {
	cp := *c
	cp.intn = intn
	return &cp
}

func (c *Configuration) Template(name string) (string, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// MissingPlaceholders lists the placeholders the named template is rendered
// with but does not contain.
func (c *Configuration) MissingPlaceholders(name string) []string {
	present := map[string]bool{}
	for _, p := range prompt.Placeholders(c.templates[name]) {
		present[p] = true
	}

	var missing []string
	for _, p := range placeholders[name] {
		if !present[p] {
			missing = append(missing, p)
		}
	}
	return missing
}

func (c *Configuration) RandomImpromptuPrompt() string {
	return c.impromptuPrompts[c.intn(len(c.impromptuPrompts))]
}

func (c *Configuration) RandomConflictPrompt() string {
	return c.conflictPrompts[c.intn(len(c.conflictPrompts))]
}
