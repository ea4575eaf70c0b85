// Package settings reads process settings from the environment.
package settings

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Settings struct {
	Port       string `env:"PORT,default=8080"`
	Production bool   `env:"PRODUCTION,default=false"`

	ModelName     string `env:"MODEL_NAME,default=mistral"`
	LLMBaseURL    string `env:"LLM_BASE_URL,default=http://localhost:11434/v1"`
	LLMAPIKey     string `env:"LLM_API_KEY"`
	LLMMaxWorkers int    `env:"LLM_MAX_WORKERS,default=10"`
	LLMMaxTokens  int    `env:"LLM_MAX_TOKENS,default=1024"`

	ConfigPath string `env:"CONFIG_PATH,default=config.json"`
	CacheSize  int    `env:"CACHE_SIZE,default=128"`

	FFmpegPath       string `env:"FFMPEG_PATH,default=ffmpeg"`
	TmpDir           string `env:"TMP_DIR"`
	DeepgramLanguage string `env:"DEEPGRAM_LANGUAGE,default=en"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramDebug    bool   `env:"TELEGRAM_DEBUG,default=false"`
}

func Load(ctx context.Context) (*Settings, error) {
	return load(ctx, nil)
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Settings, error) {
	var s Settings
	var err error
	if lookuper != nil {
		err = envconfig.ProcessWith(ctx, &s, lookuper)
	} else {
		err = envconfig.Process(ctx, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if s.ModelName == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if s.CacheSize <= 0 {
		return fmt.Errorf("CACHE_SIZE must be > 0")
	}
	if s.LLMMaxWorkers <= 0 {
		return fmt.Errorf("LLM_MAX_WORKERS must be > 0")
	}
	return nil
}
