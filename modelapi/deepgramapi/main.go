package deepgramapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"coachdev/logger"
	"coachdev/modelapi"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	"go.uber.org/zap"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrNoTranscript = errors.New("no transcription found in response")

type DeepgramAPI struct {
	logger   *logger.LogMiddleware
	dg       *api.Client
	language string
}

type DeepgramConnectProps struct {
	Logger   *logger.LogMiddleware
	Language string
}

// Connect reads the API key from DEEPGRAM_API_KEY.
func Connect(args DeepgramConnectProps) *DeepgramAPI {
	c := client.NewRESTWithDefaults()
	dg := api.New(c)

	language := args.Language
	if language == "" {
		language = modelapi.DEEPGRAM_LANGUAGE
	}

	log := args.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &DeepgramAPI{logger: log, dg: dg, language: language}
}

// Transcribe expects canonical WAV audio and returns the best transcript.
func (d *DeepgramAPI) Transcribe(ctx context.Context, audioData []byte) (string, error) {
	tracer := otel.Tracer("deepgramapi")
	ctx, span := tracer.Start(ctx, "Transcribe")
	defer span.End()

	span.SetAttributes(attribute.Int("audio.data.size", len(audioData)))

	logger := d.logger.Logger(ctx)

	options := &interfaces.PreRecordedTranscriptionOptions{
		Punctuate: true,
		Diarize:   false,
		Language:  d.language,
		Model:     modelapi.DEEPGRAM_MODEL,
	}

	span.AddEvent("Calling Deepgram API")
	res, err := d.dg.FromStream(ctx, bytes.NewReader(audioData), options)
	if err != nil {
		logger.Error("[Deepgram] Transcription failed", zap.Error(err))
		span.RecordError(err)
		return "", fmt.Errorf("deepgram transcription failed: %w", err)
	}

	if res != nil && res.Results != nil && len(res.Results.Channels) > 0 {
		channel := res.Results.Channels[0]
		if len(channel.Alternatives) > 0 {
			transcription := channel.Alternatives[0].Transcript
			logger.Info("[Deepgram] Transcribed audio", zap.Int("transcription_length", len(transcription)))
			span.AddEvent("Transcription successful", trace.WithAttributes(attribute.Int("transcription.length", len(transcription))))
			return transcription, nil
		}
	}

	logger.Warn("[Deepgram] No transcription found in response")
	span.RecordError(ErrNoTranscript)
	return "", ErrNoTranscript
}
