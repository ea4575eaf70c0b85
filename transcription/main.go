package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"coachdev/logger"
	"coachdev/modelapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// ErrDependencyUnavailable means the audio converter is not installed.
var ErrDependencyUnavailable = errors.New("ffmpeg not found, please install FFmpeg and add it to your system PATH")

var SupportedExtensions = map[string]bool{
	".wav": true,
	".mp3": true,
	".m4a": true,
	".ogg": true,
	".oga": true,
}

type TranscriptionError struct {
	Stage string
	Err   error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("error during transcription (%s): %v", e.Stage, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Result carries either a transcript or the reason there is none.
type Result struct {
	Text string
	Err  error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Display renders the result as user-facing text.
func (r Result) Display() string {
	switch {
	case r.Err == nil:
		return r.Text
	case errors.Is(r.Err, ErrDependencyUnavailable):
		return "Error: FFmpeg not found! Please install FFmpeg and add it to your system PATH."
	default:
		return "Error during transcription: " + r.Err.Error()
	}
}

type SpeechToText interface {
	Transcribe(ctx context.Context, audioData []byte) (string, error)
}

type ConvertFunc func(ctx context.Context, ffmpegPath string, src string, dst string) error

type AdapterProps struct {
	Logger       *logger.LogMiddleware
	SpeechToText SpeechToText
	// FFmpegBinary is looked up on PATH on every call. Defaults to "ffmpeg".
	FFmpegBinary string
	// TempDir holds the per-call scratch directories. Defaults to os.TempDir().
	TempDir string
	// Convert replaces the ffmpeg invocation; tests use it.
	Convert ConvertFunc
	// LookPath replaces exec.LookPath; tests use it.
	LookPath func(file string) (string, error)
}

type Adapter struct {
	logger   *logger.LogMiddleware
	stt      SpeechToText
	binary   string
	tempDir  string
	convert  ConvertFunc
	lookPath func(file string) (string, error)
}

func NewAdapter(args AdapterProps) *Adapter {
	a := &Adapter{
		logger:   args.Logger,
		stt:      args.SpeechToText,
		binary:   args.FFmpegBinary,
		tempDir:  args.TempDir,
		convert:  args.Convert,
		lookPath: args.LookPath,
	}
	if a.logger == nil {
		a.logger = logger.Nop()
	}
	if a.binary == "" {
		a.binary = "ffmpeg"
	}
	if a.convert == nil {
		a.convert = RunFFmpeg
	}
	if a.lookPath == nil {
		a.lookPath = exec.LookPath
	}
	return a
}

// Transcribe never fails outright: every problem is reported in Result.Err.
// The upload and its converted copy live in a scratch directory that is
// removed before returning.
func (a *Adapter) Transcribe(ctx context.Context, audio io.Reader, filename string) Result {
	tracer := otel.Tracer("transcription/Transcribe")
	ctx, span := tracer.Start(ctx, "Transcribe")
	defer span.End()

	log := a.logger.Logger(ctx)

	ext := strings.ToLower(filepath.Ext(filename))
	span.SetAttributes(attribute.String("audio.ext", ext))

	ffmpegPath, err := a.lookPath(a.binary)
	if err != nil {
		span.RecordError(err)
		log.Warn("[Transcription] Audio converter unavailable", zap.String("binary", a.binary), zap.Error(err))
		return Result{Err: fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)}
	}

	if !SupportedExtensions[ext] {
		err := &TranscriptionError{Stage: "upload", Err: fmt.Errorf("unsupported audio format %q", ext)}
		span.RecordError(err)
		return Result{Err: err}
	}

	dir, err := os.MkdirTemp(a.tempDir, "upload-*")
	if err != nil {
		span.RecordError(err)
		return Result{Err: &TranscriptionError{Stage: "upload", Err: err}}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error("[Transcription] Could not remove scratch directory", zap.String("dir", dir), zap.Error(err))
		}
	}()

	src := filepath.Join(dir, "input"+ext)
	dst := filepath.Join(dir, "converted"+modelapi.CANONICAL_AUDIO_EXT)

	size, err := writeUpload(src, audio)
	if err != nil {
		span.RecordError(err)
		return Result{Err: &TranscriptionError{Stage: "upload", Err: err}}
	}
	span.SetAttributes(attribute.Int64("audio.upload.size", size))

	if err := a.convert(ctx, ffmpegPath, src, dst); err != nil {
		span.RecordError(err)
		log.Error("[Transcription] Audio conversion failed", zap.Error(err))
		return Result{Err: &TranscriptionError{Stage: "convert", Err: err}}
	}

	converted, err := os.ReadFile(dst)
	if err != nil {
		span.RecordError(err)
		return Result{Err: &TranscriptionError{Stage: "convert", Err: err}}
	}

	text, err := a.stt.Transcribe(ctx, converted)
	if err != nil {
		span.RecordError(err)
		log.Error("[Transcription] Speech-to-text failed", zap.Error(err))
		return Result{Err: &TranscriptionError{Stage: "speech-to-text", Err: err}}
	}

	text = strings.TrimSpace(norm.NFC.String(text))
	span.SetAttributes(attribute.Int("transcript.length", len(text)))
	log.Info("[Transcription] Transcribed upload", zap.Int64("upload_bytes", size), zap.Int("transcript_length", len(text)))

	return Result{Text: text}
}

func writeUpload(path string, audio io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, audio)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = errors.New("empty audio upload")
	}
	return n, err
}

// RunFFmpeg converts src to 16 kHz mono WAV at dst.
func RunFFmpeg(ctx context.Context, ffmpegPath string, src string, dst string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-y",
		"-i", src,
		"-ar", modelapi.CANONICAL_AUDIO_SAMPLE_RATE,
		"-ac", modelapi.CANONICAL_AUDIO_CHANNELS,
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return nil
}
