package transcription

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

type stubSTT struct {
	calls atomic.Int64
	text  string
	err   error
	got   []byte
}

func (s *stubSTT) Transcribe(ctx context.Context, audio []byte) (string, error) {
	s.calls.Add(1)
	s.got = audio
	return s.text, s.err
}

func copyConvert(ctx context.Context, ffmpegPath, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append([]byte("WAV:"), data...), 0o600)
}

func found(file string) (string, error) { return "/usr/bin/" + file, nil }

func missing(file string) (string, error) { return "", errors.New("executable file not found in $PATH") }

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected no temporary files, found %v", names)
	}
}

func TestTranscribeSuccess(t *testing.T) {
	dir := t.TempDir()
	stt := &stubSTT{text: "  Hello there\n"}
	a := NewAdapter(AdapterProps{SpeechToText: stt, TempDir: dir, Convert: copyConvert, LookPath: found})

	res := a.Transcribe(context.Background(), strings.NewReader("fake-mp3"), "voice.MP3")
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "Hello there" {
		t.Errorf("unexpected transcript %q", res.Text)
	}
	if res.Display() != "Hello there" {
		t.Errorf("unexpected display %q", res.Display())
	}
	if string(stt.got) != "WAV:fake-mp3" {
		t.Errorf("speech-to-text did not receive converted audio, got %q", stt.got)
	}
	assertEmptyDir(t, dir)
}

func TestTranscribeDependencyUnavailable(t *testing.T) {
	dir := t.TempDir()
	stt := &stubSTT{text: "unused"}
	a := NewAdapter(AdapterProps{SpeechToText: stt, TempDir: dir, Convert: copyConvert, LookPath: missing})

	res := a.Transcribe(context.Background(), strings.NewReader("fake"), "voice.wav")
	if !errors.Is(res.Err, ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", res.Err)
	}
	if !strings.Contains(res.Display(), "FFmpeg not found") {
		t.Errorf("expected descriptive message, got %q", res.Display())
	}
	if stt.calls.Load() != 0 {
		t.Error("speech-to-text should not be called")
	}
	assertEmptyDir(t, dir)
}

func TestTranscribeConversionFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	failing := func(ctx context.Context, ffmpegPath, src, dst string) error {
		// Leave a partial output behind to prove it gets removed.
		_ = os.WriteFile(dst, []byte("partial"), 0o600)
		return errors.New("invalid data found when processing input")
	}
	a := NewAdapter(AdapterProps{SpeechToText: &stubSTT{}, TempDir: dir, Convert: failing, LookPath: found})

	res := a.Transcribe(context.Background(), strings.NewReader("garbage"), "voice.m4a")

	var terr *TranscriptionError
	if !errors.As(res.Err, &terr) {
		t.Fatalf("expected TranscriptionError, got %v", res.Err)
	}
	if terr.Stage != "convert" {
		t.Errorf("expected convert stage, got %s", terr.Stage)
	}
	if !strings.HasPrefix(res.Display(), "Error during transcription") {
		t.Errorf("unexpected display %q", res.Display())
	}
	assertEmptyDir(t, dir)
}

func TestTranscribeSpeechToTextFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	stt := &stubSTT{err: errors.New("401 unauthorized")}
	a := NewAdapter(AdapterProps{SpeechToText: stt, TempDir: dir, Convert: copyConvert, LookPath: found})

	res := a.Transcribe(context.Background(), strings.NewReader("audio"), "voice.wav")

	var terr *TranscriptionError
	if !errors.As(res.Err, &terr) || terr.Stage != "speech-to-text" {
		t.Fatalf("expected speech-to-text TranscriptionError, got %v", res.Err)
	}
	assertEmptyDir(t, dir)
}

func TestTranscribeRejectsUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	a := NewAdapter(AdapterProps{SpeechToText: &stubSTT{}, TempDir: dir, Convert: copyConvert, LookPath: found})

	res := a.Transcribe(context.Background(), strings.NewReader("x"), "notes.txt")
	if res.OK() {
		t.Fatal("expected failure for unsupported format")
	}
	assertEmptyDir(t, dir)
}

func TestTranscribeRejectsEmptyUpload(t *testing.T) {
	dir := t.TempDir()
	stt := &stubSTT{}
	a := NewAdapter(AdapterProps{SpeechToText: stt, TempDir: dir, Convert: copyConvert, LookPath: found})

	res := a.Transcribe(context.Background(), strings.NewReader(""), "voice.wav")
	if res.OK() {
		t.Fatal("expected failure for empty upload")
	}
	if stt.calls.Load() != 0 {
		t.Error("speech-to-text should not be called")
	}
	assertEmptyDir(t, dir)
}
