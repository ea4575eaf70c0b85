package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coachdev/cache"
	"coachdev/coach"
	"coachdev/session"
	"coachdev/transcription"
)

type fixedScenarios struct{}

func (fixedScenarios) RandomImpromptuPrompt() string { return "Describe your day" }
func (fixedScenarios) RandomConflictPrompt() string  { return "Noisy neighbour" }

type echoEvaluator struct {
	err error
}

func (e echoEvaluator) EvaluateChat(ctx context.Context, history []session.Message) (string, error) {
	return "chat:" + history[len(history)-1].Text, e.err
}

func (e echoEvaluator) EvaluateImpromptu(ctx context.Context, p, r string) (string, error) {
	return "impromptu:" + p + "|" + r, e.err
}

func (e echoEvaluator) EvaluateStorytelling(ctx context.Context, s string) (string, error) {
	return "story:" + s, e.err
}

func (e echoEvaluator) EvaluateConflict(ctx context.Context, p, r string) (string, error) {
	return "conflict:" + p + "|" + r, e.err
}

func (e echoEvaluator) EvaluatePresentation(ctx context.Context, in string) (string, error) {
	return "presentation:" + in, e.err
}

type stubTranscriber struct {
	res      transcription.Result
	filename string
	body     string
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) transcription.Result {
	data, _ := io.ReadAll(audio)
	s.filename = filename
	s.body = string(data)
	return s.res
}

func newServer(t *testing.T, ev coach.Evaluator, tr coach.Transcriber) *httptest.Server {
	t.Helper()
	c := coach.New(coach.CoachProps{
		Evaluator:   ev,
		Transcriber: tr,
		Sessions:    session.NewStore(fixedScenarios{}),
	})
	srv := httptest.NewServer(NewRouter(HandlerProps{Coach: c}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createSession(t *testing.T, srv *httptest.Server) session.Snapshot {
	t.Helper()
	resp := postJSON(t, srv.URL+"/sessions", map[string]string{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var snap session.Snapshot
	decodeBody(t, resp, &snap)
	return snap
}

func TestChatFlow(t *testing.T) {
	srv := newServer(t, echoEvaluator{}, &stubTranscriber{})
	snap := createSession(t, srv)

	if snap.ImpromptuPrompt != "Describe your day" {
		t.Errorf("unexpected impromptu prompt %q", snap.ImpromptuPrompt)
	}

	resp := postJSON(t, srv.URL+"/sessions/"+snap.ID+"/chat", chatRequest{Message: "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got chatResponse
	decodeBody(t, resp, &got)
	if got.Reply != "chat:hi" {
		t.Errorf("unexpected reply %q", got.Reply)
	}
	if len(got.History) != 2 || got.History[1].Role != session.RoleAI {
		t.Errorf("unexpected history %+v", got.History)
	}
}

func TestTrainingEndpoints(t *testing.T) {
	srv := newServer(t, echoEvaluator{}, &stubTranscriber{})
	snap := createSession(t, srv)
	base := srv.URL + "/sessions/" + snap.ID

	tests := []struct {
		path string
		body interface{}
		want string
	}{
		{"/impromptu", responseRequest{Response: "It was fine"}, "impromptu:Describe your day|It was fine"},
		{"/conflict", responseRequest{Response: "Let's talk"}, "conflict:Noisy neighbour|Let's talk"},
		{"/storytelling", storyRequest{Story: "Once"}, "story:Once"},
		{"/presentation", presentationRequest{Input: "Slides"}, "presentation:Slides"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := postJSON(t, base+tt.path, tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			var got feedbackResponse
			decodeBody(t, resp, &got)
			if got.Feedback != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got.Feedback)
			}
		})
	}
}

func TestNewPromptEndpoint(t *testing.T) {
	srv := newServer(t, echoEvaluator{}, &stubTranscriber{})
	snap := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/sessions/"+snap.ID+"/conflict/prompt", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got promptResponse
	decodeBody(t, resp, &got)
	if got.Prompt != "Noisy neighbour" {
		t.Errorf("unexpected prompt %q", got.Prompt)
	}
}

func TestEmptyInputIsBadRequest(t *testing.T) {
	srv := newServer(t, echoEvaluator{}, &stubTranscriber{})
	snap := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/sessions/"+snap.ID+"/storytelling", storyRequest{Story: " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var got errorResponse
	decodeBody(t, resp, &got)
	if got.Error != "Please provide a response." {
		t.Errorf("unexpected error %q", got.Error)
	}
}

func TestModelFailureIsUserMessage(t *testing.T) {
	ev := echoEvaluator{err: &cache.ModelInvocationError{Err: errors.New("connection refused")}}
	srv := newServer(t, ev, &stubTranscriber{})
	snap := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/sessions/"+snap.ID+"/presentation", presentationRequest{Input: "Slides"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	var got errorResponse
	decodeBody(t, resp, &got)
	if strings.Contains(got.Error, "connection refused") {
		t.Errorf("raw error leaked to user: %q", got.Error)
	}
}

func TestUnknownAndEndedSession(t *testing.T) {
	srv := newServer(t, echoEvaluator{}, &stubTranscriber{})

	resp := postJSON(t, srv.URL+"/sessions/does-not-exist/chat", chatRequest{Message: "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	snap := createSession(t, srv)
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+snap.ID, nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", del.StatusCode)
	}

	get, err := http.Get(srv.URL + "/sessions/" + snap.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after end, got %d", get.StatusCode)
	}
}

func multipartUpload(t *testing.T, url, field, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte(content))
	mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTranscribeUpload(t *testing.T) {
	tr := &stubTranscriber{res: transcription.Result{Text: "hello coach"}}
	srv := newServer(t, echoEvaluator{}, tr)

	resp := multipartUpload(t, srv.URL+"/transcribe", "audio", "memo.m4a", "bytes")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got transcriptResponse
	decodeBody(t, resp, &got)
	if got.Text != "hello coach" {
		t.Errorf("unexpected transcript %q", got.Text)
	}
	if tr.filename != "memo.m4a" || tr.body != "bytes" {
		t.Errorf("transcriber got %q %q", tr.filename, tr.body)
	}
}

func TestTranscribeFailureIsDescriptive(t *testing.T) {
	tr := &stubTranscriber{res: transcription.Result{Err: transcription.ErrDependencyUnavailable}}
	srv := newServer(t, echoEvaluator{}, tr)

	resp := multipartUpload(t, srv.URL+"/transcribe", "audio", "memo.wav", "bytes")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var got errorResponse
	decodeBody(t, resp, &got)
	if !strings.Contains(got.Error, "FFmpeg not found") {
		t.Errorf("unexpected error %q", got.Error)
	}
}

func TestTranscribeMissingField(t *testing.T) {
	srv := newServer(t, echoEvaluator{}, &stubTranscriber{})

	resp := multipartUpload(t, srv.URL+"/transcribe", "file", "memo.wav", "bytes")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t, echoEvaluator{}, &stubTranscriber{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
