package httpapi

import (
	"errors"
	"net/http"
	"path/filepath"

	"coachdev/coach"
	"coachdev/logger"
	"coachdev/session"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxUploadBytes = 25 << 20

type HandlerProps struct {
	Logger *logger.LogMiddleware
	Coach  *coach.Coach
}

type Handler struct {
	logger *logger.LogMiddleware
	coach  *coach.Coach
}

type chatRequest struct {
	Message string `json:"message"`
}

type responseRequest struct {
	Response string `json:"response"`
}

type storyRequest struct {
	Story string `json:"story"`
}

type presentationRequest struct {
	Input string `json:"input"`
}

type feedbackResponse struct {
	Prompt   string `json:"prompt,omitempty"`
	Feedback string `json:"feedback"`
}

type chatResponse struct {
	Reply   string            `json:"reply"`
	History []session.Message `json:"history"`
}

type promptResponse struct {
	Prompt string `json:"prompt"`
}

type transcriptResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewRouter(args HandlerProps) http.Handler {
	h := &Handler{logger: args.Logger, coach: args.Coach}
	if h.logger == nil {
		h.logger = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLoggerMiddleware(h.logger))

	r.Get("/healthz", h.health)
	r.Post("/transcribe", h.transcribe)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.endSession)
			r.Post("/chat", h.chat)
			r.Post("/impromptu/prompt", h.newImpromptuPrompt)
			r.Post("/impromptu", h.impromptu)
			r.Post("/conflict/prompt", h.newConflictPrompt)
			r.Post("/conflict", h.conflict)
			r.Post("/storytelling", h.storytelling)
			r.Post("/presentation", h.presentation)
		})
	})

	return otelhttp.NewHandler(r, "coach-api")
}

func requestLoggerMiddleware(logger *logger.LogMiddleware) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger.Logger(ctx).Info("Request Received", zap.String("url", r.URL.Path), zap.String("method", r.Method))
			next.ServeHTTP(w, r)
			logger.Logger(ctx).Info("Request Completed", zap.String("path", r.URL.Path), zap.String("method", r.Method))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError shows the user-facing message, never the raw error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, coach.ErrEmptyInput):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	}

	h.logger.Logger(r.Context()).Warn("[HTTP] Interaction failed", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, errorResponse{Error: coach.UserMessage(err)})
}

func decode(r *http.Request, v interface{}) error {
	return sonic.ConfigDefault.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.coach.Sessions().Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.coach.Sessions().Len(),
	})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	s := h.coach.Sessions().Create()
	h.logger.SessionLogger(r.Context(), s.ID).Info("[HTTP] Session started")
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	if err := h.coach.Sessions().End(chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	reply, err := h.coach.SendChatMessage(r.Context(), s, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, History: s.History()})
}

func (h *Handler) newImpromptuPrompt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{Prompt: s.NewImpromptuPrompt()})
}

func (h *Handler) newConflictPrompt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{Prompt: s.NewConflictPrompt()})
}

func (h *Handler) impromptu(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req responseRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	feedback, topic, err := h.coach.SubmitImpromptu(r.Context(), s, req.Response)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Prompt: topic, Feedback: feedback})
}

func (h *Handler) conflict(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req responseRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	feedback, scenario, err := h.coach.SubmitConflict(r.Context(), s, req.Response)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Prompt: scenario, Feedback: feedback})
}

func (h *Handler) storytelling(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req storyRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	feedback, err := h.coach.SubmitStory(r.Context(), s, req.Story)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Feedback: feedback})
}

func (h *Handler) presentation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req presentationRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	feedback, err := h.coach.AssessPresentation(r.Context(), s, req.Input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Feedback: feedback})
}

// transcribe accepts a multipart upload in the "audio" field.
func (h *Handler) transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Upload your voice recording (wav, mp3, or m4a) in the \"audio\" field."})
		return
	}
	defer file.Close()

	res := h.coach.Transcribe(r.Context(), file, filepath.Base(header.Filename))
	if !res.OK() {
		h.logger.Logger(r.Context()).Warn("[HTTP] Transcription failed", zap.Error(res.Err))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: res.Display()})
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Text: res.Text})
}
