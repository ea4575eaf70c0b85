package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"coachdev/coach"
	"coachdev/logger"
	"coachdev/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const helpText = `Verbal Communication Skills Trainer

Pick a module, then send text or a voice note:
/chat - casual conversation practice
/impromptu - impromptu speaking on a random topic
/story - storytelling feedback
/conflict - conflict resolution scenario
/presentation - presentation assessment
/newprompt - draw a new topic or scenario
/end - end this session and clear the chat history`

type TelegramConnectProps struct {
	Logger *logger.LogMiddleware
	Coach  *coach.Coach
	Token  string
	Debug  bool
}

type Telegram struct {
	logger     *logger.LogMiddleware
	bot        *tgbotapi.BotAPI
	coach      *coach.Coach
	httpClient *http.Client
}

func Connect(ctx context.Context, args TelegramConnectProps) (*Telegram, error) {
	tracer := otel.Tracer("telegram/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	if args.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}

	bot, err := tgbotapi.NewBotAPI(args.Token)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	bot.Debug = args.Debug

	span.SetAttributes(
		attribute.String("bot.username", bot.Self.UserName),
		attribute.Bool("bot.debug", args.Debug),
	)

	args.Logger.Logger(ctx).Info("[Telegram] Bot connected successfully",
		zap.String("username", bot.Self.UserName),
		zap.Bool("debug", args.Debug),
	)

	return &Telegram{
		logger: args.Logger,
		bot:    bot,
		coach:  args.Coach,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Listen blocks until ctx is cancelled.
func (t *Telegram) Listen(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	t.logger.Logger(ctx).Info("[Telegram] Starting message listener")

	for {
		select {
		case <-ctx.Done():
			t.logger.Logger(ctx).Info("[Telegram] Shutting down listener")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (t *Telegram) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	tracer := otel.Tracer("telegram/handleMessage")
	ctx, span := tracer.Start(ctx, "handleMessage")
	defer span.End()

	if message.From == nil {
		return
	}

	chatID := message.Chat.ID
	sessionID := strconv.FormatInt(chatID, 10)
	span.SetAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.Int64("user.id", message.From.ID),
	)

	if message.IsCommand() {
		t.send(ctx, chatID, HandleCommand(t.coach.Sessions(), sessionID, message.Command()))
		return
	}

	s := t.coach.Sessions().GetOrCreate(sessionID)
	log := t.logger.SessionLogger(ctx, sessionID)

	text := message.Text
	if fileID, filename, ok := attachment(message); ok {
		transcript, err := t.transcribe(ctx, fileID, filename)
		if err != nil {
			log.Warn("[Telegram] Voice message could not be transcribed", zap.Error(err))
			t.send(ctx, chatID, coach.UserMessage(err))
			return
		}
		t.send(ctx, chatID, "Transcribed Text: "+transcript)
		text = transcript
	}

	if strings.TrimSpace(text) == "" {
		return
	}

	log.Info("[Telegram] Evaluating message", zap.String("module", string(s.Module())))

	feedback, err := t.coach.Submit(ctx, s, text)
	if err != nil {
		span.RecordError(err)
		t.send(ctx, chatID, coach.UserMessage(err))
		return
	}
	t.send(ctx, chatID, feedback)
}

// HandleCommand applies a bot command to the chat's session and returns the
// reply text.
func HandleCommand(sessions *session.Store, sessionID string, command string) string {
	if command == "end" {
		if err := sessions.End(sessionID); err != nil {
			return "There is no active session."
		}
		return "Session ended. Your chat history has been cleared."
	}

	s := sessions.GetOrCreate(sessionID)

	switch command {
	case "chat":
		s.SetModule(session.ModuleChat)
		return "Chat with AI Coach. Say anything to start."
	case "impromptu":
		s.SetModule(session.ModuleImpromptu)
		return "Impromptu Speaking. Your prompt: " + s.ImpromptuPrompt()
	case "story":
		s.SetModule(session.ModuleStorytelling)
		return "Storytelling. Tell me a story."
	case "conflict":
		s.SetModule(session.ModuleConflict)
		return "Conflict Resolution. Scenario: " + s.ConflictPrompt()
	case "presentation":
		s.SetModule(session.ModulePresentation)
		return "Presentation Assessment. Send your presentation content."
	case "newprompt":
		switch s.Module() {
		case session.ModuleImpromptu:
			return "Your prompt: " + s.NewImpromptuPrompt()
		case session.ModuleConflict:
			return "Scenario: " + s.NewConflictPrompt()
		default:
			return "Switch to /impromptu or /conflict to get a new prompt."
		}
	default:
		return helpText
	}
}

func attachment(message *tgbotapi.Message) (fileID string, filename string, ok bool) {
	switch {
	case message.Voice != nil:
		return message.Voice.FileID, "voice.oga", true
	case message.Audio != nil:
		name := message.Audio.FileName
		if filepath.Ext(name) == "" {
			name = "audio.mp3"
		}
		return message.Audio.FileID, name, true
	}
	return "", "", false
}

func (t *Telegram) transcribe(ctx context.Context, fileID string, filename string) (string, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("could not resolve voice file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not download voice file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("could not download voice file: status %d", resp.StatusCode)
	}

	res := t.coach.Transcribe(ctx, resp.Body, filename)
	if !res.OK() {
		return "", res.Err
	}
	return res.Text, nil
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Logger(ctx).Error("[Telegram] Failed to send response", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}
