package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

type Role string

const (
	RoleUser Role = "User"
	RoleAI   Role = "AI"
)

type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type Module string

const (
	ModuleChat         Module = "chat"
	ModuleImpromptu    Module = "impromptu"
	ModuleStorytelling Module = "storytelling"
	ModuleConflict     Module = "conflict"
	ModulePresentation Module = "presentation"
)

// ScenarioSource draws impromptu topics and conflict scenarios.
type ScenarioSource interface {
	RandomImpromptuPrompt() string
	RandomConflictPrompt() string
}

// Session is one user's practice state. It is never shared with another
// session; the methods are safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu              sync.Mutex
	scenarios       ScenarioSource
	history         []Message
	impromptuPrompt string
	conflictPrompt  string
	module          Module
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Module          Module    `json:"module"`
	ImpromptuPrompt string    `json:"impromptu_prompt"`
	ConflictPrompt  string    `json:"conflict_prompt"`
	History         []Message `json:"history"`
}

func newSession(id string, scenarios ScenarioSource, now time.Time) *Session {
	return &Session{
		ID:              id,
		CreatedAt:       now,
		scenarios:       scenarios,
		impromptuPrompt: scenarios.RandomImpromptuPrompt(),
		conflictPrompt:  scenarios.RandomConflictPrompt(),
		module:          ModuleChat,
	}
}

func (s *Session) Append(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: role, Text: text})
}

// AppendUser adds a user message and returns a copy of the full history.
func (s *Session) AppendUser(text string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: RoleUser, Text: text})
	return append([]Message(nil), s.history...)
}

func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

func (s *Session) ImpromptuPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impromptuPrompt
}

func (s *Session) ConflictPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictPrompt
}

func (s *Session) NewImpromptuPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.impromptuPrompt = s.scenarios.RandomImpromptuPrompt()
	return s.impromptuPrompt
}

func (s *Session) NewConflictPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflictPrompt = s.scenarios.RandomConflictPrompt()
	return s.conflictPrompt
}

func (s *Session) Module() Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.module
}

func (s *Session) SetModule(m Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.module = m
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:              s.ID,
		CreatedAt:       s.CreatedAt,
		Module:          s.module,
		ImpromptuPrompt: s.impromptuPrompt,
		ConflictPrompt:  s.conflictPrompt,
		History:         append([]Message(nil), s.history...),
	}
}

// Store keeps sessions for the lifetime of the process only.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	scenarios ScenarioSource
	now       func() time.Time
}

func NewStore(scenarios ScenarioSource) *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		scenarios: scenarios,
		now:       time.Now,
	}
}

func (st *Store) Create() *Session {
	s := newSession(uuid.New().String(), st.scenarios, st.now())

	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
	return s
}

func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetOrCreate is used by surfaces that bring their own ids, such as a chat id.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s := newSession(id, st.scenarios, st.now())
	st.sessions[id] = s
	return s
}

// End drops the session and with it the chat history.
func (st *Store) End(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(st.sessions, id)
	return nil
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
