package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/ailink"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/observability"
)

// Responder produces assistant replies.
type Responder interface {
	Chat(ctx context.Context, req ailink.ChatRequest) (string, error)
}

// QuoteLookup returns the latest quote for symbol. Failures are ignored and
// the message is sent without a quote.
type QuoteLookup func(ctx context.Context, symbol string) (*core.Quote, error)

// Options configures sessions created by a Manager.
type Options struct {
	Responder   Responder
	Coordinator *engine.Coordinator[string]
	Quotes      QuoteLookup
	MaxHistory  int
	Clock       func() time.Time
	Logger      observability.FieldLogger
}

// Session is one user's transcript.
type Session struct {
	opts   Options
	logger observability.FieldLogger

	mu       sync.Mutex
	messages []core.ChatMessage
	lastErr  error
}

func newSession(opts Options) *Session {
	return &Session{opts: opts, logger: observability.OrNop(opts.Logger)}
}

// SendMessage validates and records the user message, then asks the
// responder through the coordinator. Each send uses a unique key, so chat
// is never served from cache. On failure the transcript keeps only the
// user message and Err reports the failure.
func (s *Session) SendMessage(ctx context.Context, text, symbol, extra string) (core.ChatMessage, error) {
	in, err := Validate(Input{Message: text, Symbol: symbol, Context: extra})
	if err != nil {
		return core.ChatMessage{}, err
	}

	s.mu.Lock()
	history := append([]core.ChatMessage(nil), s.messages...)
	s.messages = append(s.messages, core.ChatMessage{
		ID:        uuid.NewString(),
		Role:      core.RoleUser,
		Content:   in.Message,
		Timestamp: s.now(),
		Symbol:    in.Symbol,
	})
	s.trimLocked()
	s.lastErr = nil
	s.mu.Unlock()

	req := ailink.ChatRequest{Message: in.Message, Symbol: in.Symbol, Context: in.Context, History: history}
	if in.Symbol != "" && s.opts.Quotes != nil {
		if quote, err := s.opts.Quotes(ctx, in.Symbol); err == nil {
			req.Quote = quote
		} else {
			s.logger.Debug("Chat quote lookup failed", zap.String("symbol", in.Symbol), zap.Error(err))
		}
	}

	key := fmt.Sprintf("chat:%d-%s", s.now().UnixNano(), uuid.NewString())
	reply, err := s.opts.Coordinator.Do(ctx, key, func(ctx context.Context) (string, error) {
		return s.opts.Responder.Chat(ctx, req)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.logger.Warn("Chat message failed", zap.String("symbol", in.Symbol), zap.Error(err))
		return core.ChatMessage{}, err
	}

	msg := core.ChatMessage{
		ID:        uuid.NewString(),
		Role:      core.RoleAssistant,
		Content:   reply,
		Timestamp: s.now(),
		Symbol:    in.Symbol,
	}
	s.messages = append(s.messages, msg)
	s.trimLocked()
	return msg, nil
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []core.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ChatMessage(nil), s.messages...)
}

// Err returns the last send failure, cleared by the next send or Reset.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Reset clears the transcript and error.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.lastErr = nil
}

func (s *Session) trimLocked() {
	if limit := s.opts.MaxHistory; limit > 0 && len(s.messages) > limit {
		s.messages = append([]core.ChatMessage(nil), s.messages[len(s.messages)-limit:]...)
	}
}

func (s *Session) now() time.Time {
	if s.opts.Clock != nil {
		return s.opts.Clock().UTC()
	}
	return time.Now().UTC()
}

// Manager keys sessions by user id.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Responder == nil {
		return nil, fmt.Errorf("chat responder is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("chat coordinator is required")
	}
	if opts.Coordinator.Cache() != nil {
		return nil, fmt.Errorf("chat coordinator must not cache replies")
	}
	return &Manager{opts: opts, sessions: map[string]*Session{}}, nil
}

// Session returns the session for userID, creating it on first use.
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = newSession(m.opts)
		m.sessions[userID] = s
	}
	return s
}

// Reset clears the transcript for userID.
func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if ok {
		s.Reset()
	}
}

// Close stops the chat coordinator.
func (m *Manager) Close() {
	m.opts.Coordinator.Stop()
}
