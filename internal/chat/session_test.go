package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/ailink"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
)

type stubResponder struct {
	mu       sync.Mutex
	requests []ailink.ChatRequest
	reply    string
	err      error
}

func (s *stubResponder) Chat(ctx context.Context, req ailink.ChatRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubResponder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestManager(t *testing.T, responder *stubResponder, limiter *engine.RateLimiter) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Responder:   responder,
		Coordinator: engine.NewCoordinator(engine.CoordinatorOptions[string]{Name: "chat", Limiter: limiter, Logger: zap.NewNop()}),
		Quotes: func(ctx context.Context, symbol string) (*core.Quote, error) {
			return &core.Quote{Symbol: symbol, Price: decimal.NewFromInt(242), Timestamp: time.Now()}, nil
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestSendMessageAppendsBothTurns(t *testing.T) {
	responder := &stubResponder{reply: "Covered calls cap upside."}
	session := newTestManager(t, responder, nil).Session("u1")

	msg, err := session.SendMessage(context.Background(), "  Should I sell calls?\x07 ", "TSLA", "100 shares")
	require.NoError(t, err)
	require.Equal(t, core.RoleAssistant, msg.Role)
	require.Equal(t, "Covered calls cap upside.", msg.Content)

	transcript := session.Messages()
	require.Len(t, transcript, 2)
	require.Equal(t, core.RoleUser, transcript[0].Role)
	require.Equal(t, "Should I sell calls?", transcript[0].Content)
	require.Equal(t, "TSLA", transcript[0].Symbol)
	require.NoError(t, session.Err())

	require.Len(t, responder.requests, 1)
	require.NotNil(t, responder.requests[0].Quote)
	require.Equal(t, "100 shares", responder.requests[0].Context)
	require.Empty(t, responder.requests[0].History)
}

func TestSendMessageBypassesCache(t *testing.T) {
	responder := &stubResponder{reply: "same"}
	session := newTestManager(t, responder, nil).Session("u1")

	for i := 0; i < 3; i++ {
		_, err := session.SendMessage(context.Background(), "hello", "", "")
		require.NoError(t, err)
	}
	require.Equal(t, 3, responder.count())
	require.Len(t, session.Messages(), 6)
	require.Len(t, responder.requests[2].History, 4)
}

func TestSendMessageFailureKeepsUserMessage(t *testing.T) {
	responder := &stubResponder{err: errors.New("provider down")}
	session := newTestManager(t, responder, nil).Session("u1")

	_, err := session.SendMessage(context.Background(), "hello", "", "")
	require.Error(t, err)
	require.ErrorContains(t, session.Err(), "provider down")

	transcript := session.Messages()
	require.Len(t, transcript, 1)
	require.Equal(t, core.RoleUser, transcript[0].Role)

	session.Reset()
	require.Empty(t, session.Messages())
	require.NoError(t, session.Err())
}

func TestSendMessageRateLimited(t *testing.T) {
	responder := &stubResponder{reply: "ok"}
	session := newTestManager(t, responder, engine.NewRateLimiter(1, nil)).Session("u1")

	_, err := session.SendMessage(context.Background(), "first", "", "")
	require.NoError(t, err)
	_, err = session.SendMessage(context.Background(), "second", "", "")
	require.ErrorIs(t, err, engine.ErrRateLimited)
	require.Equal(t, 1, responder.count())
}

func TestSendMessageValidationRejectsBeforeAppend(t *testing.T) {
	responder := &stubResponder{reply: "ok"}
	session := newTestManager(t, responder, nil).Session("u1")

	cases := map[string]Input{
		"empty":        {Message: "   "},
		"too long":     {Message: strings.Repeat("a", MaxMessageLength+1)},
		"bad symbol":   {Message: "hi", Symbol: "tsla"},
		"long symbol":  {Message: "hi", Symbol: "ABCDEFGHIJK"},
		"long context": {Message: "hi", Context: strings.Repeat("c", MaxContextLength+1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := session.SendMessage(context.Background(), in.Message, in.Symbol, in.Context)
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
	require.Empty(t, session.Messages())
	require.Equal(t, 0, responder.count())
}

func TestValidateCountsCharacters(t *testing.T) {
	_, err := Validate(Input{Message: strings.Repeat("é", MaxMessageLength)})
	require.NoError(t, err)

	_, err = Validate(Input{Message: "hi", Symbol: "BRK"})
	require.NoError(t, err)

	_, err = Validate(Input{Message: ""})
	assert.ErrorContains(t, err, "message is required")
}

func TestManagerSessionsArePerUser(t *testing.T) {
	m := newTestManager(t, &stubResponder{reply: "ok"}, nil)
	require.Same(t, m.Session("a"), m.Session("a"))
	require.NotSame(t, m.Session("a"), m.Session("b"))

	_, err := m.Session("a").SendMessage(context.Background(), "hi", "", "")
	require.NoError(t, err)
	m.Reset("a")
	require.Empty(t, m.Session("a").Messages())
}

func TestNewManagerRejectsCachingCoordinator(t *testing.T) {
	_, err := NewManager(Options{
		Responder:   &stubResponder{},
		Coordinator: engine.NewCoordinator(engine.CoordinatorOptions[string]{Cache: engine.NewTTLCache[string](time.Minute, nil)}),
	})
	require.Error(t, err)
}

func TestMaxHistory(t *testing.T) {
	responder := &stubResponder{reply: "ok"}
	m, err := NewManager(Options{
		Responder:   responder,
		Coordinator: engine.NewCoordinator(engine.CoordinatorOptions[string]{}),
		MaxHistory:  3,
	})
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 3; i++ {
		_, err := m.Session("u").SendMessage(context.Background(), "hi", "", "")
		require.NoError(t, err)
	}
	require.Len(t, m.Session("u").Messages(), 3)
}
