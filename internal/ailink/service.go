package ailink

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/ailink/driver"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/observability"
)

const (
	DefaultInsightRole = "insight"
	DefaultChatRole    = "chat"

	maxChatHistory = 20
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Router      *Router
	InsightRole string
	ChatRole    string
	// LiveSearch requests live search on insight calls where the provider allows it.
	LiveSearch bool
	CacheTTL   time.Duration
	// Limiter caps insight requests. Chat is limited by its own manager.
	Limiter *engine.RateLimiter
	Clock   func() time.Time
	Logger  observability.FieldLogger
}

// ChatRequest is one chat turn with optional market context.
type ChatRequest struct {
	Message string
	Symbol  string
	Context string
	Quote   *core.Quote
	History []core.ChatMessage
}

// Service turns quotes into insights and answers chat messages.
type Service struct {
	router      *Router
	insightRole string
	chatRole    string
	liveSearch  bool
	cache       *engine.TTLCache[*core.Insight]
	limiter     *engine.RateLimiter
	clock       func() time.Time
	logger      observability.FieldLogger
}

func NewService(opts ServiceOptions) *Service {
	s := &Service{
		router:      opts.Router,
		insightRole: opts.InsightRole,
		chatRole:    opts.ChatRole,
		liveSearch:  opts.LiveSearch,
		limiter:     opts.Limiter,
		clock:       opts.Clock,
		logger:      observability.OrNop(opts.Logger),
	}
	if s.insightRole == "" {
		s.insightRole = DefaultInsightRole
	}
	if s.chatRole == "" {
		s.chatRole = DefaultChatRole
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if opts.CacheTTL > 0 {
		s.cache = engine.NewTTLCache[*core.Insight](opts.CacheTTL, s.clock)
	}
	return s
}

// Available reports whether insights can be generated.
func (s *Service) Available() bool {
	return s != nil && s.router.Available(s.insightRole)
}

// ChatAvailable reports whether chat can be served.
func (s *Service) ChatAvailable() bool {
	return s != nil && s.router.Available(s.chatRole)
}

// CachedInsight returns a cached insight for quote, if any.
func (s *Service) CachedInsight(quote core.Quote) (*core.Insight, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(insightCacheKey(quote))
}

func (s *Service) storeInsight(quote core.Quote, insight *core.Insight) {
	if s.cache != nil {
		s.cache.Set(insightCacheKey(quote), insight)
	}
}

// acquire takes an insight slot from the limiter.
func (s *Service) acquire() error {
	if s.limiter == nil || s.limiter.TryAcquire() {
		return nil
	}
	return &engine.RateLimitError{RetryAfter: s.limiter.RetryAfter()}
}

// Analyze returns a scored insight for quote.
func (s *Service) Analyze(ctx context.Context, quote core.Quote) (*core.Insight, error) {
	if cached, ok := s.CachedInsight(quote); ok {
		return cached, nil
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}

	completion, err := s.router.Complete(ctx, s.insightRole, driver.Request{
		Messages: []driver.Message{
			{Role: "system", Content: insightSystemPrompt},
			{Role: "user", Content: insightUserPrompt(quote)},
		},
		ResponseFormat: &driver.ResponseFormat{Type: "json_object"},
		LiveSearch:     s.liveSearch,
	})
	if err != nil {
		return nil, err
	}

	var raw rawInsight
	if err := decodeJSON(completion.Text, &raw); err != nil {
		return nil, &Error{Code: CodeInvalidResponse, Message: "insight response is not valid JSON", Provider: completion.ProviderID, Details: err.Error(), Err: err}
	}
	insight := s.toInsight(raw, quote.Symbol, completion)
	s.storeInsight(quote, insight)
	return insight, nil
}

// AnalyzeBulk analyzes quotes with one request. Insights come back in the
// order of quotes; symbols the provider skipped are absent. Every returned
// insight is cached.
func (s *Service) AnalyzeBulk(ctx context.Context, quotes []core.Quote) ([]core.Insight, error) {
	if len(quotes) == 0 {
		return nil, nil
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}

	completion, err := s.router.Complete(ctx, s.insightRole, driver.Request{
		Messages: []driver.Message{
			{Role: "system", Content: bulkSystemPrompt},
			{Role: "user", Content: bulkUserPrompt(quotes)},
		},
		LiveSearch: s.liveSearch,
	})
	if err != nil {
		return nil, err
	}

	raws, err := decodeInsightList(completion.Text)
	if err != nil {
		return nil, &Error{Code: CodeInvalidResponse, Message: "bulk insight response is not a JSON array", Provider: completion.ProviderID, Details: err.Error(), Err: err}
	}

	bySymbol := make(map[string]rawInsight, len(raws))
	for _, raw := range raws {
		symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
		if symbol != "" {
			bySymbol[symbol] = raw
		}
	}

	out := make([]core.Insight, 0, len(quotes))
	for _, q := range quotes {
		raw, ok := bySymbol[q.Symbol]
		if !ok {
			s.logger.Warn("Bulk insight missing symbol", zap.String("symbol", q.Symbol), zap.String("provider", completion.ProviderID))
			continue
		}
		insight := s.toInsight(raw, q.Symbol, completion)
		s.storeInsight(q, insight)
		out = append(out, *insight)
	}
	return out, nil
}

// Chat answers req. Responses are never cached.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := []driver.Message{{Role: "system", Content: chatSystemPrompt}}
	history := req.History
	if len(history) > maxChatHistory {
		history = history[len(history)-maxChatHistory:]
	}
	for _, msg := range history {
		messages = append(messages, driver.Message{Role: string(msg.Role), Content: msg.Content})
	}
	messages = append(messages, driver.Message{Role: "user", Content: chatUserPrompt(req)})

	completion, err := s.router.Complete(ctx, s.chatRole, driver.Request{Messages: messages})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return "", &Error{Code: CodeInvalidResponse, Message: "empty chat response", Provider: completion.ProviderID}
	}
	return text, nil
}

type rawInsight struct {
	Symbol         string   `json:"symbol"`
	Recommendation string   `json:"recommendation"`
	Score          float64  `json:"score"`
	Confidence     float64  `json:"confidence"`
	Summary        string   `json:"summary"`
	Risks          []string `json:"risks"`
}

func (s *Service) toInsight(raw rawInsight, symbol string, completion *Completion) *core.Insight {
	insight := &core.Insight{
		Symbol:         symbol,
		Recommendation: normalizeRecommendation(raw.Recommendation),
		Score:          clampScore(raw.Score),
		Confidence:     math.Max(0, math.Min(1, raw.Confidence)),
		Summary:        strings.TrimSpace(raw.Summary),
		Risks:          raw.Risks,
		Provider:       completion.ProviderID,
		GeneratedAt:    s.clock().UTC(),
	}
	if completion.Response != nil {
		insight.Model = completion.Model
	}
	return insight
}

func insightCacheKey(q core.Quote) string {
	return "insight:" + q.Symbol + ":" + q.Price.String()
}

func clampScore(score float64) int {
	if math.IsNaN(score) {
		return 50
	}
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func normalizeRecommendation(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy", "strong buy", "strong_buy":
		return "buy"
	case "sell", "strong sell", "strong_sell":
		return "sell"
	default:
		return "hold"
	}
}

// decodeJSON parses a model reply, tolerating markdown code fences and
// prose around the JSON value.
func decodeJSON(text string, out any) error {
	body := extractJSON(text)
	if body == "" {
		return fmt.Errorf("no JSON found in response")
	}
	return json.Unmarshal([]byte(body), out)
}

func decodeInsightList(text string) ([]rawInsight, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}
	var list []rawInsight
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapped struct {
		Insights []rawInsight `json:"insights"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Insights == nil {
		return nil, fmt.Errorf("response object has no insights array")
	}
	return wrapped.Insights, nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return ""
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return ""
	}
	return text[start : end+1]
}
