package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus identifies the current trading session.
type SessionStatus string

const (
	SessionOpen       SessionStatus = "open"
	SessionClosed     SessionStatus = "closed"
	SessionPreMarket  SessionStatus = "pre-market"
	SessionAfterHours SessionStatus = "after-hours"
)

// MarketSession is derived from wall-clock time and never persisted.
type MarketSession struct {
	IsOpen    bool          `json:"is_open"`
	NextOpen  *time.Time    `json:"next_open"`
	NextClose *time.Time    `json:"next_close"`
	Status    SessionStatus `json:"current_status"`
	Timezone  string        `json:"timezone"`
}

// Quote is a validated price snapshot for one symbol.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Volume        int64           `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
}

// WatchlistItem is one persisted watchlist row.
type WatchlistItem struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Symbol       string           `json:"symbol"`
	Notes        string           `json:"notes,omitempty"`
	LastPrice    *decimal.Decimal `json:"last_price,omitempty"`
	LastQuotedAt *time.Time       `json:"last_quoted_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry in a conversation transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
}

// Insight is a scored AI analysis of a quote.
type Insight struct {
	Symbol         string    `json:"symbol"`
	Recommendation string    `json:"recommendation"`
	Score          int       `json:"score"`
	Confidence     float64   `json:"confidence"`
	Summary        string    `json:"summary"`
	Risks          []string  `json:"risks,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Report combines the latest quote with an optional insight.
type Report struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Quote       Quote     `json:"quote"`
	Insight     *Insight  `json:"insight,omitempty"`
	InsightErr  string    `json:"insight_error,omitempty"`
	Attempts    int       `json:"attempts"`
	Forced      bool      `json:"forced"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SymbolError records a per-symbol failure inside a fleet operation.
type SymbolError struct {
	Symbol  string `json:"symbol"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
