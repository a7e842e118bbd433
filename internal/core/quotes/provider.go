package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotelens/quotelens/internal/core"
)

var (
	// ErrNotConfigured is returned when a provider lacks credentials.
	ErrNotConfigured = errors.New("quote provider not configured")
	// ErrSymbolNotFound is returned when the upstream has no data for a symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrInvalidQuote is returned when an upstream quote fails validation.
	ErrInvalidQuote = errors.New("invalid quote")
	// ErrUnsupported is returned when a provider lacks an optional capability.
	ErrUnsupported = errors.New("capability not supported by provider")
)

// Provider is the capability set every quote upstream implements.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (*core.Quote, error)
	GetMultipleQuotes(ctx context.Context, symbols []string) ([]core.Quote, error)
	IsConfigured() bool
}

// OptionContract is one option in a chain.
type OptionContract struct {
	ContractSymbol    string          `json:"contract_symbol"`
	Type              string          `json:"type"`
	Strike            decimal.Decimal `json:"strike"`
	Expiration        time.Time       `json:"expiration"`
	Bid               decimal.Decimal `json:"bid"`
	Ask               decimal.Decimal `json:"ask"`
	OpenInterest      int64           `json:"open_interest"`
	ImpliedVolatility float64         `json:"implied_volatility"`
}

// OptionsChain groups calls and puts for one expiration.
type OptionsChain struct {
	Symbol     string           `json:"symbol"`
	Expiration time.Time        `json:"expiration"`
	Calls      []OptionContract `json:"calls"`
	Puts       []OptionContract `json:"puts"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// WheelStrategyData is opaque payload for the wheel options strategy view.
type WheelStrategyData struct {
	Symbol          string           `json:"symbol"`
	Quote           core.Quote       `json:"quote"`
	CashSecuredPuts []OptionContract `json:"cash_secured_puts"`
	CoveredCalls    []OptionContract `json:"covered_calls"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// OptionsChainProvider is an optional capability.
type OptionsChainProvider interface {
	GetOptionsChain(ctx context.Context, symbol string, expiration time.Time) (*OptionsChain, error)
}

// HistoricalProvider is an optional capability. Resolution follows the
// upstream convention ("D", "W", "60", ...).
type HistoricalProvider interface {
	GetHistoricalData(ctx context.Context, symbol string, from, to time.Time, resolution string) ([]Candle, error)
}

// WheelStrategyProvider is an optional capability.
type WheelStrategyProvider interface {
	GetWheelStrategyData(ctx context.Context, symbol string) (*WheelStrategyData, error)
}

// Unwrapper is implemented by decorators such as Breaker.
type Unwrapper interface {
	Unwrap() Provider
}

// AsOptionsChainProvider probes p and any wrapped providers.
func AsOptionsChainProvider(p Provider) (OptionsChainProvider, bool) {
	for p != nil {
		if c, ok := p.(OptionsChainProvider); ok {
			return c, true
		}
		p = unwrap(p)
	}
	return nil, false
}

// AsHistoricalProvider probes p and any wrapped providers.
func AsHistoricalProvider(p Provider) (HistoricalProvider, bool) {
	for p != nil {
		if c, ok := p.(HistoricalProvider); ok {
			return c, true
		}
		p = unwrap(p)
	}
	return nil, false
}

// AsWheelStrategyProvider probes p and any wrapped providers.
func AsWheelStrategyProvider(p Provider) (WheelStrategyProvider, bool) {
	for p != nil {
		if c, ok := p.(WheelStrategyProvider); ok {
			return c, true
		}
		p = unwrap(p)
	}
	return nil, false
}

// Capabilities lists the optional capabilities p supports.
func Capabilities(p Provider) []string {
	var caps []string
	if _, ok := AsOptionsChainProvider(p); ok {
		caps = append(caps, "options_chain")
	}
	if _, ok := AsHistoricalProvider(p); ok {
		caps = append(caps, "historical")
	}
	if _, ok := AsWheelStrategyProvider(p); ok {
		caps = append(caps, "wheel_strategy")
	}
	return caps
}

func unwrap(p Provider) Provider {
	if u, ok := p.(Unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

// ValidateQuote rejects quotes without a valid symbol, a positive price, or a timestamp.
func ValidateQuote(q *core.Quote) error {
	if q == nil {
		return fmt.Errorf("%w: nil quote", ErrInvalidQuote)
	}
	if err := core.ValidateSymbol(q.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("%w: %s price must be positive, got %s", ErrInvalidQuote, q.Symbol, q.Price.String())
	}
	if q.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s missing timestamp", ErrInvalidQuote, q.Symbol)
	}
	return nil
}

// UpstreamError is returned when a quote upstream responds with a non-2xx status.
type UpstreamError struct {
	Provider   string
	Symbol     string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "upstream error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s quote request for %s failed: status %d: %s", e.Provider, e.Symbol, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s quote request for %s failed: %s", e.Provider, e.Symbol, e.Message)
}

// PartialError reports symbols that failed inside GetMultipleQuotes while
// others succeeded.
type PartialError struct {
	Failed []core.SymbolError
}

func (e *PartialError) Error() string {
	if e == nil || len(e.Failed) == 0 {
		return "partial quote failure"
	}
	symbols := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		symbols = append(symbols, f.Symbol)
	}
	return fmt.Sprintf("quotes failed for %d symbol(s): %s", len(e.Failed), strings.Join(symbols, ", "))
}

// FetchEach implements GetMultipleQuotes on top of GetQuote. One failing
// symbol does not abort the rest; if every symbol fails the first error is returned.
func FetchEach(ctx context.Context, symbols []string, get func(ctx context.Context, symbol string) (*core.Quote, error)) ([]core.Quote, error) {
	out := make([]core.Quote, 0, len(symbols))
	var failed []core.SymbolError
	var firstErr error
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		q, err := get(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, core.SymbolError{Symbol: symbol, Code: ErrorCode(err), Message: err.Error()})
			continue
		}
		out = append(out, *q)
	}
	if len(failed) == 0 {
		return out, nil
	}
	if len(out) == 0 {
		return nil, firstErr
	}
	return out, &PartialError{Failed: failed}
}

// ErrorCode classifies quote errors for per-symbol reporting.
func ErrorCode(err error) string {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrInvalidSymbol), errors.Is(err, ErrInvalidQuote):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrSymbolNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrNotConfigured):
		return "SERVICE_UNAVAILABLE"
	case errors.As(err, &upstream) && upstream.StatusCode == 429:
		return "RATE_LIMITED"
	default:
		return "UPSTREAM_ERROR"
	}
}
