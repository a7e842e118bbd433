package sim

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/quotes"
)

type profile struct {
	base       float64
	volatility float64
	volume     int64
}

var defaultProfiles = map[string]profile{
	"AAPL":  {base: 206.80, volatility: 0.025, volume: 15_000_000},
	"MSFT":  {base: 415.75, volatility: 0.022, volume: 12_000_000},
	"NVDA":  {base: 450.00, volatility: 0.035, volume: 10_000_000},
	"GOOGL": {base: 172.50, volatility: 0.028, volume: 8_000_000},
	"TSLA":  {base: 248.40, volatility: 0.045, volume: 20_000_000},
	"AMZN":  {base: 186.30, volatility: 0.027, volume: 9_000_000},
}

// Provider returns deterministic simulated quotes derived from the clock.
// Every well-formed symbol has a quote, and it supports every optional capability.
type Provider struct {
	clock func() time.Time
}

// New returns a simulated provider. A nil clock uses time.Now.
func New(clock func() time.Time) *Provider {
	return &Provider{clock: clock}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "sim"
}

// IsConfigured always reports true.
func (p *Provider) IsConfigured() bool {
	return true
}

// GetQuote returns the simulated quote for symbol at the current clock.
func (p *Provider) GetQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quote := p.quoteAt(symbol, p.now())
	return &quote, nil
}

// GetMultipleQuotes returns quotes in the order requested.
func (p *Provider) GetMultipleQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	return quotes.FetchEach(ctx, symbols, p.GetQuote)
}

// GetHistoricalData returns one daily candle per day in [from, to).
func (p *Provider) GetHistoricalData(ctx context.Context, symbol string, from, to time.Time, resolution string) ([]quotes.Candle, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	step := 24 * time.Hour
	if resolution == "60" {
		step = time.Hour
	}
	var candles []quotes.Candle
	for at := from.UTC(); at.Before(to); at = at.Add(step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		open := p.quoteAt(symbol, at)
		last := p.quoteAt(symbol, at.Add(step-time.Minute))
		high := decimal.Max(open.Price, last.Price).Mul(decimal.NewFromFloat(1.005)).Round(2)
		low := decimal.Min(open.Price, last.Price).Mul(decimal.NewFromFloat(0.995)).Round(2)
		candles = append(candles, quotes.Candle{
			Time:   at,
			Open:   open.Price,
			High:   high,
			Low:    low,
			Close:  last.Price,
			Volume: last.Volume,
		})
	}
	return candles, nil
}

// GetOptionsChain returns five strikes either side of the money.
func (p *Provider) GetOptionsChain(ctx context.Context, symbol string, expiration time.Time) (*quotes.OptionsChain, error) {
	quote, err := p.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if expiration.IsZero() {
		expiration = nextFriday(p.now())
	}
	chain := &quotes.OptionsChain{Symbol: quote.Symbol, Expiration: expiration}
	step := strikeStep(quote.Price)
	atm := quote.Price.Div(step).Round(0).Mul(step)
	days := math.Max(expiration.Sub(p.now()).Hours()/24, 1)
	for i := -5; i <= 5; i++ {
		strike := atm.Add(step.Mul(decimal.NewFromInt(int64(i))))
		if !strike.IsPositive() {
			continue
		}
		chain.Calls = append(chain.Calls, p.contract(quote, "call", strike, expiration, days))
		chain.Puts = append(chain.Puts, p.contract(quote, "put", strike, expiration, days))
	}
	return chain, nil
}

// GetWheelStrategyData returns out-of-the-money puts and calls for the wheel strategy.
func (p *Provider) GetWheelStrategyData(ctx context.Context, symbol string) (*quotes.WheelStrategyData, error) {
	chain, err := p.GetOptionsChain(ctx, symbol, time.Time{})
	if err != nil {
		return nil, err
	}
	quote := p.quoteAt(chain.Symbol, p.now())
	data := &quotes.WheelStrategyData{
		Symbol:      chain.Symbol,
		Quote:       quote,
		GeneratedAt: p.now(),
	}
	for _, put := range chain.Puts {
		if put.Strike.LessThan(quote.Price) {
			data.CashSecuredPuts = append(data.CashSecuredPuts, put)
		}
	}
	for _, call := range chain.Calls {
		if call.Strike.GreaterThan(quote.Price) {
			data.CoveredCalls = append(data.CoveredCalls, call)
		}
	}
	return data, nil
}

func (p *Provider) quoteAt(symbol string, at time.Time) core.Quote {
	prof := profileFor(symbol)
	at = at.UTC().Truncate(time.Minute)
	phase := float64(seed(symbol)%360) * math.Pi / 180
	minutes := float64(at.Hour()*60 + at.Minute())
	day := float64(at.YearDay())

	drift := math.Sin(day/7+phase) * prof.volatility
	intraday := math.Sin(minutes/390*2*math.Pi+phase) * prof.volatility / 2
	prevClose := prof.base * (1 + math.Sin((day-1)/7+phase)*prof.volatility)
	price := prof.base * (1 + drift + intraday)
	open := prof.base * (1 + drift)

	priceD := decimal.NewFromFloat(price).Round(2)
	prevD := decimal.NewFromFloat(prevClose).Round(2)
	openD := decimal.NewFromFloat(open).Round(2)
	change := priceD.Sub(prevD)
	changePct := decimal.Zero
	if prevD.IsPositive() {
		changePct = change.Div(prevD).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return core.Quote{
		Symbol:        symbol,
		Price:         priceD,
		Change:        change,
		ChangePercent: changePct,
		Open:          openD,
		High:          decimal.Max(priceD, openD).Mul(decimal.NewFromFloat(1.002)).Round(2),
		Low:           decimal.Min(priceD, openD).Mul(decimal.NewFromFloat(0.998)).Round(2),
		PreviousClose: prevD,
		Volume:        prof.volume/390*int64(minutes) + int64(seed(symbol)%1000),
		Timestamp:     at,
		Source:        "sim",
	}
}

func (p *Provider) contract(quote *core.Quote, kind string, strike decimal.Decimal, expiration time.Time, days float64) quotes.OptionContract {
	prof := profileFor(quote.Symbol)
	iv := prof.volatility * math.Sqrt(252)
	timeValue := quote.Price.InexactFloat64() * iv * math.Sqrt(days/365) * 0.4
	intrinsic := quote.Price.Sub(strike)
	if kind == "put" {
		intrinsic = strike.Sub(quote.Price)
	}
	if intrinsic.IsNegative() {
		intrinsic = decimal.Zero
	}
	mid := intrinsic.Add(decimal.NewFromFloat(timeValue)).Round(2)
	spread := decimal.NewFromFloat(0.05)
	bid := mid.Sub(spread)
	if bid.IsNegative() {
		bid = decimal.Zero
	}
	return quotes.OptionContract{
		ContractSymbol:    quote.Symbol + expiration.Format("060102") + strings.ToUpper(kind[:1]) + strike.StringFixed(2),
		Type:              kind,
		Strike:            strike,
		Expiration:        expiration,
		Bid:               bid,
		Ask:               mid.Add(spread),
		OpenInterest:      int64(seed(quote.Symbol+strike.String()) % 5000),
		ImpliedVolatility: math.Round(iv*10000) / 10000,
	}
}

func (p *Provider) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now().UTC()
}

func profileFor(symbol string) profile {
	if prof, ok := defaultProfiles[symbol]; ok {
		return prof
	}
	h := seed(symbol)
	return profile{
		base:       20 + float64(h%50000)/100,
		volatility: 0.02 + float64(h%30)/1000,
		volume:     500_000 + int64(h%5_000_000),
	}
}

func strikeStep(price decimal.Decimal) decimal.Decimal {
	switch {
	case price.LessThan(decimal.NewFromInt(25)):
		return decimal.NewFromFloat(0.5)
	case price.LessThan(decimal.NewFromInt(200)):
		return decimal.NewFromInt(5)
	default:
		return decimal.NewFromInt(10)
	}
}

func nextFriday(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 20, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(day.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return day.AddDate(0, 0, offset)
}

func seed(value string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	return h.Sum32()
}
