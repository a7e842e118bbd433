package ailink

import (
	"fmt"
	"strings"

	"github.com/quotelens/quotelens/internal/core"
)

const insightSystemPrompt = `You are an equity research assistant. Analyze the quote you are given and
respond with a single JSON object and nothing else:
{"symbol": "TICKER", "recommendation": "buy|hold|sell", "score": 0-100,
 "confidence": 0.0-1.0, "summary": "two sentences", "risks": ["..."]}
Score 0 is a strong sell and 100 a strong buy.`

const bulkSystemPrompt = `You are an equity research assistant. Analyze every quote you are given and
respond with a JSON array containing one object per symbol and nothing else:
[{"symbol": "TICKER", "recommendation": "buy|hold|sell", "score": 0-100,
  "confidence": 0.0-1.0, "summary": "two sentences", "risks": ["..."]}]
Score 0 is a strong sell and 100 a strong buy.`

const chatSystemPrompt = `You are a trading assistant inside a stock watchlist application. Answer
concisely, explain the reasoning behind any view and never present an opinion
as financial advice.`

func describeQuote(q core.Quote) string {
	return fmt.Sprintf("%s price=%s change=%s (%s%%) open=%s high=%s low=%s prev_close=%s volume=%d at=%s",
		q.Symbol,
		q.Price.StringFixed(2),
		q.Change.StringFixed(2),
		q.ChangePercent.StringFixed(2),
		q.Open.StringFixed(2),
		q.High.StringFixed(2),
		q.Low.StringFixed(2),
		q.PreviousClose.StringFixed(2),
		q.Volume,
		q.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
	)
}

func insightUserPrompt(q core.Quote) string {
	return "Quote:\n" + describeQuote(q)
}

func bulkUserPrompt(quotes []core.Quote) string {
	var b strings.Builder
	b.WriteString("Quotes:\n")
	for _, q := range quotes {
		b.WriteString(describeQuote(q))
		b.WriteByte('\n')
	}
	return b.String()
}

func chatUserPrompt(req ChatRequest) string {
	var b strings.Builder
	if req.Symbol != "" {
		fmt.Fprintf(&b, "Symbol in focus: %s\n", req.Symbol)
	}
	if req.Quote != nil {
		fmt.Fprintf(&b, "Latest quote: %s\n", describeQuote(*req.Quote))
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", req.Context)
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(req.Message)
	return b.String()
}
