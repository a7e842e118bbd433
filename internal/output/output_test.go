package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quotelens/quotelens/internal/core"
)

var at = time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleQuotes() QuoteResult {
	return QuoteResult{
		Quotes: []core.Quote{{
			Symbol:        "AAPL",
			Price:         decimal.RequireFromString("189.2"),
			Change:        decimal.RequireFromString("1.5"),
			ChangePercent: decimal.RequireFromString("0.8"),
			Volume:        1200,
			Timestamp:     at,
		}},
		Errors: []core.SymbolError{{Symbol: "ZZZZ", Code: "NOT_FOUND", Message: "symbol not found"}},
	}
}

func TestQuotesTable(t *testing.T) {
	rendered, err := Quotes(FormatTable, sampleQuotes())
	require.NoError(t, err)
	require.Contains(t, rendered, "189.20")
	require.Contains(t, rendered, "+1.50")
	require.Contains(t, rendered, "+0.80%")
	require.Contains(t, rendered, "NOT_FOUND")
	require.Contains(t, rendered, "1 FAILED")
}

func TestQuotesJSON(t *testing.T) {
	rendered, err := Quotes(FormatJSON, sampleQuotes())
	require.NoError(t, err)

	var decoded QuoteResult
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded.Quotes, 1)
	require.Equal(t, "ZZZZ", decoded.Errors[0].Symbol)
}

func TestQuotesMarkdown(t *testing.T) {
	rendered, err := Quotes(FormatMarkdown, sampleQuotes())
	require.NoError(t, err)
	require.Contains(t, rendered, "| AAPL |")
}

func TestWatchlistEmpty(t *testing.T) {
	rendered, err := Watchlist(FormatTable, nil)
	require.NoError(t, err)
	require.Contains(t, rendered, "(empty)")

	rendered, err = Watchlist(FormatJSON, nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}

func TestReportsShowInsightError(t *testing.T) {
	rendered, err := Reports(FormatTable, ReportResult{Reports: []core.Report{{
		Symbol:     "TSLA",
		Quote:      core.Quote{Price: decimal.NewFromInt(250)},
		InsightErr: "no ai providers configured",
		Attempts:   2,
	}}})
	require.NoError(t, err)
	require.Contains(t, rendered, "insight unavailable")
	require.Contains(t, rendered, "250.00")
}

func TestCallLogsCountsLastMinute(t *testing.T) {
	logs := []core.CallLogState{{
		Endpoint:  "quotes",
		Calls:     []time.Time{at.Add(-2 * time.Minute), at.Add(-30 * time.Second), at.Add(-time.Second)},
		UpdatedAt: at,
	}}
	rendered, err := CallLogs(FormatJSON, logs, 5, at)
	require.NoError(t, err)
	require.Contains(t, rendered, `"calls_last_minute": 2`)
	require.Contains(t, rendered, `"remaining": 3`)
}

func TestChatJSON(t *testing.T) {
	rendered, err := Chat(FormatJSON, core.ChatMessage{Content: "Hold.", Timestamp: at})
	require.NoError(t, err)
	require.JSONEq(t, `{"message":"Hold.","timestamp":"2025-01-15T15:00:00Z"}`, rendered)
}
