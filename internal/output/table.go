package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"github.com/quotelens/quotelens/internal/core"
)

// QuoteResult is a set of quotes plus the symbols that failed.
type QuoteResult struct {
	Quotes []core.Quote       `json:"quotes"`
	Errors []core.SymbolError `json:"errors,omitempty"`
}

// ReportResult is a set of reports plus the symbols that failed.
type ReportResult struct {
	Reports []core.Report      `json:"reports"`
	Errors  []core.SymbolError `json:"errors,omitempty"`
}

// Quotes renders quotes with change columns and a row per failure.
func Quotes(format Format, result QuoteResult) (string, error) {
	return render(format, result, func(t table.Writer) {
		t.AppendHeader(table.Row{"Symbol", "Price", "Change", "Change %", "Volume", "As Of"})
		for _, q := range result.Quotes {
			t.AppendRow(table.Row{
				q.Symbol,
				q.Price.StringFixed(2),
				signed(q.Change),
				signed(q.ChangePercent) + "%",
				q.Volume,
				stamp(q.Timestamp),
			})
		}
		appendFailures(t, result.Errors, 6)
	})
}

// Watchlist renders watchlist items with their last known price.
func Watchlist(format Format, items []core.WatchlistItem) (string, error) {
	if items == nil {
		items = []core.WatchlistItem{}
	}
	return render(format, items, func(t table.Writer) {
		t.AppendHeader(table.Row{"Symbol", "Last Price", "Quoted", "Notes", "Added"})
		for _, item := range items {
			price, quoted := "-", "-"
			if item.LastPrice != nil {
				price = item.LastPrice.StringFixed(2)
			}
			if item.LastQuotedAt != nil {
				quoted = stamp(*item.LastQuotedAt)
			}
			t.AppendRow(table.Row{item.Symbol, price, quoted, item.Notes, stamp(item.CreatedAt)})
		}
		if len(items) == 0 {
			t.AppendRow(table.Row{"(empty)", "", "", "", ""})
		}
	})
}

// Reports renders one row per report with its insight summary.
func Reports(format Format, result ReportResult) (string, error) {
	return render(format, result, func(t table.Writer) {
		t.AppendHeader(table.Row{"Symbol", "Price", "Recommendation", "Score", "Summary", "Attempts"})
		for _, r := range result.Reports {
			rec, score, summary := "-", "-", "-"
			switch {
			case r.Insight != nil:
				rec = r.Insight.Recommendation
				score = fmt.Sprintf("%d", r.Insight.Score)
				summary = r.Insight.Summary
			case r.InsightErr != "":
				summary = "insight unavailable: " + r.InsightErr
			}
			t.AppendRow(table.Row{r.Symbol, r.Quote.Price.StringFixed(2), rec, score, summary, r.Attempts})
		}
		appendFailures(t, result.Errors, 6)
	})
}

// Session renders the market session.
func Session(format Format, session core.MarketSession) (string, error) {
	return render(format, session, func(t table.Writer) {
		t.AppendHeader(table.Row{"Status", "Open", "Next Open", "Next Close", "Timezone"})
		t.AppendRow(table.Row{session.Status, session.IsOpen, optionalStamp(session.NextOpen), optionalStamp(session.NextClose), session.Timezone})
	})
}

// CallLogs renders persisted limiter call logs against the per-minute limit.
func CallLogs(format Format, logs []core.CallLogState, limit int, now time.Time) (string, error) {
	type row struct {
		Endpoint  string    `json:"endpoint"`
		Recent    int       `json:"calls_last_minute"`
		Remaining int       `json:"remaining"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	rows := make([]row, 0, len(logs))
	for _, l := range logs {
		recent := 0
		for _, c := range l.Calls {
			if now.Sub(c) < time.Minute {
				recent++
			}
		}
		remaining := limit - recent
		if remaining < 0 {
			remaining = 0
		}
		rows = append(rows, row{Endpoint: l.Endpoint, Recent: recent, Remaining: remaining, UpdatedAt: l.UpdatedAt})
	}
	return render(format, rows, func(t table.Writer) {
		t.AppendHeader(table.Row{"Endpoint", "Calls (1m)", "Remaining", "Updated"})
		for _, r := range rows {
			t.AppendRow(table.Row{r.Endpoint, r.Recent, r.Remaining, stamp(r.UpdatedAt)})
		}
		if len(rows) == 0 {
			t.AppendRow(table.Row{"(no stored call logs)", "", "", ""})
		}
	})
}

func appendFailures(t table.Writer, failed []core.SymbolError, width int) {
	for _, f := range failed {
		row := make(table.Row, width)
		row[0] = f.Symbol
		row[1] = f.Code
		row[width-1] = f.Message
		for i := 2; i < width-1; i++ {
			row[i] = ""
		}
		t.AppendRow(row)
	}
	if len(failed) > 0 {
		footer := make(table.Row, width)
		footer[0] = fmt.Sprintf("%d failed", len(failed))
		for i := 1; i < width; i++ {
			footer[i] = ""
		}
		t.AppendFooter(footer)
	}
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalStamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return stamp(*t)
}

// Chat renders an assistant reply with a timestamp line.
func Chat(format Format, msg core.ChatMessage) (string, error) {
	if format == FormatJSON {
		return render(format, map[string]any{"message": msg.Content, "timestamp": msg.Timestamp}, nil)
	}
	return strings.TrimSpace(msg.Content) + "\n\n(" + stamp(msg.Timestamp) + ")", nil
}

// Check is one line of a self-check report.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Checks renders self-check results.
func Checks(format Format, checks []Check) (string, error) {
	return render(format, checks, func(t table.Writer) {
		t.AppendHeader(table.Row{"Check", "Status", "Detail"})
		for _, c := range checks {
			status := "ok"
			if !c.OK {
				status = "FAIL"
			}
			t.AppendRow(table.Row{c.Name, status, c.Detail})
		}
	})
}
