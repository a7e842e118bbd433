package ailink

import (
	"context"
	"fmt"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
)

// InsightBatcher coalesces single-quote analyses into AnalyzeBulk calls.
type InsightBatcher struct {
	service *Service
	batcher *engine.Batcher[core.Quote, *core.Insight]
}

func NewInsightBatcher(service *Service, opts engine.BatchOptions) *InsightBatcher {
	b := &InsightBatcher{service: service}
	b.batcher = engine.NewBatcher(opts, b.process)
	return b
}

// Analyze queues quote for the next bulk request and waits for its insight.
func (b *InsightBatcher) Analyze(ctx context.Context, quote core.Quote) (*core.Insight, error) {
	insight, err := b.batcher.Add(ctx, quote.Symbol, quote)
	if err != nil {
		return nil, err
	}
	if insight == nil {
		return nil, &Error{Code: CodeInvalidResponse, Message: fmt.Sprintf("no insight returned for %s", quote.Symbol)}
	}
	return insight, nil
}

// Pending returns the number of quotes waiting for a flush.
func (b *InsightBatcher) Pending() int {
	return b.batcher.Pending()
}

// Close flushes queued quotes and stops accepting new ones.
func (b *InsightBatcher) Close() {
	b.batcher.Close()
}

// process answers cached quotes locally and sends the rest in one bulk
// request. A rate-limited flush fails every queued quote.
func (b *InsightBatcher) process(ctx context.Context, quotes []core.Quote) ([]*core.Insight, error) {
	bySymbol := make(map[string]*core.Insight, len(quotes))
	misses := make([]core.Quote, 0, len(quotes))
	seen := map[string]bool{}
	for _, q := range quotes {
		if seen[q.Symbol] {
			continue
		}
		seen[q.Symbol] = true
		if cached, ok := b.service.CachedInsight(q); ok {
			bySymbol[q.Symbol] = cached
			continue
		}
		misses = append(misses, q)
	}

	if len(misses) > 0 {
		insights, err := b.service.AnalyzeBulk(ctx, misses)
		if err != nil {
			return nil, err
		}
		for i := range insights {
			bySymbol[insights[i].Symbol] = &insights[i]
		}
	}

	out := make([]*core.Insight, len(quotes))
	for i, q := range quotes {
		out[i] = bySymbol[q.Symbol]
	}
	return out, nil
}
