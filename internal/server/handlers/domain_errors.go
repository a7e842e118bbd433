package handlers

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/quotelens/quotelens/internal/ailink"
	"github.com/quotelens/quotelens/internal/chat"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/quotes"
	"github.com/quotelens/quotelens/internal/core/store"
	"github.com/quotelens/quotelens/internal/core/watch"
	apperrors "github.com/quotelens/quotelens/internal/errors"
)

// DomainEnvelope maps service errors onto API envelopes. Envelopes pass
// through unchanged and unknown errors become INTERNAL_ERROR.
func DomainEnvelope(ctx context.Context, err error) *gferrors.ErrorEnvelope {
	var envelope *gferrors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	var (
		rateLimited *engine.RateLimitError
		upstream    *quotes.UpstreamError
		aiErr       *ailink.Error
	)
	switch {
	case err == nil:
		return apperrors.EnsureEnvelope(nil)
	case stderrors.As(err, &rateLimited):
		return apperrors.WrapRateLimited(ctx, err, "Rate limit exceeded, please wait", rateLimited.RetryAfter)
	case stderrors.Is(err, engine.ErrRateLimited):
		return apperrors.WrapRateLimited(ctx, err, "Rate limit exceeded, please wait", 0)
	case stderrors.Is(err, engine.ErrSuperseded):
		return apperrors.WrapSuperseded(ctx, err, "Request superseded by a newer request")
	case stderrors.Is(err, engine.ErrRefreshRunning):
		return apperrors.WrapConflict(ctx, err, "Refresh stream already running")
	case stderrors.Is(err, store.ErrAlreadyExists):
		return apperrors.WrapConflict(ctx, err, "Symbol already on watchlist")
	case stderrors.Is(err, store.ErrNotFound), stderrors.Is(err, quotes.ErrSymbolNotFound):
		return apperrors.WrapNotFound(ctx, err, err.Error())
	case stderrors.Is(err, core.ErrInvalidSymbol), stderrors.Is(err, chat.ErrInvalidMessage), stderrors.Is(err, watch.ErrEmptyWatchlist):
		return apperrors.WrapValidationError(ctx, err, err.Error())
	case stderrors.Is(err, quotes.ErrCircuitOpen):
		return apperrors.WrapServiceUnavailable(ctx, err, "Quote provider temporarily unavailable")
	case stderrors.Is(err, quotes.ErrNotConfigured), stderrors.Is(err, quotes.ErrUnsupported),
		stderrors.Is(err, watch.ErrNoStore), stderrors.Is(err, engine.ErrCoordinatorStopped),
		stderrors.Is(err, ailink.ErrNoProviders):
		return apperrors.WrapServiceUnavailable(ctx, err, err.Error())
	case stderrors.As(err, &aiErr):
		switch aiErr.Code {
		case ailink.CodeNotConfigured, ailink.CodeProviderUnavailable:
			return apperrors.WrapServiceUnavailable(ctx, err, "AI provider unavailable")
		case ailink.CodeProviderTimeout:
			return apperrors.WrapTimeout(ctx, err, "AI provider timed out")
		default:
			return apperrors.WrapUpstream(ctx, err, "AI provider request failed")
		}
	case stderrors.As(err, &upstream), stderrors.Is(err, quotes.ErrInvalidQuote):
		return apperrors.WrapUpstream(ctx, err, "Quote provider request failed")
	case stderrors.Is(err, sql.ErrConnDone), stderrors.Is(err, sql.ErrTxDone), stderrors.Is(err, driver.ErrBadConn):
		return apperrors.WrapDatabaseError(ctx, err, "Database unavailable")
	case stderrors.Is(err, context.DeadlineExceeded):
		return apperrors.WrapTimeout(ctx, err, "Request timed out")
	default:
		return apperrors.WrapInternal(ctx, err, "Internal server error")
	}
}

// DomainStatus returns the HTTP status DomainEnvelope would produce.
func DomainStatus(ctx context.Context, err error) int {
	return apperrors.HTTPStatusFromEnvelope(DomainEnvelope(ctx, err))
}

// RespondError writes err as a domain envelope. Every route, including the
// router's 404 and 405 handlers, responds through it.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithEnvelope(w, r, DomainEnvelope(r.Context(), err))
}
