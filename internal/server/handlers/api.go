package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/chat"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/market"
	"github.com/quotelens/quotelens/internal/core/report"
	"github.com/quotelens/quotelens/internal/core/watch"
	apperrors "github.com/quotelens/quotelens/internal/errors"
	"github.com/quotelens/quotelens/internal/observability"
	servermw "github.com/quotelens/quotelens/internal/server/middleware"
)

const maxBodyBytes = 64 << 10

// API serves the /api/v1 routes.
type API struct {
	Watch    *watch.Service
	Reports  *report.Service
	Chat     *chat.Manager
	Schedule *market.Schedule
	// Limiter is the shared quote budget.
	Limiter *engine.RateLimiter
	// ChatLimiter is the separate chat budget.
	ChatLimiter *engine.RateLimiter
	// InsightLimiter is the AI insight budget.
	InsightLimiter *engine.RateLimiter
	Breaker        report.BreakerControl
	// ResetCaches drops cached quotes after a breaker reset.
	ResetCaches    func()
	StreamInterval time.Duration
	Clock          func() time.Time
	Logger         observability.FieldLogger
}

// Routes registers the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/market/status", a.MarketStatus)

	r.Get("/quotes", a.GetQuotes)
	r.Get("/quotes/{symbol}", a.GetQuote)

	r.Route("/watchlist", func(r chi.Router) {
		r.Get("/", a.ListWatchlist)
		r.Post("/", a.AddWatchlistItem)
		r.Post("/refresh", a.RefreshWatchlist)
		r.Post("/stream/start", a.StartStream)
		r.Post("/stream/stop", a.StopStream)
		r.Get("/stream", a.StreamStatus)
		r.Delete("/{symbol}", a.RemoveWatchlistItem)
	})

	r.Post("/reports/refresh", a.RefreshReports)
	r.Get("/reports/{symbol}", a.GetReport)
	r.Post("/reports/{symbol}/refresh", a.RefreshReport)

	r.Post("/chat", a.SendChat)
	r.Get("/chat", a.ChatTranscript)
	r.Delete("/chat", a.ResetChat)

	r.Get("/limits", a.Limits)
	r.Post("/breaker/reset", a.ResetBreaker)
}

// MarketStatus returns the session at now, or at ?at=RFC3339.
func (a *API) MarketStatus(w http.ResponseWriter, r *http.Request) {
	if a.Schedule == nil {
		RespondError(w, r, apperrors.NewServiceUnavailableError("market schedule not configured"))
		return
	}
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			RespondError(w, r, apperrors.WrapValidationError(r.Context(), err, "at must be an RFC3339 timestamp"))
			return
		}
		writeJSON(w, http.StatusOK, a.Schedule.SessionAt(at))
		return
	}
	writeJSON(w, http.StatusOK, a.Schedule.Session())
}

// GetQuote returns one quote, served from cache while fresh.
func (a *API) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := a.Watch.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// GetQuotes returns quotes for ?symbols=A,B with per-symbol errors.
func (a *API) GetQuotes(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, s := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		RespondError(w, r, apperrors.NewValidationError("symbols query parameter is required"))
		return
	}
	got, failed := a.Watch.Quotes(r.Context(), symbols)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quotes": got,
		"errors": failed,
	})
}

type addWatchlistRequest struct {
	Symbol string `json:"symbol" validate:"required,ticker"`
	Notes  string `json:"notes" validate:"max=500"`
}

// ListWatchlist returns the caller's watchlist.
func (a *API) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := a.Watch.List(r.Context(), userID(r))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	if items == nil {
		items = []core.WatchlistItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// AddWatchlistItem adds {symbol, notes}; a duplicate is 409.
func (a *API) AddWatchlistItem(w http.ResponseWriter, r *http.Request) {
	var body addWatchlistRequest
	if err := decodeBody(r, &body); err != nil {
		RespondError(w, r, apperrors.WrapValidationError(r.Context(), err, "invalid request body"))
		return
	}
	if err := validateRequest(body); err != nil {
		RespondError(w, r, apperrors.WrapValidationError(r.Context(), err, err.Error()))
		return
	}
	item, err := a.Watch.Add(r.Context(), userID(r), body.Symbol, body.Notes)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// RemoveWatchlistItem deletes one symbol; a missing symbol is 404.
func (a *API) RemoveWatchlistItem(w http.ResponseWriter, r *http.Request) {
	if err := a.Watch.Remove(r.Context(), userID(r), chi.URLParam(r, "symbol")); err != nil {
		RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshWatchlist fetches every watchlist symbol once.
func (a *API) RefreshWatchlist(w http.ResponseWriter, r *http.Request) {
	result, err := a.Watch.RefreshWatchlist(r.Context(), userID(r))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StartStream starts the caller's refresh loop. ?interval= overrides the default.
func (a *API) StartStream(w http.ResponseWriter, r *http.Request) {
	interval := a.StreamInterval
	if raw := r.URL.Query().Get("interval"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			RespondError(w, r, apperrors.NewValidationError("interval must be a positive duration"))
			return
		}
		interval = parsed
	}
	status, err := a.Watch.StartStream(r.Context(), userID(r), interval)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// StopStream stops the caller's refresh loop.
func (a *API) StopStream(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	stopped := a.Watch.StopStream(user)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stopped": stopped,
		"status":  a.Watch.StreamStatus(user),
	})
}

// StreamStatus returns the caller's loop status and latest quotes.
func (a *API) StreamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Watch.StreamStatus(userID(r)))
}

// GetReport returns the stored report for a symbol.
func (a *API) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := a.Reports.Get(r.Context(), userID(r), chi.URLParam(r, "symbol"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RefreshReport rebuilds a report. ?force=true resets an open breaker and
// bypasses the cache; ?no_ai=true skips the insight.
func (a *API) RefreshReport(w http.ResponseWriter, r *http.Request) {
	opts, err := refreshOptions(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	rep, err := a.Reports.Refresh(r.Context(), userID(r), chi.URLParam(r, "symbol"), opts)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// RefreshReports rebuilds reports for the whole watchlist.
func (a *API) RefreshReports(w http.ResponseWriter, r *http.Request) {
	opts, err := refreshOptions(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	user := userID(r)
	symbols, err := a.Watch.Symbols(r.Context(), user)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	if len(symbols) == 0 {
		RespondError(w, r, watch.ErrEmptyWatchlist)
		return
	}
	reports, failed := a.Reports.RefreshAll(r.Context(), user, symbols, opts)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"errors":  failed,
	})
}

type chatRequest struct {
	Message string `json:"message"`
	Symbol  string `json:"symbol"`
	Context string `json:"context"`
}

type chatResponse struct {
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SendChat answers one message. Both outcomes share the {message|error, timestamp} shape.
func (a *API) SendChat(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		a.writeChatError(w, r, apperrors.NewServiceUnavailableError("chat is not enabled"))
		return
	}
	var body chatRequest
	if err := decodeBody(r, &body); err != nil {
		a.writeChatError(w, r, apperrors.WrapValidationError(r.Context(), err, "invalid request body"))
		return
	}
	msg, err := a.Chat.Session(userID(r)).SendMessage(r.Context(), body.Message, body.Symbol, body.Context)
	if err != nil {
		a.writeChatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Message: msg.Content, Timestamp: msg.Timestamp})
}

// ChatTranscript returns the caller's messages and last error.
func (a *API) ChatTranscript(w http.ResponseWriter, r *http.Request) {
	if a.Chat == nil {
		RespondError(w, r, apperrors.NewServiceUnavailableError("chat is not enabled"))
		return
	}
	session := a.Chat.Session(userID(r))
	body := map[string]interface{}{"messages": session.Messages()}
	if err := session.Err(); err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// ResetChat clears the caller's transcript.
func (a *API) ResetChat(w http.ResponseWriter, r *http.Request) {
	if a.Chat != nil {
		a.Chat.Reset(userID(r))
	}
	w.WriteHeader(http.StatusNoContent)
}

// LimitStatus describes one rate limiter.
type LimitStatus struct {
	Limit             int   `json:"limit"`
	Remaining         int   `json:"remaining"`
	RetryAfterSeconds int   `json:"retry_after_seconds"`
	Rejected          int64 `json:"rejected"`
}

// Limits reports remaining calls, the breaker, and the market session.
func (a *API) Limits(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"quotes": limitStatus(a.Limiter),
	}
	if a.ChatLimiter != nil {
		body["chat"] = limitStatus(a.ChatLimiter)
	}
	if a.InsightLimiter != nil {
		body["insight"] = limitStatus(a.InsightLimiter)
	}
	if a.Breaker != nil {
		body["breaker"] = a.Breaker.Status()
	}
	if a.Schedule != nil {
		body["market"] = a.Schedule.Session()
	}
	writeJSON(w, http.StatusOK, body)
}

// ResetBreaker force-closes the breaker and drops cached quotes.
func (a *API) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	if a.Breaker == nil {
		RespondError(w, r, apperrors.NewServiceUnavailableError("circuit breaker not configured"))
		return
	}
	a.Breaker.ForceReset()
	if a.ResetCaches != nil {
		a.ResetCaches()
	}
	observability.OrNop(a.Logger).Warn("Circuit breaker reset by API request",
		zap.String("user_id", userID(r)),
		zap.String("request_id", servermw.GetRequestID(r.Context())))
	writeJSON(w, http.StatusOK, a.Breaker.Status())
}

func (a *API) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	envelope := DomainEnvelope(r.Context(), err)
	message := envelope.Message
	var passthrough *gferrors.ErrorEnvelope
	if !stderrors.As(err, &passthrough) && (envelope.Code == apperrors.CodeValidation || envelope.Code == apperrors.CodeRateLimited) {
		message = err.Error()
	}
	writeJSON(w, apperrors.HTTPStatusFromEnvelope(envelope), chatResponse{
		Error:     message,
		Code:      envelope.Code,
		Timestamp: a.now(),
	})
}

func (a *API) now() time.Time {
	if a.Clock != nil {
		return a.Clock().UTC()
	}
	return time.Now().UTC()
}

func limitStatus(l *engine.RateLimiter) LimitStatus {
	return LimitStatus{
		Limit:             l.Limit(),
		Remaining:         l.RemainingCalls(),
		RetryAfterSeconds: int(math.Ceil(l.RetryAfter().Seconds())),
		Rejected:          l.Rejected(),
	}
}

func refreshOptions(r *http.Request) (report.RefreshOptions, error) {
	var opts report.RefreshOptions
	for name, dst := range map[string]*bool{"force": &opts.Force, "no_ai": &opts.SkipAI} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, apperrors.NewValidationError(name + " must be a boolean")
		}
		*dst = v
	}
	return opts, nil
}

func userID(r *http.Request) string {
	return servermw.GetUserID(r.Context())
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return stderrors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
