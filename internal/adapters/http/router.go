package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/book-qa-assistant/internal/config"
	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
	"github.com/kirillkom/book-qa-assistant/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg       config.Config
	qa        ports.QuestionAnswerer
	cache     ports.CacheAdmin
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
	logger    *slog.Logger
}

type askPayload struct {
	Query   string         `json:"query"`
	History domain.History `json:"history,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func NewRouter(
	cfg config.Config,
	qa ports.QuestionAnswerer,
	cache ports.CacheAdmin,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       cfg,
		qa:        qa,
		cache:     cache,
		metrics:   httpMetrics,
		validator: validator,
		logger:    logger,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/ask", rt.ask)
	mux.HandleFunc("POST /v1/ask/stream", rt.askStream)
	mux.HandleFunc("GET /v1/books", rt.listBooks)
	mux.HandleFunc("DELETE /v1/cache", rt.clearCache)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	handler = bodyLimitMiddleware(handler)
	handler = apiOnly(handler, func(next http.Handler) http.Handler {
		return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait, rt.recordRejected)
	})
	handler = apiOnly(handler, func(next http.Handler) http.Handler {
		return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.recordRejected)
	})
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAsk(w, r)
	if !ok {
		return
	}

	start := time.Now()
	answer, err := rt.qa.Answer(r.Context(), req)
	if err != nil {
		rt.writeFailure(w, r, "ask", err)
		return
	}
	rt.recordAnswer("ask", answer, time.Since(start))
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) askStream(w http.ResponseWriter, r *http.Request) {
	stream, ok := newEventStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}
	req, ok := decodeAsk(w, r)
	if !ok {
		return
	}

	start := time.Now()
	answer, err := rt.qa.AnswerStream(r.Context(), req, func(delta string) error {
		return stream.send("delta", deltaEvent{Text: delta})
	})
	if err != nil {
		if !stream.started {
			rt.writeFailure(w, r, "ask_stream", err)
			return
		}
		status := mapErrorToHTTPStatus(err)
		rt.logger.Error("ask_stream_failed", "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
		_ = stream.send("error", errorBody{Error: errorMessage(status, err)})
		return
	}

	rt.recordAnswer("ask_stream", answer, time.Since(start))
	if err := stream.send("answer", answer); err != nil {
		rt.logger.Warn("ask_stream_write_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		return
	}
	_ = stream.done()
}

func (rt *Router) listBooks(w http.ResponseWriter, _ *http.Request) {
	books := rt.qa.Books()
	if books == nil {
		books = []domain.Book{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": books})
}

func (rt *Router) clearCache(w http.ResponseWriter, r *http.Request) {
	if rt.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache is not configured")
		return
	}
	if err := rt.cache.ClearCache(r.Context()); err != nil {
		rt.writeFailure(w, r, "clear_cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (rt *Router) writeFailure(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{"request_id", requestIDFromContext(r.Context()), "operation", operation, "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed", attrs...)
	} else {
		rt.logger.Warn("request_failed", attrs...)
	}
	writeError(w, status, errorMessage(status, err))
}

func (rt *Router) recordAnswer(endpoint string, answer *domain.Answer, duration time.Duration) {
	if rt.metrics == nil || answer == nil {
		return
	}
	rt.metrics.RecordAnswer(serviceName, endpoint, string(answer.Intent), answerOutcome(answer), len(answer.Sources), duration)
}

func (rt *Router) recordRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func answerOutcome(answer *domain.Answer) string {
	switch {
	case answer.Cached:
		return "cached"
	case answer.Refused:
		return "refused"
	default:
		return "answered"
	}
}

func decodeAsk(w http.ResponseWriter, r *http.Request) (domain.AskRequest, bool) {
	var payload askPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return domain.AskRequest{}, false
	}
	return domain.AskRequest{Query: payload.Query, History: payload.History}, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
