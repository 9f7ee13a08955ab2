// Package server exposes the scheduled refresh entrypoint, the market read endpoints, health and
// metrics over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polypulse/internal/logger"
	"github.com/rewired-gh/polypulse/internal/models"
	"github.com/rewired-gh/polypulse/internal/refresh"
	"github.com/rewired-gh/polypulse/internal/serving"
)

// Refresher runs one refresh cycle. *refresh.Orchestrator implements it.
type Refresher interface {
	Run(ctx context.Context) (refresh.Result, error)
}

// MarketService answers read requests. *serving.Service implements it.
type MarketService interface {
	Markets(ctx context.Context, q serving.Query) serving.Response
	Market(ctx context.Context, id string) (models.Market, bool)
}

// Auth decides who may trigger a refresh. With nothing configured every request is refused.
type Auth struct {
	Secret             string
	TrustedHeader      string
	TrustedHeaderValue string
}

// Authorized reports whether r carries the bearer secret or the trusted caller header.
func (a Auth) Authorized(r *http.Request) bool {
	if a.Secret != "" {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok && subtle.ConstantTimeCompare([]byte(token), []byte(a.Secret)) == 1 {
			return true
		}
	}
	if a.TrustedHeader != "" {
		v := r.Header.Get(a.TrustedHeader)
		if v == "" {
			return false
		}
		if a.TrustedHeaderValue == "" {
			return true
		}
		return subtle.ConstantTimeCompare([]byte(v), []byte(a.TrustedHeaderValue)) == 1
	}
	return false
}

// Options configures the handler.
type Options struct {
	Auth        Auth
	MetricsPath string
	Metrics     http.Handler // nil disables the metrics endpoint
}

type handler struct {
	refresher Refresher
	markets   MarketService
	auth      Auth
}

// NewHandler builds the HTTP routes.
func NewHandler(refresher Refresher, markets MarketService, opts Options) http.Handler {
	h := &handler{refresher: refresher, markets: markets, auth: opts.Auth}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/refresh", h.handleRefresh)
	mux.HandleFunc("GET /api/markets", h.handleMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.handleMarket)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil && opts.MetricsPath != "" {
		mux.Handle("GET "+opts.MetricsPath, opts.Metrics)
	}
	return mux
}

// New wraps handler in an http.Server.
func New(addr string, readTimeout, writeTimeout time.Duration, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}

func (h *handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Authorized(r) {
		logger.Warn("unauthorized refresh request", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
		return
	}

	res, err := h.refresher.Run(r.Context())
	switch {
	case errors.Is(err, models.ErrRefreshInProgress):
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *handler) handleMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	resp := h.markets.Markets(r.Context(), serving.Query{
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
		Limit:    max(limit, 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := h.markets.Market(r.Context(), r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "market not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}
