package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/completion"
	"github.com/sells-group/campaign-views/internal/config"
	"github.com/sells-group/campaign-views/internal/earnings"
	"github.com/sells-group/campaign-views/internal/model"
	"github.com/sells-group/campaign-views/internal/monitoring"
	"github.com/sells-group/campaign-views/internal/ratelimit"
	"github.com/sells-group/campaign-views/internal/store"
	"github.com/sells-group/campaign-views/internal/tracking"
)

type viewTracker interface {
	TrackAndAccount(ctx context.Context, campaignID, promoterID, sourceAddress, userAgent string) (string, error)
	GetUniqueViewStats(ctx context.Context, campaignID, promoterID string) (*model.UniqueViewStats, error)
}

type manualCompleter interface {
	ManuallyComplete(ctx context.Context, campaignID string) (*store.CompletionResult, error)
}

type earningsReconciler interface {
	ReconcileAll(ctx context.Context) (*earnings.Summary, error)
}

type payoutService interface {
	Eligible(ctx context.Context) ([]model.EarningsRecord, error)
	MarkExecuted(ctx context.Context, recordID string, amountCents int64, reference string) (*model.EarningsRecord, error)
}

type metricsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// server holds the dependencies of the HTTP handlers.
type server struct {
	tracker    viewTracker
	completer  manualCompleter
	reconciler earningsReconciler
	payouts    payoutService
	metrics    metricsCollector
	limiter    ratelimit.Limiter
	policy     ratelimit.Policy
	cfg        config.ServerConfig
	lookback   int
	log        *zap.Logger
}

func newRouter(s *server) http.Handler {
	if s.log == nil {
		s.log = zap.L().With(zap.String("component", "http"))
	}
	if s.cfg.VisitorCookie == "" {
		s.cfg.VisitorCookie = ratelimit.DefaultVisitorCookie
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v/{campaignID}/{promoterID}", s.handleVisit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.cfg.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				MaxAge:         300,
			}))
			r.Get("/campaigns/{campaignID}/unique-views", s.handleStats)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/campaigns/{campaignID}/complete", s.handleComplete)
			r.Post("/reconcile", s.handleReconcile)
			r.Get("/payouts/eligible", s.handleEligiblePayouts)
			r.Post("/payouts/{recordID}/executed", s.handleMarkPayout)
			r.Get("/metrics", s.handleMetrics)
		})
	})
	return r
}

func (s *server) handleVisit(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	promoterID := chi.URLParam(r, "promoterID")
	addr := ratelimit.SourceAddress(r.Header, r.RemoteAddr)

	token, ok := ratelimit.VisitorToken(r, s.cfg.VisitorCookie)
	if !ok {
		http.SetCookie(w, ratelimit.NewVisitorCookie(s.cfg.VisitorCookie, s.cfg.SecureCookie))
	}

	err := s.policy.Enforce(r.Context(), s.limiter, ratelimit.Visit{
		SourceAddress: addr,
		VisitorToken:  token,
		CampaignID:    campaignID,
		PromoterID:    promoterID,
	})
	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		s.log.Info("visit rate limited",
			zap.String("campaign_id", campaignID),
			zap.String("key", limitErr.Key),
		)
		secs := int(math.Ceil(limitErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, limitErr.Message)
		return
	}
	if err != nil {
		s.log.Error("rate limit check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}

	url, err := s.tracker.TrackAndAccount(r.Context(), campaignID, promoterID, addr, r.UserAgent())
	switch {
	case errors.Is(err, tracking.ErrNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	case err != nil:
		s.log.Error("track visit failed",
			zap.String("campaign_id", campaignID),
			zap.String("promoter_id", promoterID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.GetUniqueViewStats(r.Context(), chi.URLParam(r, "campaignID"), r.URL.Query().Get("promoter_id"))
	if errors.Is(err, tracking.ErrNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		s.log.Error("unique view stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.completer.ManuallyComplete(r.Context(), chi.URLParam(r, "campaignID"))
	switch {
	case errors.Is(err, completion.ErrNotFound):
		writeError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, completion.ErrAlreadyEnded):
		writeError(w, http.StatusConflict, "campaign already ended")
	case err != nil:
		s.log.Error("manual completion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to process request")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ended",
			"campaign_type": res.CampaignType,
			"completed":     res.PromoterIDs,
		})
	}
}

func (s *server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reconciler.ReconcileAll(r.Context())
	if err != nil {
		s.log.Error("reconcile failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *server) handleEligiblePayouts(w http.ResponseWriter, r *http.Request) {
	recs, err := s.payouts.Eligible(r.Context())
	if err != nil {
		s.log.Error("list eligible payouts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}
	if recs == nil {
		recs = []model.EarningsRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleMarkPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AmountCents int64  `json:"amount_cents"`
		Reference   string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.payouts.MarkExecuted(r.Context(), chi.URLParam(r, "recordID"), req.AmountCents, req.Reference)
	switch {
	case errors.Is(err, earnings.ErrInvalidPayout):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "earnings record not found")
	case errors.Is(err, store.ErrPayoutAlreadyExecuted), errors.Is(err, earnings.ErrNotEligible):
		writeError(w, http.StatusConflict, rootMessage(err))
	case err != nil:
		s.log.Error("mark payout failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to process request")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	hours := s.lookback
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	snap, err := s.metrics.Collect(r.Context(), hours)
	if err != nil {
		s.log.Error("collect metrics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to process request")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// requireAdmin checks the bearer token. Admin routes are unavailable when
// no token is configured.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// rootMessage strips wrapping context from err.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
