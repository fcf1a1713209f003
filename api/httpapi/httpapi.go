package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	wsadapter "adgate/adapters/websocket"
	"adgate/core"
	"adgate/idgen"
	"adgate/realtime"
)

// Gate is the controller surface served over HTTP.
type Gate interface {
	RequestReward(ctx context.Context) (core.GateDecision, error)
	RecordEngagement() int64
	SetAdsEnabled(ctx context.Context, enabled bool) error
	AdsEnabled() bool
	EngagementCount() int64
	State() core.SlotSnapshot
	Ping(ctx context.Context) error
}

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// JWTSecret, if set, also accepts HS256 bearer tokens signed with it.
	JWTSecret string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup evicts limiters idle for this long. Zero keeps them forever.
	RateLimitCleanup time.Duration
	// RewardTimeout bounds how long POST /rewards waits for a decision. Zero waits
	// as long as the client stays connected.
	RewardTimeout time.Duration
	Logger        *slog.Logger
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	AdsEnabled      bool              `json:"ads_enabled"`
	EngagementCount int64             `json:"engagement_count"`
	Slot            core.SlotSnapshot `json:"slot"`
}

// NewMux builds an http.Handler exposing the reward gate and its event stream.
// Routes:
//   - GET      {prefix}/healthz
//   - GET      {prefix}/state
//   - POST     {prefix}/engagements
//   - POST     {prefix}/rewards
//   - PUT|POST {prefix}/preferences/ads-enabled?enabled=true
//   - WS       {prefix}/ws
func NewMux(gate Gate, hub *realtime.Hub, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		healthCheck(w, r, gate)
	})

	route(http.MethodGet, "/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, StateResponse{
			AdsEnabled:      gate.AdsEnabled(),
			EngagementCount: gate.EngagementCount(),
			Slot:            gate.State(),
		})
	})

	route(http.MethodPost, "/engagements", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"count": gate.RecordEngagement()})
	})

	route(http.MethodPost, "/rewards", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if opts.RewardTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.RewardTimeout)
			defer cancel()
		}
		d, err := gate.RequestReward(ctx)
		if err != nil {
			// The show keeps running; its decision still reaches event subscribers.
			log.Warn("reward request ended before a decision", "error", err, "http_request_id", requestID(r))
			writeError(w, http.StatusGatewayTimeout, "decision_pending", "ad still showing; watch the event stream for the decision", nil)
			return
		}
		writeJSON(w, d)
	})

	setEnabled := func(w http.ResponseWriter, r *http.Request) {
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_enabled", "enabled must be a boolean", nil)
			return
		}
		if err := gate.SetAdsEnabled(r.Context(), enabled); err != nil {
			status, code := http.StatusInternalServerError, "internal"
			if errors.Is(err, core.ErrStorageUnavailable) {
				status, code = http.StatusServiceUnavailable, "storage_unavailable"
			}
			log.Error("failed to persist ads preference", "error", err, "http_request_id", requestID(r))
			writeError(w, status, code, err.Error(), nil)
			return
		}
		writeJSON(w, map[string]any{"ads_enabled": gate.AdsEnabled()})
	}
	route(http.MethodPut, "/preferences/ads-enabled", setEnabled)
	route(http.MethodPost, "/preferences/ads-enabled", setEnabled)

	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	var handler http.Handler = mux
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, newClientLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
	}
	if len(opts.APIKeys) > 0 || opts.JWTSecret != "" {
		handler = withAuth(handler, opts.APIKeys, []byte(opts.JWTSecret))
	}
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	return withRequestID(handler)
}

// Helpers

// healthCheck verifies the preference store can be read and the slot is coherent.
func healthCheck(w http.ResponseWriter, r *http.Request, gate Gate) {
	checks := map[string]any{"storage": "ok", "slot": "ok"}
	status := map[string]any{"status": "healthy", "checks": checks}
	code := http.StatusOK

	if err := gate.Ping(r.Context()); err != nil {
		checks["storage"] = "failed"
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if snap := gate.State(); !snap.Consistent() {
		checks["slot"] = "inconsistent"
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	return strings.TrimSuffix(prefix, "/") + path
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// withRequestID tags every request with a caller-supplied or generated id.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = idgen.Must(idgen.HTTPPrefix)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key,X-Request-ID")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a token bucket per client key.
func withRateLimit(next http.Handler, limiter *clientLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientKey(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(limiter.retryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
