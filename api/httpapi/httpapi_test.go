package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adgate/core"
)

type fakeGate struct {
	mu        sync.Mutex
	enabled   bool
	count     int64
	snap      core.SlotSnapshot
	decision  core.GateDecision
	rewardErr error
	block     chan struct{}
	writeErr  error
	pingErr   error
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		enabled:  true,
		snap:     core.SlotSnapshot{State: core.SlotReady, HasHandle: true, HandleID: "ad-1"},
		decision: core.RewardDecision("show-1", core.Reward{Amount: 1, Type: "unlock"}),
	}
}

func (g *fakeGate) RequestReward(ctx context.Context) (core.GateDecision, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return core.GateDecision{}, ctx.Err()
		}
	}
	return g.decision, g.rewardErr
}

func (g *fakeGate) RecordEngagement() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	return g.count
}

func (g *fakeGate) SetAdsEnabled(_ context.Context, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writeErr != nil {
		return g.writeErr
	}
	g.enabled = enabled
	return nil
}

func (g *fakeGate) AdsEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

func (g *fakeGate) EngagementCount() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *fakeGate) State() core.SlotSnapshot   { return g.snap }
func (g *fakeGate) Ping(context.Context) error { return g.pingErr }

func serve(h http.Handler, method, target string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRewardReturnsDecision(t *testing.T) {
	handler := NewMux(newFakeGate(), nil, Options{PathPrefix: "/api"})

	rec := serve(handler, http.MethodPost, "/api/rewards")
	require.Equal(t, http.StatusOK, rec.Code)

	d := decode[core.GateDecision](t, rec)
	assert.True(t, d.Granted)
	assert.Equal(t, core.ReasonRewardEarned, d.Reason)
	require.NotNil(t, d.Reward)
	assert.Equal(t, "unlock", d.Reward.Type)
}

func TestRewardTimeout(t *testing.T) {
	gate := newFakeGate()
	gate.block = make(chan struct{})
	defer close(gate.block)
	handler := NewMux(gate, nil, Options{RewardTimeout: 10 * time.Millisecond})

	rec := serve(handler, http.MethodPost, "/rewards")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "decision_pending", decode[apiError](t, rec).Code)
}

func TestRecordEngagement(t *testing.T) {
	handler := NewMux(newFakeGate(), nil, Options{PathPrefix: "/api"})

	serve(handler, http.MethodPost, "/api/engagements")
	rec := serve(handler, http.MethodPost, "/api/engagements")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["count"])
}

func TestState(t *testing.T) {
	gate := newFakeGate()
	gate.count = 4
	handler := NewMux(gate, nil, Options{PathPrefix: "/api/"})

	rec := serve(handler, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[StateResponse](t, rec)
	assert.True(t, st.AdsEnabled)
	assert.Equal(t, int64(4), st.EngagementCount)
	assert.Equal(t, core.SlotReady, st.Slot.State)
	assert.Equal(t, "ad-1", st.Slot.HandleID)
}

func TestSetAdsEnabled(t *testing.T) {
	gate := newFakeGate()
	handler := NewMux(gate, nil, Options{PathPrefix: "/api"})

	for _, method := range []string{http.MethodPut, http.MethodPost} {
		rec := serve(handler, method, "/api/preferences/ads-enabled?enabled=false")
		require.Equal(t, http.StatusOK, rec.Code, method)
		assert.Equal(t, false, decode[map[string]any](t, rec)["ads_enabled"])
		assert.False(t, gate.AdsEnabled())
	}

	rec := serve(handler, http.MethodPut, "/api/preferences/ads-enabled?enabled=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetAdsEnabledStorageFailure(t *testing.T) {
	gate := newFakeGate()
	gate.writeErr = fmt.Errorf("%w: %w", core.ErrStorageUnavailable, errors.New("disk full"))
	handler := NewMux(gate, nil, Options{})

	rec := serve(handler, http.MethodPut, "/preferences/ads-enabled?enabled=false")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage_unavailable", decode[apiError](t, rec).Code)
	assert.True(t, gate.AdsEnabled())
}

func TestHealth(t *testing.T) {
	gate := newFakeGate()
	handler := NewMux(gate, nil, Options{})

	rec := serve(handler, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	gate.pingErr = core.ErrStorageUnavailable
	rec = serve(handler, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "failed", body["checks"].(map[string]any)["storage"])
}

func TestUnknownRoute(t *testing.T) {
	handler := NewMux(newFakeGate(), nil, Options{PathPrefix: "/api"})
	rec := serve(handler, http.MethodGet, "/api/users/alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[apiError](t, rec).Code)
}

func TestRequestIDHeader(t *testing.T) {
	handler := NewMux(newFakeGate(), nil, Options{})

	rec := serve(handler, http.MethodGet, "/state")
	assert.Regexp(t, `^req-`, rec.Header().Get("X-Request-ID"))

	rec = serve(handler, http.MethodGet, "/state", "X-Request-ID", "caller-1")
	assert.Equal(t, "caller-1", rec.Header().Get("X-Request-ID"))
}

func TestAPIKeyAuth(t *testing.T) {
	handler := NewMux(newFakeGate(), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := serve(handler, http.MethodGet, "/api/state")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(handler, http.MethodGet, "/api/state", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// preflight is answered before auth
	rec = serve(handler, http.MethodOptions, "/api/rewards")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	handler := NewMux(newFakeGate(), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec1 := serve(handler, http.MethodGet, "/api/state", "X-API-Key", "k")
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := serve(handler, http.MethodGet, "/api/state", "X-API-Key", "k")
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.Equal(t, "60", rec2.Header().Get("Retry-After"))
}

func TestClientLimiterEvictsIdleClients(t *testing.T) {
	l := newClientLimiter(60, 1, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))
	assert.Equal(t, 2, l.size())

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("c"))
	assert.Equal(t, 1, l.size())
}
