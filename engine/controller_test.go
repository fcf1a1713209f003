package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adgate/core"
)

type fakeHandle string

func (h fakeHandle) ID() string { return string(h) }

// fakeProvider records load and show requests and lets the test resolve them.
type fakeProvider struct {
	mu     sync.Mutex
	loads  []func(core.LoadResult)
	issued int
	shows  []func(core.ShowEvent)
	showCh chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{showCh: make(chan struct{}, 64)}
}

func (f *fakeProvider) Load(_ context.Context, _ string, done func(core.LoadResult)) {
	f.mu.Lock()
	f.loads = append(f.loads, done)
	f.issued++
	f.mu.Unlock()
}

func (f *fakeProvider) Show(_ context.Context, _ core.AdHandle, emit func(core.ShowEvent)) {
	f.mu.Lock()
	f.shows = append(f.shows, emit)
	f.mu.Unlock()
	f.showCh <- struct{}{}
}

func (f *fakeProvider) loadsIssued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

func (f *fakeProvider) pendingLoads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

// resolveLoad completes the oldest outstanding load.
func (f *fakeProvider) resolveLoad(res core.LoadResult) bool {
	f.mu.Lock()
	if len(f.loads) == 0 {
		f.mu.Unlock()
		return false
	}
	done := f.loads[0]
	f.loads = f.loads[1:]
	f.mu.Unlock()
	done(res)
	return true
}

func (f *fakeProvider) emit(ev core.ShowEvent) {
	f.mu.Lock()
	emit := f.shows[len(f.shows)-1]
	f.mu.Unlock()
	emit(ev)
}

type stubStore struct {
	mu       sync.Mutex
	value    *bool
	readErr  error
	writeErr error
}

func (s *stubStore) ReadAdsEnabled(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return false, s.readErr
	}
	if s.value == nil {
		return false, core.ErrPreferenceNotSet
	}
	return *s.value, nil
}

func (s *stubStore) WriteAdsEnabled(_ context.Context, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.value = &v
	return nil
}

type harness struct {
	ctrl      *Controller
	provider  *fakeProvider
	store     *stubStore
	mu        sync.Mutex
	decisions []core.GateDecision
	events    []core.Event
}

func newHarness(t *testing.T, cfg ControllerConfig) *harness {
	t.Helper()
	h := &harness{provider: newFakeProvider(), store: &stubStore{}}
	bus := NewEventBus(DispatchSync)
	prefs := NewPreferences(context.Background(), h.store, bus, nil)
	h.ctrl = NewController(h.provider, prefs, NewEngagementCounter(bus), bus, cfg)
	bus.SubscribeMany(core.AllEventTypes, func(_ context.Context, ev core.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
		if ev.Type == core.EventGateDecision {
			h.decisions = append(h.decisions, *ev.Decision)
		}
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) decisionCount(reason core.GateReason) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, d := range h.decisions {
		if d.Reason == reason {
			n++
		}
	}
	return n
}

func (h *harness) eventsOf(typ core.EventType) []core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []core.Event
	for _, ev := range h.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// startShow loads an ad and begins a reward request, returning its result channel.
func (h *harness) startShow(t *testing.T) <-chan core.GateDecision {
	t.Helper()
	if h.ctrl.State().State == core.SlotEmpty {
		h.ctrl.Initialize()
	}
	require.True(t, h.provider.resolveLoad(core.LoadResult{Handle: fakeHandle("ad-1")}))
	require.Equal(t, core.SlotReady, h.ctrl.State().State)

	out := make(chan core.GateDecision, 1)
	go func() {
		d, err := h.ctrl.RequestReward(context.Background())
		if err == nil {
			out <- d
		}
	}()
	select {
	case <-h.provider.showCh:
	case <-time.After(time.Second):
		t.Fatal("ad was not shown")
	}
	require.Equal(t, core.SlotShowing, h.ctrl.State().State)
	return out
}

func waitDecision(t *testing.T, ch <-chan core.GateDecision) core.GateDecision {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("no decision")
	}
	return core.GateDecision{}
}

func TestInitializeStartsSingleLoad(t *testing.T) {
	h := newHarness(t, ControllerConfig{UnitID: "unit"})
	h.ctrl.Initialize()
	h.ctrl.Initialize()

	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)
	assert.Equal(t, 1, h.provider.loadsIssued())
	assert.NotEmpty(t, h.ctrl.State().PendingRequestID)
}

func TestRequestRewardAdsDisabled(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	h.ctrl.Initialize()
	require.True(t, h.provider.resolveLoad(core.LoadResult{Handle: fakeHandle("ad-1")}))
	require.NoError(t, h.ctrl.SetAdsEnabled(context.Background(), false))

	d, err := h.ctrl.RequestReward(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, core.ReasonAdsDisabled, d.Reason)
	assert.Equal(t, core.SlotReady, h.ctrl.State().State, "slot must not be touched")
	assert.Equal(t, 1, h.provider.loadsIssued())
}

func TestRequestRewardBeforeLoadCompletes(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	h.ctrl.Initialize()

	for i := 0; i < 2; i++ {
		d, err := h.ctrl.RequestReward(context.Background())
		require.NoError(t, err)
		assert.True(t, d.Granted)
		assert.Equal(t, core.ReasonAdUnavailableFallback, d.Reason)
	}
	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)
	assert.Equal(t, 1, h.provider.loadsIssued(), "no concurrent loads")
}

func TestRequestRewardFromEmptyStartsLoad(t *testing.T) {
	h := newHarness(t, ControllerConfig{})

	d, err := h.ctrl.RequestReward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.ReasonAdUnavailableFallback, d.Reason)
	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)
	assert.Equal(t, 1, h.provider.loadsIssued())
	assert.Equal(t, d.RequestID, h.ctrl.State().PendingRequestID)
}

func TestTerminalShowOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		event   core.ShowEvent
		reason  core.GateReason
		granted bool
		deny    bool
	}{
		{name: "reward", event: core.ShowEvent{Kind: core.ShowRewardEarned, Reward: core.Reward{Amount: 1, Type: "unlock"}}, reason: core.ReasonRewardEarned, granted: true},
		{name: "dismissed", event: core.ShowEvent{Kind: core.ShowDismissedFullscreen}, reason: core.ReasonAdUnavailableFallback, granted: true},
		{name: "dismissed deny", event: core.ShowEvent{Kind: core.ShowDismissedFullscreen}, reason: core.ReasonAdUnavailableFallback, granted: false, deny: true},
		{name: "failed to show", event: core.ShowEvent{Kind: core.ShowFailedToShow, Reason: "expired"}, reason: core.ReasonAdUnavailableFallback, granted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ControllerConfig{DenyOnDismiss: tt.deny})
			out := h.startShow(t)

			h.provider.emit(tt.event)
			d := waitDecision(t, out)

			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.granted, d.Granted)
			snap := h.ctrl.State()
			assert.Equal(t, core.SlotLoading, snap.State)
			assert.False(t, snap.HasHandle)
			assert.Equal(t, 2, h.provider.loadsIssued(), "exactly one re-arm load")
			assert.Equal(t, 1, h.provider.pendingLoads())
		})
	}
}

func TestRewardThenDismissProducesOneDecision(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	out := h.startShow(t)

	h.provider.emit(core.ShowEvent{Kind: core.ShowImpression})
	h.provider.emit(core.ShowEvent{Kind: core.ShowRewardEarned, Reward: core.Reward{Amount: 5, Type: "coins"}})
	h.provider.emit(core.ShowEvent{Kind: core.ShowDismissedFullscreen})

	d := waitDecision(t, out)
	require.Equal(t, core.ReasonRewardEarned, d.Reason)
	require.NotNil(t, d.Reward)
	assert.Equal(t, 5, d.Reward.Amount)

	assert.Equal(t, 1, h.decisionCount(core.ReasonRewardEarned))
	assert.Equal(t, 0, h.decisionCount(core.ReasonAdUnavailableFallback))
	assert.Len(t, h.eventsOf(core.EventRewardEarned), 1)
	dismissed := h.eventsOf(core.EventAdDismissed)
	require.Len(t, dismissed, 1)
	assert.Equal(t, true, dismissed[0].Metadata["rewarded"])
	assert.Len(t, h.eventsOf(core.EventAdShowEvent), 1)
	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)
	assert.Equal(t, 2, h.provider.loadsIssued())
}

func TestSecondCallerDuringShowGetsFallback(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	out := h.startShow(t)

	d, err := h.ctrl.RequestReward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.ReasonAdUnavailableFallback, d.Reason)
	assert.True(t, d.Granted)
	assert.Equal(t, core.SlotShowing, h.ctrl.State().State)
	assert.Equal(t, 1, h.provider.loadsIssued())

	h.provider.emit(core.ShowEvent{Kind: core.ShowRewardEarned})
	assert.Equal(t, core.ReasonRewardEarned, waitDecision(t, out).Reason)
}

func TestDisablingAdsDuringShow(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	out := h.startShow(t)

	require.NoError(t, h.ctrl.SetAdsEnabled(context.Background(), false))
	assert.Equal(t, core.SlotShowing, h.ctrl.State().State)

	h.provider.emit(core.ShowEvent{Kind: core.ShowRewardEarned})
	assert.Equal(t, core.ReasonRewardEarned, waitDecision(t, out).Reason)

	d, err := h.ctrl.RequestReward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.ReasonAdsDisabled, d.Reason)
}

func TestCallerContextCanceledDuringShow(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	h.ctrl.Initialize()
	require.True(t, h.provider.resolveLoad(core.LoadResult{Handle: fakeHandle("ad-1")}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.ctrl.RequestReward(ctx)
		errCh <- err
	}()
	<-h.provider.showCh
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, core.SlotShowing, h.ctrl.State().State, "show is not aborted")

	h.provider.emit(core.ShowEvent{Kind: core.ShowRewardEarned})
	assert.Equal(t, 1, h.decisionCount(core.ReasonRewardEarned))
	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)
}

func TestLoadFailureRetriesImmediately(t *testing.T) {
	h := newHarness(t, ControllerConfig{Retry: DefaultRetryPolicy()})
	h.ctrl.Initialize()

	require.True(t, h.provider.resolveLoad(core.LoadResult{Err: errors.New("no fill")}))
	require.Eventually(t, func() bool { return h.provider.loadsIssued() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)

	failed := h.eventsOf(core.EventAdLoadFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "rewarded ad failed to load: no fill", failed[0].Error)

	var sawFailed bool
	for _, ev := range h.eventsOf(core.EventSlotStateChanged) {
		if ev.To == core.SlotFailed {
			sawFailed = true
		}
	}
	assert.True(t, sawFailed)
	assert.Equal(t, 0, h.decisionCount(core.ReasonAdUnavailableFallback))
}

func TestRetriesStopAfterMaxAndResumeOnDemand(t *testing.T) {
	h := newHarness(t, ControllerConfig{Retry: RetryPolicy{MaxRetries: 1}})
	h.ctrl.Initialize()

	require.True(t, h.provider.resolveLoad(core.LoadResult{Err: errors.New("timeout")}))
	require.Eventually(t, func() bool { return h.provider.loadsIssued() == 2 }, time.Second, 5*time.Millisecond)
	require.True(t, h.provider.resolveLoad(core.LoadResult{Err: errors.New("timeout")}))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.provider.loadsIssued())
	assert.Equal(t, core.SlotEmpty, h.ctrl.State().State)

	d, err := h.ctrl.RequestReward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.ReasonAdUnavailableFallback, d.Reason)
	assert.Equal(t, 3, h.provider.loadsIssued())
	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)
}

func TestStaleLoadResultIgnored(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	h.ctrl.Initialize()

	var done func(core.LoadResult)
	h.provider.mu.Lock()
	done = h.provider.loads[0]
	h.provider.mu.Unlock()

	require.True(t, h.provider.resolveLoad(core.LoadResult{Handle: fakeHandle("ad-1")}))
	done(core.LoadResult{Handle: fakeHandle("ad-2")})

	snap := h.ctrl.State()
	assert.Equal(t, core.SlotReady, snap.State)
	assert.Equal(t, "ad-1", snap.HandleID)
}

func TestRecordEngagementConcurrent(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	const workers, perWorker = 16, 250

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				h.ctrl.RecordEngagement()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(workers*perWorker), h.ctrl.EngagementCount())
}

func TestHandleInvariantUnderRandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h := newHarness(t, ControllerConfig{Retry: RetryPolicy{MaxRetries: 3}})
			h.ctrl.Initialize()

			var wg sync.WaitGroup
			showEvents := []core.ShowEvent{
				{Kind: core.ShowImpression},
				{Kind: core.ShowRewardEarned},
				{Kind: core.ShowDismissedFullscreen},
				{Kind: core.ShowFailedToShow},
			}
			shows := 0
			for step := 0; step < 200; step++ {
				switch rng.Intn(6) {
				case 0:
					if h.ctrl.State().State == core.SlotReady && h.ctrl.AdsEnabled() {
						wg.Add(1)
						go func() {
							defer wg.Done()
							_, _ = h.ctrl.RequestReward(context.Background())
						}()
						<-h.provider.showCh
						shows++
					} else {
						_, err := h.ctrl.RequestReward(context.Background())
						require.NoError(t, err)
					}
				case 1:
					h.provider.resolveLoad(core.LoadResult{Handle: fakeHandle(fmt.Sprintf("ad-%d", step))})
				case 2:
					h.provider.resolveLoad(core.LoadResult{Err: errors.New("no fill")})
				case 3:
					if shows > 0 {
						h.provider.emit(showEvents[rng.Intn(len(showEvents))])
					}
				case 4:
					_ = h.ctrl.SetAdsEnabled(context.Background(), rng.Intn(2) == 0)
				case 5:
					h.ctrl.RecordEngagement()
				}
				snap := h.ctrl.State()
				require.True(t, snap.Consistent(), "step %d: %+v", step, snap)
				require.LessOrEqual(t, h.provider.pendingLoads(), 1, "step %d", step)
			}
			if shows > 0 {
				h.provider.emit(core.ShowEvent{Kind: core.ShowDismissedFullscreen})
			}
			wg.Wait()
		})
	}
}

func TestCloseDetachesFromProvider(t *testing.T) {
	h := newHarness(t, ControllerConfig{})
	h.ctrl.Initialize()
	h.ctrl.Close()

	require.True(t, h.provider.resolveLoad(core.LoadResult{Handle: fakeHandle("ad-1")}))
	assert.Equal(t, core.SlotLoading, h.ctrl.State().State)
	assert.Empty(t, h.eventsOf(core.EventAdLoaded))

	d, err := h.ctrl.RequestReward(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, core.ReasonAdUnavailableFallback, d.Reason)
	assert.Equal(t, 1, h.provider.loadsIssued())
}

func TestSlotEventsFollowStateOrderDuringImmediateRetry(t *testing.T) {
	h := newHarness(t, ControllerConfig{Retry: DefaultRetryPolicy()})
	var mu sync.Mutex
	var seen []core.SlotState
	h.ctrl.Subscribe(core.EventSlotStateChanged, func(_ context.Context, ev core.Event) {
		if ev.To == core.SlotFailed {
			// hold the flush open so the immediate retry races it
			time.Sleep(50 * time.Millisecond)
		}
		mu.Lock()
		seen = append(seen, ev.To)
		mu.Unlock()
	})
	h.ctrl.Initialize()

	require.True(t, h.provider.resolveLoad(core.LoadResult{Err: errors.New("no fill")}))
	require.Eventually(t, func() bool { return h.provider.loadsIssued() == 2 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.SlotState{core.SlotLoading, core.SlotFailed, core.SlotEmpty, core.SlotLoading}, seen)
	assert.Equal(t, h.ctrl.State().State, seen[len(seen)-1])
}
