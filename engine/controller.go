package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"adgate/core"
	"adgate/idgen"
)

// ControllerConfig carries the optional knobs of a Controller.
type ControllerConfig struct {
	UnitID        string
	Logger        *slog.Logger
	Retry         RetryPolicy
	// DenyOnDismiss withholds access when the viewer closes the ad before the
	// reward. The default grants access anyway.
	DenyOnDismiss bool
}

// adSlot is the single rewarded-ad unit. handle is non-nil iff state holds one.
type adSlot struct {
	state            core.SlotState
	handle           core.AdHandle
	pendingRequestID string
}

// showCycle tracks one presentation of the slot's ad.
type showCycle struct {
	requestID string
	rewarded  bool
	resolved  bool
	done      chan core.GateDecision
}

// Controller gates premium content behind a rewarded ad. It owns the ad slot,
// serializes every transition under mu and never calls the provider or
// publishes events while holding it.
type Controller struct {
	provider AdProvider
	prefs    *Preferences
	counter  *EngagementCounter
	bus      *EventBus
	log      *slog.Logger
	unitID   string
	deny     bool

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	slot        adSlot
	cycle       *showCycle
	retry       backoff.BackOff
	retryTimer  *time.Timer
	initialized bool
	closed      bool
	// pending events are published in enqueue order by one flusher at a time.
	pending     []core.Event
	flushing    bool
}

func NewController(provider AdProvider, prefs *Preferences, counter *EngagementCounter, bus *EventBus, cfg ControllerConfig) *Controller {
	if provider == nil || prefs == nil || counter == nil || bus == nil {
		panic("NewController requires non-nil provider, preferences, counter, and bus")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		provider: provider,
		prefs:    prefs,
		counter:  counter,
		bus:      bus,
		log:      log.With("component", "adgate", "unit_id", cfg.UnitID),
		unitID:   cfg.UnitID,
		deny:     cfg.DenyOnDismiss,
		ctx:      ctx,
		cancel:   cancel,
		slot:     adSlot{state: core.SlotEmpty},
		retry:    cfg.Retry.schedule(),
	}
}

// Initialize starts pre-fetching the first ad. Later calls are ignored.
func (c *Controller) Initialize() {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		c.log.Warn("controller already initialized")
		return
	}
	c.initialized = true
	req, ok := c.beginLoadLocked()
	c.unlockAndFlush()
	if ok {
		c.issueLoad(req)
	}
}

// RequestReward decides whether gated content may be unlocked. It only waits
// while an ad is on screen; if ctx ends first the show still runs to completion
// and its decision is still published, but ctx.Err() is returned.
func (c *Controller) RequestReward(ctx context.Context) (core.GateDecision, error) {
	if !c.prefs.AdsEnabled() {
		d := core.AdsDisabledDecision("")
		c.bus.Publish(ctx, core.NewDecisionMade(d))
		return d, nil
	}

	c.mu.Lock()
	if c.closed || c.slot.state != core.SlotReady {
		req, ok := c.beginLoadLocked()
		d := core.FallbackDecision(req)
		c.pending = append(c.pending, core.NewDecisionMade(d))
		c.unlockAndFlush()
		if ok {
			c.issueLoad(req)
		}
		return d, nil
	}

	handle := c.slot.handle
	cycle := &showCycle{requestID: idgen.Must(idgen.ShowPrefix), done: make(chan core.GateDecision, 1)}
	c.cycle = cycle
	c.setSlotLocked(adSlot{state: core.SlotShowing, handle: handle})
	c.unlockAndFlush()

	c.log.Info("showing rewarded ad", "request_id", cycle.requestID, "handle_id", handle.ID())
	c.provider.Show(c.ctx, handle, func(ev core.ShowEvent) { c.onShowEvent(cycle, ev) })

	select {
	case d := <-cycle.done:
		return d, nil
	case <-ctx.Done():
		return core.GateDecision{}, ctx.Err()
	}
}

// RecordEngagement counts one user interaction and returns the new total.
func (c *Controller) RecordEngagement() int64 {
	return c.counter.Record(c.ctx)
}

// SetAdsEnabled durably records the preference. A show already on screen is unaffected.
func (c *Controller) SetAdsEnabled(ctx context.Context, enabled bool) error {
	return c.prefs.Set(ctx, enabled)
}

func (c *Controller) AdsEnabled() bool { return c.prefs.AdsEnabled() }

func (c *Controller) EngagementCount() int64 { return c.counter.Count() }

// State returns a consistent copy of the ad slot.
func (c *Controller) State() core.SlotSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := core.SlotSnapshot{
		State:            c.slot.state,
		HasHandle:        c.slot.handle != nil,
		PendingRequestID: c.slot.pendingRequestID,
	}
	if c.slot.handle != nil {
		snap.HandleID = c.slot.handle.ID()
	}
	return snap
}

// Subscribe registers a handler for controller events.
func (c *Controller) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return c.bus.Subscribe(typ, handler)
}

// Ping checks that the preference store is reachable.
func (c *Controller) Ping(ctx context.Context) error { return c.prefs.Ping(ctx) }

// Close stops pending retries and detaches from in-flight provider work.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()
	c.cancel()
	c.bus.Close()
}

// beginLoadLocked moves an empty slot to loading. It is a no-op in any other
// state, which keeps at most one load outstanding.
func (c *Controller) beginLoadLocked() (string, bool) {
	if c.closed || c.slot.state != core.SlotEmpty {
		return "", false
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	req := idgen.Must(idgen.LoadPrefix)
	c.setSlotLocked(adSlot{state: core.SlotLoading, pendingRequestID: req})
	return req, true
}

func (c *Controller) issueLoad(requestID string) {
	c.log.Debug("loading rewarded ad", "request_id", requestID)
	c.provider.Load(c.ctx, c.unitID, func(res core.LoadResult) { c.onLoaded(requestID, res) })
}

func (c *Controller) onLoaded(requestID string, res core.LoadResult) {
	c.mu.Lock()
	if c.closed || c.slot.state != core.SlotLoading || c.slot.pendingRequestID != requestID {
		c.mu.Unlock()
		c.log.Debug("discarding stale load result", "request_id", requestID)
		return
	}

	if res.Err != nil || res.Handle == nil {
		err := res.Err
		if err == nil {
			err = errors.New("provider returned no ad")
		}
		err = fmt.Errorf("%w: %w", core.ErrLoadFailed, err)
		c.setSlotLocked(adSlot{state: core.SlotFailed})
		c.setSlotLocked(adSlot{state: core.SlotEmpty})
		c.pending = append(c.pending, core.NewAdLoadFailed(requestID, err))
		delay := c.retry.NextBackOff()
		if delay != backoff.Stop {
			c.retryTimer = time.AfterFunc(delay, c.retryLoad)
		}
		c.unlockAndFlush()
		if delay == backoff.Stop {
			c.log.Warn("rewarded ad failed to load, retries exhausted", "request_id", requestID, "error", err)
		} else {
			c.log.Warn("rewarded ad failed to load", "request_id", requestID, "error", err, "retry_in", delay)
		}
		return
	}

	c.retry.Reset()
	c.setSlotLocked(adSlot{state: core.SlotReady, handle: res.Handle})
	c.pending = append(c.pending, core.NewAdLoaded(requestID, res.Handle.ID()))
	c.unlockAndFlush()
	c.log.Debug("rewarded ad ready", "request_id", requestID, "handle_id", res.Handle.ID())
}

func (c *Controller) retryLoad() {
	c.mu.Lock()
	c.retryTimer = nil
	req, ok := c.beginLoadLocked()
	c.unlockAndFlush()
	if ok {
		c.issueLoad(req)
	}
}

func (c *Controller) onShowEvent(cycle *showCycle, ev core.ShowEvent) {
	if !ev.Terminal() {
		c.mu.Lock()
		c.pending = append(c.pending, core.NewAdShowEvent(cycle.requestID, ev))
		c.unlockAndFlush()
		return
	}
	switch ev.Kind {
	case core.ShowRewardEarned:
		c.finishShow(cycle, core.RewardDecision(cycle.requestID, ev.Reward), core.NewRewardEarned(cycle.requestID, ev.Reward))
	case core.ShowDismissedFullscreen:
		c.mu.Lock()
		// The dismissal notification fires on every cycle; only an unrewarded
		// one can still decide it.
		c.pending = append(c.pending, core.NewAdDismissed(cycle.requestID, cycle.rewarded))
		c.unlockAndFlush()
		c.finishShow(cycle, core.DismissedDecision(cycle.requestID, !c.deny))
	case core.ShowFailedToShow:
		c.log.Warn("rewarded ad failed to show", "request_id", cycle.requestID, "reason", ev.Reason, "error", core.ErrShowFailed)
		c.finishShow(cycle, core.FallbackDecision(cycle.requestID), core.NewAdShowFailed(cycle.requestID, ev.Reason))
	}
}

// finishShow resolves cycle once, empties the slot and re-arms loading before
// the waiting caller is woken.
func (c *Controller) finishShow(cycle *showCycle, d core.GateDecision, events ...core.Event) {
	c.mu.Lock()
	if cycle.resolved {
		c.mu.Unlock()
		c.log.Debug("ignoring show event after cycle resolved", "request_id", cycle.requestID, "reason", d.Reason)
		return
	}
	cycle.resolved = true
	cycle.rewarded = d.Reason == core.ReasonRewardEarned

	var (
		req string
		ok  bool
	)
	if c.cycle == cycle {
		c.cycle = nil
		c.setSlotLocked(adSlot{state: core.SlotEmpty})
		req, ok = c.beginLoadLocked()
	}
	c.pending = append(c.pending, events...)
	c.pending = append(c.pending, core.NewDecisionMade(d))
	cycle.done <- d
	c.unlockAndFlush()

	c.log.Info("gate decision", "request_id", cycle.requestID, "granted", d.Granted, "reason", d.Reason)
	if ok {
		c.issueLoad(req)
	}
}

func (c *Controller) setSlotLocked(next adSlot) {
	prev := c.slot.state
	c.slot = next
	if prev != next.state {
		c.pending = append(c.pending, core.NewSlotStateChanged(prev, next.state, next.pendingRequestID))
	}
}

// unlockAndFlush releases mu and publishes queued events. If another goroutine
// is already flushing, it picks these events up after its own, so subscribers
// see transitions in the order they were applied.
func (c *Controller) unlockAndFlush() {
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.pending) > 0 {
		evs := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, ev := range evs {
			c.bus.Publish(c.ctx, ev)
		}
		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}
