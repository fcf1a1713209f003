package core

import (
	"time"
)

// SlotState is the lifecycle state of the single rewarded-ad slot.
type SlotState string

const (
	SlotEmpty   SlotState = "empty"
	SlotLoading SlotState = "loading"
	SlotReady   SlotState = "ready"
	SlotShowing SlotState = "showing"
	// SlotFailed is a pseudo-state. It only appears in transition events and
	// always resolves to SlotEmpty before the slot lock is released.
	SlotFailed SlotState = "failed"
)

// HoldsHandle reports whether a slot in this state must carry a loaded ad.
func (s SlotState) HoldsHandle() bool {
	return s == SlotReady || s == SlotShowing
}

// GateReason explains why a gate decision was reached.
type GateReason string

const (
	ReasonAdsDisabled           GateReason = "ads_disabled"
	ReasonRewardEarned          GateReason = "reward_earned"
	ReasonAdUnavailableFallback GateReason = "ad_unavailable_fallback"
)

// DefaultAdsEnabled is the value of the ads-enabled preference when nothing
// durable has been recorded or the store cannot be read.
const DefaultAdsEnabled = true

// AdHandle is an opaque reference to an ad instance loaded by a provider.
type AdHandle interface {
	ID() string
}

// Reward is the payload a provider reports when the viewer earns the reward.
type Reward struct {
	Amount int    `json:"amount"`
	Type   string `json:"type"`
}

// GateDecision is the immutable outcome of one reward request.
type GateDecision struct {
	Granted   bool       `json:"granted"`
	Reason    GateReason `json:"reason"`
	RequestID string     `json:"request_id,omitempty"`
	Reward    *Reward    `json:"reward,omitempty"`
	// Dismissed is set when the viewer closed the ad before earning the reward.
	Dismissed bool      `json:"dismissed,omitempty"`
	Time      time.Time `json:"time"`
}

func newDecision(granted bool, reason GateReason, requestID string) GateDecision {
	return GateDecision{Granted: granted, Reason: reason, RequestID: requestID, Time: time.Now().UTC()}
}

// AdsDisabledDecision grants access because the user turned ad gating off.
func AdsDisabledDecision(requestID string) GateDecision {
	return newDecision(true, ReasonAdsDisabled, requestID)
}

// FallbackDecision grants access because no ad could be shown.
func FallbackDecision(requestID string) GateDecision {
	return newDecision(true, ReasonAdUnavailableFallback, requestID)
}

// DismissedDecision is the outcome of a show cycle closed without reward.
func DismissedDecision(requestID string, granted bool) GateDecision {
	d := newDecision(granted, ReasonAdUnavailableFallback, requestID)
	d.Dismissed = true
	return d
}

// RewardDecision grants access after a confirmed reward.
func RewardDecision(requestID string, r Reward) GateDecision {
	d := newDecision(true, ReasonRewardEarned, requestID)
	d.Reward = &r
	return d
}

// SlotSnapshot is a read-only copy of the ad slot taken under its lock.
type SlotSnapshot struct {
	State            SlotState `json:"state"`
	HasHandle        bool      `json:"has_handle"`
	HandleID         string    `json:"handle_id,omitempty"`
	PendingRequestID string    `json:"pending_request_id,omitempty"`
}

// Consistent reports whether the handle invariant holds for the snapshot.
func (s SlotSnapshot) Consistent() bool {
	return s.HasHandle == s.State.HoldsHandle()
}

// LoadResult is the single resolution of a provider load request.
type LoadResult struct {
	Handle AdHandle
	Err    error
}

// ShowEventKind enumerates provider notifications during a show cycle.
type ShowEventKind string

const (
	ShowClicked             ShowEventKind = "clicked"
	ShowImpression          ShowEventKind = "impression"
	ShowShowedFullscreen    ShowEventKind = "showed_fullscreen"
	ShowFailedToShow        ShowEventKind = "failed_to_show"
	ShowDismissedFullscreen ShowEventKind = "dismissed_fullscreen"
	ShowRewardEarned        ShowEventKind = "reward_earned"
)

// ShowEvent is a one-way notification emitted by a provider while an ad is on screen.
type ShowEvent struct {
	Kind   ShowEventKind `json:"kind"`
	Reason string        `json:"reason,omitempty"`
	Reward Reward        `json:"reward,omitempty"`
}

// Terminal reports whether the event can end a show cycle.
func (e ShowEvent) Terminal() bool {
	switch e.Kind {
	case ShowFailedToShow, ShowDismissedFullscreen, ShowRewardEarned:
		return true
	}
	return false
}
