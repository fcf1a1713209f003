package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventSlotStateChanged   EventType = "slot_state_changed"
	EventAdLoaded           EventType = "ad_loaded"
	EventAdLoadFailed       EventType = "ad_load_failed"
	EventAdShowEvent        EventType = "ad_show_event"
	EventRewardEarned       EventType = "reward_earned"
	EventAdDismissed        EventType = "ad_dismissed"
	EventAdShowFailed       EventType = "ad_show_failed"
	EventGateDecision       EventType = "gate_decision"
	EventEngagementRecorded EventType = "engagement_recorded"
	EventAdsEnabledChanged  EventType = "ads_enabled_changed"
)

// AllEventTypes lists every event type the controller publishes.
var AllEventTypes = []EventType{
	EventSlotStateChanged,
	EventAdLoaded,
	EventAdLoadFailed,
	EventAdShowEvent,
	EventRewardEarned,
	EventAdDismissed,
	EventAdShowFailed,
	EventGateDecision,
	EventEngagementRecorded,
	EventAdsEnabledChanged,
}

// Event represents an immutable domain event.
type Event struct {
	Type      EventType      `json:"type"`
	Time      time.Time      `json:"time"`
	RequestID string         `json:"request_id,omitempty"`
	From      SlotState      `json:"from,omitempty"`
	To        SlotState      `json:"to,omitempty"`
	HandleID  string         `json:"handle_id,omitempty"`
	ShowKind  ShowEventKind  `json:"show_kind,omitempty"`
	Reward    *Reward        `json:"reward,omitempty"`
	Decision  *GateDecision  `json:"decision,omitempty"`
	Count     int64          `json:"count,omitempty"`
	Enabled   *bool          `json:"enabled,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func now() time.Time { return time.Now().UTC() }

func NewSlotStateChanged(from, to SlotState, requestID string) Event {
	return Event{Type: EventSlotStateChanged, Time: now(), From: from, To: to, RequestID: requestID}
}

func NewAdLoaded(requestID, handleID string) Event {
	return Event{Type: EventAdLoaded, Time: now(), RequestID: requestID, HandleID: handleID}
}

func NewAdLoadFailed(requestID string, err error) Event {
	return Event{Type: EventAdLoadFailed, Time: now(), RequestID: requestID, Error: errString(err)}
}

func NewAdShowEvent(requestID string, ev ShowEvent) Event {
	return Event{Type: EventAdShowEvent, Time: now(), RequestID: requestID, ShowKind: ev.Kind, Error: ev.Reason}
}

func NewRewardEarned(requestID string, r Reward) Event {
	return Event{Type: EventRewardEarned, Time: now(), RequestID: requestID, Reward: &r}
}

// NewAdDismissed reports a dismissal; rewarded tells whether a reward preceded it.
func NewAdDismissed(requestID string, rewarded bool) Event {
	return Event{Type: EventAdDismissed, Time: now(), RequestID: requestID, Metadata: map[string]any{"rewarded": rewarded}}
}

func NewAdShowFailed(requestID, reason string) Event {
	return Event{Type: EventAdShowFailed, Time: now(), RequestID: requestID, Error: reason}
}

func NewDecisionMade(d GateDecision) Event {
	return Event{Type: EventGateDecision, Time: now(), RequestID: d.RequestID, Decision: &d}
}

func NewEngagementRecorded(count int64) Event {
	return Event{Type: EventEngagementRecorded, Time: now(), Count: count}
}

func NewAdsEnabledChanged(enabled bool) Event {
	return Event{Type: EventAdsEnabledChanged, Time: now(), Enabled: &enabled}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
