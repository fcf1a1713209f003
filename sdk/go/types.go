package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"adgate/core"
)

// State mirrors the GET /state response.
type State struct {
	AdsEnabled      bool              `json:"ads_enabled"`
	EngagementCount int64             `json:"engagement_count"`
	Slot            core.SlotSnapshot `json:"slot"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Is lets callers match server error codes against the SDK sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrStorageUnavailable:
		return e.Code == "storage_unavailable"
	case ErrDecisionPending:
		return e.Code == "decision_pending"
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

var (
	// ErrStorageUnavailable is matched when the server could not persist a preference.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrDecisionPending is matched when a reward request timed out while the ad was still showing.
	ErrDecisionPending = errors.New("decision pending")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRateLimited     = errors.New("rate limited")
)

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
