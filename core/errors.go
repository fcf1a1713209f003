package core

import "errors"

var (
	// ErrStorageUnavailable is returned when a preference could not be durably written.
	ErrStorageUnavailable = errors.New("preference storage unavailable")

	// ErrPreferenceNotSet is reported by stores that hold no value yet.
	ErrPreferenceNotSet = errors.New("preference not set")

	// ErrLoadFailed marks a provider load failure. It is never returned to callers.
	ErrLoadFailed = errors.New("rewarded ad failed to load")

	// ErrShowFailed marks an ad that failed to render after it was ready.
	ErrShowFailed = errors.New("rewarded ad failed to show")
)
