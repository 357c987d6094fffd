package domain

import (
	"errors"
	"fmt"
)

// EntryState mirrors the lifecycle of a configured integration instance.
type EntryState string

const (
	EntryStateNotLoaded  EntryState = "not_loaded"
	EntryStateLoaded     EntryState = "loaded"
	EntryStateSetupRetry EntryState = "setup_retry"
	EntryStateSetupError EntryState = "setup_error"
	EntryStateAuthFailed EntryState = "auth_failed"
)

// ConfigEntry is one configured instance of an integration: the persisted
// output of a finished config flow.
type ConfigEntry struct {
	Id       string         `json:"id" mapstructure:"id"`
	Domain   string         `json:"domain" mapstructure:"domain"`
	Title    string         `json:"title" mapstructure:"title"`
	UniqueId string         `json:"unique_id,omitempty" mapstructure:"unique_id"`
	Data     map[string]any `json:"data" mapstructure:"data"`
	Options  map[string]any `json:"options,omitempty" mapstructure:"options"`
}

func (e ConfigEntry) DataString(key string) string {
	if v, ok := e.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (e ConfigEntry) DataInt(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// RetryableError marks a transient setup failure. The supervisor restarts
// the entry actor with exponential backoff until setup succeeds.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("setup retry: %s", e.Err)
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// AuthError marks a credential failure. The entry is parked until it is
// reconfigured, no automatic retry.
type AuthError struct {
	Err error
}

func (e AuthError) Error() string {
	return fmt.Sprintf("auth failed: %s", e.Err)
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// UpdateFailedError marks a failed coordinator refresh. Entities go
// unavailable, the entry stays loaded and polling continues with backoff.
type UpdateFailedError struct {
	Err error
}

func (e UpdateFailedError) Error() string {
	return fmt.Sprintf("update failed: %s", e.Err)
}

func (e UpdateFailedError) Unwrap() error {
	return e.Err
}

// PolicyViolationError aborts an in-flight conversation when the model
// refuses to answer. Surfaced to the chat client as an error message.
type PolicyViolationError struct {
	Reason string
}

func (e PolicyViolationError) Error() string {
	return fmt.Sprintf("response blocked by content policy: %s", e.Reason)
}

func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}

func IsAuthError(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}
