package inbox

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/inbox/store"
)

// Sentinel errors for the inbox package.
// Use errors.Is() to check for these errors.
//
// None of the domain errors change state: a rejected operation aborts
// before anything is written.
var (
	// ErrMaxMessageLength is returned when a message exceeds the maximum length.
	ErrMaxMessageLength = errors.New("inbox: message exceeds maximum length")

	// ErrMaxDeleteMessage is returned when a delete batch exceeds the maximum size.
	ErrMaxDeleteMessage = errors.New("inbox: too many ids in delete batch")

	// ErrIDOverflow is returned when an account has exhausted its id space.
	ErrIDOverflow = errors.New("inbox: message id overflow")

	// ErrUnauthorized is returned when the caller lacks migration authority.
	ErrUnauthorized = errors.New("inbox: unauthorized")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("inbox: store is required")

	// ErrAuthorityRequired is returned when a migration is attempted
	// without a configured authority. Wraps ErrUnauthorized.
	ErrAuthorityRequired = fmt.Errorf("%w: authority is required", ErrUnauthorized)

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("inbox: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("inbox: %w", store.ErrAlreadyConnected)

	// ErrInvalidAccount is returned for a zero or malformed account.
	// Wraps store.ErrInvalidAccount for consistent error checking.
	ErrInvalidAccount = fmt.Errorf("inbox: %w", store.ErrInvalidAccount)
)

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	permanentErrors := []error{
		ErrMaxMessageLength,
		ErrMaxDeleteMessage,
		ErrIDOverflow,
		ErrUnauthorized,
		ErrStoreRequired,
		ErrAuthorityRequired,
		ErrInvalidAccount,
		ErrAlreadyConnected,
		store.ErrCorruptRow,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	var pe *PluginError
	if errors.As(err, &pe) {
		return false
	}

	// Connection and transaction failures, and unknown errors, may be transient.
	return true
}

// ValidationError provides details about a validation failure.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
	Err     error  // The sentinel the failure maps to
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inbox: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// The state change is already persisted; only the notification failed.
type EventPublishError struct {
	Event   string        // The event name (e.g., "MessageAdded")
	Account store.Account // The account whose inbox changed
	Err     error         // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("inbox: event %s publish failed for account %s: %v", e.Event, e.Account, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}
