package inbox

import (
	"fmt"
)

// Limits holds the request size limits.
// Used to pass limits to validation functions.
type Limits struct {
	MaxMessageLength  int
	MaxDeleteMessages int
}

// DefaultLimits returns the hard request limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageLength:  MaxMessageLength,
		MaxDeleteMessages: MaxDeleteMessages,
	}
}

// ValidateMessage validates a message against the default limits.
// For configurable limits, use ValidateMessageWithLimits.
func ValidateMessage(message []byte) error {
	return ValidateMessageWithLimits(message, DefaultLimits())
}

// ValidateMessageWithLimits validates a message length against limits.
// An empty message is valid.
func ValidateMessageWithLimits(message []byte, limits Limits) error {
	if len(message) > limits.MaxMessageLength {
		return &ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("%d bytes exceed limit of %d", len(message), limits.MaxMessageLength),
			Err:     ErrMaxMessageLength,
		}
	}
	return nil
}

// ValidateDeleteIDs validates a delete batch against the default limits.
func ValidateDeleteIDs(ids []MessageID) error {
	return ValidateDeleteIDsWithLimits(ids, DefaultLimits())
}

// ValidateDeleteIDsWithLimits validates a delete batch size against limits.
// Duplicate ids are allowed and count individually.
func ValidateDeleteIDsWithLimits(ids []MessageID, limits Limits) error {
	if len(ids) > limits.MaxDeleteMessages {
		return &ValidationError{
			Field:   "ids",
			Message: fmt.Sprintf("%d ids exceed limit of %d", len(ids), limits.MaxDeleteMessages),
			Err:     ErrMaxDeleteMessage,
		}
	}
	return nil
}

// ValidateAccount rejects the all-zero account, which no signed caller can own.
func ValidateAccount(account Account) error {
	if account.IsZero() {
		return &ValidationError{
			Field:   "account",
			Message: "account must not be zero",
			Err:     ErrInvalidAccount,
		}
	}
	return nil
}
