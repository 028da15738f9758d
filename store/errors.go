package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrInvalidAccount is returned when an account key cannot be parsed.
	ErrInvalidAccount = errors.New("store: invalid account")

	// ErrCorruptRow is returned when a persisted row cannot be decoded.
	ErrCorruptRow = errors.New("store: corrupt row")

	// ErrTransactionFailed is returned when a database transaction fails.
	// This indicates the atomic operation could not complete and no changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsCorruptRow(err error) bool {
	return errors.Is(err, ErrCorruptRow)
}

func IsTransactionFailed(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}
