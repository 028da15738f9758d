package inbox

import (
	"bytes"
	"errors"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limits  Limits
		wantErr bool
	}{
		{"empty", 0, DefaultLimits(), false},
		{"at limit", MaxMessageLength, DefaultLimits(), false},
		{"one over limit", MaxMessageLength + 1, DefaultLimits(), true},
		{"custom limit", 11, Limits{MaxMessageLength: 10, MaxDeleteMessages: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageWithLimits(bytes.Repeat([]byte{'x'}, tt.size), tt.limits)
			if tt.wantErr {
				if !errors.Is(err, ErrMaxMessageLength) {
					t.Errorf("expected ErrMaxMessageLength, got %v", err)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field != "message" {
					t.Errorf("expected ValidationError for message, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if err := ValidateMessage(make([]byte, MaxMessageLength)); err != nil {
		t.Errorf("ValidateMessage at limit: %v", err)
	}
}

func TestValidateDeleteIDs(t *testing.T) {
	if err := ValidateDeleteIDs(nil); err != nil {
		t.Errorf("nil ids: %v", err)
	}
	if err := ValidateDeleteIDs(make([]MessageID, MaxDeleteMessages)); err != nil {
		t.Errorf("ids at limit: %v", err)
	}
	err := ValidateDeleteIDs(make([]MessageID, MaxDeleteMessages+1))
	if !errors.Is(err, ErrMaxDeleteMessage) {
		t.Errorf("expected ErrMaxDeleteMessage, got %v", err)
	}

	// duplicates count individually
	err = ValidateDeleteIDsWithLimits([]MessageID{1, 1, 1}, Limits{MaxMessageLength: 1, MaxDeleteMessages: 2})
	if !errors.Is(err, ErrMaxDeleteMessage) {
		t.Errorf("expected duplicates to count, got %v", err)
	}
}

func TestValidateAccount(t *testing.T) {
	if err := ValidateAccount(Account{}); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("expected ErrInvalidAccount for zero account, got %v", err)
	}
	var a Account
	a[0] = 1
	if err := ValidateAccount(a); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
