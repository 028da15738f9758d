package inbox

import (
	"context"

	"github.com/rbaliyan/inbox/store"
)

// Stats holds aggregate statistics for one inbox.
type Stats struct {
	// MessageCount is the number of stored messages.
	MessageCount int `json:"message_count"`
	// TotalBytes is the summed length of all stored messages.
	TotalBytes int64 `json:"total_bytes"`
	// NextIndex is the id the next added message will receive.
	NextIndex MessageID `json:"next_index"`
	// LowestID and HighestID bound the stored ids. Both are zero for an
	// empty inbox.
	LowestID  MessageID `json:"lowest_id"`
	HighestID MessageID `json:"highest_id"`
}

// Exhausted reports whether the inbox can no longer accept new messages.
func (s *Stats) Exhausted() bool {
	return s.NextIndex == store.MaxMessageID
}

// statsFromRow computes stats for a loaded row.
func statsFromRow(row *store.Row) *Stats {
	st := &Stats{
		MessageCount: len(row.Entries),
		NextIndex:    row.NextIndex,
	}
	for i, e := range row.Entries {
		st.TotalBytes += int64(len(e.Message))
		if i == 0 || e.ID < st.LowestID {
			st.LowestID = e.ID
		}
		if i == 0 || e.ID > st.HighestID {
			st.HighestID = e.ID
		}
	}
	return st
}

// Stats returns aggregate statistics for an account's inbox.
func (e *Engine) Stats(ctx context.Context, account Account) (*Stats, error) {
	row, err := e.store.Load(ctx, account)
	if err != nil {
		return nil, err
	}
	return statsFromRow(row), nil
}
