package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeEntries serializes a values row.
func EncodeEntries(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := msgpack.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	return b, nil
}

// DecodeEntries deserializes a values row. Empty input decodes to an empty list.
func DecodeEntries(b []byte) ([]Entry, error) {
	if len(b) == 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := msgpack.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("%w: values: %v", ErrCorruptRow, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// EncodeNextIndex serializes a next index row.
func EncodeNextIndex(n MessageID) ([]byte, error) {
	b, err := msgpack.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode next index: %w", err)
	}
	return b, nil
}

// DecodeNextIndex deserializes a next index row. Empty input decodes to zero.
func DecodeNextIndex(b []byte) (MessageID, error) {
	if len(b) == 0 {
		return 0, nil
	}
	var n MessageID
	if err := msgpack.Unmarshal(b, &n); err != nil {
		return 0, fmt.Errorf("%w: next index: %v", ErrCorruptRow, err)
	}
	return n, nil
}
