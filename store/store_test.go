package store

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseAccount(t *testing.T) {
	var want Account
	want[31] = 7

	t.Run("with prefix", func(t *testing.T) {
		got, err := ParseAccount(want.String())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("without prefix", func(t *testing.T) {
		got, err := ParseAccount(strings.TrimPrefix(want.String(), "0x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := ParseAccount("0x0102")
		if !errors.Is(err, ErrInvalidAccount) {
			t.Errorf("expected ErrInvalidAccount, got %v", err)
		}
	})

	t.Run("rejects non-hex", func(t *testing.T) {
		_, err := ParseAccount("0xzz")
		if !errors.Is(err, ErrInvalidAccount) {
			t.Errorf("expected ErrInvalidAccount, got %v", err)
		}
	})
}

func TestKey(t *testing.T) {
	var a, b Account
	a[0] = 1
	b[0] = 2

	ka := Key(a)
	if len(ka) != keyHashSize+AccountSize {
		t.Fatalf("expected key length %d, got %d", keyHashSize+AccountSize, len(ka))
	}
	if !bytes.Equal(ka, Key(a)) {
		t.Error("expected key to be deterministic")
	}
	if bytes.Equal(ka, Key(b)) {
		t.Error("expected different accounts to produce different keys")
	}
	if !bytes.Equal(ka[keyHashSize:], a[:]) {
		t.Error("expected account to be the key suffix")
	}

	got, err := AccountFromKey(ka)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != a {
		t.Errorf("expected %s, got %s", a, got)
	}
	if _, err := AccountFromKey(ka[:10]); !errors.Is(err, ErrInvalidAccount) {
		t.Errorf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestCodec(t *testing.T) {
	t.Run("entries survive encoding", func(t *testing.T) {
		in := []Entry{{ID: 0, Message: []byte("hello, world")}, {ID: 7, Message: []byte{}}}
		b, err := EncodeEntries(in)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out, err := DecodeEntries(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out) != 2 || out[0].ID != 0 || string(out[0].Message) != "hello, world" || out[1].ID != 7 {
			t.Errorf("unexpected entries: %+v", out)
		}
	})

	t.Run("empty input decodes to empty state", func(t *testing.T) {
		entries, err := DecodeEntries(nil)
		if err != nil || entries == nil || len(entries) != 0 {
			t.Errorf("expected empty non-nil entries, got %v, %v", entries, err)
		}
		n, err := DecodeNextIndex(nil)
		if err != nil || n != 0 {
			t.Errorf("expected zero next index, got %d, %v", n, err)
		}
	})

	t.Run("max next index survives encoding", func(t *testing.T) {
		b, err := EncodeNextIndex(MaxMessageID)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		n, err := DecodeNextIndex(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != MaxMessageID {
			t.Errorf("expected %d, got %d", MaxMessageID, n)
		}
	})

	t.Run("garbage is reported as corrupt", func(t *testing.T) {
		if _, err := DecodeEntries([]byte{0xc1}); !IsCorruptRow(err) {
			t.Errorf("expected ErrCorruptRow, got %v", err)
		}
	})
}

func TestRowClone(t *testing.T) {
	r := &Row{Entries: []Entry{{ID: 1, Message: []byte("a")}}, NextIndex: 2}
	c := r.Clone()
	c.Entries[0].Message[0] = 'b'
	c.Entries = append(c.Entries, Entry{ID: 2})
	c.NextIndex = 9

	if string(r.Entries[0].Message) != "a" || len(r.Entries) != 1 || r.NextIndex != 2 {
		t.Errorf("clone mutation leaked into original: %+v", r)
	}
	if got := (*Row)(nil).Clone(); got == nil || got.NextIndex != 0 {
		t.Errorf("expected empty row from nil clone, got %+v", got)
	}
}
