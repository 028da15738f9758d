package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbaliyan/inbox/store/storetest"
	"github.com/spf13/viper"
)

var (
	alice    = storetest.Account(1).String()
	bob      = storetest.Account(2).String()
	migrator = storetest.Account(99).String()
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(viper.New())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func boltArgs(path string, args ...string) []string {
	return append([]string{"--backend", "bolt", "--bolt-path", path, "--log-level", "error"}, args...)
}

func TestAddListDelete(t *testing.T) {
	db := filepath.Join(t.TempDir(), "inbox.db")

	for i, msg := range []string{"hello, world", "sylo", "foo"} {
		out, err := run(t, boltArgs(db, "--caller", alice, "add", bob, msg)...)
		if err != nil {
			t.Fatalf("add %q: %v", msg, err)
		}
		if strings.TrimSpace(out) != string(rune('0'+i)) {
			t.Errorf("expected id %d, got %q", i, out)
		}
	}

	out, err := run(t, boltArgs(db, "list", bob)...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "hello, world\nsylo\nfoo\n" {
		t.Errorf("unexpected list output %q", out)
	}

	if _, err := run(t, boltArgs(db, "--caller", bob, "delete", "0", "2")...); err != nil {
		t.Fatalf("delete: %v", err)
	}

	out, err = run(t, boltArgs(db, "entries", bob)...)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	var entries []entryView
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 1 || entries[0].Text != "sylo" {
		t.Errorf("unexpected entries %+v", entries)
	}

	out, err = run(t, boltArgs(db, "stats", bob, "-o", "yaml")...)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "next_index: 3") || !strings.Contains(out, "message_count: 1") {
		t.Errorf("unexpected stats output %q", out)
	}
}

func TestCommandErrors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "inbox.db")

	tests := []struct {
		name string
		args []string
	}{
		{"add without caller", boltArgs(db, "add", bob, "x")},
		{"bad peer", boltArgs(db, "--caller", alice, "add", "0x12", "x")},
		{"bad id", boltArgs(db, "--caller", bob, "delete", "abc")},
		{"unknown backend", []string{"--backend", "floppy", "list", bob}},
		{"unknown output", boltArgs(db, "entries", bob, "-o", "xml")},
		{"migrate without source", boltArgs(db, "--migrator", migrator, "migrate")},
		{"set-migrator needs redis", boltArgs(db, "set-migrator", migrator)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExportMigrate(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.db")
	dst := filepath.Join(t.TempDir(), "dst.db")
	batches := t.TempDir()

	for _, msg := range []string{"one", "two"} {
		if _, err := run(t, boltArgs(src, "--caller", alice, "add", bob, msg)...); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	out, err := run(t, boltArgs(src, "export", bob)...)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := os.WriteFile(filepath.Join(batches, "bob.json"), []byte(out), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err = run(t, boltArgs(dst, "--migrator", migrator, "migrate", "--dir", batches)...)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "applied 1 batches, 0 failed") {
		t.Errorf("unexpected migrate output %q", out)
	}

	out, err = run(t, boltArgs(dst, "list", bob)...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "one\ntwo\n" {
		t.Errorf("unexpected migrated inbox %q", out)
	}

	out, _ = run(t, boltArgs(dst, "--caller", alice, "add", bob, "three")...)
	if strings.TrimSpace(out) != "2" {
		t.Errorf("expected next id 2 after migration, got %q", out)
	}
}
