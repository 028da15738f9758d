// Package migration imports inbox snapshots produced by an external exporter.
//
// A snapshot is a set of batch documents, one per account, read from a
// Source (a local directory, an S3 prefix or a GCS prefix). The Runner applies
// every batch through a migrator's Mailbox. Migration is idempotent for ids
// already present, so a partially applied source can simply be run again.
//
// Batch documents are JSON:
//
//	{
//	  "account": "0x7a1c...",
//	  "next_index": 7357,
//	  "entries": [
//	    {"id": 0, "message": "aGVsbG8="},
//	    {"id": 1, "text": "plain utf-8 body"}
//	  ]
//	}
//
// Messages are base64 in "message"; "text" is accepted as a convenience for
// UTF-8 bodies. Objects named *.yaml or *.yml are decoded as YAML with the
// same field names.
package migration

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/store"
	"gopkg.in/yaml.v3"
)

// ErrInvalidBatch is returned for documents that cannot be applied.
var ErrInvalidBatch = errors.New("migration: invalid batch")

// Batch is one account's snapshot.
type Batch struct {
	Account   inbox.Account
	NextIndex inbox.MessageID
	Entries   []inbox.Entry
}

type batchDoc struct {
	Account   string     `json:"account" yaml:"account"`
	NextIndex *uint32    `json:"next_index" yaml:"next_index"`
	Entries   []entryDoc `json:"entries" yaml:"entries"`
}

type entryDoc struct {
	ID      uint32  `json:"id" yaml:"id"`
	Message *string `json:"message,omitempty" yaml:"message,omitempty"`
	Text    *string `json:"text,omitempty" yaml:"text,omitempty"`
}

// IsBatchName reports whether name has an extension Decode understands.
func IsBatchName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Decode reads a batch document. The format is chosen from name's extension.
func Decode(name string, r io.Reader) (*Batch, error) {
	var doc batchDoc
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBatch, name, err)
		}
	default:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBatch, name, err)
		}
	}
	return doc.batch(name)
}

func (d *batchDoc) batch(name string) (*Batch, error) {
	account, err := store.ParseAccount(d.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: account: %v", ErrInvalidBatch, name, err)
	}
	if account.IsZero() {
		return nil, fmt.Errorf("%w: %s: zero account", ErrInvalidBatch, name)
	}
	if d.NextIndex == nil {
		return nil, fmt.Errorf("%w: %s: next_index is required", ErrInvalidBatch, name)
	}

	b := &Batch{
		Account:   account,
		NextIndex: *d.NextIndex,
		Entries:   make([]inbox.Entry, 0, len(d.Entries)),
	}
	for i, e := range d.Entries {
		var msg []byte
		switch {
		case e.Message != nil && e.Text != nil:
			return nil, fmt.Errorf("%w: %s: entry %d sets both message and text", ErrInvalidBatch, name, i)
		case e.Message != nil:
			msg, err = base64.StdEncoding.DecodeString(*e.Message)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: entry %d: %v", ErrInvalidBatch, name, i, err)
			}
		case e.Text != nil:
			msg = []byte(*e.Text)
		default:
			msg = []byte{}
		}
		b.Entries = append(b.Entries, inbox.Entry{ID: e.ID, Message: msg})
	}
	return b, nil
}

// Encode writes b as an indented JSON batch document.
func Encode(w io.Writer, b *Batch) error {
	next := b.NextIndex
	doc := batchDoc{
		Account:   b.Account.String(),
		NextIndex: &next,
		Entries:   make([]entryDoc, 0, len(b.Entries)),
	}
	for _, e := range b.Entries {
		msg := base64.StdEncoding.EncodeToString(e.Message)
		doc.Entries = append(doc.Entries, entryDoc{ID: e.ID, Message: &msg})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
