// Package journal keeps an append-only audit trail of what the engine learned
// from the ledger: closure verifications, sync reports and balance
// corrections. It is stored in badger next to the service.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
)

// Entry kinds
const (
	KindVerification = "verify"
	KindSync         = "sync"
	KindCorrection   = "correction"
)

// Entry is one journal record
type Entry struct {
	Kind     string          `json:"kind"`
	Subject  string          `json:"subject"`
	Sequence uint64          `json:"sequence"`
	At       time.Time       `json:"at"`
	Payload  json.RawMessage `json:"payload"`
}

// Journal is the badger-backed audit store
type Journal struct {
	badgerDB *badger.DB
	seq      *badger.Sequence
	logger   cmtlog.Logger
}

// Open opens the journal at path. An empty path keeps everything in memory.
func Open(path string, logger cmtlog.Logger) (*Journal, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	seq, err := db.GetSequence([]byte("journal_seq"), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal sequence: %w", err)
	}
	return &Journal{
		badgerDB: db,
		seq:      seq,
		logger:   logger.With("module", "journal"),
	}, nil
}

// Close releases the sequence lease and closes badger
func (j *Journal) Close() error {
	if err := j.seq.Release(); err != nil {
		j.logger.Error("Releasing journal sequence", "err", err)
	}
	return j.badgerDB.Close()
}

func entryPrefix(kind, subject string) []byte {
	return []byte(kind + ":" + subject + ":")
}

// Append stores payload under kind and subject
func (j *Journal) Append(kind, subject string, at time.Time, payload any) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal journal payload: %w", err)
	}
	next, err := j.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("next journal sequence: %w", err)
	}
	entry := &Entry{
		Kind:     kind,
		Subject:  subject,
		Sequence: next,
		At:       at.UTC(),
		Payload:  raw,
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal journal entry: %w", err)
	}
	key := append(entryPrefix(kind, subject), []byte(fmt.Sprintf("%020d", next))...)
	err = j.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return nil, fmt.Errorf("write journal entry: %w", err)
	}
	return entry, nil
}

// List returns the newest entries for kind and subject first
func (j *Journal) List(kind, subject string, limit int) ([]Entry, error) {
	prefix := entryPrefix(kind, subject)
	var entries []Entry
	err := j.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}

// Latest returns the newest entry for kind and subject
func (j *Journal) Latest(kind, subject string) (*Entry, error) {
	entries, err := j.List(kind, subject, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

// ErrNotFound is returned when no entry matches
var ErrNotFound = errors.New("journal: entry not found")
