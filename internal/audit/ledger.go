// Package audit implements an optional forensic ledger: every request the
// dispatcher abandons when it enters upstream-failed mode is recorded so
// an operator can later correlate a drained shutdown with the specific
// in-flight requests that never got an answer.
package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Ledger records failed forwardees. Calling Record on a nil Ledger panics
// like any nil interface call; the dispatcher checks for nil before
// recording, and NoopLedger is the implementation whose Record does
// nothing.
type Ledger interface {
	Record(ctx context.Context, entry FailedRequest) error
	Close() error
}

// FailedRequest is one abandoned forwardee, as observed by the connection
// whose upstream round trip failed.
type FailedRequest struct {
	Cookie       uint64    `json:"cookie"`
	ConnectionID uint64    `json:"connection_id"`
	Listener     string    `json:"listener"`
	PacketLen    int       `json:"packet_len"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}

const prefixFailedRequest = "fr:"

// keyFailedRequest orders entries by timestamp then cookie so a range scan
// over the ledger yields them in the order they were abandoned.
func keyFailedRequest(ts time.Time, cookie uint64) []byte {
	key := make([]byte, len(prefixFailedRequest)+8+8)
	n := copy(key, prefixFailedRequest)
	binary.BigEndian.PutUint64(key[n:], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[n+8:], cookie)
	return key
}

// BadgerLedger persists FailedRequest entries to an embedded BadgerDB
// database, following the teacher's metadata-store pattern of one
// transaction per operation and JSON-encoded values behind prefixed keys.
type BadgerLedger struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerLedger at path.
func Open(path string) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("audit: open badger ledger at %q: %w", path, err)
	}

	return &BadgerLedger{db: db}, nil
}

// Record appends entry to the ledger.
func (l *BadgerLedger) Record(ctx context.Context, entry FailedRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("audit: encode failed request: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFailedRequest(entry.Timestamp, entry.Cookie), value)
	})
	if err != nil {
		return fmt.Errorf("audit: record failed request: %w", err)
	}

	return nil
}

// List returns every recorded FailedRequest in timestamp order. Intended
// for operator tooling (cmd/dispatchd's audit-inspection subcommand), not
// the hot path.
func (l *BadgerLedger) List(ctx context.Context) ([]FailedRequest, error) {
	var entries []FailedRequest

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFailedRequest)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			err := item.Value(func(val []byte) error {
				var entry FailedRequest
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("audit: decode failed request: %w", err)
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: list failed requests: %w", err)
	}

	return entries, nil
}

// Close releases the underlying database.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

// NoopLedger discards every entry. Used when auditing is disabled so the
// dispatcher always has a non-nil Ledger to call.
type NoopLedger struct{}

func (NoopLedger) Record(context.Context, FailedRequest) error { return nil }
func (NoopLedger) Close() error                                { return nil }
