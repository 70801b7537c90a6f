/*
persist.go - JSON blobs in a key-value store

PURPOSE:
  Serialises the four collections as plain JSON arrays, one array per
  collection under the kind's storage keys, and reads them back on
  startup. The key-value store itself is external (SQLite, PostgreSQL or
  memory, see store/).

STORED LAYOUT:
  Rows match what the web client writes: amounts are JSON numbers and
  event rows carry the account id under the kind's AccountField
  ("poolId", "collateralId"). In memory the field is always "accountId";
  it is renamed on every read and write.

LEGACY LAYOUT:
  If the kind declares a Legacy layout, the current accounts key is
  absent, and the legacy accounts key is present, the legacy blobs are
  copied field-for-field into the current keys once. The legacy account
  field is renamed to the kind's AccountField on event rows.

FAILED WRITES:
  Save failures come back as *PersistenceError. The Persister remembers
  the last snapshot it could not write and Flush retries it; the
  scheduler in api/ calls Flush periodically and the server calls it on
  shutdown.

SEE ALSO:
  - store/sqlite, store/postgres, store/memory: BlobStore implementations
  - engine.go: Open wires Load and Save
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func init() {
	// Stored and served amounts are JSON numbers, as the web client writes them.
	decimal.MarshalJSONWithoutQuotes = true
}

// BlobStore is the external key-value collaborator.
type BlobStore interface {
	// Get returns ErrBlobNotFound for a key that was never written.
	Get(ctx context.Context, key string) ([]byte, error)

	// PutBatch writes all blobs atomically where the backend allows it.
	PutBatch(ctx context.Context, blobs map[string][]byte) error
}

// =============================================================================
// PERSISTER
// =============================================================================

type Persister struct {
	blobs BlobStore
	kind  Kind
	log   logrus.FieldLogger

	mu      sync.Mutex
	pending *Snapshot // last snapshot that failed to save
}

func NewPersister(blobs BlobStore, kind Kind, log logrus.FieldLogger) *Persister {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Persister{blobs: blobs, kind: kind, log: log.WithField("kind", kind.Name)}
}

// Load reads the current layout, migrating a legacy layout first if needed.
func (p *Persister) Load(ctx context.Context) (Snapshot, error) {
	if p.kind.Legacy != nil {
		if err := p.migrateLegacy(ctx); err != nil {
			// The original data is untouched; start from whatever the current keys hold.
			p.log.WithError(err).Error("legacy migration failed")
		}
	}

	var snap Snapshot
	keys := p.kind.Keys
	field := p.kind.StoredAccountField()
	if err := p.read(ctx, keys.Accounts, "", &snap.Accounts); err != nil {
		return Snapshot{}, err
	}
	if err := p.read(ctx, keys.Deposits, field, &snap.Deposits); err != nil {
		return Snapshot{}, err
	}
	if err := p.read(ctx, keys.Transactions, field, &snap.Transactions); err != nil {
		return Snapshot{}, err
	}
	if err := p.read(ctx, keys.Loans, field, &snap.Loans); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save writes all four collections. On failure the snapshot is kept for
// Flush and a *PersistenceError is returned.
func (p *Persister) Save(ctx context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(ctx, snap)
}

// Flush retries the last failed save. It is a no-op when nothing is pending.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return nil
	}
	if err := p.saveLocked(ctx, *p.pending); err != nil {
		return err
	}
	p.log.Info("pending ledger snapshot flushed")
	return nil
}

// Dirty reports whether a failed save is waiting for Flush.
func (p *Persister) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

func (p *Persister) saveLocked(ctx context.Context, snap Snapshot) error {
	blobs, err := encode(p.kind, snap)
	if err == nil {
		if err = p.blobs.PutBatch(ctx, blobs); err != nil {
			// No single key failed.
			err = &PersistenceError{Err: err}
		}
	}
	if err != nil {
		p.pending = &snap
		return err
	}
	p.pending = nil
	return nil
}

// read decodes key into into. For event rows, field is the stored name of
// the account id and is renamed to "accountId" first.
func (p *Persister) read(ctx context.Context, key, field string, into any) error {
	data, err := p.blobs.Get(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil
	}
	if field != "" && field != accountIDField {
		if data, err = renameField(data, field, accountIDField); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func encode(kind Kind, snap Snapshot) (map[string][]byte, error) {
	keys, field := kind.Keys, kind.StoredAccountField()
	out := make(map[string][]byte, 4)
	for _, c := range []struct {
		key    string
		rows   any
		events bool
	}{
		{keys.Accounts, nonNil(snap.Accounts), false},
		{keys.Deposits, nonNil(snap.Deposits), true},
		{keys.Transactions, nonNil(snap.Transactions), true},
		{keys.Loans, nonNil(snap.Loans), true},
	} {
		data, err := json.Marshal(c.rows)
		if err == nil && c.events && field != accountIDField {
			data, err = renameField(data, accountIDField, field)
		}
		if err != nil {
			return nil, &PersistenceError{Key: c.key, Err: fmt.Errorf("encode: %w", err)}
		}
		out[c.key] = data
	}
	return out, nil
}

// nonNil makes empty collections serialise as [] rather than null.
func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

// =============================================================================
// LEGACY MIGRATION
// =============================================================================

func (p *Persister) migrateLegacy(ctx context.Context) error {
	legacy := p.kind.Legacy
	if _, err := p.blobs.Get(ctx, p.kind.Keys.Accounts); err == nil {
		return nil // current layout already present
	} else if !errors.Is(err, ErrBlobNotFound) {
		return err
	}
	if _, err := p.blobs.Get(ctx, legacy.Keys.Accounts); errors.Is(err, ErrBlobNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	pairs := []struct{ from, to string }{
		{legacy.Keys.Accounts, p.kind.Keys.Accounts},
		{legacy.Keys.Deposits, p.kind.Keys.Deposits},
		{legacy.Keys.Transactions, p.kind.Keys.Transactions},
		{legacy.Keys.Loans, p.kind.Keys.Loans},
	}
	out := make(map[string][]byte, len(pairs))
	for _, pair := range pairs {
		data, err := p.blobs.Get(ctx, pair.from)
		if errors.Is(err, ErrBlobNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read legacy %s: %w", pair.from, err)
		}
		rows := data
		if pair.to != p.kind.Keys.Accounts {
			rows, err = renameField(data, legacy.AccountField, p.kind.StoredAccountField())
		}
		if err != nil {
			return fmt.Errorf("convert legacy %s: %w", pair.from, err)
		}
		out[pair.to] = rows
	}
	if err := p.blobs.PutBatch(ctx, out); err != nil {
		return fmt.Errorf("write migrated layout: %w", err)
	}
	p.log.WithField("from", legacy.Keys.Accounts).Info("migrated legacy ledger layout")
	return nil
}

// renameField copies every object in a JSON array, moving from → to when
// the object has no "to" field yet. All other fields are kept verbatim.
func renameField(data []byte, from, to string) ([]byte, error) {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	if from != "" {
		for _, row := range rows {
			v, ok := row[from]
			if !ok {
				continue
			}
			if _, exists := row[to]; !exists {
				row[to] = v
			}
			delete(row, from)
		}
	}
	return json.Marshal(nonNil(rows))
}
