package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketLedger  = "ledger"
	bucketAppeals = "appeals"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/tidegate.db.
// bbolt transactions give atomic on-disk updates, so a crash mid-write can
// lose the most recent mutation but never corrupt a record.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "tidegate.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLedger, bucketAppeals} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Ledger ----------------------------------------------------------------

func (s *bboltStore) GetRecord(id string) (*LedgerRecord, error) {
	var rec LedgerRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketLedger)).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// UpdateRecord runs fn inside a single bbolt write transaction. bbolt allows
// one writer at a time, which serialises concurrent mutations to the same
// identity and closes the decay/charge lost-update window.
func (s *bboltStore) UpdateRecord(id string, fn func(*LedgerRecord) error) (LedgerRecord, error) {
	var rec LedgerRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if v := b.Get([]byte(id)); v != nil {
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record for %s: %w", id, err)
			}
		}
		if err := fn(&rec); err != nil {
			return err
		}
		data, err := msgpack.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return b.Put([]byte(id), data)
	})
	return rec, err
}

func (s *bboltStore) DeleteRecord(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLedger)).Delete([]byte(id))
	})
}

func (s *bboltStore) ListRecords() (map[string]LedgerRecord, error) {
	result := make(map[string]LedgerRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLedger)).ForEach(func(k, v []byte) error {
			var rec LedgerRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record for %s: %w", k, err)
			}
			result[string(k)] = rec
			return nil
		})
	})
	return result, err
}

// ---- Appeals ---------------------------------------------------------------

func (s *bboltStore) GetAppeal(id string) (*Appeal, error) {
	var a Appeal
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketAppeals)).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &a)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &a, nil
}

func (s *bboltStore) PutAppeal(a Appeal) error {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal appeal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAppeals)).Put([]byte(a.Identity), data)
	})
}

func (s *bboltStore) DeleteAppeal(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAppeals)).Delete([]byte(id))
	})
}

func (s *bboltStore) ListAppeals() ([]Appeal, error) {
	var result []Appeal
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAppeals)).ForEach(func(k, v []byte) error {
			var a Appeal
			if err := msgpack.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("unmarshal appeal for %s: %w", k, err)
			}
			result = append(result, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result, nil
}

// ---- Janitor ---------------------------------------------------------------

func (s *bboltStore) PruneSettled(now time.Time) (int, error) {
	var pruned int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		var toDelete [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec LedgerRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return nil // skip corrupt entries
			}
			if rec.Strikes <= 0 && !rec.InCooldown(now) {
				key := make([]byte, len(k))
				copy(key, k)
				toDelete = append(toDelete, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
