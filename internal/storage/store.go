package storage

import (
	"time"
)

// LedgerRecord is the persisted abuse state for one identity. A missing
// record is equivalent to the zero record: no strikes, no cooldown.
type LedgerRecord struct {
	Strikes       float64
	LastUpdate    time.Time
	CooldownUntil time.Time
}

// InCooldown reports whether the record's cooldown window is still open.
func (r LedgerRecord) InCooldown(now time.Time) bool {
	return r.CooldownUntil.After(now)
}

// CooldownRemaining returns the time left in the cooldown window, or zero.
func (r LedgerRecord) CooldownRemaining(now time.Time) time.Duration {
	if !r.InCooldown(now) {
		return 0
	}
	return r.CooldownUntil.Sub(now)
}

// Appeal is a caller's plea for an administrative reset.
type Appeal struct {
	Identity    string
	Text        string
	SubmittedAt time.Time
}

// Store is the persistence interface for the strike ledger and appeal log.
//
// UpdateRecord is the only mutation path for ledger records: it runs fn under
// exclusive access to the identity's record, so a decay+charge sequence is a
// single atomic read-modify-write. fn receives the current record (or the
// zero record when absent) and mutates it in place; returning an error aborts
// the update without writing.
type Store interface {
	GetRecord(id string) (*LedgerRecord, error) // nil when absent
	UpdateRecord(id string, fn func(*LedgerRecord) error) (LedgerRecord, error)
	DeleteRecord(id string) error
	ListRecords() (map[string]LedgerRecord, error)

	GetAppeal(id string) (*Appeal, error) // nil when absent
	PutAppeal(a Appeal) error
	DeleteAppeal(id string) error
	ListAppeals() ([]Appeal, error)

	// PruneSettled removes records that have fully decayed and whose
	// cooldown has passed; they are indistinguishable from absent records.
	PruneSettled(now time.Time) (int, error)

	SizeBytes() (int64, error)
	Close() error
}
