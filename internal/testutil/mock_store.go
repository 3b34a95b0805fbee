// Package testutil provides in-memory fakes for unit tests.
package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/harborlab/tidegate/internal/storage"
)

// MockStore implements storage.Store with in-memory maps for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu      sync.Mutex
	records map[string]storage.LedgerRecord
	appeals map[string]storage.Appeal

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error

	// Size is the value returned by SizeBytes.
	Size int64
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string]storage.LedgerRecord),
		appeals: make(map[string]storage.Appeal),
		errors:  make(map[string]error),
		Size:    1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockStore) takeError(method string) error {
	if err, ok := m.errors[method]; ok {
		delete(m.errors, method)
		return err
	}
	return nil
}

// Seed installs a record directly, bypassing UpdateRecord.
func (m *MockStore) Seed(id string, rec storage.LedgerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = rec
}

func (m *MockStore) GetRecord(id string) (*storage.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("GetRecord"); err != nil {
		return nil, err
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (m *MockStore) UpdateRecord(id string, fn func(*storage.LedgerRecord) error) (storage.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("UpdateRecord"); err != nil {
		return storage.LedgerRecord{}, err
	}
	rec := m.records[id]
	if err := fn(&rec); err != nil {
		return storage.LedgerRecord{}, err
	}
	m.records[id] = rec
	return rec, nil
}

func (m *MockStore) DeleteRecord(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("DeleteRecord"); err != nil {
		return err
	}
	delete(m.records, id)
	return nil
}

func (m *MockStore) ListRecords() (map[string]storage.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("ListRecords"); err != nil {
		return nil, err
	}
	out := make(map[string]storage.LedgerRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out, nil
}

func (m *MockStore) GetAppeal(id string) (*storage.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("GetAppeal"); err != nil {
		return nil, err
	}
	a, ok := m.appeals[id]
	if !ok {
		return nil, nil
	}
	out := a
	return &out, nil
}

func (m *MockStore) PutAppeal(a storage.Appeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("PutAppeal"); err != nil {
		return err
	}
	m.appeals[a.Identity] = a
	return nil
}

func (m *MockStore) DeleteAppeal(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("DeleteAppeal"); err != nil {
		return err
	}
	delete(m.appeals, id)
	return nil
}

func (m *MockStore) ListAppeals() ([]storage.Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("ListAppeals"); err != nil {
		return nil, err
	}
	out := make([]storage.Appeal, 0, len(m.appeals))
	for _, a := range m.appeals {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (m *MockStore) PruneSettled(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("PruneSettled"); err != nil {
		return 0, err
	}
	var pruned int
	for id, rec := range m.records {
		if rec.Strikes <= 0 && !rec.InCooldown(now) {
			delete(m.records, id)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeError("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error { return nil }
