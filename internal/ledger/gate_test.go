package ledger

import (
	"testing"
	"time"

	"github.com/harborlab/tidegate/internal/storage"
)

func TestGateFreshIdentityAllowed(t *testing.T) {
	l, _ := newTestLedger(t)
	d, err := l.Check("203.0.113.20", DefaultPolicy().HardBlock)
	if err != nil {
		t.Fatal(err)
	}
	if d.State != Allowed {
		t.Errorf("state = %v, want Allowed", d.State)
	}
}

func TestGateThrottledBand(t *testing.T) {
	l, store := newTestLedger(t)
	const id = "203.0.113.21"
	policy := DefaultPolicy()

	// Strikes in [throttle, hard) with an open cooldown: always Throttled.
	for _, strikes := range []float64{64, 100, 500, 767} {
		store.Seed(id, storage.LedgerRecord{
			Strikes:       strikes,
			LastUpdate:    time.Now(),
			CooldownUntil: time.Now().Add(30 * time.Minute),
		})
		d, err := l.Check(id, policy.HardBlock)
		if err != nil {
			t.Fatal(err)
		}
		if d.State != Throttled {
			t.Errorf("strikes=%v: state = %v, want Throttled", strikes, d.State)
		}
		if d.RemainingMinutes < 29 || d.RemainingMinutes > 31 {
			t.Errorf("strikes=%v: remaining = %d, want ~30", strikes, d.RemainingMinutes)
		}
	}
}

func TestGateHardBlockEscalates(t *testing.T) {
	l, store := newTestLedger(t)
	const id = "203.0.113.22"
	policy := DefaultPolicy()

	store.Seed(id, storage.LedgerRecord{
		Strikes:       800,
		LastUpdate:    time.Now(),
		CooldownUntil: time.Now().Add(time.Hour),
	})
	d, err := l.Check(id, policy.HardBlock)
	if err != nil {
		t.Fatal(err)
	}
	if d.State != HardBlocked {
		t.Fatalf("state = %v, want HardBlocked", d.State)
	}

	rec, _ := store.GetRecord(id)
	// 800*1.15+5 = 925
	if rec == nil || rec.Strikes < 900 {
		t.Errorf("expected escalation above 900, got %+v", rec)
	}
}

func TestGateExpiredCooldownAllows(t *testing.T) {
	l, store := newTestLedger(t)
	const id = "203.0.113.23"

	// High strikes but the cooldown window has closed.
	store.Seed(id, storage.LedgerRecord{
		Strikes:       900,
		LastUpdate:    time.Now(),
		CooldownUntil: time.Now().Add(-time.Minute),
	})
	d, err := l.Check(id, DefaultPolicy().HardBlock)
	if err != nil {
		t.Fatal(err)
	}
	if d.State != Allowed {
		t.Errorf("state = %v, want Allowed once cooldown lapsed", d.State)
	}
}

func TestGateAllowListedNeverThrottled(t *testing.T) {
	l, store := newTestLedger(t, "198.51.100.9")
	store.Seed("198.51.100.9", storage.LedgerRecord{
		Strikes:       5000,
		LastUpdate:    time.Now(),
		CooldownUntil: time.Now().Add(time.Hour),
	})
	d, err := l.Check("198.51.100.9", DefaultPolicy().HardBlock)
	if err != nil {
		t.Fatal(err)
	}
	if d.State != Allowed {
		t.Errorf("state = %v, want Allowed for allow-listed caller", d.State)
	}
}

func TestGateCustomHardTier(t *testing.T) {
	l, store := newTestLedger(t)
	const id = "203.0.113.24"
	policy := DefaultPolicy()

	// 1500 strikes: hard-blocked on the query surface (threshold 768) but
	// only throttled on the ban-status surface (threshold 2048).
	store.Seed(id, storage.LedgerRecord{
		Strikes:       1500,
		LastUpdate:    time.Now(),
		CooldownUntil: time.Now().Add(time.Hour),
	})
	d, err := l.Check(id, policy.BannedHard)
	if err != nil {
		t.Fatal(err)
	}
	if d.State != Throttled {
		t.Errorf("state = %v, want Throttled under the higher tier", d.State)
	}
}
