// Package ledger implements the decaying strike ledger and the throttle gate
// that together defend the service against abusive callers.
package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/harborlab/tidegate/internal/identity"
	"github.com/harborlab/tidegate/internal/metrics"
	"github.com/harborlab/tidegate/internal/storage"
	"github.com/rs/zerolog"
)

// Config holds the strike-economy parameters.
type Config struct {
	DecayPerHour      float64       // strikes forgiven per hour
	FreeThreshold     float64       // strikes carried without cooldown
	CooldownUnit      time.Duration // cooldown added per strike above the free threshold
	ThrottleThreshold float64       // strikes at which cooldown throttling begins
	MaxStrikes        float64       // hard ceiling on any strike value
	MaxTokens         float64       // query budget ceiling
	AllowBonus        float64       // extra budget for allow-listed callers
}

// Defaults returns the production strike economy.
func Defaults() Config {
	return Config{
		DecayPerHour:      4,
		FreeThreshold:     64,
		CooldownUnit:      15 * time.Minute,
		ThrottleThreshold: 64,
		MaxStrikes:        10_245_760,
		MaxTokens:         80,
		AllowBonus:        2000,
	}
}

// EscalationTier describes one severity tier of the escalation policy:
// at or above Threshold (with an open cooldown) strikes are multiplied and
// incremented. All escalation maths clamps to Config.MaxStrikes.
type EscalationTier struct {
	Threshold  float64
	Multiplier float64
	Increment  float64
}

// Policy is the consolidated escalation table, one named tier per trigger
// surface, applied uniformly by the gate and the route handlers.
type Policy struct {
	HardBlock       EscalationTier // query surface, terminal block tier
	ThrottleRevisit EscalationTier // polling the query surface while throttled
	BannedSurface   EscalationTier // visiting the ban-status surface
	BannedHard      EscalationTier // ban-status surface, terminal block tier
	AppealHard      EscalationTier // appeal surface, terminal block tier
	AdminProbe      EscalationTier // non-admin probing an admin route
}

// DefaultPolicy returns the production escalation table.
func DefaultPolicy() Policy {
	return Policy{
		HardBlock:       EscalationTier{Threshold: 768, Multiplier: 1.15, Increment: 5},
		ThrottleRevisit: EscalationTier{Threshold: 0, Multiplier: 1.25, Increment: 2},
		BannedSurface:   EscalationTier{Threshold: 0, Multiplier: 1.15, Increment: 2},
		BannedHard:      EscalationTier{Threshold: 2048, Multiplier: 1.4, Increment: 5},
		AppealHard:      EscalationTier{Threshold: 76_800, Multiplier: 1.15, Increment: 5},
		AdminProbe:      EscalationTier{Threshold: 0, Multiplier: 4, Increment: 10},
	}
}

// Snapshot is a read-only view of an identity's ledger state.
type Snapshot struct {
	Identity          string
	Strikes           float64
	CooldownUntil     time.Time
	CooldownRemaining time.Duration
	AllowListed       bool
	TokensLeft        float64
}

// Ledger applies decay, charges, and escalations to per-identity records.
// All mutations go through storage.Store.UpdateRecord, so a decay+charge
// sequence is atomic with respect to concurrent requests from the same
// identity.
type Ledger struct {
	store storage.Store
	allow *identity.AllowList
	cfg   Config
	log   zerolog.Logger
}

// New constructs a Ledger.
func New(store storage.Store, allow *identity.AllowList, cfg Config, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, allow: allow, cfg: cfg, log: log}
}

// AllowListed reports whether id is exempt from all strike logic.
func (l *Ledger) AllowListed(id string) bool {
	return l.allow.Contains(id)
}

// Config returns the ledger's strike economy.
func (l *Ledger) Config() Config { return l.cfg }

// Decay applies time-based forgiveness to id's record and persists it.
// Calling it twice in the same instant is a no-op the second time.
func (l *Ledger) Decay(id string) (storage.LedgerRecord, error) {
	return l.store.UpdateRecord(id, func(rec *storage.LedgerRecord) error {
		l.applyDecay(rec, time.Now())
		return nil
	})
}

// Charge applies decay and then adds points to id's strikes, recomputing the
// cooldown deadline from the excess above the free threshold. Allow-listed
// identities are never charged. points may be fractional.
func (l *Ledger) Charge(id string, points float64, reason string) (storage.LedgerRecord, error) {
	if points < 0 {
		return storage.LedgerRecord{}, fmt.Errorf("negative charge %v", points)
	}
	if l.AllowListed(id) {
		return storage.LedgerRecord{}, nil
	}

	rec, err := l.store.UpdateRecord(id, func(rec *storage.LedgerRecord) error {
		now := time.Now()
		l.applyDecay(rec, now)
		rec.Strikes = math.Min(rec.Strikes+points, l.cfg.MaxStrikes)
		excess := rec.Strikes - l.cfg.FreeThreshold
		if excess < 0 {
			excess = 0
		}
		rec.CooldownUntil = now.Add(time.Duration(excess * float64(l.cfg.CooldownUnit)))
		return nil
	})
	if err != nil {
		return rec, err
	}

	metrics.ChargesApplied.WithLabelValues(reason).Inc()
	metrics.StrikePoints.WithLabelValues(reason).Add(points)
	l.log.Debug().Str("identity", id).Float64("points", points).
		Str("reason", reason).Float64("strikes", rec.Strikes).Msg("charge applied")
	return rec, nil
}

// Escalate multiplies id's strikes per the tier and persists. It does not
// apply decay: escalation punishes the visit itself, not elapsed time.
func (l *Ledger) Escalate(id string, trigger string, tier EscalationTier) (storage.LedgerRecord, error) {
	if l.AllowListed(id) {
		return storage.LedgerRecord{}, nil
	}
	rec, err := l.store.UpdateRecord(id, func(rec *storage.LedgerRecord) error {
		rec.Strikes = math.Min(rec.Strikes*tier.Multiplier+tier.Increment, l.cfg.MaxStrikes)
		return nil
	})
	if err != nil {
		return rec, err
	}
	metrics.Escalations.WithLabelValues(trigger).Inc()
	l.log.Info().Str("identity", id).Str("trigger", trigger).
		Float64("strikes", rec.Strikes).Msg("strikes escalated")
	return rec, nil
}

// Snapshot decays id's record and returns a display view of it.
func (l *Ledger) Snapshot(id string) (Snapshot, error) {
	allowed := l.AllowListed(id)
	rec, err := l.Decay(id)
	if err != nil {
		return Snapshot{}, err
	}
	now := time.Now()
	return Snapshot{
		Identity:          id,
		Strikes:           rec.Strikes,
		CooldownUntil:     rec.CooldownUntil,
		CooldownRemaining: rec.CooldownRemaining(now),
		AllowListed:       allowed,
		TokensLeft:        l.TokensLeft(rec.Strikes, allowed),
	}, nil
}

// Budget returns the remaining query budget for a caller with the given
// strike count. It may be negative.
func (l *Ledger) Budget(strikes float64, allowListed bool) float64 {
	max := l.cfg.MaxTokens
	if allowListed {
		max += l.cfg.AllowBonus
	}
	return max - strikes
}

// TokensLeft is Budget clamped at zero and rounded for display.
func (l *Ledger) TokensLeft(strikes float64, allowListed bool) float64 {
	b := l.Budget(strikes, allowListed)
	if b < 0 {
		return 0
	}
	return math.Round(b*100) / 100
}

// Reset removes id's record entirely (administrative unban).
func (l *Ledger) Reset(id string) error {
	return l.store.DeleteRecord(id)
}

// Impose overwrites id's record with a fixed strike count and cooldown
// (administrative ban).
func (l *Ledger) Impose(id string, strikes float64, cooldown time.Duration) (storage.LedgerRecord, error) {
	return l.store.UpdateRecord(id, func(rec *storage.LedgerRecord) error {
		now := time.Now()
		rec.Strikes = math.Min(strikes, l.cfg.MaxStrikes)
		rec.LastUpdate = now
		rec.CooldownUntil = now.Add(cooldown)
		return nil
	})
}

// DecaySweep applies decay to every tracked record. The janitor runs this so
// idle identities settle to zero and become prunable.
func (l *Ledger) DecaySweep() (int, error) {
	records, err := l.store.ListRecords()
	if err != nil {
		return 0, err
	}
	var swept int
	for id := range records {
		if _, err := l.Decay(id); err != nil {
			return swept, fmt.Errorf("decay %s: %w", id, err)
		}
		swept++
	}
	return swept, nil
}

// applyDecay forgives strikes for the time elapsed since the last update.
// Strikes clamp at zero; the timestamp always advances.
func (l *Ledger) applyDecay(rec *storage.LedgerRecord, now time.Time) {
	if rec.LastUpdate.IsZero() {
		rec.LastUpdate = now
		return
	}
	hours := now.Sub(rec.LastUpdate).Hours()
	if hours <= 0 {
		return
	}
	rec.Strikes = math.Max(0, rec.Strikes-l.cfg.DecayPerHour*hours)
	rec.LastUpdate = now
}
