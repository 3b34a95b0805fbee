package server

import (
	"context"
	"time"

	"github.com/harborlab/tidegate/internal/admin"
	"github.com/harborlab/tidegate/internal/ledger"
	"github.com/harborlab/tidegate/internal/metrics"
	"github.com/harborlab/tidegate/internal/storage"
	"github.com/rs/zerolog"
)

// Janitor periodically decays idle ledger records, prunes settled ones and
// expired admin challenges, and refreshes the state gauges.
type Janitor struct {
	store      storage.Store
	ledger     *ledger.Ledger
	challenges *admin.Challenges // may be nil
	interval   time.Duration
	log        zerolog.Logger
}

// NewJanitor constructs a Janitor. interval <= 0 falls back to hourly.
func NewJanitor(store storage.Store, lg *ledger.Ledger, ch *admin.Challenges,
	interval time.Duration, log zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{store: store, ledger: lg, challenges: ch, interval: interval, log: log}
}

// Run ticks until ctx is cancelled. The first sweep happens immediately so
// gauges are populated right after startup.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one housekeeping pass. Failures are logged, never fatal.
func (j *Janitor) Sweep() {
	now := time.Now()

	if swept, err := j.ledger.DecaySweep(); err != nil {
		j.log.Warn().Err(err).Msg("janitor: decay sweep failed")
	} else {
		j.log.Debug().Int("records", swept).Msg("janitor: decay sweep done")
	}

	if pruned, err := j.store.PruneSettled(now); err != nil {
		j.log.Warn().Err(err).Msg("janitor: prune failed")
	} else if pruned > 0 {
		metrics.JanitorPruned.WithLabelValues("ledger").Add(float64(pruned))
		j.log.Info().Int("pruned", pruned).Msg("janitor: settled records removed")
	}

	if j.challenges != nil {
		if pruned := j.challenges.Prune(now); pruned > 0 {
			metrics.JanitorPruned.WithLabelValues("challenges").Add(float64(pruned))
		}
	}

	j.refreshGauges(now)
}

func (j *Janitor) refreshGauges(now time.Time) {
	records, err := j.store.ListRecords()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: listing records failed")
		return
	}
	var cooldowns int
	for _, rec := range records {
		if rec.InCooldown(now) {
			cooldowns++
		}
	}
	metrics.LedgerRecords.Set(float64(len(records)))
	metrics.ActiveCooldowns.Set(float64(cooldowns))

	if appeals, err := j.store.ListAppeals(); err == nil {
		metrics.AppealsPending.Set(float64(len(appeals)))
	}
	if size, err := j.store.SizeBytes(); err == nil {
		metrics.DBSizeBytes.Set(float64(size))
	}
}
