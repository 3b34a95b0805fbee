package ledger

import (
	"math"
	"time"

	"github.com/harborlab/tidegate/internal/metrics"
)

// State is the throttle gate's verdict for a request.
type State int

const (
	// Allowed lets the request proceed to planning and sampling.
	Allowed State = iota
	// Throttled means the caller is inside a cooldown window above the
	// throttle threshold; the handler redirects to the ban-status surface.
	Throttled
	// HardBlocked is a terminal, opaque denial. The caller's strikes have
	// already been escalated and the request must receive an empty 403.
	HardBlocked
)

func (s State) String() string {
	switch s {
	case Allowed:
		return "allowed"
	case Throttled:
		return "throttled"
	case HardBlocked:
		return "hard_blocked"
	default:
		return "unknown"
	}
}

// Decision is the gate's verdict plus the cooldown time left when throttled.
type Decision struct {
	State            State
	RemainingMinutes int
}

// Check decays id's record and classifies it. hardTier is the terminal block
// tier for the surface being guarded; surfaces with amplified hard tiers
// (the ban-status and appeal surfaces) pass their own.
//
// Two-tier design: strikes in [throttle, hard) degrade gracefully into
// redirects, while strikes at or above the hard threshold are escalated on
// every attempt, so polling a hard block amplifies its own cost.
func (l *Ledger) Check(id string, hardTier EscalationTier) (Decision, error) {
	if l.AllowListed(id) {
		metrics.GateDecisions.WithLabelValues(Allowed.String()).Inc()
		return Decision{State: Allowed}, nil
	}

	rec, err := l.Decay(id)
	if err != nil {
		return Decision{}, err
	}

	now := time.Now()
	if rec.Strikes >= hardTier.Threshold && rec.InCooldown(now) {
		if _, err := l.Escalate(id, "hard_block", hardTier); err != nil {
			return Decision{}, err
		}
		metrics.GateDecisions.WithLabelValues(HardBlocked.String()).Inc()
		return Decision{State: HardBlocked}, nil
	}

	if rec.Strikes >= l.cfg.ThrottleThreshold && rec.InCooldown(now) {
		remaining := int(math.Ceil(rec.CooldownRemaining(now).Minutes()))
		if remaining < 1 {
			remaining = 1
		}
		metrics.GateDecisions.WithLabelValues(Throttled.String()).Inc()
		return Decision{State: Throttled, RemainingMinutes: remaining}, nil
	}

	metrics.GateDecisions.WithLabelValues(Allowed.String()).Inc()
	return Decision{State: Allowed}, nil
}
