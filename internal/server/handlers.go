package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harborlab/tidegate/internal/appeal"
	"github.com/harborlab/tidegate/internal/ledger"
	"github.com/harborlab/tidegate/internal/metrics"
	"github.com/harborlab/tidegate/internal/planner"
	"github.com/harborlab/tidegate/internal/storage"
)

const defaultRadiusMiles = 10

// ---- /check ----------------------------------------------------------------

type checkResponse struct {
	EncodedGrid  string  `json:"encoded_grid"`
	TilesChecked int     `json:"tiles_checked"`
	RadiusUsed   float64 `json:"radius_used"`
	Resolution   int     `json:"resolution"`
	TokensUsed   float64 `json:"tokens_used"`
	TokensLeft   float64 `json:"tokens_left"`
	TokensMax    float64 `json:"tokens_max"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)
	allowListed := s.opts.Ledger.AllowListed(id)

	rec, err := s.opts.Ledger.Charge(id, s.opts.Charges.BaseCheck, "check")
	if err != nil {
		s.internalError(w, id, err)
		return
	}

	d, err := s.opts.Ledger.Check(id, s.opts.Policy.HardBlock)
	if err != nil {
		s.internalError(w, id, err)
		return
	}
	switch d.State {
	case ledger.HardBlocked:
		metrics.ChecksServed.WithLabelValues("hard_blocked").Inc()
		w.WriteHeader(http.StatusForbidden)
		return
	case ledger.Throttled:
		if _, err := s.opts.Ledger.Escalate(id, "throttle_revisit", s.opts.Policy.ThrottleRevisit); err != nil {
			s.log.Warn().Err(err).Str("identity", id).Msg("throttle-revisit escalation failed")
		}
		metrics.ChecksServed.WithLabelValues("throttled").Inc()
		http.Redirect(w, r, "/banned", http.StatusFound)
		return
	}

	lat, lon, verr := parseCoords(r)
	if verr == nil {
		radius := defaultRadiusMiles * 1.0
		if raw := r.URL.Query().Get("radius_miles"); raw != "" {
			radius, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				verr = &planner.ValidationError{
					Code:    "P90F",
					Message: "radius_miles must be a decimal number of miles",
					Penalty: s.opts.Planner.PenaltyAboveMax,
				}
			}
		}
		if verr == nil {
			verr = s.opts.Planner.Validate(radius)
		}
		if verr == nil {
			s.serveCheck(w, r, id, allowListed, rec, lat, lon, radius)
			return
		}
	}

	if _, err := s.opts.Ledger.Charge(id, verr.Penalty, "validation"); err != nil {
		s.log.Warn().Err(err).Str("identity", id).Msg("validation penalty charge failed")
	}
	metrics.ChecksServed.WithLabelValues("rejected").Inc()
	writeError(w, http.StatusTooManyRequests, verr.Code, verr.Message)
}

// serveCheck runs the costed part of a validated query: plan, sample, encode.
func (s *Server) serveCheck(w http.ResponseWriter, r *http.Request, id string,
	allowListed bool, rec storage.LedgerRecord, lat, lon, radius float64) {

	level := planner.ClampLevel(atoiDefault(r.URL.Query().Get("resolution"), 0))

	budget := s.opts.Ledger.Budget(rec.Strikes, allowListed)
	plan, err := s.opts.Planner.Plan(radius, level, budget)
	if errors.Is(err, planner.ErrInsufficientBudget) {
		metrics.ChecksServed.WithLabelValues("no_budget").Inc()
		writeError(w, http.StatusForbidden, "NOT_ENOUGH_TOKENS",
			"not enough tokens left for any radius; wait for regeneration")
		return
	}
	if err != nil {
		s.internalError(w, id, err)
		return
	}

	charged, err := s.opts.Ledger.Charge(id, plan.TokenCost, "query")
	if err != nil {
		s.internalError(w, id, err)
		return
	}

	bits, err := s.opts.Sampler.Sample(r.Context(), lat, lon, plan)
	if err != nil {
		s.internalError(w, id, err)
		return
	}

	metrics.PlanShrinkMiles.Observe(radius - plan.RadiusMiles)
	metrics.ChecksServed.WithLabelValues("ok").Inc()

	ceiling := s.opts.Ledger.Config().MaxTokens
	if allowListed {
		ceiling += s.opts.Ledger.Config().AllowBonus
	}
	resp := checkResponse{
		EncodedGrid:  s.opts.Codec.Encode(bits),
		TilesChecked: plan.TileCount,
		RadiusUsed:   plan.RadiusMiles,
		Resolution:   plan.Level,
		TokensUsed:   plan.TokenCost,
		TokensLeft:   s.opts.Ledger.TokensLeft(charged.Strikes, allowListed),
		TokensMax:    ceiling,
	}
	if allowListed {
		resp.TokensLeft = ceiling
	}

	if wantsPlain(r) {
		writePlain(w, http.StatusOK, fmt.Sprintf(
			"%s\n\nTiles checked: %d\nRadius used: %.1f miles\nTokens used: %.2f\nTokens left: %.2f/%.0f\n",
			resp.EncodedGrid, resp.TilesChecked, resp.RadiusUsed,
			resp.TokensUsed, resp.TokensLeft, resp.TokensMax))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- /check-my-ip ----------------------------------------------------------

// handleCheckMyIP reports the caller's own ledger state. The surface is
// charged and gated like the rest: a free snapshot endpoint would let a
// throttled caller poll its own cooldown at no cost.
func (s *Server) handleCheckMyIP(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)

	if _, err := s.opts.Ledger.Charge(id, s.opts.Charges.Snapshot, "snapshot"); err != nil {
		s.internalError(w, id, err)
		return
	}
	d, err := s.opts.Ledger.Check(id, s.opts.Policy.HardBlock)
	if err != nil {
		s.internalError(w, id, err)
		return
	}
	switch d.State {
	case ledger.HardBlocked:
		w.WriteHeader(http.StatusForbidden)
		return
	case ledger.Throttled:
		if _, err := s.opts.Ledger.Escalate(id, "snapshot_revisit", s.opts.Policy.BannedSurface); err != nil {
			s.log.Warn().Err(err).Str("identity", id).Msg("snapshot-revisit escalation failed")
		}
		http.Redirect(w, r, "/banned", http.StatusFound)
		return
	}

	snap, err := s.opts.Ledger.Snapshot(id)
	if err != nil {
		s.internalError(w, id, err)
		return
	}
	if wantsPlain(r) {
		cooldown := "none"
		if snap.CooldownRemaining > 0 {
			cooldown = humanDuration(snap.CooldownRemaining)
		}
		writePlain(w, http.StatusOK, fmt.Sprintf(
			"%s\nStrikes: %.2f\nTokens left: %.2f\nCooldown: %s\n",
			snap.Identity, snap.Strikes, snap.TokensLeft, cooldown))
		return
	}
	resp := map[string]any{
		"identity":                   snap.Identity,
		"strikes":                    snap.Strikes,
		"tokens_left":                snap.TokensLeft,
		"cooldown_remaining_minutes": int(snap.CooldownRemaining.Minutes()),
		"allow_listed":               snap.AllowListed,
	}
	if !snap.CooldownUntil.IsZero() && snap.CooldownUntil.After(time.Now()) {
		resp["cooldown_until"] = snap.CooldownUntil.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- /banned ---------------------------------------------------------------

func (s *Server) handleBanned(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)

	// Visiting the ban-status surface is itself charged and escalated, so
	// polling it amplifies the cooldown instead of shortening the wait.
	if _, err := s.opts.Ledger.Charge(id, s.opts.Charges.BannedSurface, "banned_surface"); err != nil {
		s.internalError(w, id, err)
		return
	}
	rec, err := s.opts.Ledger.Escalate(id, "banned_surface", s.opts.Policy.BannedSurface)
	if err != nil {
		s.internalError(w, id, err)
		return
	}

	now := time.Now()
	if rec.Strikes >= s.opts.Policy.BannedHard.Threshold && rec.InCooldown(now) {
		if _, err := s.opts.Ledger.Escalate(id, "banned_hard", s.opts.Policy.BannedHard); err != nil {
			s.log.Warn().Err(err).Str("identity", id).Msg("banned-hard escalation failed")
		}
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if !rec.InCooldown(now) {
		writeError(w, http.StatusNotFound, "NOT_BANNED", "this identity has no active cooldown")
		return
	}

	remaining := rec.CooldownRemaining(now)
	lift := rec.CooldownUntil.UTC()
	if wantsPlain(r) {
		writePlain(w, http.StatusOK, fmt.Sprintf(
			"You are banned for another %s.\nThe ban lifts at %s UTC.\n",
			humanDuration(remaining), lift.Format("2006-01-02 15:04:05")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"banned":            true,
		"seconds_remaining": int(remaining.Seconds()),
		"lift_time":         lift.Format(time.RFC3339),
		"human":             fmt.Sprintf("banned for another %s", humanDuration(remaining)),
	})
}

// ---- /appeal ---------------------------------------------------------------

// appealGate charges the appeal surface and applies its amplified hard tier.
// Appeals stay reachable while merely throttled, since they exist for banned
// callers; only the appeal hard tier blocks them.
func (s *Server) appealGate(w http.ResponseWriter, id string) bool {
	rec, err := s.opts.Ledger.Charge(id, s.opts.Charges.Appeal, "appeal")
	if err != nil {
		s.internalError(w, id, err)
		return false
	}
	tier := s.opts.Policy.AppealHard
	if rec.Strikes >= tier.Threshold && rec.InCooldown(time.Now()) {
		if _, err := s.opts.Ledger.Escalate(id, "appeal_hard", tier); err != nil {
			s.log.Warn().Err(err).Str("identity", id).Msg("appeal-hard escalation failed")
		}
		w.WriteHeader(http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) handleAppealInfo(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)
	if !s.appealGate(w, id) {
		return
	}

	pending, err := s.opts.Store.GetAppeal(id)
	if err != nil {
		s.internalError(w, id, err)
		return
	}
	resp := map[string]any{
		"identity": id,
		"pending":  pending != nil,
		"message":  "POST text=<your plea> to this endpoint; one appeal per window",
	}
	if pending != nil {
		resp["submitted_at"] = pending.SubmittedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAppealSubmit(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)
	if !s.appealGate(w, id) {
		return
	}

	err := s.opts.Appeals.Submit(id, r.FormValue("text"))
	var cooldown *appeal.CooldownError
	switch {
	case errors.Is(err, appeal.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "EMPTY_APPEAL", err.Error())
	case errors.As(err, &cooldown):
		writeError(w, http.StatusTooManyRequests, "APPEAL_COOLDOWN", err.Error())
	case err != nil:
		s.internalError(w, id, err)
	default:
		s.log.Info().Str("identity", id).Msg("appeal received")
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "appeal received; an administrator will review it",
		})
	}
}

// ---- /dashboard ------------------------------------------------------------

type challengeView struct {
	Token         string `json:"token"`
	PasswordIndex int    `json:"password_index"`
	ExpiresAt     string `json:"expires_at"`
}

type bannedView struct {
	Identity      string  `json:"identity"`
	Strikes       float64 `json:"strikes"`
	CooldownUntil string  `json:"cooldown_until"`
}

type appealView struct {
	Identity    string `json:"identity"`
	Text        string `json:"text"`
	SubmittedAt string `json:"submitted_at"`
}

type dashboardResponse struct {
	Identity          string  `json:"identity"`
	TokensLeft        float64 `json:"tokens_left"`
	CooldownRemaining int     `json:"cooldown_remaining_seconds"`
	AllowListed       bool    `json:"allow_listed"`

	Challenge    *challengeView `json:"challenge,omitempty"`
	TotalTracked int            `json:"total_tracked,omitempty"`
	Banned       []bannedView   `json:"banned,omitempty"`
	Appeals      []appealView   `json:"appeals,omitempty"`
}

const dashboardAppealTail = 15

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)
	admin := s.opts.Ledger.AllowListed(id)

	if !admin {
		if _, err := s.opts.Ledger.Charge(id, s.opts.Charges.Dashboard, "dashboard"); err != nil {
			s.internalError(w, id, err)
			return
		}
		d, err := s.opts.Ledger.Check(id, s.opts.Policy.HardBlock)
		if err != nil {
			s.internalError(w, id, err)
			return
		}
		switch d.State {
		case ledger.HardBlocked:
			w.WriteHeader(http.StatusForbidden)
			return
		case ledger.Throttled:
			if _, err := s.opts.Ledger.Escalate(id, "dashboard_revisit", s.opts.Policy.BannedSurface); err != nil {
				s.log.Warn().Err(err).Str("identity", id).Msg("dashboard-revisit escalation failed")
			}
			http.Redirect(w, r, "/banned", http.StatusFound)
			return
		}
	}

	snap, err := s.opts.Ledger.Snapshot(id)
	if err != nil {
		s.internalError(w, id, err)
		return
	}
	resp := dashboardResponse{
		Identity:          snap.Identity,
		TokensLeft:        snap.TokensLeft,
		CooldownRemaining: int(snap.CooldownRemaining.Seconds()),
		AllowListed:       admin,
	}

	if admin {
		if s.opts.Challenges != nil {
			ch, err := s.opts.Challenges.Issue(id)
			if err != nil {
				s.internalError(w, id, err)
				return
			}
			resp.Challenge = &challengeView{
				Token:         ch.Token,
				PasswordIndex: ch.PasswordIndex,
				ExpiresAt:     ch.ExpiresAt.UTC().Format(time.RFC3339),
			}
		}

		records, err := s.opts.Store.ListRecords()
		if err != nil {
			s.internalError(w, id, err)
			return
		}
		now := time.Now()
		resp.TotalTracked = len(records)
		for rid, rec := range records {
			if rec.InCooldown(now) {
				resp.Banned = append(resp.Banned, bannedView{
					Identity:      rid,
					Strikes:       rec.Strikes,
					CooldownUntil: rec.CooldownUntil.UTC().Format(time.RFC3339),
				})
			}
		}

		appeals, err := s.opts.Appeals.List()
		if err != nil {
			s.internalError(w, id, err)
			return
		}
		if len(appeals) > dashboardAppealTail {
			appeals = appeals[len(appeals)-dashboardAppealTail:]
		}
		for _, a := range appeals {
			resp.Appeals = append(resp.Appeals, appealView{
				Identity:    a.Identity,
				Text:        a.Text,
				SubmittedAt: a.SubmittedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ---- admin mutations -------------------------------------------------------

// adminVerify authenticates a mutating admin request. Non-allow-listed probes
// get an opaque denial plus the steepest escalation tier. Returns the number
// of "!" intensity marks appended to the password field, used by /ban.
func (s *Server) adminVerify(w http.ResponseWriter, r *http.Request) (int, bool) {
	id := callerID(r)
	if !s.opts.Ledger.AllowListed(id) {
		if _, err := s.opts.Ledger.Escalate(id, "admin_probe", s.opts.Policy.AdminProbe); err != nil {
			s.log.Warn().Err(err).Str("identity", id).Msg("admin-probe escalation failed")
		}
		w.WriteHeader(http.StatusForbidden)
		return 0, false
	}
	if s.opts.Challenges == nil {
		writeError(w, http.StatusServiceUnavailable, "ADMIN_DISABLED",
			"no admin passwords configured")
		return 0, false
	}

	password, extras := splitIntensity(r.FormValue("password"))
	if !s.opts.Challenges.Verify(id, r.FormValue("token"), password) {
		s.log.Warn().Str("identity", id).Msg("admin challenge verification failed")
		writeError(w, http.StatusForbidden, "BAD_CHALLENGE", "challenge verification failed")
		return 0, false
	}
	return extras, true
}

// splitIntensity separates the password from the optional intensity suffix:
// everything after the first space, with each "!" adding one intensity mark.
func splitIntensity(raw string) (string, int) {
	password, suffix, found := strings.Cut(raw, " ")
	if !found {
		return raw, 0
	}
	return password, strings.Count(suffix, "!")
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	extras, ok := s.adminVerify(w, r)
	if !ok {
		return
	}
	target := strings.TrimSpace(r.FormValue("ip"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TARGET", "ip form field is required")
		return
	}

	strikes := s.opts.Ban.BaseStrikes + float64(extras)*s.opts.Ban.ExtraStrikes
	rec, err := s.opts.Ledger.Impose(target, strikes, s.opts.Ban.Cooldown)
	if err != nil {
		s.internalError(w, callerID(r), err)
		return
	}
	s.log.Info().Str("admin", callerID(r)).Str("target", target).
		Float64("strikes", rec.Strikes).Msg("identity banned")
	writeJSON(w, http.StatusOK, map[string]any{
		"banned":         target,
		"strikes":        rec.Strikes,
		"cooldown_hours": s.opts.Ban.Cooldown.Hours(),
	})
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminVerify(w, r); !ok {
		return
	}
	target := strings.TrimSpace(r.FormValue("ip"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TARGET", "ip form field is required")
		return
	}

	if err := s.opts.Ledger.Reset(target); err != nil {
		s.internalError(w, callerID(r), err)
		return
	}
	if err := s.opts.Appeals.Delete(target); err != nil {
		s.log.Warn().Err(err).Str("target", target).Msg("failed to drop appeal on unban")
	}
	s.log.Info().Str("admin", callerID(r)).Str("target", target).Msg("identity unbanned")
	writeJSON(w, http.StatusOK, map[string]any{"unbanned": target})
}

func (s *Server) handleAppealDelete(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminVerify(w, r); !ok {
		return
	}
	target := strings.TrimSpace(r.FormValue("identity"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "MISSING_TARGET", "identity form field is required")
		return
	}

	if err := s.opts.Appeals.Delete(target); err != nil {
		s.internalError(w, callerID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": target})
}

// ---- health ----------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok\n")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.opts.Store.SizeBytes(); err != nil {
		s.log.Warn().Err(err).Msg("readiness: store unavailable")
		writePlain(w, http.StatusServiceUnavailable, "store unavailable\n")
		return
	}
	if _, err := s.opts.Oracle.InWater(r.Context(), 0, 0); err != nil {
		s.log.Warn().Err(err).Msg("readiness: oracle unavailable")
		writePlain(w, http.StatusServiceUnavailable, "oracle unavailable\n")
		return
	}
	writePlain(w, http.StatusOK, "ready\n")
}

// ---- parsing ---------------------------------------------------------------

func parseCoords(r *http.Request) (lat, lon float64, verr *planner.ValidationError) {
	q := r.URL.Query()
	badCoords := &planner.ValidationError{
		Code:    "P400",
		Message: "lat and lon must be valid decimal degrees",
		Penalty: 4,
	}

	var err error
	if lat, err = strconv.ParseFloat(q.Get("lat"), 64); err != nil {
		return 0, 0, badCoords
	}
	if lon, err = strconv.ParseFloat(q.Get("lon"), 64); err != nil {
		return 0, 0, badCoords
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, badCoords
	}
	return lat, lon, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) internalError(w http.ResponseWriter, id string, err error) {
	s.log.Error().Err(err).Str("identity", id).Msg("request failed")
	s.chargeInternal(id)
	writeError(w, http.StatusInternalServerError, "P500", "something went wrong")
}
