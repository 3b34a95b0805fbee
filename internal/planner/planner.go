// Package planner turns a requested search radius and resolution level into a
// costed sampling plan that fits the caller's remaining token budget.
//
// Radius bounds are hard validation failures and carry a deterrent penalty.
// Requests that validate but cost more than the caller can afford are shrunk
// in fixed decrements until the plan fits; if the radius bottoms out first the
// request is rejected without charge, since no sampling work was performed.
package planner

import (
	"errors"
	"fmt"
	"math"
)

// MaxLevel is the finest resolution level. Levels outside 0..MaxLevel are
// clamped rather than rejected.
const MaxLevel = 4

// levelSteps maps a resolution level to its sampling step in degrees.
var levelSteps = [MaxLevel + 1]float64{0.025, 0.016, 0.010, 0.007, 0.0055}

// StepForLevel returns the sampling step for a (clamped) resolution level.
func StepForLevel(level int) float64 {
	return levelSteps[ClampLevel(level)]
}

// ClampLevel bounds a requested resolution level to the supported range.
func ClampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Config holds the cost-model parameters.
type Config struct {
	MinRadiusMiles  float64 // below this: validation failure
	MaxRadiusMiles  float64 // above this: validation failure
	ShrinkStepMiles float64 // radius decrement per shrink iteration
	FloorMiles      float64 // shrink gives up at or below this radius
	TilesPerToken   float64 // tiles covered by one token at level 0
	LevelCostFactor float64 // per-level cost multiplier increment
	MilesPerDegree  float64 // lat/lon degree approximation

	PenaltyBelowMin float64 // strike penalty for a too-small radius
	PenaltyAboveMax float64 // strike penalty for a too-large radius
}

// Defaults returns the production cost model.
func Defaults() Config {
	return Config{
		MinRadiusMiles:  1,
		MaxRadiusMiles:  40,
		ShrinkStepMiles: 0.1,
		FloorMiles:      0.1,
		TilesPerToken:   425,
		LevelCostFactor: 0.15,
		MilesPerDegree:  69.0,
		PenaltyBelowMin: 10,
		PenaltyAboveMax: 4,
	}
}

// Plan is a costed sampling grid derived from a request. HalfTiles is the
// per-axis half-extent n; the grid spans offsets -n..n on both axes.
type Plan struct {
	RadiusMiles float64
	Level       int
	StepDegrees float64
	HalfTiles   int
	TileCount   int
	TokenCost   float64
}

// ValidationError is a hard request rejection that carries a deterrent
// strike penalty. Code values are stable identifiers exposed to callers.
type ValidationError struct {
	Code    string
	Message string
	Penalty float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrInsufficientBudget reports that no radius at or above the floor fits the
// caller's remaining budget. It carries no penalty: no work was performed.
var ErrInsufficientBudget = errors.New("not enough tokens for any radius")

// Validate checks the requested radius against the hard bounds.
func (c Config) Validate(radiusMiles float64) *ValidationError {
	if radiusMiles < c.MinRadiusMiles {
		return &ValidationError{
			Code:    "PXF3",
			Message: fmt.Sprintf("requested radius is below the %.0f mile minimum", c.MinRadiusMiles),
			Penalty: c.PenaltyBelowMin,
		}
	}
	if radiusMiles > c.MaxRadiusMiles {
		return &ValidationError{
			Code:    "P907",
			Message: fmt.Sprintf("requested radius exceeds the %.0f mile maximum; lower it and query again", c.MaxRadiusMiles),
			Penalty: c.PenaltyAboveMax,
		}
	}
	return nil
}

// Plan produces a sampling plan whose token cost fits within budget, shrinking
// the radius as needed. Returns ErrInsufficientBudget when even the floor
// radius costs more than the budget. The caller must Validate first; Plan
// assumes the radius is within bounds.
func (c Config) Plan(radiusMiles float64, level int, budget float64) (Plan, error) {
	level = ClampLevel(level)
	step := levelSteps[level]
	multiplier := 1.0 + float64(level)*c.LevelCostFactor

	for radiusMiles > c.FloorMiles {
		half := c.halfTiles(radiusMiles, step)
		tiles := (2*half + 1) * (2*half + 1)
		cost := round2(float64(tiles) / c.TilesPerToken * multiplier)
		if cost <= budget {
			return Plan{
				RadiusMiles: radiusMiles,
				Level:       level,
				StepDegrees: step,
				HalfTiles:   half,
				TileCount:   tiles,
				TokenCost:   cost,
			}, nil
		}
		radiusMiles = round1(radiusMiles - c.ShrinkStepMiles)
	}
	return Plan{}, ErrInsufficientBudget
}

// EstimateCost reports the token cost of a radius/level pair without planning.
func (c Config) EstimateCost(radiusMiles float64, level int) float64 {
	level = ClampLevel(level)
	step := levelSteps[level]
	half := c.halfTiles(radiusMiles, step)
	tiles := (2*half + 1) * (2*half + 1)
	return round2(float64(tiles) / c.TilesPerToken * (1.0 + float64(level)*c.LevelCostFactor))
}

func (c Config) halfTiles(radiusMiles, step float64) int {
	return int(radiusMiles / c.MilesPerDegree / step)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
