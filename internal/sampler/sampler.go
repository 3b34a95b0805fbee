// Package sampler walks a planned grid in raster order and queries the water
// oracle for every tile.
package sampler

import (
	"context"
	"time"

	"github.com/harborlab/tidegate/internal/geo"
	"github.com/harborlab/tidegate/internal/metrics"
	"github.com/harborlab/tidegate/internal/planner"
	"golang.org/x/sync/errgroup"
)

// Sampler fans grid rows out across a bounded set of workers. Oracle lookups
// are read-only, so rows can run concurrently; each worker writes into its
// own slice region, which keeps the output in strict raster order
// (row-major over latitude offsets, then longitude offsets, -n..n each).
type Sampler struct {
	oracle  geo.Oracle
	workers int
}

// New creates a Sampler. workers < 1 falls back to serial sampling.
func New(oracle geo.Oracle, workers int) *Sampler {
	if workers < 1 {
		workers = 1
	}
	return &Sampler{oracle: oracle, workers: workers}
}

// Sample evaluates the oracle over plan's grid centred on (lat, lon).
// The result has exactly plan.TileCount bits.
func (s *Sampler) Sample(ctx context.Context, lat, lon float64, plan planner.Plan) ([]bool, error) {
	start := time.Now()
	n := plan.HalfTiles
	side := 2*n + 1
	bits := make([]bool, side*side)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for dy := -n; dy <= n; dy++ {
		row := dy
		g.Go(func() error {
			rowLat := lat + float64(row)*plan.StepDegrees
			base := (row + n) * side
			for dx := -n; dx <= n; dx++ {
				in, err := s.oracle.InWater(gctx, rowLat, lon+float64(dx)*plan.StepDegrees)
				if err != nil {
					return err
				}
				bits[base+dx+n] = in
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.TilesSampled.Add(float64(len(bits)))
	metrics.OracleDuration.Observe(time.Since(start).Seconds())
	return bits, nil
}
