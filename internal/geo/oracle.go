// Package geo answers point-in-water queries against a polygon dataset.
package geo

import (
	"context"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Oracle answers whether a geographic point lies over water. Implementations
// must be safe for concurrent use; lookups are read-only and side-effect-free.
type Oracle interface {
	InWater(ctx context.Context, lat, lon float64) (bool, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, lat, lon float64) (bool, error)

func (f OracleFunc) InWater(ctx context.Context, lat, lon float64) (bool, error) {
	return f(ctx, lat, lon)
}

// PolygonOracle tests points against a fixed set of water polygons loaded
// from GeoJSON. The polygon set is immutable after load.
type PolygonOracle struct {
	polygons []orb.Polygon
	bounds   []orb.Bound // per-polygon bounding boxes, checked first
}

// LoadGeoJSON reads water polygons from a GeoJSON file. FeatureCollections,
// GeometryCollections, and bare geometries are all accepted; anything that is
// not a polygon is ignored.
func LoadGeoJSON(path string) (*PolygonOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read water map: %w", err)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON builds a PolygonOracle from raw GeoJSON bytes.
func ParseGeoJSON(data []byte) (*PolygonOracle, error) {
	var geoms []orb.Geometry

	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	} else {
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("parse water map: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}

	o := &PolygonOracle{}
	for _, g := range geoms {
		o.collect(g)
	}
	if len(o.polygons) == 0 {
		return nil, fmt.Errorf("water map contains no polygons")
	}
	return o, nil
}

func (o *PolygonOracle) collect(g orb.Geometry) {
	switch v := g.(type) {
	case orb.Polygon:
		o.polygons = append(o.polygons, v)
		o.bounds = append(o.bounds, v.Bound())
	case orb.MultiPolygon:
		for _, p := range v {
			o.polygons = append(o.polygons, p)
			o.bounds = append(o.bounds, p.Bound())
		}
	case orb.Collection:
		for _, sub := range v {
			o.collect(sub)
		}
	}
}

// PolygonCount reports the number of loaded water polygons.
func (o *PolygonOracle) PolygonCount() int {
	return len(o.polygons)
}

// InWater reports whether the point lies within any water polygon.
func (o *PolygonOracle) InWater(ctx context.Context, lat, lon float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	pt := orb.Point{lon, lat}
	for i, poly := range o.polygons {
		if !o.bounds[i].Contains(pt) {
			continue
		}
		if planar.PolygonContains(poly, pt) {
			return true, nil
		}
	}
	return false, nil
}
