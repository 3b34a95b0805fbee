package geo

import (
	"context"
	"testing"
)

// squareLake is a FeatureCollection with one square water polygon covering
// lon/lat 0..10.
const squareLake = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]
      }
    }
  ]
}`

// twoLakes is a bare GeometryCollection holding two disjoint squares.
const twoLakes = `{
  "type": "GeometryCollection",
  "geometries": [
    {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]},
    {"type": "Polygon", "coordinates": [[[20,20],[22,20],[22,22],[20,22],[20,20]]]}
  ]
}`

func TestParseFeatureCollection(t *testing.T) {
	o, err := ParseGeoJSON([]byte(squareLake))
	if err != nil {
		t.Fatalf("ParseGeoJSON: %v", err)
	}
	if o.PolygonCount() != 1 {
		t.Fatalf("polygons = %d, want 1", o.PolygonCount())
	}

	ctx := context.Background()
	in, err := o.InWater(ctx, 5, 5)
	if err != nil || !in {
		t.Errorf("center of lake: in=%v err=%v, want true", in, err)
	}
	in, err = o.InWater(ctx, 15, 15)
	if err != nil || in {
		t.Errorf("outside lake: in=%v err=%v, want false", in, err)
	}
}

func TestParseGeometryCollection(t *testing.T) {
	o, err := ParseGeoJSON([]byte(twoLakes))
	if err != nil {
		t.Fatalf("ParseGeoJSON: %v", err)
	}
	if o.PolygonCount() != 2 {
		t.Fatalf("polygons = %d, want 2", o.PolygonCount())
	}

	ctx := context.Background()
	for _, tc := range []struct {
		lat, lon float64
		want     bool
	}{
		{1, 1, true},
		{21, 21, true},
		{10, 10, false},
	} {
		in, err := o.InWater(ctx, tc.lat, tc.lon)
		if err != nil {
			t.Fatal(err)
		}
		if in != tc.want {
			t.Errorf("InWater(%v, %v) = %v, want %v", tc.lat, tc.lon, in, tc.want)
		}
	}
}

func TestParseRejectsEmptyAndGarbage(t *testing.T) {
	if _, err := ParseGeoJSON([]byte(`{"type":"GeometryCollection","geometries":[]}`)); err == nil {
		t.Error("expected error for polygon-free input")
	}
	if _, err := ParseGeoJSON([]byte(`not json`)); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestInWaterCancelledContext(t *testing.T) {
	o, err := ParseGeoJSON([]byte(squareLake))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.InWater(ctx, 5, 5); err == nil {
		t.Error("expected context error")
	}
}

func TestOracleFunc(t *testing.T) {
	o := OracleFunc(func(ctx context.Context, lat, lon float64) (bool, error) {
		return lat > 0, nil
	})
	in, err := o.InWater(context.Background(), 1, 0)
	if err != nil || !in {
		t.Errorf("OracleFunc: in=%v err=%v", in, err)
	}
}
