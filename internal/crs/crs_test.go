package crs

import (
	"math"
	"testing"

	"github.com/xtxerr/fathom/internal/errors"
)

func TestUTMZone(t *testing.T) {
	cases := []struct {
		lon  float64
		want int
	}{
		{-70.9, 19}, // Boston
		{-157.9, 4}, // Honolulu
		{0.1, 31},
		{-180, 1},
		{179.9, 60},
	}
	for _, c := range cases {
		if got := UTMZone(c.lon); got != c.want {
			t.Errorf("UTMZone(%v) = %d, want %d", c.lon, got, c.want)
		}
	}
}

func TestProjectedEPSG(t *testing.T) {
	cases := []struct {
		datum string
		zone  int
		north bool
		want  int
		ok    bool
	}{
		{DatumWGS84, 19, true, 32619, true},
		{DatumWGS84, 19, false, 32719, true},
		{DatumNAD83, 19, true, 6348, true},
		{DatumNAD83, 1, true, 6330, true},
		{DatumNAD83, 59, true, 6328, true},
		{DatumNAD83, 60, true, 6329, true},
		{DatumNAD83, 19, false, 0, false},
		{DatumNAD83, 30, true, 0, false},
		{"tokyo", 19, true, 0, false},
	}
	for _, c := range cases {
		got, err := ProjectedEPSG(c.datum, c.zone, c.north)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ProjectedEPSG(%s,%d,%v) = %d, %v; want %d", c.datum, c.zone, c.north, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ProjectedEPSG(%s,%d,%v) = %d, want error", c.datum, c.zone, c.north, got)
		}
	}
}

func TestUTMForward_KnownPoint(t *testing.T) {
	// Boston approaches, zone 19N. Reference values computed with the
	// classic Snyder expansion; the series implementations agree to well
	// under a meter, the tolerance only absorbs the hand-derived
	// reference.
	tr, err := StandardBuilder{}.Build(32619, VerticalWaterline)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	x, y, z, err := tr.Forward(-70.890, 42.328, 12.5)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.Abs(x-344240) > 100 || math.Abs(y-4687950) > 100 {
		t.Fatalf("Forward = %.1f, %.1f; want ~344240, ~4687950", x, y)
	}
	if z != 12.5 {
		t.Fatalf("altitude must pass through, got %v", z)
	}
}

func TestUTMForward_CentralMeridian(t *testing.T) {
	// On the central meridian the easting is exactly the false easting.
	tr, err := newUTMTransformer(32619) // central meridian 69W
	if err != nil {
		t.Fatalf("newUTMTransformer: %v", err)
	}
	x, _, _, err := tr.Forward(-69, 40, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if math.Abs(x-utmFalseEasting) > 0.01 {
		t.Fatalf("easting on central meridian = %v", x)
	}
}

func TestUTMForward_SouthernHemisphere(t *testing.T) {
	tr, err := newUTMTransformer(32756) // zone 56S, Sydney
	if err != nil {
		t.Fatalf("newUTMTransformer: %v", err)
	}
	_, y, _, err := tr.Forward(151.2, -33.86, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// Southern northings count down from the false northing.
	if y < 6000000 || y > 6500000 {
		t.Fatalf("northing = %v, want ~6.25e6", y)
	}
}

func TestUTMForward_OutsideDomain(t *testing.T) {
	tr, err := newUTMTransformer(32619)
	if err != nil {
		t.Fatalf("newUTMTransformer: %v", err)
	}
	if _, _, _, err := tr.Forward(-70.9, 89, 0); !errors.Is(err, errors.ErrProjection) {
		t.Fatalf("polar latitude err = %v, want ErrProjection", err)
	}
	if _, _, _, err := tr.Forward(100, 42, 0); !errors.Is(err, errors.ErrProjection) {
		t.Fatalf("wrong-zone longitude err = %v, want ErrProjection", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := (StandardBuilder{}).Build(4326, VerticalWaterline); !errors.Is(err, errors.ErrProjection) {
		t.Fatalf("geographic code err = %v, want ErrProjection", err)
	}
	if _, err := (StandardBuilder{}).Build(32619, "mllw"); err == nil {
		t.Fatal("unsupported vertical reference must fail")
	}
}
