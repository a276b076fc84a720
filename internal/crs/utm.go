package crs

import (
	"math"

	"github.com/xtxerr/fathom/internal/errors"
)

// ellipsoid parameters. WGS84 and GRS80 (NAD83) differ only in the
// flattening's last digits.
type ellipsoid struct {
	a, f float64
}

var (
	wgs84Ellipsoid = ellipsoid{a: 6378137.0, f: 1 / 298.257223563}
	grs80Ellipsoid = ellipsoid{a: 6378137.0, f: 1 / 298.257222101}
)

const (
	utmScale        = 0.9996
	utmFalseEasting = 500000.0
	utmFalseNorth   = 10000000.0
	utmMaxLatitude  = 84.0
)

// utmTransformer is a transverse Mercator projection onto a UTM zone, using
// the Krueger series. Altitude passes through; vertical referencing is
// applied by the georeferencing stage.
type utmTransformer struct {
	epsg    int
	zone    int
	north   bool
	lonOrig float64 // central meridian, radians
	ell     ellipsoid

	// Precomputed series terms.
	n, bigA                float64
	alpha1, alpha2, alpha3 float64
}

// newUTMTransformer resolves an EPSG code back to zone, hemisphere and
// ellipsoid. Unknown codes fail with ErrProjection.
func newUTMTransformer(epsg int) (*utmTransformer, error) {
	var (
		zone  int
		north bool
		ell   ellipsoid
	)
	switch {
	case epsg >= 32601 && epsg <= 32660:
		zone, north, ell = epsg-32600, true, wgs84Ellipsoid
	case epsg >= 32701 && epsg <= 32760:
		zone, north, ell = epsg-32700, false, wgs84Ellipsoid
	case epsg >= 6330 && epsg <= 6348:
		zone, north, ell = epsg-6329, true, grs80Ellipsoid
	case epsg == 6328:
		zone, north, ell = 59, true, grs80Ellipsoid
	case epsg == 6329:
		zone, north, ell = 60, true, grs80Ellipsoid
	default:
		return nil, errors.Wrapf(errors.ErrProjection, "unsupported EPSG %d", epsg)
	}

	n := ell.f / (2 - ell.f)
	n2 := n * n
	n3 := n2 * n
	t := &utmTransformer{
		epsg:    epsg,
		zone:    zone,
		north:   north,
		lonOrig: float64(zone*6-183) * math.Pi / 180,
		ell:     ell,
		n:       n,
		bigA:    ell.a / (1 + n) * (1 + n2/4 + n2*n2/64),
		alpha1:  n/2 - 2*n2/3 + 5*n3/16,
		alpha2:  13*n2/48 - 3*n3/5,
		alpha3:  61 * n3 / 240,
	}
	return t, nil
}

// EPSG implements Transformer.
func (t *utmTransformer) EPSG() int { return t.epsg }

// Forward implements Transformer.
func (t *utmTransformer) Forward(lon, lat, alt float64) (float64, float64, float64, error) {
	if math.Abs(lat) > utmMaxLatitude {
		return 0, 0, 0, errors.Wrapf(errors.ErrProjection,
			"latitude %.4f outside UTM domain", lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, 0, errors.Wrapf(errors.ErrProjection,
			"longitude %.4f out of range", lon)
	}

	phi := lat * math.Pi / 180
	dLon := lon*math.Pi/180 - t.lonOrig
	// Positions far outside the zone lose the projection's accuracy
	// guarantees; treat them as a zone mismatch.
	if math.Abs(dLon) > 9*math.Pi/180 {
		return 0, 0, 0, errors.Wrapf(errors.ErrProjection,
			"longitude %.4f too far from zone %d central meridian", lon, t.zone)
	}

	sinPhi := math.Sin(phi)
	sqrtN := 2 * math.Sqrt(t.n) / (1 + t.n)
	tau := math.Sinh(math.Atanh(sinPhi) - sqrtN*math.Atanh(sqrtN*sinPhi))

	xiP := math.Atan2(tau, math.Cos(dLon))
	etaP := math.Asinh(math.Sin(dLon) / math.Hypot(tau, math.Cos(dLon)))

	xi := xiP +
		t.alpha1*math.Sin(2*xiP)*math.Cosh(2*etaP) +
		t.alpha2*math.Sin(4*xiP)*math.Cosh(4*etaP) +
		t.alpha3*math.Sin(6*xiP)*math.Cosh(6*etaP)
	eta := etaP +
		t.alpha1*math.Cos(2*xiP)*math.Sinh(2*etaP) +
		t.alpha2*math.Cos(4*xiP)*math.Sinh(4*etaP) +
		t.alpha3*math.Cos(6*xiP)*math.Sinh(6*etaP)

	x := utmFalseEasting + utmScale*t.bigA*eta
	y := utmScale * t.bigA * xi
	if !t.north {
		y += utmFalseNorth
	}
	return x, y, alt, nil
}
