package crs

import (
	"math"

	"github.com/xtxerr/fathom/internal/errors"
)

// Horizontal datums accepted in configuration.
const (
	DatumNAD83 = "nad83"
	DatumWGS84 = "wgs84"
)

// Geographic (2D geodetic) EPSG codes per datum.
const (
	epsgWGS84Geographic = 4326
	epsgNAD83Geographic = 6319 // NAD83(2011)
)

// GeographicEPSG returns the geodetic CRS code for a datum name.
func GeographicEPSG(datum string) (int, error) {
	switch datum {
	case DatumWGS84:
		return epsgWGS84Geographic, nil
	case DatumNAD83:
		return epsgNAD83Geographic, nil
	default:
		return 0, errors.NewInvalidValue("datum", datum, "unsupported")
	}
}

// UTMZone returns the UTM zone number for a longitude in degrees.
func UTMZone(lon float64) int {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return zone
}

// ProjectedEPSG returns the UTM projected CRS code for a datum, zone and
// hemisphere.
//
// WGS84 zones are 326xx north / 327xx south. NAD83(2011) zones 1N-19N are
// EPSG 6330-6348, with the far-west Alaska zones 59N and 60N at 6328 and
// 6329; NAD83(2011) has no southern UTM codes.
func ProjectedEPSG(datum string, zone int, north bool) (int, error) {
	if zone < 1 || zone > 60 {
		return 0, errors.NewInvalidValue("utm_zone", zone, "outside 1-60")
	}
	switch datum {
	case DatumWGS84:
		if north {
			return 32600 + zone, nil
		}
		return 32700 + zone, nil
	case DatumNAD83:
		if !north {
			return 0, errors.NewInvalidValue("datum", datum, "no southern hemisphere UTM codes")
		}
		switch {
		case zone >= 1 && zone <= 19:
			return 6329 + zone, nil
		case zone == 59:
			return 6328, nil
		case zone == 60:
			return 6329, nil
		default:
			return 0, errors.NewInvalidValue("utm_zone", zone, "no NAD83(2011) code for zone")
		}
	default:
		return 0, errors.NewInvalidValue("datum", datum, "unsupported")
	}
}

// AutoEPSG determines the projected CRS code for a datum from a position,
// the way surveys pick a zone from their first navigation fix.
func AutoEPSG(datum string, lon, lat float64) (int, error) {
	return ProjectedEPSG(datum, UTMZone(lon), lat >= 0)
}
