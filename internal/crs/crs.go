// Package crs is the coordinate reference system boundary. The pipeline
// georeferences against the Transformer contract only; a built-in UTM
// transformer covers the standard survey datums, and external
// implementations can be plugged in through Builder.
package crs

import (
	"github.com/xtxerr/fathom/internal/errors"
)

// Vertical references supported for exported depths. Tidal datums need an
// external separation grid and are not built in.
const (
	VerticalWaterline = "waterline"
	VerticalEllipse   = "ellipse"
)

// VerticalReferences lists the supported vertical reference names.
func VerticalReferences() []string {
	return []string{VerticalWaterline, VerticalEllipse}
}

// ValidVerticalReference reports whether name is a supported vertical
// reference.
func ValidVerticalReference(name string) bool {
	for _, v := range VerticalReferences() {
		if v == name {
			return true
		}
	}
	return false
}

// Transformer projects geodetic positions into a target projected CRS.
// Implementations must be safe for concurrent use; workers share one
// transformer across chunks.
type Transformer interface {
	// Forward projects longitude/latitude (degrees) and ellipsoidal
	// altitude (meters) to projected easting/northing/altitude (meters).
	Forward(lon, lat, alt float64) (x, y, z float64, err error)

	// EPSG returns the target projected CRS code.
	EPSG() int
}

// Builder constructs Transformers for a target CRS and vertical reference.
type Builder interface {
	Build(epsg int, verticalRef string) (Transformer, error)
}

// StandardBuilder builds the built-in UTM transformer for the WGS84 and
// NAD83(2011) projected codes.
type StandardBuilder struct{}

// Build implements Builder.
func (StandardBuilder) Build(epsg int, verticalRef string) (Transformer, error) {
	if !ValidVerticalReference(verticalRef) {
		return nil, errors.NewInvalidValue("vertical_reference", verticalRef, "unsupported")
	}
	return newUTMTransformer(epsg)
}
