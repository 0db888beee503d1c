package geo

import (
	"fmt"

	"github.com/GeeoIO/geeo-server/constants"
)

// Bounds is an axis-aligned rectangle on the lat/lon plane, stored
// normalized so MinLat <= MaxLat and MinLon <= MaxLon regardless of the
// corner order the client supplied.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// NewBounds builds normalized bounds from two arbitrary corners.
func NewBounds(lat1, lat2, lon1, lon2 float64) Bounds {
	b := Bounds{MinLat: lat1, MaxLat: lat2, MinLon: lon1, MaxLon: lon2}
	if b.MinLat > b.MaxLat {
		b.MinLat, b.MaxLat = b.MaxLat, b.MinLat
	}
	if b.MinLon > b.MaxLon {
		b.MinLon, b.MaxLon = b.MaxLon, b.MinLon
	}
	return b
}

// Contains reports whether the point is inside the bounds. All four
// edges are inclusive; enter/leave detection relies on the same test so
// boundary semantics stay uniform.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat &&
		lon >= b.MinLon && lon <= b.MaxLon
}

// CheckCoords validates a lat/lon pair.
func CheckCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]: %w", lat, constants.ErrInvalidArgument)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]: %w", lon, constants.ErrInvalidArgument)
	}
	return nil
}

// CheckBounds validates both corners of a rectangle.
func CheckBounds(b Bounds) error {
	if err := CheckCoords(b.MinLat, b.MinLon); err != nil {
		return err
	}
	return CheckCoords(b.MaxLat, b.MaxLon)
}
