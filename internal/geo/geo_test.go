package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBBox(t *testing.T) {
	minLng, minLat, maxLng, maxLat := BBox(35.19, -114.05, 50)

	assert.InDelta(t, 35.19, (minLat+maxLat)/2, 1e-9)
	assert.InDelta(t, -114.05, (minLng+maxLng)/2, 1e-9)
	// 50 m buffer is ~0.00045 degrees of latitude.
	assert.InDelta(t, 0.0009, maxLat-minLat, 1e-5)
	// Longitude span widens with latitude.
	assert.Greater(t, maxLng-minLng, maxLat-minLat)
}

func TestHaversine(t *testing.T) {
	// Same point.
	assert.InDelta(t, 0, Haversine(35.19, -114.05, 35.19, -114.05), 1e-6)

	// One degree of latitude is about 111.2 km.
	d := Haversine(35.0, -114.0, 36.0, -114.0)
	assert.InDelta(t, 111200, d, 300)
}
