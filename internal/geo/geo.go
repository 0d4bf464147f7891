// Package geo has the two pieces of spherical arithmetic the collectors
// share.
package geo

import "math"

const earthRadiusMeters = 6371000

// BBox returns a bounding box of +-buffer meters around a point, in
// EPSG:4326 (minLng, minLat, maxLng, maxLat). The degree conversion is the
// flat-earth approximation, fine at parcel scale.
func BBox(lat, lng, bufferMeters float64) (minLng, minLat, maxLng, maxLat float64) {
	latOffset := bufferMeters / 111000
	lngOffset := bufferMeters / (111000 * math.Cos(lat*math.Pi/180))
	return lng - lngOffset, lat - latOffset, lng + lngOffset, lat + latOffset
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
