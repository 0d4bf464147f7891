package scoring

import "math"

// Observation is one (year, ndvi) sample for a parcel.
type Observation struct {
	Year float64
	NDVI float64
}

// NDVISlope fits a least-squares line through yearly NDVI observations and
// returns the slope in NDVI units per year, rounded to 6 places. Fewer than
// two observations carry no trend information, so the result is nil. A zero
// denominator (all observations in the same year) yields 0.
func NDVISlope(obs []Observation) *float64 {
	n := float64(len(obs))
	if n < 2 {
		return nil
	}

	var sumX, sumY, sumXY, sumXX float64
	for _, o := range obs {
		sumX += o.Year
		sumY += o.NDVI
		sumXY += o.Year * o.NDVI
		sumXX += o.Year * o.Year
	}

	denom := n*sumXX - sumX*sumX
	slope := 0.0
	if denom != 0 {
		slope = (n*sumXY - sumX*sumY) / denom
	}
	slope = round(slope, 6)
	return &slope
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
