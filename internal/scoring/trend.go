package scoring

// Trend direction thresholds, NDVI per month.
const (
	trendIncreasing = 0.005
	trendDecreasing = -0.005
)

// MonthlyTrend fits a least-squares line through an ordered monthly NDVI
// series (x = month index) and classifies the direction. Fewer than three
// months with data is not enough signal: the slope is nil and the direction
// is "insufficient_data".
func MonthlyTrend(values []float64) (*float64, string) {
	if len(values) < 3 {
		return nil, "insufficient_data"
	}

	obs := make([]Observation, len(values))
	for i, v := range values {
		obs[i] = Observation{Year: float64(i), NDVI: v}
	}
	slope := NDVISlope(obs)

	direction := "stable"
	switch {
	case *slope > trendIncreasing:
		direction = "increasing"
	case *slope < trendDecreasing:
		direction = "decreasing"
	}
	return slope, direction
}
