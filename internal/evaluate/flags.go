// Package evaluate turns collector readings into distress flags. Every
// evaluator is a pure function so the combination rules stay testable
// without any upstream service.
package evaluate

import (
	"math"

	"github.com/keystone-reo/distress-scanner/internal/domain"
)

// Signal codes.
const (
	SignalOvergrowth = "vegetation_overgrowth"
	SignalNeglect    = "vegetation_neglect"
	SignalFlood      = "flood_risk"
	SignalStructural = "structural_change"
	SignalVacancy    = "usps_vacancy"
)

// SignalWeights are the per-signal contributions to the distress score.
var SignalWeights = map[string]float64{
	SignalOvergrowth: 2.0,
	SignalNeglect:    1.5,
	SignalFlood:      1.5,
	SignalStructural: 2.5,
	SignalVacancy:    2.5,
}

// Thresholds tuned for parcel distress detection.
const (
	ndviNeglectMin = 0.10 // below this is impervious/rock, not neglect
	ndviNeglectMax = 0.30

	ndviOvergrowthModerate = 0.50
	ndviOvergrowthStrong   = 0.65
	ndviOvergrowthChange   = 0.15 // delta above baseline mean

	ndviDropThreshold = 0.20

	floodHighConfidence     = 1.0
	floodModerateConfidence = 0.6
)

// Aerial is the NAIP reading an evaluator sees. HistoricalMean and Change
// are nil until pass 1.5 has run for the parcel.
type Aerial struct {
	CurrentNDVI    *float64
	HistoricalMean *float64
	Change         *float64 // current minus historical mean
	Failed         bool
}

// Trend is the Sentinel/Landsat monthly trend reading.
type Trend struct {
	Slope     *float64
	Direction string
	Latest    *float64
	Earliest  *float64
	Failed    bool
}

// Flood is the FEMA reading.
type Flood struct {
	Zone    string
	Risk    string // high, moderate, low, unknown
	SFHA    bool
	Subtype string
	Failed  bool
}

// Vacancy is the USPS reading. Present is false until pass 2.25 has an ok
// determination for the parcel.
type Vacancy struct {
	Present      bool
	Vacant       *bool
	DPVConfirmed *bool
	Mismatch     bool
}

// Overgrowth detects vegetation overgrowth from the aerial baseline and the
// monthly trend. Two aerial tiers: strong (>0.65) fires on its own when no
// history exists; moderate (0.50..0.65] needs the historical delta to
// confirm. Sources agreeing boost confidence; a single source is
// discounted.
func Overgrowth(aerial *Aerial, trend *Trend) (domain.Flag, bool) {
	var aerialFired, trendFired, noHistoryTier bool
	var aerialConf, trendConf float64

	if aerial != nil && !aerial.Failed && aerial.CurrentNDVI != nil {
		current := *aerial.CurrentNDVI
		hist := aerial.HistoricalMean
		switch {
		case current > ndviOvergrowthStrong:
			if hist != nil && current > *hist+ndviOvergrowthChange {
				aerialFired = true
				aerialConf = math.Min((current-*hist)/0.3, 1.0)
			} else if hist == nil {
				// No baseline but very high NDVI: flag conservatively.
				aerialFired = true
				aerialConf = 0.6
				noHistoryTier = true
			}
		case current > ndviOvergrowthModerate:
			if hist != nil && current > *hist+ndviOvergrowthChange {
				aerialFired = true
				aerialConf = math.Min((current-*hist)/0.3, 0.8)
			}
		}
	}

	if trend != nil && !trend.Failed && trend.Direction == "increasing" && trend.Slope != nil {
		if trend.Latest != nil && *trend.Latest > ndviOvergrowthModerate {
			trendFired = true
			trendConf = math.Min(*trend.Slope/0.02, 1.0)
		}
	}

	switch {
	case aerialFired && trendFired:
		return domain.Flag{Code: SignalOvergrowth, Confidence: math.Min(math.Max(aerialConf, trendConf)+0.2, 1.0)}, true
	case aerialFired:
		conf := aerialConf * 0.8
		if noHistoryTier {
			// Already conservative, no single-source discount on top.
			conf = aerialConf
		}
		return domain.Flag{Code: SignalOvergrowth, Confidence: conf}, true
	case trendFired:
		return domain.Flag{Code: SignalOvergrowth, Confidence: trendConf * 0.7}, true
	}
	return domain.Flag{}, false
}

// Neglect flags bare/abandoned lots: NDVI inside the neglect band, with
// confidence inversely proportional to NDVI (0.10 → 1.0, 0.30 → 0.3) and a
// flood-zone boost for compounding distress.
func Neglect(aerial *Aerial, flood *Flood) (domain.Flag, bool) {
	if aerial == nil || aerial.Failed || aerial.CurrentNDVI == nil {
		return domain.Flag{}, false
	}
	current := *aerial.CurrentNDVI
	if current < ndviNeglectMin || current > ndviNeglectMax {
		return domain.Flag{}, false
	}

	conf := round2(1.0 - ((current-ndviNeglectMin)/(ndviNeglectMax-ndviNeglectMin))*0.7)
	if flood != nil && !flood.Failed && (flood.Risk == "high" || flood.Risk == "moderate") {
		conf = math.Min(conf+0.15, 1.0)
	}
	return domain.Flag{Code: SignalNeglect, Confidence: conf}, true
}

// FloodRisk classifies the FEMA zone reading.
func FloodRisk(flood *Flood) (domain.Flag, bool) {
	if flood == nil || flood.Failed {
		return domain.Flag{}, false
	}
	switch {
	case flood.Risk == "high" || flood.SFHA:
		return domain.Flag{Code: SignalFlood, Confidence: floodHighConfidence}, true
	case flood.Risk == "moderate":
		return domain.Flag{Code: SignalFlood, Confidence: floodModerateConfidence}, true
	}
	return domain.Flag{}, false
}

// StructuralChange detects demolition, fire, or clearing: a large NDVI drop
// against the aerial baseline, or a decreasing monthly trend spanning a
// comparable drop.
func StructuralChange(aerial *Aerial, trend *Trend) (domain.Flag, bool) {
	var aerialFired, trendFired bool
	var aerialConf, trendConf float64

	if aerial != nil && !aerial.Failed && aerial.CurrentNDVI != nil && aerial.HistoricalMean != nil {
		drop := *aerial.HistoricalMean - *aerial.CurrentNDVI
		if drop > ndviDropThreshold {
			aerialFired = true
			aerialConf = math.Min(drop/0.4, 1.0)
		}
	}

	if trend != nil && !trend.Failed && trend.Direction == "decreasing" && trend.Slope != nil {
		if trend.Earliest != nil && trend.Latest != nil && *trend.Earliest-*trend.Latest > ndviDropThreshold {
			trendFired = true
			trendConf = math.Min(math.Abs(*trend.Slope)/0.02, 1.0)
		}
	}

	switch {
	case aerialFired && trendFired:
		return domain.Flag{Code: SignalStructural, Confidence: math.Min(math.Max(aerialConf, trendConf)+0.2, 1.0)}, true
	case aerialFired:
		return domain.Flag{Code: SignalStructural, Confidence: aerialConf * 0.8}, true
	case trendFired:
		return domain.Flag{Code: SignalStructural, Confidence: trendConf * 0.7}, true
	}
	return domain.Flag{}, false
}

// USPSVacancy scores a carrier-confirmed vacancy. DPV confirmation raises
// confidence, an unconfirmed address lowers it, and an address mismatch
// (USPS corrected our address) caps it.
func USPSVacancy(vac *Vacancy) (domain.Flag, bool) {
	if vac == nil || !vac.Present || vac.Vacant == nil || !*vac.Vacant {
		return domain.Flag{}, false
	}

	conf := 0.85
	if vac.DPVConfirmed != nil && *vac.DPVConfirmed {
		conf = 0.90
	} else {
		conf = 0.75
	}
	if vac.Mismatch {
		conf = math.Min(conf, 0.70)
	}
	return domain.Flag{Code: SignalVacancy, Confidence: conf}, true
}

// AllFlags runs every evaluator and returns the flags that fired.
func AllFlags(aerial *Aerial, trend *Trend, flood *Flood, vac *Vacancy) []domain.Flag {
	var flags []domain.Flag
	if f, ok := Overgrowth(aerial, trend); ok {
		flags = append(flags, f)
	}
	if f, ok := Neglect(aerial, flood); ok {
		flags = append(flags, f)
	}
	if f, ok := FloodRisk(flood); ok {
		flags = append(flags, f)
	}
	if f, ok := StructuralChange(aerial, trend); ok {
		flags = append(flags, f)
	}
	if f, ok := USPSVacancy(vac); ok {
		flags = append(flags, f)
	}
	return flags
}

// DistressScore sums weighted flag confidences, clamped to 10.
func DistressScore(flags []domain.Flag) float64 {
	score := 0.0
	for _, f := range flags {
		w, ok := SignalWeights[f.Code]
		if !ok {
			w = 1.0
		}
		score += w * f.Confidence
	}
	return round2(math.Min(score, 10.0))
}

// SentinelWorthy decides whether a parcel earns trend enrichment on a later
// pass.
func SentinelWorthy(aerial *Aerial, flood *Flood, flags []domain.Flag) bool {
	if aerial != nil && !aerial.Failed {
		if aerial.CurrentNDVI != nil && *aerial.CurrentNDVI > 0.50 {
			return true
		}
		if aerial.Change != nil && *aerial.Change < -0.20 {
			return true
		}
	}
	for _, f := range flags {
		if f.Code == SignalOvergrowth {
			return true
		}
	}
	if flood != nil && (flood.Risk == "high" || flood.Risk == "moderate") {
		return true
	}
	return len(flags) > 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
