package scoring

// Conviction model v1.0. The base score reweights over whichever of the two
// core components are present, so a parcel with no motivation signals is not
// punished for missing coverage. The vacancy bonus sits on top; when no base
// evidence exists at all, the bonus alone still ranks the parcel.
const (
	ConvictionModel = "v1.0"

	weightDS        = 0.35
	weightMC        = 0.40
	mcCap           = 7.0
	vacancyBonusMax = 2.5
)

// ConvictionInput carries the per-parcel aggregates pass 2.5 reads back from
// the store.
type ConvictionInput struct {
	Composite   *float64 // composite distress score, 0..10
	MCRaw       float64  // sum of weight*confidence over fired flags
	MCCount     int      // number of fired flags; 0 means no coverage
	FlagVacancy bool     // an ok vacancy determination exists
	VacancyConf *float64 // confidence of that determination
	USPSError   string   // last vacancy error code, empty when clean
}

// Conviction is the decomposed output of one scoring call.
type Conviction struct {
	Score        *float64
	Base         *float64
	VacancyBonus float64
	Components   []string
}

// ComputeConviction scores one parcel. A nil Score means the parcel is not
// rankable: no composite, no motivation signal, and no clean vacancy
// determination. A vacancy bonus alone ranks the parcel with a zero base.
func ComputeConviction(in ConvictionInput) Conviction {
	var dsComp, mcComp *float64
	if in.Composite != nil {
		v := clamp(*in.Composite/10.0, 0, 1)
		dsComp = &v
	}
	if in.MCCount > 0 {
		v := clamp(in.MCRaw/mcCap, 0, 1)
		mcComp = &v
	}

	vacBonus := 0.0
	if in.FlagVacancy && in.USPSError == "" {
		vc := 0.8
		if in.VacancyConf != nil {
			vc = *in.VacancyConf
		}
		vacBonus = vacancyBonusMax * clamp(vc, 0, 1)
	}

	baseSum := 0.0
	if dsComp != nil {
		baseSum += weightDS
	}
	if mcComp != nil {
		baseSum += weightMC
	}
	if baseSum == 0 && vacBonus == 0 {
		return Conviction{}
	}

	base := 0.0
	if baseSum > 0 {
		base = 10 * (weightDS*deref(dsComp) + weightMC*deref(mcComp)) / baseSum
	}
	score := round(clamp(base+vacBonus, 0, 10), 2)
	baseRounded := round(base, 2)

	components := make([]string, 0, 3)
	if dsComp != nil {
		components = append(components, "DS")
	}
	if mcComp != nil {
		components = append(components, "MC")
	}
	if vacBonus > 0 {
		components = append(components, "VAC")
	}

	return Conviction{
		Score:        &score,
		Base:         &baseRounded,
		VacancyBonus: round(vacBonus, 2),
		Components:   components,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
