package naip

import (
	"fmt"
	"math"
	"sync"
)

// NAIP COGs are delivered in UTM. The reader only ever needs the forward
// transform (WGS84 lon/lat to projected meters), so a full projection
// library would be dead weight; the transverse Mercator series below is the
// standard USGS formulation and is accurate to well under a pixel.
type projector struct {
	a, e2, ep2    float64 // ellipsoid
	lng0          float64 // central meridian, radians
	falseNorthing float64
}

const (
	utmScale        = 0.9996
	utmFalseEasting = 500000.0
)

var (
	projMu    sync.Mutex
	projCache = map[int]*projector{}
)

// projectorFor resolves an EPSG code to a cached UTM projector. NAD83
// (269xx) and WGS84 (326xx/327xx) zones cover the NAIP archive.
func projectorFor(epsg int) (*projector, error) {
	projMu.Lock()
	defer projMu.Unlock()
	if p, ok := projCache[epsg]; ok {
		return p, nil
	}

	var zone int
	var invF float64
	south := false
	switch {
	case epsg > 26900 && epsg <= 26923: // NAD83 / UTM north
		zone = epsg - 26900
		invF = 298.257222101 // GRS80
	case epsg > 32600 && epsg <= 32660: // WGS84 / UTM north
		zone = epsg - 32600
		invF = 298.257223563
	case epsg > 32700 && epsg <= 32760: // WGS84 / UTM south
		zone = epsg - 32700
		invF = 298.257223563
		south = true
	default:
		return nil, fmt.Errorf("unsupported CRS EPSG:%d", epsg)
	}

	f := 1 / invF
	e2 := f * (2 - f)
	p := &projector{
		a:    6378137.0,
		e2:   e2,
		ep2:  e2 / (1 - e2),
		lng0: float64(zone*6-183) * math.Pi / 180,
	}
	if south {
		p.falseNorthing = 10000000.0
	}
	projCache[epsg] = p
	return p, nil
}

// forward converts lon/lat degrees to easting/northing meters.
func (p *projector) forward(lng, lat float64) (x, y float64) {
	phi := lat * math.Pi / 180
	lam := lng * math.Pi / 180

	sinP, cosP := math.Sin(phi), math.Cos(phi)
	tanP := sinP / cosP

	n := p.a / math.Sqrt(1-p.e2*sinP*sinP)
	t := tanP * tanP
	c := p.ep2 * cosP * cosP
	aa := (lam - p.lng0) * cosP

	e2, e4, e6 := p.e2, p.e2*p.e2, p.e2*p.e2*p.e2
	m := p.a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	x = utmScale*n*(aa+(1-t+c)*aa*aa*aa/6+
		(5-18*t+t*t+72*c-58*p.ep2)*math.Pow(aa, 5)/120) + utmFalseEasting
	y = utmScale*(m+n*tanP*(aa*aa/2+
		(5-t+9*c+4*c*c)*math.Pow(aa, 4)/24+
		(61-58*t+t*t+600*c-330*p.ep2)*math.Pow(aa, 6)/720)) + p.falseNorthing
	return x, y
}
