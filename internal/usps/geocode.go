package usps

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/geo"
)

// Nominatim usage policy: max 1 request per second, unique User-Agent,
// cache aggressively. https://operations.osmfoundation.org/policies/nominatim/
const nominatimInterval = time.Second

// GeoResult is a resolved city/zip for a street + county + state triple.
type GeoResult struct {
	City       string `json:"city"`
	Zip        string `json:"zip"`
	Confidence string `json:"confidence"` // exact, ambiguous, none
	Source     string `json:"source"`     // nominatim or cache
}

// Resolver fills in city and zip for parcels whose situs has neither. The
// address API requires city+state or zip; many county exports carry only
// street + county. Positive results live in an in-process map for the run;
// only negatives go to redis, briefly, so a dead street is not re-asked
// every batch but a stale city never outlives the process.
type Resolver struct {
	url       string
	userAgent string
	http      *http.Client
	cache     *cache.Cache

	mu      sync.Mutex
	session map[string]GeoResult
	last    time.Time
	now     func() time.Time
	sleep   func(time.Duration)
}

func NewResolver(cfg config.NominatimConfig, c *cache.Cache) *Resolver {
	return &Resolver{
		url:       cfg.URL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: 10 * time.Second},
		cache:     c,
		session:   make(map[string]GeoResult),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

type nominatimHit struct {
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	Address struct {
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		Hamlet   string `json:"hamlet"`
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// ResolveCityZip geocodes street + county + state. When the search is
// ambiguous and the parcel centroid is known, the closest hit wins.
// Failures come back with Confidence "none" and are cached briefly so a
// down geocoder does not stall the whole batch at one request per second.
func (r *Resolver) ResolveCityZip(ctx context.Context, street, county, state string, lat, lng *float64) GeoResult {
	params := map[string]string{
		"street": upperTrim(street),
		"county": upperTrim(county),
		"state":  upperTrim(state),
	}
	key := cache.Key("nominatim", params)
	r.mu.Lock()
	hit, ok := r.session[key]
	r.mu.Unlock()
	if ok {
		hit.Source = "cache"
		return hit
	}
	var cached GeoResult
	if r.cache.Get(ctx, "nominatim", params, &cached) {
		cached.Source = "cache"
		return cached
	}

	r.throttle()

	q := url.Values{
		"street":         {street},
		"county":         {county + " County"},
		"state":          {state},
		"country":        {"US"},
		"format":         {"json"},
		"addressdetails": {"1"},
		"limit":          {"5"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url+"?"+q.Encode(), nil)
	if err != nil {
		return GeoResult{Confidence: "none", Source: "nominatim"}
	}
	req.Header.Set("User-Agent", r.userAgent)

	hits, err := r.search(req)
	if err != nil {
		log.Printf("[Nominatim] %s / %s %s: %v", street, county, state, err)
		result := GeoResult{Confidence: "none", Source: "nominatim"}
		r.cache.Set(ctx, "nominatim", params, result, cache.TTLNegative)
		return result
	}
	if len(hits) == 0 {
		result := GeoResult{Confidence: "none", Source: "nominatim"}
		r.cache.Set(ctx, "nominatim", params, result, cache.TTLNegative)
		return result
	}

	best := hits[0]
	if len(hits) > 1 && lat != nil && lng != nil {
		best = closestHit(hits, *lat, *lng)
	}

	addr := best.Address
	city := firstNonEmpty(addr.City, addr.Town, addr.Village, addr.Hamlet)
	zip := addr.Postcode
	if len(zip) > 5 {
		zip = zip[:5]
	}

	confidence := "ambiguous"
	if len(hits) == 1 {
		confidence = "exact"
	}
	if city == "" && zip == "" {
		confidence = "none"
	}

	result := GeoResult{City: city, Zip: zip, Confidence: confidence, Source: "nominatim"}
	if confidence == "none" {
		r.cache.Set(ctx, "nominatim", params, result, cache.TTLNegative)
	} else {
		r.mu.Lock()
		r.session[key] = result
		r.mu.Unlock()
	}
	return result
}

func (r *Resolver) search(req *http.Request) ([]nominatimHit, error) {
	resp, err := r.http.Do(req)

	r.mu.Lock()
	r.last = r.now()
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned %d", resp.StatusCode)
	}

	var hits []nominatimHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decoding nominatim response: %w", err)
	}
	return hits, nil
}

func (r *Resolver) throttle() {
	r.mu.Lock()
	elapsed := r.now().Sub(r.last)
	r.mu.Unlock()
	if elapsed < nominatimInterval {
		r.sleep(nominatimInterval - elapsed)
	}
}

func closestHit(hits []nominatimHit, lat, lng float64) nominatimHit {
	best, bestDist := hits[0], -1.0
	for _, h := range hits {
		hLat, err1 := strconv.ParseFloat(h.Lat, 64)
		hLng, err2 := strconv.ParseFloat(h.Lon, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		d := geo.Haversine(lat, lng, hLat, hLng)
		if bestDist < 0 || d < bestDist {
			best, bestDist = h, d
		}
	}
	return best
}

func upperTrim(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
