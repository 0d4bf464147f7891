package usps

import "strings"

// ParsedSitus is the street/city/state/zip split of a raw situs address.
type ParsedSitus struct {
	Street string
	City   string
	State  string
	Zip    string
}

var stateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true,
}

// Tokens that are both a state code and a common street suffix, e.g.
// CT = Connecticut or Court. Resolved against the county's state.
var ambiguousStateSuffix = map[string]bool{
	"CT": true, "IN": true, "AL": true, "ME": true, "OR": true,
}

// Street suffixes marking the street/city boundary when walking back from
// the state token.
var streetSuffixes = map[string]bool{
	"ST": true, "AVE": true, "AV": true, "RD": true, "DR": true, "LN": true,
	"CT": true, "CIR": true, "BLVD": true, "WAY": true, "PL": true,
	"TRL": true, "LOOP": true, "HWY": true, "PKY": true, "PKWY": true,
	"COVE": true, "CV": true, "RUN": true, "PATH": true, "PASS": true,
	"PT": true, "PIKE": true, "SQ": true, "TER": true, "TERR": true,
	"ALY": true, "ROW": true, "WALK": true, "XING": true, "EXT": true,
	"BND": true, "CRES": true, "GRV": true, "HOLW": true, "IS": true,
	"KNL": true, "LK": true, "LNDG": true, "MALL": true, "MNR": true,
	"MDW": true, "MDWS": true, "ML": true, "MLS": true, "OVAL": true,
	"PARK": true, "PLZ": true, "RIDGE": true, "RDG": true, "SHR": true,
	"SPG": true, "SPUR": true, "TRCE": true, "VLY": true, "VW": true,
	"VISTA": true,
}

// Non-city tokens that show up between street and state in county GIS
// exports.
var citySkipWords = map[string]bool{
	"UNINC": true, "UNINCORP": true, "UNINCORPORATED": true,
	"COUNTY": true, "TWP": true, "TOWNSHIP": true,
}

// SplitSitus splits a raw situs address into the parts the address API
// wants. County exports mix formats:
//
//	"123 MAIN ST CHARLOTTE NC"       street + city + state
//	"123 MAIN ST CHARLOTTE NC 28083" with trailing zip
//	"123 MAIN ST"                    street only, fallbacks fill the rest
//	"123 MAIN ST UNINC NC"           filler token, fallback city
func SplitSitus(situs, fallbackState, fallbackCity string) ParsedSitus {
	parts := strings.Fields(situs)
	if len(parts) == 0 {
		return ParsedSitus{Street: situs, City: fallbackCity, State: fallbackState}
	}

	// Trailing zip, 5-digit or 5-4.
	var zip string
	last := parts[len(parts)-1]
	switch {
	case len(last) == 5 && isDigits(last):
		zip = last
		parts = parts[:len(parts)-1]
	case len(last) == 10 && last[5] == '-' && isDigits(last[:5]) && isDigits(last[6:]):
		zip = last[:5]
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return ParsedSitus{Street: strings.TrimSpace(situs), City: fallbackCity,
			State: fallbackState, Zip: zip}
	}

	state := strings.ToUpper(parts[len(parts)-1])
	if len(parts) < 3 || !stateCodes[state] {
		return ParsedSitus{Street: strings.Join(parts, " "), City: fallbackCity,
			State: fallbackState, Zip: zip}
	}

	// "401 HIDDEN CT" in an NC county is a Court, not Connecticut.
	if ambiguousStateSuffix[state] && fallbackState != "" &&
		state != strings.ToUpper(fallbackState) {
		return ParsedSitus{Street: strings.Join(parts, " "), City: fallbackCity,
			State: fallbackState, Zip: zip}
	}

	cityCandidate := strings.ToUpper(parts[len(parts)-2])
	if citySkipWords[cityCandidate] || isDigits(cityCandidate) {
		return ParsedSitus{Street: strings.Join(parts[:len(parts)-2], " "),
			City: fallbackCity, State: state, Zip: zip}
	}

	// Walk back from the state token collecting city words until a street
	// suffix appears.
	var cityParts []string
	idx := len(parts) - 2
	for idx > 0 {
		token := strings.TrimRight(strings.ToUpper(parts[idx]), ",.")
		if streetSuffixes[token] {
			break
		}
		cityParts = append([]string{parts[idx]}, cityParts...)
		idx--
	}

	if len(cityParts) > 0 {
		return ParsedSitus{
			Street: strings.Join(parts[:idx+1], " "),
			City:   strings.Join(cityParts, " "),
			State:  state,
			Zip:    zip,
		}
	}
	return ParsedSitus{Street: strings.Join(parts[:len(parts)-2], " "),
		City: parts[len(parts)-2], State: state, Zip: zip}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
