package usps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSitus(t *testing.T) {
	cases := []struct {
		name          string
		situs         string
		fallbackState string
		fallbackCity  string
		want          ParsedSitus
	}{
		{
			name:  "street city state",
			situs: "123 MAIN ST CHARLOTTE NC",
			want:  ParsedSitus{Street: "123 MAIN ST", City: "CHARLOTTE", State: "NC"},
		},
		{
			name:  "street city state zip",
			situs: "123 MAIN ST CHARLOTTE NC 28083",
			want:  ParsedSitus{Street: "123 MAIN ST", City: "CHARLOTTE", State: "NC", Zip: "28083"},
		},
		{
			name:  "zip plus four",
			situs: "123 MAIN ST CHARLOTTE NC 28083-1234",
			want:  ParsedSitus{Street: "123 MAIN ST", City: "CHARLOTTE", State: "NC", Zip: "28083"},
		},
		{
			name:  "multi word city",
			situs: "718 NORTON DR MOUNT HOLLY NC",
			want:  ParsedSitus{Street: "718 NORTON DR", City: "MOUNT HOLLY", State: "NC"},
		},
		{
			name:          "street only uses fallbacks",
			situs:         "123 MAIN ST",
			fallbackState: "NC",
			fallbackCity:  "GASTONIA",
			want:          ParsedSitus{Street: "123 MAIN ST", City: "GASTONIA", State: "NC"},
		},
		{
			name:          "ct is a court not connecticut",
			situs:         "401 HIDDEN CT",
			fallbackState: "NC",
			want:          ParsedSitus{Street: "401 HIDDEN CT", State: "NC"},
		},
		{
			name:          "ambiguous state token with different fallback state",
			situs:         "12 OAK RIDGE CT",
			fallbackState: "NC",
			fallbackCity:  "DALLAS",
			want:          ParsedSitus{Street: "12 OAK RIDGE CT", City: "DALLAS", State: "NC"},
		},
		{
			name:  "ambiguous state token without fallback is a state",
			situs: "12 ELM ST HARTFORD CT",
			want:  ParsedSitus{Street: "12 ELM ST", City: "HARTFORD", State: "CT"},
		},
		{
			name:          "unincorporated filler",
			situs:         "123 MAIN ST UNINC NC",
			fallbackCity:  "GASTONIA",
			fallbackState: "NC",
			want:          ParsedSitus{Street: "123 MAIN ST", City: "GASTONIA", State: "NC"},
		},
		{
			name:          "numeric city candidate",
			situs:         "CRESTVIEW DR 103 TN",
			fallbackCity:  "MEMPHIS",
			fallbackState: "TN",
			want:          ParsedSitus{Street: "CRESTVIEW DR", City: "MEMPHIS", State: "TN"},
		},
		{
			name:  "trail suffix bounds a two word city",
			situs: "9031 STAGECOACH TRL DOLAN SPRINGS AZ",
			want:  ParsedSitus{Street: "9031 STAGECOACH TRL", City: "DOLAN SPRINGS", State: "AZ"},
		},
		{
			name:          "empty situs",
			situs:         "   ",
			fallbackState: "NC",
			fallbackCity:  "GASTONIA",
			want:          ParsedSitus{Street: "   ", City: "GASTONIA", State: "NC"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitSitus(tc.situs, tc.fallbackState, tc.fallbackCity)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetectMismatch(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		usps     string
		mismatch bool
	}{
		{"empty standardized", "123 MAIN ST", "", false},
		{"identical", "123 MAIN ST", "123 MAIN ST", false},
		{"case and spacing", "123  main st", "123 MAIN ST", false},
		{"containment", "123 MAIN ST APT 2", "123 MAIN ST", false},
		{"same house number different suffix", "123 MAIN ST", "123 MAIN STREET NW", false},
		{"different house number", "123 MAIN ST", "125 MAIN ST", true},
		{"different street", "123 MAIN ST", "77 ELM AVE", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.mismatch, detectMismatch(tc.input, tc.usps))
		})
	}
}
