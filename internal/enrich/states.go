package enrich

import "maps"

// usStateCodes maps US state, district and territory names to their postal
// abbreviations. Keys are matched exactly, including case.
var usStateCodes = map[string]string{
	"Alabama":                  "AL",
	"Alaska":                   "AK",
	"American Samoa":           "AS",
	"Arizona":                  "AZ",
	"Arkansas":                 "AR",
	"California":               "CA",
	"Colorado":                 "CO",
	"Connecticut":              "CT",
	"Delaware":                 "DE",
	"District of Columbia":     "DC",
	"Florida":                  "FL",
	"Georgia":                  "GA",
	"Guam":                     "GU",
	"Hawaii":                   "HI",
	"Idaho":                    "ID",
	"Illinois":                 "IL",
	"Indiana":                  "IN",
	"Iowa":                     "IA",
	"Kansas":                   "KS",
	"Kentucky":                 "KY",
	"Louisiana":                "LA",
	"Maine":                    "ME",
	"Maryland":                 "MD",
	"Massachusetts":            "MA",
	"Michigan":                 "MI",
	"Minnesota":                "MN",
	"Mississippi":              "MS",
	"Missouri":                 "MO",
	"Montana":                  "MT",
	"Nebraska":                 "NE",
	"Nevada":                   "NV",
	"New Hampshire":            "NH",
	"New Jersey":               "NJ",
	"New Mexico":               "NM",
	"New York":                 "NY",
	"North Carolina":           "NC",
	"North Dakota":             "ND",
	"Northern Mariana Islands": "MP",
	"Ohio":                     "OH",
	"Oklahoma":                 "OK",
	"Oregon":                   "OR",
	"Pennsylvania":             "PA",
	"Puerto Rico":              "PR",
	"Rhode Island":             "RI",
	"South Carolina":           "SC",
	"South Dakota":             "SD",
	"Tennessee":                "TN",
	"Texas":                    "TX",
	"Trust Territories":        "TT",
	"Utah":                     "UT",
	"Vermont":                  "VT",
	"Virgin Islands":           "VI",
	"Virginia":                 "VA",
	"Washington":               "WA",
	"West Virginia":            "WV",
	"Wisconsin":                "WI",
	"Wyoming":                  "WY",
}

// StateTable is an immutable name-to-abbreviation lookup.
type StateTable struct {
	codes map[string]string
}

// NewStateTable builds a table from the given mapping. The map is copied.
func NewStateTable(codes map[string]string) StateTable {
	return StateTable{codes: maps.Clone(codes)}
}

// USStates returns the fixed table of the 50 states, DC and six territories.
func USStates() StateTable {
	return NewStateTable(usStateCodes)
}

// Lookup returns the abbreviation for an exact state name.
func (t StateTable) Lookup(name string) (string, bool) {
	code, ok := t.codes[name]
	return code, ok
}

func (t StateTable) names() map[string]string { return maps.Clone(t.codes) }
