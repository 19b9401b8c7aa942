package order

import "strings"

// stateCodes maps canonical Indian state and union territory names to their
// GST state codes. Lookups are case-insensitive on the trimmed name.
var stateCodes = map[string]string{
	"andaman and nicobar islands": "AN",
	"andhra pradesh":              "AP",
	"arunachal pradesh":           "AR",
	"assam":                       "AS",
	"bihar":                       "BR",
	"chandigarh":                  "CH",
	"chhattisgarh":                "CG",
	"dadra and nagar haveli and daman and diu": "DN",
	"delhi":            "DL",
	"goa":              "GA",
	"gujarat":          "GJ",
	"haryana":          "HR",
	"himachal pradesh": "HP",
	"jammu and kashmir": "JK",
	"jharkhand":        "JH",
	"karnataka":        "KA",
	"kerala":           "KL",
	"ladakh":           "LA",
	"lakshadweep":      "LD",
	"madhya pradesh":   "MP",
	"maharashtra":      "MH",
	"manipur":          "MN",
	"meghalaya":        "ML",
	"mizoram":          "MZ",
	"nagaland":         "NL",
	"odisha":           "OD",
	"puducherry":       "PY",
	"punjab":           "PB",
	"rajasthan":        "RJ",
	"sikkim":           "SK",
	"tamil nadu":       "TN",
	"telangana":        "TS",
	"tripura":          "TR",
	"uttar pradesh":    "UP",
	"uttarakhand":      "UK",
	"west bengal":      "WB",
}

// StateCodeForName resolves a state name to its GST code. The empty string
// is returned when the name is unknown.
func StateCodeForName(name string) string {
	return stateCodes[strings.ToLower(strings.TrimSpace(name))]
}
