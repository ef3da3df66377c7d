package validate

import "strings"

// countryCodes maps the country names the activity cards render to ISO 3166-1
// alpha-2 codes. Names outside the network's footprint pass through raw.
var countryCodes = map[string]string{
	"albania":        "AL",
	"austria":        "AT",
	"azerbaijan":     "AZ",
	"belgium":        "BE",
	"bosnia and herzegovina": "BA",
	"bulgaria":       "BG",
	"croatia":        "HR",
	"cyprus":         "CY",
	"czech republic": "CZ",
	"czechia":        "CZ",
	"denmark":        "DK",
	"estonia":        "EE",
	"finland":        "FI",
	"france":         "FR",
	"georgia":        "GE",
	"germany":        "DE",
	"greece":         "GR",
	"hungary":        "HU",
	"iceland":        "IS",
	"ireland":        "IE",
	"italy":          "IT",
	"latvia":         "LV",
	"liechtenstein":  "LI",
	"lithuania":      "LT",
	"luxembourg":     "LU",
	"malta":          "MT",
	"moldova":        "MD",
	"montenegro":     "ME",
	"netherlands":    "NL",
	"the netherlands": "NL",
	"north macedonia": "MK",
	"norway":         "NO",
	"poland":         "PL",
	"portugal":       "PT",
	"romania":        "RO",
	"serbia":         "RS",
	"slovakia":       "SK",
	"slovenia":       "SI",
	"spain":          "ES",
	"sweden":         "SE",
	"switzerland":    "CH",
	"turkey":         "TR",
	"türkiye":        "TR",
	"ukraine":        "UA",
	"united kingdom": "GB",
}

// CountryCode resolves a rendered country name to its alpha-2 code. Unknown
// names are returned unchanged so no location data is lost.
func CountryCode(name string) string {
	trimmed := strings.TrimSpace(name)
	if code, ok := countryCodes[strings.ToLower(trimmed)]; ok {
		return code
	}
	return trimmed
}
