package dilax

import (
	"regexp"
	"strings"
)

// Vehicle labels are fixed width in the fleet registry, model code on the
// left and unit number right-aligned.
const vehicleLabelWidth = 14

var siteCodeRegex = regexp.MustCompile(`^([A-Za-z]+)(\d+)`)

// Site codes use two letter model prefixes, the registry uses three
var modelPrefixMap = map[string]string{
	"AM": "AMP",
	"AD": "ADL",
}

// ResolveVehicleLabel derives the fixed-width fleet label from a Dilax site
// code, e.g. "AM484" becomes "AMP        484". Returns an empty string when
// the site code is missing or has no alphabetic/numeric split.
func ResolveVehicleLabel(site string) string {
	if site == "" {
		return ""
	}

	matches := siteCodeRegex.FindStringSubmatch(site)
	if matches == nil {
		return ""
	}

	model := strings.ToUpper(matches[1])
	number := matches[2]

	if mapped, ok := modelPrefixMap[model]; ok {
		model = mapped
	}

	padding := vehicleLabelWidth - len(model) - len(number)
	if padding < 0 {
		padding = 0
	}

	return model + strings.Repeat(" ", padding) + number
}
