package models

import "strings"

var carrierNames = map[string]string{
	"usps":       "USPS",
	"fedex":      "FedEx",
	"ups":        "UPS",
	"dhl":        "DHL",
	"amzlus":     "Amazon Logistics",
	"canadapost": "Canada Post",
	"royalmail":  "Royal Mail",
	"auspost":    "Australia Post",
	"jpost":      "Japan Post",
	"lasership":  "LaserShip",
	"ontrac":     "OnTrac",
}

// CarrierName maps a Parcel carrier code to a display name. Unknown codes are
// shown upper-cased.
func CarrierName(code string) string {
	if name, ok := carrierNames[strings.ToLower(code)]; ok {
		return name
	}
	return strings.ToUpper(code)
}
