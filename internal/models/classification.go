package models

// UnknownCountry is reported when an address cannot be resolved.
const UnknownCountry = "UNKNOWN"

type Classification struct {
	Country            string  `json:"country"`
	Region             *string `json:"region,omitempty"`
	City               *string `json:"city,omitempty"`
	IsRestrictedRegion bool    `json:"is_restricted_region"`
	IsBot              bool    `json:"is_bot"`
}
