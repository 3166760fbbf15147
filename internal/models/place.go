package models

import "strings"

// ResolvedPlace is a geocoded place. Produced once per lookup and never mutated.
type ResolvedPlace struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	DisplayName string  `json:"displayName"`
}

// DisplayName joins name, admin region and country with ", ".
// Empty parts are skipped and an admin region equal to the name is dropped.
func DisplayName(name, admin1, country string) string {
	parts := make([]string, 0, 3)
	if name != "" {
		parts = append(parts, name)
	}
	if admin1 != "" && admin1 != name {
		parts = append(parts, admin1)
	}
	if country != "" {
		parts = append(parts, country)
	}
	return strings.Join(parts, ", ")
}
