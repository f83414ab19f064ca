package models

type DestinationShare struct {
	Index      int     `json:"index"`
	URL        string  `json:"url"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DistributionStats mirrors the round-robin counters of one link.
type DistributionStats struct {
	LinkID     int64              `json:"link_id"`
	ShortKey   string             `json:"short_key"`
	Domain     string             `json:"domain"`
	TotalCount int64              `json:"total_count"`
	Stats      []DestinationShare `json:"stats"`
	IsBalanced bool               `json:"is_balanced"`
}

// IsBalanced reports whether max(count)-min(count) <= 1.
func IsBalanced(counts []int64) bool {
	if len(counts) <= 1 {
		return true
	}
	lo, hi := counts[0], counts[0]
	for _, c := range counts[1:] {
		lo = min(lo, c)
		hi = max(hi, c)
	}
	return hi-lo <= 1
}
