package ledger

import "time"

// Summary holds totals and chart bounds for a set of records
type Summary struct {
	Count      int        `json:"count" yaml:"count"`
	MaxEntries int        `json:"max_entries" yaml:"max_entries"`
	First      *time.Time `json:"first,omitempty" yaml:"first,omitempty"`
	Last       *time.Time `json:"last,omitempty" yaml:"last,omitempty"`
	MinMiles   int        `json:"min_miles" yaml:"min_miles"`
	MaxMiles   int        `json:"max_miles" yaml:"max_miles"`
	Range      int        `json:"range" yaml:"range"`
}

// Summarize computes a Summary; records may be in any order
func Summarize(records []Record, maxEntries int) Summary {
	sum := Summary{Count: len(records), MaxEntries: maxEntries}
	if len(records) == 0 {
		return sum
	}

	first, last := records[0].Date, records[0].Date
	sum.MinMiles, sum.MaxMiles = records[0].Miles, records[0].Miles
	for _, r := range records[1:] {
		if r.Date.Before(first) {
			first = r.Date
		}
		if r.Date.After(last) {
			last = r.Date
		}
		sum.MinMiles = min(sum.MinMiles, r.Miles)
		sum.MaxMiles = max(sum.MaxMiles, r.Miles)
	}
	sum.First, sum.Last = &first, &last
	sum.Range = sum.MaxMiles - sum.MinMiles
	return sum
}
