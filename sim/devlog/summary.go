package devlog

// Summary aggregates statistics from a Log.
type Summary struct {
	Buildings           int
	ResidentialUnits    int
	NonResidentialSqft  float64
	DeedRestrictedUnits int
	SubsidizedBuildings int
	TotalSpent          float64
	SkippedSubFunds     int
	BySource            map[string]int // source tag → buildings
	ByPolicy            map[string]int // policy name → buildings (subsidized only)
}

// Summarize computes aggregate statistics from a Log.
// Safe for nil or empty logs (returns zero-value fields).
func Summarize(l *Log) *Summary {
	summary := &Summary{
		BySource: make(map[string]int),
		ByPolicy: make(map[string]int),
	}
	if l == nil {
		return summary
	}

	for _, r := range l.Developments {
		summary.Buildings++
		summary.ResidentialUnits += r.ResidentialUnits
		summary.NonResidentialSqft += r.NonResidentialSqft
		summary.DeedRestrictedUnits += r.DeedRestrictedUnits
		summary.BySource[r.Source]++
		if r.Subsidized {
			summary.SubsidizedBuildings++
			summary.ByPolicy[r.PolicyName]++
		}
	}

	for _, a := range l.Allocations {
		summary.TotalSpent += a.Spent
		if a.Skipped {
			summary.SkippedSubFunds++
		}
	}

	return summary
}
