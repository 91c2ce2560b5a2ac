package finops

import (
	"sort"
	"time"
)

// Recommendation priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Recommendation is one cost optimization opportunity, costs in USD/month.
type Recommendation struct {
	ResourceID       string  `json:"resource_id"`
	ResourceType     string  `json:"type"`
	CurrentCost      float64 `json:"current_cost"`
	PotentialSavings float64 `json:"savings"`
	Action           string  `json:"action"`
	Priority         string  `json:"priority"`
}

// Report aggregates one analysis run.
type Report struct {
	GeneratedAt           time.Time        `json:"timestamp"`
	TotalRecommendations  int              `json:"total_recommendations"`
	HighPriorityCount     int              `json:"high_priority_count"`
	TotalPotentialSavings float64          `json:"total_potential_savings"`
	Recommendations       []Recommendation `json:"recommendations"`
}

// BuildReport totals the recommendations and sorts them by savings,
// largest first.
func BuildReport(recs []Recommendation) *Report {
	report := &Report{
		GeneratedAt:          time.Now().UTC(),
		TotalRecommendations: len(recs),
	}
	for _, r := range recs {
		report.TotalPotentialSavings += r.PotentialSavings
		if r.Priority == PriorityHigh {
			report.HighPriorityCount++
		}
	}
	sorted := make([]Recommendation, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PotentialSavings > sorted[j].PotentialSavings
	})
	report.Recommendations = sorted
	return report
}
