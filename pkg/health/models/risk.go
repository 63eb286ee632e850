package models

import "fmt"

type RiskCategory string

// Ordered from best to worst.
const (
	RiskHealthy   RiskCategory = "healthy"
	RiskModerate  RiskCategory = "moderate"
	RiskDeclining RiskCategory = "declining"
	RiskInactive  RiskCategory = "inactive"
)

var riskRanks = map[RiskCategory]int{
	RiskHealthy:   0,
	RiskModerate:  1,
	RiskDeclining: 2,
	RiskInactive:  3,
}

func ParseRiskCategory(s string) (RiskCategory, error) {
	c := RiskCategory(s)
	if _, ok := riskRanks[c]; !ok {
		return "", fmt.Errorf("unknown risk category %q", s)
	}

	return c, nil
}

// Rank is 0 for the best category and grows as health gets worse.
func (c RiskCategory) Rank() int {
	r, ok := riskRanks[c]
	if !ok {
		return len(riskRanks)
	}

	return r
}

func (c RiskCategory) IsWorseThan(other RiskCategory) bool {
	return c.Rank() > other.Rank()
}
