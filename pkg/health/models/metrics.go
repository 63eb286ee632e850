package models

import (
	"fmt"
	"math"
)

// MetricsPayload holds raw activity signals of a repository.
// A nil field means the signal is unknown, e.g. a repository without releases.
type MetricsPayload struct {
	DaysSinceLastCommit       *int     `json:"daysSinceLastCommit,omitempty"`
	CommitsLast90Days         *int     `json:"commitsLast90Days,omitempty"`
	DaysSinceLastRelease      *int     `json:"daysSinceLastRelease,omitempty"`
	OpenIssuesPercent         *float64 `json:"openIssuesPercent,omitempty"`
	MedianIssueResolutionDays *float64 `json:"medianIssueResolutionDays,omitempty"`
	OpenPRsCount              *int     `json:"openPrsCount,omitempty"`
}

func (m MetricsPayload) Validate() error {
	ints := []struct {
		name string
		v    *int
	}{
		{"daysSinceLastCommit", m.DaysSinceLastCommit},
		{"commitsLast90Days", m.CommitsLast90Days},
		{"daysSinceLastRelease", m.DaysSinceLastRelease},
		{"openPrsCount", m.OpenPRsCount},
	}
	for _, f := range ints {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", f.name, *f.v)
		}
	}

	if err := validateFloat("medianIssueResolutionDays", m.MedianIssueResolutionDays); err != nil {
		return err
	}
	if err := validateFloat("openIssuesPercent", m.OpenIssuesPercent); err != nil {
		return err
	}
	if m.OpenIssuesPercent != nil && *m.OpenIssuesPercent > 1 {
		return fmt.Errorf("openIssuesPercent must be in [0, 1], got %v", *m.OpenIssuesPercent)
	}

	return nil
}

func validateFloat(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fmt.Errorf("%s must be finite, got %v", name, *v)
	}
	if *v < 0 {
		return fmt.Errorf("%s must be non-negative, got %v", name, *v)
	}

	return nil
}

func IntPtr(v int) *int {
	return &v
}

func FloatPtr(v float64) *float64 {
	return &v
}
