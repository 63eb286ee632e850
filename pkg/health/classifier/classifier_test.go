package classifier

import (
	"testing"

	"github.com/golangci/repohealth/pkg/health/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	i = models.IntPtr
	f = models.FloatPtr
)

func TestClassifyHealthyRepository(t *testing.T) {
	category, score := Default().Classify(models.MetricsPayload{
		DaysSinceLastCommit:       i(10),
		CommitsLast90Days:         i(40),
		DaysSinceLastRelease:      i(60),
		OpenIssuesPercent:         f(0.05),
		MedianIssueResolutionDays: f(5),
		OpenPRsCount:              i(2),
	})

	assert.Equal(t, models.RiskHealthy, category)
	assert.True(t, score >= 0.75)
	assert.InDelta(t, 0.981, score, 1e-9)
}

func TestClassifyAllAbsentIsNeutral(t *testing.T) {
	category, score := Default().Classify(models.MetricsPayload{OpenPRsCount: i(0)})
	assert.Equal(t, models.RiskModerate, category)
	assert.InDelta(t, 0.565, score, 1e-9)

	category, score = Default().Classify(models.MetricsPayload{})
	assert.Equal(t, models.RiskModerate, category)
	assert.InDelta(t, 0.515, score, 1e-9)
}

func TestClassifyExactBoundaries(t *testing.T) {
	c := Default()
	zeroRest := func(m models.MetricsPayload) models.MetricsPayload {
		if m.CommitsLast90Days == nil {
			m.CommitsLast90Days = i(0)
		}
		if m.DaysSinceLastRelease == nil {
			m.DaysSinceLastRelease = i(730)
		}
		if m.OpenIssuesPercent == nil {
			m.OpenIssuesPercent = f(0.5)
		}
		if m.MedianIssueResolutionDays == nil {
			m.MedianIssueResolutionDays = f(180)
		}
		if m.OpenPRsCount == nil {
			m.OpenPRsCount = i(50)
		}
		if m.DaysSinceLastCommit == nil {
			m.DaysSinceLastCommit = i(365)
		}
		return m
	}

	testCases := []struct {
		name     string
		m        models.MetricsPayload
		score    float64
		category models.RiskCategory
	}{
		{
			name: "healthy lower bound",
			m: zeroRest(models.MetricsPayload{
				DaysSinceLastCommit:       i(30),
				CommitsLast90Days:         i(10),
				DaysSinceLastRelease:      i(180),
				MedianIssueResolutionDays: f(14),
			}),
			score:    0.75,
			category: models.RiskHealthy,
		},
		{
			name: "moderate lower bound",
			m: zeroRest(models.MetricsPayload{
				DaysSinceLastCommit:  i(1),
				DaysSinceLastRelease: i(0),
				OpenPRsCount:         i(25),
			}),
			score:    0.5,
			category: models.RiskModerate,
		},
		{
			name: "declining lower bound",
			m: func() models.MetricsPayload {
				m := zeroRest(models.MetricsPayload{OpenPRsCount: i(0)})
				m.DaysSinceLastCommit = nil
				return m
			}(),
			score:    0.25,
			category: models.RiskDeclining,
		},
		{
			name:     "inactive",
			m:        zeroRest(models.MetricsPayload{}),
			score:    0,
			category: models.RiskInactive,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			category, score := c.Classify(tc.m)
			assert.Equal(t, tc.score, score)
			assert.Equal(t, tc.category, category)
		})
	}
}

func TestCategoryForScoreTieBreaks(t *testing.T) {
	c := Default()
	assert.Equal(t, models.RiskHealthy, c.CategoryForScore(1))
	assert.Equal(t, models.RiskHealthy, c.CategoryForScore(0.75))
	assert.Equal(t, models.RiskModerate, c.CategoryForScore(0.7499999))
	assert.Equal(t, models.RiskModerate, c.CategoryForScore(0.5))
	assert.Equal(t, models.RiskDeclining, c.CategoryForScore(0.4999999))
	assert.Equal(t, models.RiskDeclining, c.CategoryForScore(0.25))
	assert.Equal(t, models.RiskInactive, c.CategoryForScore(0.2499999))
	assert.Equal(t, models.RiskInactive, c.CategoryForScore(0))
}

func TestBreakdownDecays(t *testing.T) {
	b := Default().Breakdown(models.MetricsPayload{
		DaysSinceLastCommit:       i(197), // halfway between 30 and 365
		CommitsLast90Days:         i(5),
		DaysSinceLastRelease:      i(1000),
		OpenIssuesPercent:         f(0.25),
		MedianIssueResolutionDays: f(97),
		OpenPRsCount:              i(100),
	})

	assert.InDelta(t, 0.5014925, b.CommitRecency, 1e-6)
	assert.InDelta(t, 0.5, b.CommitVolume, 1e-9)
	assert.Equal(t, 0.0, b.ReleaseRecency)
	assert.InDelta(t, 0.5, b.IssueBacklog, 1e-9)
	assert.InDelta(t, 0.5, b.ResolutionLatency, 1e-9)
	assert.Equal(t, 0.0, b.PRBacklog)

	absent := Default().Breakdown(models.MetricsPayload{})
	assert.Equal(t, 0.6, absent.ReleaseRecency)
	assert.Equal(t, 0.5, absent.CommitRecency)
}

func TestClassifyIsTotalAndDeterministic(t *testing.T) {
	c := Default()
	days := []*int{nil, i(0), i(15), i(100), i(400), i(100000)}
	ratios := []*float64{nil, f(0), f(0.3), f(1)}

	for _, d := range days {
		for _, r := range ratios {
			m := models.MetricsPayload{
				DaysSinceLastCommit:       d,
				CommitsLast90Days:         d,
				DaysSinceLastRelease:      d,
				OpenIssuesPercent:         r,
				MedianIssueResolutionDays: r,
				OpenPRsCount:              d,
			}
			require.NoError(t, m.Validate())

			category, score := c.Classify(m)
			category2, score2 := c.Classify(m)
			assert.Equal(t, category, category2)
			assert.Equal(t, score, score2)
			assert.True(t, score >= 0 && score <= 1, "score %v", score)
			assert.Equal(t, c.CategoryForScore(score), category)
		}
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(Weights{CommitRecency: 0.5}, DefaultThresholds)
	assert.Error(t, err)

	_, err = New(DefaultWeights, Thresholds{Healthy: 0.3, Moderate: 0.5, Declining: 0.1})
	assert.Error(t, err)

	c, err := New(DefaultWeights, DefaultThresholds)
	require.NoError(t, err)
	category, _ := c.Classify(models.MetricsPayload{})
	assert.Equal(t, models.RiskModerate, category)
}
