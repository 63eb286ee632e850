// Package classifier maps repository activity signals to a risk category.
package classifier

import (
	"fmt"
	"math"

	"github.com/golangci/repohealth/pkg/health/models"
)

type Weights struct {
	CommitRecency     float64
	CommitVolume      float64
	ReleaseRecency    float64
	IssueBacklog      float64
	ResolutionLatency float64
	PRBacklog         float64
}

func (w Weights) sum() float64 {
	return w.CommitRecency + w.CommitVolume + w.ReleaseRecency + w.IssueBacklog + w.ResolutionLatency + w.PRBacklog
}

// Thresholds are inclusive lower bounds of categories.
type Thresholds struct {
	Healthy   float64
	Moderate  float64
	Declining float64
}

var DefaultWeights = Weights{
	CommitRecency:     0.30,
	CommitVolume:      0.15,
	ReleaseRecency:    0.15,
	IssueBacklog:      0.15,
	ResolutionLatency: 0.15,
	PRBacklog:         0.10,
}

var DefaultThresholds = Thresholds{
	Healthy:   0.75,
	Moderate:  0.5,
	Declining: 0.25,
}

// Breakdown holds sub-scores in [0, 1], higher is healthier.
type Breakdown struct {
	CommitRecency     float64 `json:"commitRecency"`
	CommitVolume      float64 `json:"commitVolume"`
	ReleaseRecency    float64 `json:"releaseRecency"`
	IssueBacklog      float64 `json:"issueBacklog"`
	ResolutionLatency float64 `json:"resolutionLatency"`
	PRBacklog         float64 `json:"prBacklog"`
}

type Classifier struct {
	weights    Weights
	thresholds Thresholds
}

func New(weights Weights, thresholds Thresholds) (*Classifier, error) {
	if math.Abs(weights.sum()-1) > 1e-9 {
		return nil, fmt.Errorf("weights must sum to 1, got %v", weights.sum())
	}
	if !(thresholds.Healthy >= thresholds.Moderate && thresholds.Moderate >= thresholds.Declining &&
		thresholds.Declining >= 0 && thresholds.Healthy <= 1) {
		return nil, fmt.Errorf("thresholds must be ordered within [0, 1]: %+v", thresholds)
	}

	return &Classifier{
		weights:    weights,
		thresholds: thresholds,
	}, nil
}

func Default() *Classifier {
	return &Classifier{
		weights:    DefaultWeights,
		thresholds: DefaultThresholds,
	}
}

// Classify is total over valid payloads: absent signals get neutral sub-scores.
func (c Classifier) Classify(m models.MetricsPayload) (models.RiskCategory, float64) {
	score := c.Score(c.Breakdown(m))
	return c.CategoryForScore(score), score
}

func (c Classifier) Breakdown(m models.MetricsPayload) Breakdown {
	return Breakdown{
		CommitRecency:     decayInt(m.DaysSinceLastCommit, 30, 365, 0.5),
		CommitVolume:      growInt(m.CommitsLast90Days, 10, 0.5),
		ReleaseRecency:    decayInt(m.DaysSinceLastRelease, 180, 730, 0.6),
		IssueBacklog:      decayFloat(m.OpenIssuesPercent, 0, 0.5, 0.5),
		ResolutionLatency: decayFloat(m.MedianIssueResolutionDays, 14, 180, 0.5),
		PRBacklog:         decayInt(m.OpenPRsCount, 0, 50, 0.5),
	}
}

func (c Classifier) Score(b Breakdown) float64 {
	w := c.weights
	score := b.CommitRecency*w.CommitRecency +
		b.CommitVolume*w.CommitVolume +
		b.ReleaseRecency*w.ReleaseRecency +
		b.IssueBacklog*w.IssueBacklog +
		b.ResolutionLatency*w.ResolutionLatency +
		b.PRBacklog*w.PRBacklog

	score = math.Max(0, math.Min(1, score))
	// drop float noise so that exact boundaries like 0.75 stay exact
	return math.Round(score*1e9) / 1e9
}

func (c Classifier) CategoryForScore(score float64) models.RiskCategory {
	switch {
	case score >= c.thresholds.Healthy:
		return models.RiskHealthy
	case score >= c.thresholds.Moderate:
		return models.RiskModerate
	case score >= c.thresholds.Declining:
		return models.RiskDeclining
	default:
		return models.RiskInactive
	}
}

// decay is 1 at v <= best, 0 at v >= worst and linear between.
func decay(v, best, worst float64) float64 {
	if v <= best {
		return 1
	}
	if v >= worst {
		return 0
	}
	return 1 - (v-best)/(worst-best)
}

func decayInt(v *int, best, worst, absent float64) float64 {
	if v == nil {
		return absent
	}
	return decay(float64(*v), best, worst)
}

func decayFloat(v *float64, best, worst, absent float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return absent
	}
	return decay(*v, best, worst)
}

// growInt is 0 at v = 0, 1 at v >= full and linear between.
func growInt(v *int, full, absent float64) float64 {
	if v == nil {
		return absent
	}
	return 1 - decay(float64(*v), 0, full)
}
