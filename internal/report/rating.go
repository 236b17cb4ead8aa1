package report

// Rating is the traffic-light classification of a score or metric.
type Rating string

const (
	RatingGood             Rating = "good"
	RatingNeedsImprovement Rating = "needs-improvement"
	RatingPoor             Rating = "poor"
)

// Metric names a Core Web Vital.
type Metric string

const (
	MetricLCP Metric = "LCP"
	MetricINP Metric = "INP"
	MetricCLS Metric = "CLS"
)

type threshold struct {
	good float64
	poor float64
}

var metricThresholds = map[Metric]threshold{
	MetricLCP: {good: 2500, poor: 4000},
	MetricINP: {good: 200, poor: 500},
	MetricCLS: {good: 0.1, poor: 0.25},
}

// RateMetric classifies a Web Vital value. Values at a threshold fall into
// the better bucket.
func RateMetric(m Metric, v float64) Rating {
	t, ok := metricThresholds[m]
	if !ok {
		return RatingPoor
	}
	switch {
	case v <= t.good:
		return RatingGood
	case v <= t.poor:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

// RateScore classifies a 0-100 category score.
func RateScore(score int) Rating {
	switch {
	case score >= 90:
		return RatingGood
	case score >= 50:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}
