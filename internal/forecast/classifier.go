package forecast

import "insight-engine/internal/config"

// Trend labels, ordered strongest-up to strongest-down.
const (
	TrendStrongUptrend   = "strong_uptrend"
	TrendUptrend         = "uptrend"
	TrendStable          = "stable"
	TrendDowntrend       = "downtrend"
	TrendStrongDowntrend = "strong_downtrend"
)

// TrendClassifier maps a fitted slope onto a trend label. The slope is
// scaled by the mean of the history so that a $10/month drift means
// something different for a $100 metric than for a $100k one. When the
// mean is zero the raw slope is compared against the bands directly.
type TrendClassifier struct {
	t config.TrendThresholds
}

func NewTrendClassifier(t config.TrendThresholds) *TrendClassifier {
	return &TrendClassifier{t: t}
}

// Classify returns the trend label for slope given the series mean.
// Extreme bands are checked before weak ones.
func (c *TrendClassifier) Classify(slope, mean float64) string {
	ratio := slope
	if mean != 0 {
		ratio = slope / abs(mean)
	}

	switch {
	case ratio > c.t.StrongUp:
		return TrendStrongUptrend
	case ratio < c.t.StrongDown:
		return TrendStrongDowntrend
	case ratio > c.t.WeakUp:
		return TrendUptrend
	case ratio < c.t.WeakDown:
		return TrendDowntrend
	default:
		return TrendStable
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
