package flow

import (
	"context"
	"math"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

const (
	// trajectoryLimit caps the window the analysis covers.
	trajectoryLimit = 12

	// directionDelta is the valence gap between window ends that separates
	// improving/declining from stable.
	directionDelta = 0.5

	// momentumDelta is the last-step valence change that counts as movement.
	momentumDelta = 0.3
)

// Trajectory analyzes the user's emotional arc over the given window. The
// preferred source is the time-series store; when it is disabled or empty the
// analysis falls back to emotions recorded on recent memories. With fewer
// than three points the result is stable across the board.
func (a *Analyzer) Trajectory(ctx context.Context, userID string, window time.Duration) chat.TrajectoryResult {
	valences := a.valenceWindow(ctx, userID, window)
	return analyzeValences(valences)
}

// valenceWindow fetches chronological valences from the best available
// source.
func (a *Analyzer) valenceWindow(ctx context.Context, userID string, window time.Duration) []float64 {
	if a.metrics != nil && a.metrics.Enabled() {
		samples, err := a.metrics.RecentEmotions(ctx, memory.MetricTags{
			PersonaID: a.personaID,
			UserID:    userID,
		}, window, trajectoryLimit)
		if err != nil {
			a.log.Warn("trajectory metric read failed, trying memory fallback", "error", err)
		} else if len(samples) > 0 {
			out := make([]float64, len(samples))
			for i, s := range samples {
				out[i] = s.Emotion.Valence()
			}
			return out
		}
	}

	if a.collection == nil {
		return nil
	}
	records, err := a.collection.ScrollRecent(ctx, userID, trajectoryLimit, time.Time{})
	if err != nil {
		a.log.Warn("trajectory memory fallback failed", "error", err)
		return nil
	}
	cutoff := time.Now().Add(-window)
	// ScrollRecent is newest-first; build the window oldest-first.
	var out []float64
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if window > 0 && r.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, r.Payload.PrimaryEmotion.Valence())
	}
	return out
}

// analyzeValences runs the trajectory math over a chronological valence
// sequence.
func analyzeValences(v []float64) chat.TrajectoryResult {
	n := len(v)
	if n < 3 {
		return chat.TrajectoryResult{
			Direction: chat.TrajectoryStable,
			Momentum:  chat.MomentumStable,
			Arc:       chat.ArcStable,
			Stability: 1,
			Window:    n,
		}
	}

	res := chat.TrajectoryResult{Window: n}

	delta := mean(v[n-2:]) - mean(v[:2])
	switch {
	case delta > directionDelta:
		res.Direction = chat.TrajectoryImproving
	case delta < -directionDelta:
		res.Direction = chat.TrajectoryDeclining
	default:
		res.Direction = chat.TrajectoryStable
	}

	diffs := make([]float64, n-1)
	absSum := 0.0
	for i := 1; i < n; i++ {
		diffs[i-1] = v[i] - v[i-1]
		absSum += math.Abs(diffs[i-1])
	}
	res.Velocity = absSum / float64(n-1)

	last := diffs[len(diffs)-1]
	switch {
	case last > momentumDelta:
		res.Momentum = chat.MomentumPositive
	case last < -momentumDelta:
		res.Momentum = chat.MomentumNegative
	default:
		res.Momentum = chat.MomentumStable
	}

	res.Arc = classifyArc(v, delta)
	res.Stability = clamp01(1 - stddev(v)/2)
	res.Patterns = detectPatterns(v, diffs)
	return res
}

// classifyArc names the curve shape from extremum position and net movement.
func classifyArc(v []float64, delta float64) chat.TrajectoryArc {
	n := len(v)
	maxIdx, minIdx := 0, 0
	for i, x := range v {
		if x > v[maxIdx] {
			maxIdx = i
		}
		if x < v[minIdx] {
			minIdx = i
		}
	}
	interiorPeak := maxIdx > 0 && maxIdx < n-1 && v[maxIdx]-v[n-1] > directionDelta && v[maxIdx]-v[0] > directionDelta
	interiorValley := minIdx > 0 && minIdx < n-1 && v[n-1]-v[minIdx] > directionDelta && v[0]-v[minIdx] > directionDelta
	switch {
	case interiorPeak:
		return chat.ArcPeakAndDecline
	case interiorValley:
		return chat.ArcValleyAndRise
	case delta > directionDelta:
		return chat.ArcAscending
	case delta < -directionDelta:
		return chat.ArcDescending
	default:
		return chat.ArcStable
	}
}

// detectPatterns names sub-patterns worth surfacing to the prompt composer.
func detectPatterns(v, diffs []float64) []string {
	var patterns []string

	signFlips := 0
	for i := 1; i < len(diffs); i++ {
		if diffs[i]*diffs[i-1] < 0 && math.Abs(diffs[i]) > 0.2 && math.Abs(diffs[i-1]) > 0.2 {
			signFlips++
		}
	}
	if signFlips >= 2 {
		patterns = append(patterns, "oscillating")
	}

	minIdx := 0
	for i, x := range v {
		if x < v[minIdx] {
			minIdx = i
		}
	}
	if minIdx < len(v)/2 && v[len(v)-1]-v[minIdx] > directionDelta {
		patterns = append(patterns, "recovery")
	}
	return patterns
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func stddev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := mean(v)
	sum := 0.0
	for _, x := range v {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(v)))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
