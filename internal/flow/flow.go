package flow

import (
	"context"
	"strings"
	"time"

	"github.com/reverie-chat/reverie/internal/boundary"
	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

const (
	flowSearchLimit = 8

	// continuityShift is the fused-score floor below which retrieved context
	// no longer supports the current message's topic.
	continuityShift = 0.35

	// callbackAge is how old a strongly matching memory must be to count as
	// a callback rather than continuation.
	callbackAge = 2 * time.Hour
)

// Flow classifies how the current message relates to the conversation.
// When a collection and the message's embedding views are available it runs a
// weighted multi-dimensional search and classifies from the retrieved
// records; otherwise it falls back to cue and keyword matching with
// VectorEnhanced unset.
func (a *Analyzer) Flow(ctx context.Context, userID, text string, dims memory.VectorSet, recent []chat.CachedMessage) chat.FlowResult {
	if a.collection != nil && len(dims) > 0 {
		res, ok := a.vectorFlow(ctx, userID, text, dims)
		if ok {
			return res
		}
	}
	return a.keywordFlow(text, recent)
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector-backed classification
// ─────────────────────────────────────────────────────────────────────────────

func (a *Analyzer) vectorFlow(ctx context.Context, userID, text string, dims memory.VectorSet) (chat.FlowResult, bool) {
	searchDims := make(map[memory.VectorKind][]float32, len(flowWeights))
	for kind := range flowWeights {
		if vec, ok := dims[kind]; ok && len(vec) > 0 {
			searchDims[kind] = vec
		}
	}
	if len(searchDims) == 0 {
		return chat.FlowResult{}, false
	}

	records, err := a.collection.SearchByDimensions(ctx, userID, searchDims, flowWeights, flowSearchLimit, nil)
	if err != nil {
		a.log.Warn("flow vector search failed, using keyword fallback", "error", err)
		return chat.FlowResult{}, false
	}
	if len(records) == 0 {
		return chat.FlowResult{}, false
	}

	res := chat.FlowResult{VectorEnhanced: true}
	res.ContinuityScore = clamp01(topMean(records, 3))
	res.EmotionalMomentum = emotionalMomentum(records)
	res.IntimacyDevelopment = intimacyDevelopment(records)

	best := records[0]
	now := time.Now()
	switch {
	case res.ContinuityScore < continuityShift:
		res.Type = chat.FlowTopicShift
	case best.Score >= 0.6 && now.Sub(best.Record.CreatedAt) > callbackAge:
		res.Type = chat.FlowCallbackReference
	case res.EmotionalMomentum > 0.8 || res.EmotionalMomentum < -0.8:
		res.Type = chat.FlowEmotionalProgression
	default:
		res.Type = chat.FlowTopicContinuation
	}

	res.Depth = classifyDepth(text, res.ContinuityScore)
	res.Confidence = clamp01(0.4 + 0.5*res.ContinuityScore + 0.1*float64(min(len(records), 5))/5)
	res.Prediction = predict(res)
	return res, true
}

// topMean averages the fused scores of the first n records.
func topMean(records []memory.ScoredRecord, n int) float64 {
	if len(records) < n {
		n = len(records)
	}
	sum := 0.0
	for _, r := range records[:n] {
		sum += r.Score
	}
	return sum / float64(n)
}

// emotionalMomentum is the valence of the freshest retrieved memory against
// the mean valence of the rest.
func emotionalMomentum(records []memory.ScoredRecord) float64 {
	newest := 0
	for i, r := range records {
		if r.Record.CreatedAt.After(records[newest].Record.CreatedAt) {
			newest = i
		}
	}
	rest := 0.0
	count := 0
	for i, r := range records {
		if i == newest {
			continue
		}
		rest += r.Record.Payload.PrimaryEmotion.Valence()
		count++
	}
	v := records[newest].Record.Payload.PrimaryEmotion.Valence()
	if count == 0 {
		return v
	}
	return v - rest/float64(count)
}

// intimacyDevelopment compares relationship levels recorded on fresh versus
// older memories.
func intimacyDevelopment(records []memory.ScoredRecord) float64 {
	cutoff := time.Now().Add(-callbackAge)
	var fresh, old []float64
	for _, r := range records {
		if r.Record.CreatedAt.After(cutoff) {
			fresh = append(fresh, r.Record.Payload.RelationshipLevel)
		} else {
			old = append(old, r.Record.Payload.RelationshipLevel)
		}
	}
	if len(fresh) == 0 || len(old) == 0 {
		return 0
	}
	return mean(fresh) - mean(old)
}

// ─────────────────────────────────────────────────────────────────────────────
// Keyword fallback
// ─────────────────────────────────────────────────────────────────────────────

func (a *Analyzer) keywordFlow(text string, recent []chat.CachedMessage) chat.FlowResult {
	res := chat.FlowResult{VectorEnhanced: false}

	tt, _ := boundary.ClassifyTransition(text)
	switch tt {
	case boundary.TransitionExplicitChange:
		res.Type = chat.FlowTopicShift
		res.Confidence = 0.8
	case boundary.TransitionResumption:
		res.Type = chat.FlowCallbackReference
		res.Confidence = 0.7
	case boundary.TransitionCompletion:
		res.Type = chat.FlowTopicContinuation
		res.Confidence = 0.6
		res.ContinuityScore = 0.6
	default:
		overlap := keywordOverlap(text, recent)
		res.ContinuityScore = overlap
		if overlap >= 0.3 {
			res.Type = chat.FlowTopicContinuation
			res.Confidence = 0.4 + 0.4*overlap
		} else {
			res.Type = chat.FlowNeutral
			res.Confidence = 0.4
		}
	}

	res.Depth = classifyDepth(text, res.ContinuityScore)
	res.Prediction = predict(res)
	return res
}

// keywordOverlap measures how many of the message's keywords appear in the
// recent thread, in [0, 1].
func keywordOverlap(text string, recent []chat.CachedMessage) float64 {
	keywords := boundary.ExtractKeywords(text)
	if len(keywords) == 0 || len(recent) == 0 {
		return 0
	}
	var prior strings.Builder
	for _, m := range recent {
		prior.WriteString(strings.ToLower(m.Content))
		prior.WriteByte(' ')
	}
	haystack := prior.String()
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// ─────────────────────────────────────────────────────────────────────────────
// Depth and prediction
// ─────────────────────────────────────────────────────────────────────────────

var depthCues = []struct {
	depth chat.ConversationDepth
	cues  []string
}{
	{chat.DepthProfound, []string{"meaning of life", "purpose", "mortality", "what it all means", "existence"}},
	{chat.DepthIntimate, []string{"never told anyone", "i trust you", "my secret", "vulnerable", "i love"}},
	{chat.DepthPersonal, []string{"i feel", "i felt", "my family", "my childhood", "i'm afraid", "my dream", "scared of"}},
	{chat.DepthEngaging, []string{"what do you think", "tell me more", "interesting", "curious", "how come", "why do"}},
}

// classifyDepth grades the message from its wording, nudged deeper by strong
// topical continuity.
func classifyDepth(text string, continuity float64) chat.ConversationDepth {
	lower := strings.ToLower(text)
	for _, dc := range depthCues {
		for _, cue := range dc.cues {
			if strings.Contains(lower, cue) {
				return dc.depth
			}
		}
	}
	if continuity >= 0.6 {
		return chat.DepthEngaging
	}
	return chat.DepthSurface
}

func predict(res chat.FlowResult) chat.FlowPrediction {
	switch {
	case res.Type == chat.FlowTopicShift:
		return chat.PredictTopicShift
	case deeperThanEngaging(res.Depth) && res.IntimacyDevelopment >= 0:
		return chat.PredictDeepening
	case res.Type == chat.FlowTopicContinuation && res.ContinuityScore >= 0.5:
		return chat.PredictContinuation
	default:
		return chat.PredictStableFlow
	}
}

func deeperThanEngaging(d chat.ConversationDepth) bool {
	switch d {
	case chat.DepthPersonal, chat.DepthIntimate, chat.DepthProfound:
		return true
	}
	return false
}
