package flow

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
	memorymock "github.com/reverie-chat/reverie/pkg/memory/mock"
)

func emotionSamples(emotions ...chat.Emotion) []memory.EmotionSample {
	base := time.Now().Add(-time.Hour)
	out := make([]memory.EmotionSample, len(emotions))
	for i, e := range emotions {
		out[i] = memory.EmotionSample{
			Emotion:   e,
			Intensity: 0.5,
			Time:      base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Trajectory
// ─────────────────────────────────────────────────────────────────────────────

func TestTrajectory_Improving(t *testing.T) {
	ms := &memorymock.MetricStore{
		EmotionSamples: emotionSamples(chat.EmotionSadness, chat.EmotionWorry, chat.EmotionHope, chat.EmotionJoy),
	}
	a := NewAnalyzer("luna", WithMetrics(ms))

	res := a.Trajectory(context.Background(), "alice", time.Hour)

	if res.Direction != chat.TrajectoryImproving {
		t.Errorf("direction = %q, want %q", res.Direction, chat.TrajectoryImproving)
	}
	if res.Momentum != chat.MomentumPositive {
		t.Errorf("momentum = %q, want %q", res.Momentum, chat.MomentumPositive)
	}
	if res.Arc != chat.ArcAscending {
		t.Errorf("arc = %q, want %q", res.Arc, chat.ArcAscending)
	}
	if res.Velocity <= 0 {
		t.Errorf("velocity = %v, want > 0", res.Velocity)
	}
	if res.Window != 4 {
		t.Errorf("window = %d, want 4", res.Window)
	}
}

func TestTrajectory_Declining(t *testing.T) {
	ms := &memorymock.MetricStore{
		EmotionSamples: emotionSamples(chat.EmotionJoy, chat.EmotionContentment, chat.EmotionDisappointment, chat.EmotionSadness),
	}
	a := NewAnalyzer("luna", WithMetrics(ms))

	res := a.Trajectory(context.Background(), "alice", time.Hour)
	if res.Direction != chat.TrajectoryDeclining {
		t.Errorf("direction = %q, want %q", res.Direction, chat.TrajectoryDeclining)
	}
}

func TestTrajectory_StableWithinDeadband(t *testing.T) {
	ms := &memorymock.MetricStore{
		EmotionSamples: emotionSamples(chat.EmotionNeutral, chat.EmotionReflective, chat.EmotionContemplative, chat.EmotionNeutral),
	}
	a := NewAnalyzer("luna", WithMetrics(ms))

	res := a.Trajectory(context.Background(), "alice", time.Hour)
	if res.Direction != chat.TrajectoryStable {
		t.Errorf("direction = %q, want %q", res.Direction, chat.TrajectoryStable)
	}
	if res.Stability < 0.8 {
		t.Errorf("stability = %v, want >= 0.8 for a flat sequence", res.Stability)
	}
}

func TestTrajectory_ShortWindowIsStable(t *testing.T) {
	ms := &memorymock.MetricStore{EmotionSamples: emotionSamples(chat.EmotionJoy)}
	a := NewAnalyzer("luna", WithMetrics(ms))

	res := a.Trajectory(context.Background(), "alice", time.Hour)
	if res.Direction != chat.TrajectoryStable || res.Arc != chat.ArcStable {
		t.Errorf("short window result = %+v, want stable across the board", res)
	}
	if res.Window != 1 {
		t.Errorf("window = %d, want 1", res.Window)
	}
}

func TestTrajectory_FallsBackToMemories(t *testing.T) {
	ms := &memorymock.MetricStore{Disabled: true}
	col := &memorymock.Collection{Persona: "luna"}
	ctx := context.Background()

	// Upsert oldest to newest; ScrollRecent serves newest-first and the
	// analyzer re-reverses into chronological order.
	emotions := []chat.Emotion{chat.EmotionSadness, chat.EmotionNeutral, chat.EmotionHope, chat.EmotionJoy}
	base := time.Now().Add(-30 * time.Minute)
	for i, e := range emotions {
		rec := testRecord("luna", "alice", base.Add(time.Duration(i)*time.Minute), e)
		if err := col.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	a := NewAnalyzer("luna", WithMetrics(ms), WithCollection(col))
	res := a.Trajectory(ctx, "alice", time.Hour)

	if res.Direction != chat.TrajectoryImproving {
		t.Errorf("direction = %q, want %q (memory fallback)", res.Direction, chat.TrajectoryImproving)
	}
}

func TestTrajectory_NoSourcesIsStable(t *testing.T) {
	a := NewAnalyzer("luna")
	res := a.Trajectory(context.Background(), "alice", time.Hour)
	if res.Direction != chat.TrajectoryStable || res.Window != 0 {
		t.Errorf("result = %+v, want empty stable", res)
	}
}

func TestAnalyzeValences_PeakAndDecline(t *testing.T) {
	res := analyzeValences([]float64{0, 1.8, 2.0, 0.2, -0.5})
	if res.Arc != chat.ArcPeakAndDecline {
		t.Errorf("arc = %q, want %q", res.Arc, chat.ArcPeakAndDecline)
	}
}

func TestAnalyzeValences_RecoveryPattern(t *testing.T) {
	res := analyzeValences([]float64{-0.5, -1.8, -0.2, 0.9, 1.2})
	if res.Arc != chat.ArcValleyAndRise {
		t.Errorf("arc = %q, want %q", res.Arc, chat.ArcValleyAndRise)
	}
	if !hasPattern(res.Patterns, "recovery") {
		t.Errorf("patterns = %v, want to include %q", res.Patterns, "recovery")
	}
}

func TestAnalyzeValences_Velocity(t *testing.T) {
	res := analyzeValences([]float64{0, 1, 0, 1})
	if math.Abs(res.Velocity-1) > 1e-9 {
		t.Errorf("velocity = %v, want 1", res.Velocity)
	}
	if !hasPattern(res.Patterns, "oscillating") {
		t.Errorf("patterns = %v, want to include %q", res.Patterns, "oscillating")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Flow
// ─────────────────────────────────────────────────────────────────────────────

func dimsFor(kinds ...memory.VectorKind) memory.VectorSet {
	vs := make(memory.VectorSet, len(kinds))
	for _, k := range kinds {
		vs[k] = []float32{1, 0, 0, 0}
	}
	return vs
}

func scored(score float64, age time.Duration, emotion chat.Emotion, relLevel float64) memory.ScoredRecord {
	return memory.ScoredRecord{
		Record: memory.Record{
			MemoryID:  "m-" + string(emotion.Coerce()),
			PersonaID: "luna",
			UserID:    "alice",
			Content:   "remembered content",
			CreatedAt: time.Now().Add(-age),
			Payload: memory.Payload{
				PrimaryEmotion:    emotion,
				RelationshipLevel: relLevel,
			},
		},
		Score: score,
	}
}

func TestFlow_VectorContinuation(t *testing.T) {
	col := &memorymock.Collection{
		Persona: "luna",
		SearchResult: []memory.ScoredRecord{
			scored(0.85, 10*time.Minute, chat.EmotionContentment, 0.6),
			scored(0.78, 20*time.Minute, chat.EmotionJoy, 0.6),
			scored(0.70, 3*time.Hour, chat.EmotionHope, 0.5),
		},
	}
	a := NewAnalyzer("luna", WithCollection(col))

	res := a.Flow(context.Background(), "alice", "that reminds me of the garden again",
		dimsFor(memory.AllKinds...), nil)

	if !res.VectorEnhanced {
		t.Fatal("vector path not taken")
	}
	if res.Type != chat.FlowTopicContinuation {
		t.Errorf("type = %q, want %q", res.Type, chat.FlowTopicContinuation)
	}
	if res.ContinuityScore < 0.7 {
		t.Errorf("continuity = %v, want >= 0.7", res.ContinuityScore)
	}
	if res.Prediction != chat.PredictContinuation {
		t.Errorf("prediction = %q, want %q", res.Prediction, chat.PredictContinuation)
	}
}

func TestFlow_VectorTopicShift(t *testing.T) {
	col := &memorymock.Collection{
		Persona: "luna",
		SearchResult: []memory.ScoredRecord{
			scored(0.20, 10*time.Minute, chat.EmotionNeutral, 0.5),
			scored(0.15, 20*time.Minute, chat.EmotionNeutral, 0.5),
		},
	}
	a := NewAnalyzer("luna", WithCollection(col))

	res := a.Flow(context.Background(), "alice", "completely unrelated question",
		dimsFor(memory.AllKinds...), nil)

	if res.Type != chat.FlowTopicShift {
		t.Errorf("type = %q, want %q", res.Type, chat.FlowTopicShift)
	}
	if res.Prediction != chat.PredictTopicShift {
		t.Errorf("prediction = %q, want %q", res.Prediction, chat.PredictTopicShift)
	}
}

func TestFlow_CallbackOnOldStrongMatch(t *testing.T) {
	col := &memorymock.Collection{
		Persona: "luna",
		SearchResult: []memory.ScoredRecord{
			scored(0.82, 26*time.Hour, chat.EmotionJoy, 0.6),
			scored(0.40, 27*time.Hour, chat.EmotionNeutral, 0.5),
			scored(0.35, 28*time.Hour, chat.EmotionNeutral, 0.5),
		},
	}
	a := NewAnalyzer("luna", WithCollection(col))

	res := a.Flow(context.Background(), "alice", "remember that trip we talked about?",
		dimsFor(memory.AllKinds...), nil)

	if res.Type != chat.FlowCallbackReference {
		t.Errorf("type = %q, want %q", res.Type, chat.FlowCallbackReference)
	}
}

func TestFlow_SearchFailureFallsBackToKeywords(t *testing.T) {
	col := &memorymock.Collection{Persona: "luna", SearchErr: errors.New("store down")}
	a := NewAnalyzer("luna", WithCollection(col))

	res := a.Flow(context.Background(), "alice", "by the way, new subject",
		dimsFor(memory.AllKinds...), nil)

	if res.VectorEnhanced {
		t.Error("VectorEnhanced set on the keyword fallback path")
	}
	if res.Type != chat.FlowTopicShift {
		t.Errorf("type = %q, want %q from the cue table", res.Type, chat.FlowTopicShift)
	}
}

func TestFlow_KeywordFallbackWithoutVectors(t *testing.T) {
	a := NewAnalyzer("luna")
	recent := []chat.CachedMessage{
		{Content: "the sourdough starter finally rose", AuthorID: "alice", Timestamp: time.Now()},
	}

	res := a.Flow(context.Background(), "alice", "should I feed the sourdough starter again?", nil, recent)

	if res.VectorEnhanced {
		t.Error("VectorEnhanced set without a collection")
	}
	if res.Type != chat.FlowTopicContinuation {
		t.Errorf("type = %q, want %q from keyword overlap", res.Type, chat.FlowTopicContinuation)
	}
}

func TestFlow_DepthClassification(t *testing.T) {
	a := NewAnalyzer("luna")
	cases := []struct {
		text string
		want chat.ConversationDepth
	}{
		{"nice weather today", chat.DepthSurface},
		{"what do you think about this plan?", chat.DepthEngaging},
		{"I feel like my childhood shaped this fear", chat.DepthPersonal},
		{"I've never told anyone this before", chat.DepthIntimate},
		{"lately I keep wondering about the meaning of life", chat.DepthProfound},
	}
	for _, tc := range cases {
		res := a.Flow(context.Background(), "alice", tc.text, nil, nil)
		if res.Depth != tc.want {
			t.Errorf("depth(%q) = %q, want %q", tc.text, res.Depth, tc.want)
		}
	}
}

func hasPattern(patterns []string, want string) bool {
	for _, p := range patterns {
		if p == want {
			return true
		}
	}
	return false
}

func testRecord(personaID, userID string, at time.Time, e chat.Emotion) memory.Record {
	vecs := make(memory.VectorSet, len(memory.AllKinds))
	for _, k := range memory.AllKinds {
		vecs[k] = []float32{1, 0, 0, 0}
	}
	return memory.Record{
		MemoryID:  memory.GenerateMemoryID(personaID, userID, "text "+at.String(), at),
		PersonaID: personaID,
		UserID:    userID,
		ChannelID: "chan-1",
		Content:   "text",
		CreatedAt: at,
		Vectors:   vecs,
		Payload: memory.Payload{
			PrimaryEmotion:    e,
			EmotionConfidence: 0.8,
			EmotionIntensity:  0.5,
			Source:            memory.SourceTurn,
		},
	}
}
