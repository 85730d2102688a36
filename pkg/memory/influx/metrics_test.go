package influx

import (
	"context"
	"testing"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

func TestDisabledStore(t *testing.T) {
	s := NewStore(Config{}, nil)
	defer s.Close()

	if s.Enabled() {
		t.Fatal("store with empty URL should be disabled")
	}

	ctx := context.Background()
	tags := memory.MetricTags{PersonaID: "persona-luna", UserID: "user-1"}

	if s.WriteUserEmotion(ctx, tags, memory.EmotionPoint{Emotion: chat.EmotionJoy, Intensity: 0.5}) {
		t.Error("disabled write returned true")
	}
	if s.WriteConfidenceEvolution(ctx, tags, memory.ConfidencePoint{OverallConfidence: 0.5}) {
		t.Error("disabled write returned true")
	}

	samples, err := s.RecentEmotions(ctx, tags, time.Hour, 10)
	if err != nil {
		t.Fatalf("RecentEmotions on disabled store: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("disabled RecentEmotions: want empty slice, got %d samples", len(samples))
	}
}

func TestEnabledFlag(t *testing.T) {
	s := NewStore(Config{URL: "http://localhost:8086", Token: "t", Org: "o", Bucket: "b"}, nil)
	defer s.Close()
	if !s.Enabled() {
		t.Fatal("store with URL should report enabled")
	}
}
