package boundary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/reverie-chat/reverie/pkg/provider/llm"
	llmmock "github.com/reverie-chat/reverie/pkg/provider/llm/mock"
)

func TestProcessMessage_NewSession(t *testing.T) {
	m := NewManager()
	ts := time.Now()

	s := m.ProcessMessage(context.Background(), "alice", "chan-1", "m1",
		"I started learning woodworking this weekend", ts)

	if s.State != StateActive {
		t.Errorf("state = %q, want %q", s.State, StateActive)
	}
	if s.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", s.MessageCount)
	}
	if s.CurrentTopic == nil {
		t.Fatal("new session has no current topic")
	}
	want := []string{"started", "learning", "woodworking", "weekend"}
	if len(s.CurrentTopic.Keywords) != len(want) {
		t.Fatalf("keywords = %v, want %v", s.CurrentTopic.Keywords, want)
	}
	for i, kw := range want {
		if s.CurrentTopic.Keywords[i] != kw {
			t.Errorf("keyword[%d] = %q, want %q", i, s.CurrentTopic.Keywords[i], kw)
		}
	}
}

func TestProcessMessage_IdempotentByMessageID(t *testing.T) {
	m := NewManager()
	ts := time.Now()
	ctx := context.Background()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "hello there", ts)
	s := m.ProcessMessage(ctx, "alice", "chan-1", "m1", "hello there", ts.Add(time.Second))

	if s.MessageCount != 1 {
		t.Errorf("duplicate message counted: message count = %d, want 1", s.MessageCount)
	}
}

func TestProcessMessage_PauseAndResumeTransitions(t *testing.T) {
	m := NewManager(WithInactivityWindow(30 * time.Minute))
	ctx := context.Background()
	t0 := time.Now()

	first := m.ProcessMessage(ctx, "alice", "chan-1", "m1", "hello", t0)
	if first.State != StateActive {
		t.Fatalf("initial state = %q, want %q", first.State, StateActive)
	}

	second := m.ProcessMessage(ctx, "alice", "chan-1", "m2", "I'm back", t0.Add(45*time.Minute))
	if second.State != StateResumed {
		t.Errorf("state after long silence = %q, want %q", second.State, StateResumed)
	}

	third := m.ProcessMessage(ctx, "alice", "chan-1", "m3", "so anyway", t0.Add(46*time.Minute))
	if third.State != StateActive {
		t.Errorf("state after the resumed turn = %q, want %q", third.State, StateActive)
	}
}

func TestProcessMessage_ExplicitTopicChange(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	ts := time.Now()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "the garden project is going well", ts)
	s := m.ProcessMessage(ctx, "alice", "chan-1", "m2",
		"By the way, did you watch the eclipse last night?", ts.Add(time.Minute))

	if len(s.TopicHistory) != 1 {
		t.Fatalf("topic history length = %d, want 1", len(s.TopicHistory))
	}
	closed := s.TopicHistory[0]
	if closed.ResolutionStatus != ResolutionEnded {
		t.Errorf("closed topic resolution = %q, want %q", closed.ResolutionStatus, ResolutionEnded)
	}
	if closed.Active() {
		t.Error("closed topic still reports active")
	}
	if s.CurrentTopic == nil {
		t.Fatal("no new topic opened after explicit change")
	}
	if !containsKeyword(s.CurrentTopic.Keywords, "eclipse") {
		t.Errorf("new topic keywords %v missing %q", s.CurrentTopic.Keywords, "eclipse")
	}
}

func TestProcessMessage_ResumptionCue(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	ts := time.Now()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "planning the hiking trip", ts)
	s := m.ProcessMessage(ctx, "alice", "chan-1", "m2",
		"back to the budget question from yesterday", ts.Add(time.Minute))

	if len(s.TopicHistory) != 1 {
		t.Fatalf("topic history length = %d, want 1", len(s.TopicHistory))
	}
	if got := s.TopicHistory[0].ResolutionStatus; got != ResolutionResumed {
		t.Errorf("closed topic resolution = %q, want %q", got, ResolutionResumed)
	}
}

func TestProcessMessage_CompletionKeepsTopic(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	ts := time.Now()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "explaining the recursion bug", ts)
	s := m.ProcessMessage(ctx, "alice", "chan-1", "m2", "Ah, that makes sense now!", ts.Add(time.Minute))

	if len(s.TopicHistory) != 0 {
		t.Errorf("completion closed the topic, history length = %d, want 0", len(s.TopicHistory))
	}
	if s.CurrentTopic == nil {
		t.Fatal("current topic gone after completion cue")
	}
	if s.CurrentTopic.ResolutionStatus != ResolutionResolved {
		t.Errorf("topic resolution = %q, want %q", s.CurrentTopic.ResolutionStatus, ResolutionResolved)
	}
}

func TestSummarization_DigestFallback(t *testing.T) {
	m := NewManager(WithSummarizationThreshold(4))
	ctx := context.Background()
	ts := time.Now()

	texts := []string{
		"thinking about changing careers",
		"software salaries look good",
		"worried about starting over",
		"maybe a bootcamp would help",
	}
	var s Session
	for i, text := range texts {
		s = m.ProcessMessage(ctx, "alice", "chan-1", fmt.Sprintf("m%d", i), text, ts.Add(time.Duration(i)*time.Minute))
	}

	if s.ContextSummary == "" {
		t.Fatal("no summary after reaching the threshold")
	}
	if !strings.Contains(s.ContextSummary, "careers") && !strings.Contains(s.ContextSummary, "changing") {
		t.Errorf("digest %q does not reference topic keywords", s.ContextSummary)
	}
}

func TestSummarization_UsesLLMWhenAvailable(t *testing.T) {
	prov := &llmmock.Provider{CompleteResult: &llm.CompletionResponse{
		Content: "They discussed career changes with cautious optimism.",
	}}
	m := NewManager(WithSummarizationThreshold(2), WithSummarizer(prov))
	ctx := context.Background()
	ts := time.Now()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "thinking about changing careers", ts)
	s := m.ProcessMessage(ctx, "alice", "chan-1", "m2", "software salaries look good", ts.Add(time.Minute))

	if s.ContextSummary != "They discussed career changes with cautious optimism." {
		t.Errorf("summary = %q, want the model output", s.ContextSummary)
	}
	if len(prov.CompleteCalls) != 1 {
		t.Errorf("model called %d times, want 1", len(prov.CompleteCalls))
	}
}

func TestSummarization_LLMFailureFallsBack(t *testing.T) {
	prov := &llmmock.Provider{CompleteErr: errors.New("model offline")}
	m := NewManager(WithSummarizationThreshold(2), WithSummarizer(prov))
	ctx := context.Background()
	ts := time.Now()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "thinking about changing careers", ts)
	s := m.ProcessMessage(ctx, "alice", "chan-1", "m2", "software salaries look good", ts.Add(time.Minute))

	if s.ContextSummary == "" {
		t.Fatal("no fallback summary when the model fails")
	}
}

func TestHandleInterruption(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	ts := time.Now()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "telling a long story", ts)
	m.HandleInterruption("alice", "chan-1", "bob")

	s := m.Snapshot("alice", "chan-1")
	if s == nil {
		t.Fatal("session vanished")
	}
	if s.State != StateInterrupted {
		t.Errorf("state = %q, want %q", s.State, StateInterrupted)
	}
	if s.CurrentTopic.ResolutionStatus != ResolutionInterrupted {
		t.Errorf("topic resolution = %q, want %q", s.CurrentTopic.ResolutionStatus, ResolutionInterrupted)
	}
}

func TestResume_BridgeReferencesTopic(t *testing.T) {
	m := NewManager(WithInactivityWindow(time.Minute))
	ctx := context.Background()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "restoring an antique typewriter", time.Now().Add(-10*time.Minute))
	m.HandleInterruption("alice", "chan-1", "bob")

	bridge, ok := m.Resume("alice", "chan-1", "anyway, where were we")
	if !ok {
		t.Fatal("resume refused on an interrupted session")
	}
	if !strings.Contains(bridge, "typewriter") && !strings.Contains(bridge, "restoring") {
		t.Errorf("bridge %q does not reference the last topic", bridge)
	}
	if s := m.Snapshot("alice", "chan-1"); s.State != StateResumed {
		t.Errorf("state after resume = %q, want %q", s.State, StateResumed)
	}
}

func TestMaybeResume_DetectsInactivityGap(t *testing.T) {
	m := NewManager(WithInactivityWindow(30 * time.Minute))
	ctx := context.Background()
	t0 := time.Now().Add(-45 * time.Minute)

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "planning the garden beds for spring", t0)

	if _, ok := m.MaybeResume("alice", "chan-1", t0.Add(5*time.Minute)); ok {
		t.Error("bridge offered inside the inactivity window")
	}
	bridge, ok := m.MaybeResume("alice", "chan-1", time.Now())
	if !ok {
		t.Fatal("no bridge after the inactivity window elapsed")
	}
	if !strings.Contains(bridge, "garden") {
		t.Errorf("bridge %q does not reference the last topic", bridge)
	}

	// The probe must not transition state; ProcessMessage does that.
	if s := m.Snapshot("alice", "chan-1"); s.State != StateActive {
		t.Errorf("probe changed state to %q", s.State)
	}
}

func TestResume_ActiveSessionDeclines(t *testing.T) {
	m := NewManager()
	m.ProcessMessage(context.Background(), "alice", "chan-1", "m1", "hello", time.Now())

	if _, ok := m.Resume("alice", "chan-1", "hi again"); ok {
		t.Error("resume produced a bridge for an active session")
	}
}

func TestEnd_RemovesSessionAndSummarizes(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	ts := time.Now()

	m.ProcessMessage(ctx, "alice", "chan-1", "m1", "debugging the flaky integration suite", ts)
	summary := m.End(ctx, "alice", "chan-1", "user signed off")

	if summary == "" {
		t.Error("End returned no summary")
	}
	if m.Snapshot("alice", "chan-1") != nil {
		t.Error("session still tracked after End")
	}
}

func TestSessions_IsolatedPerUserAndChannel(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	ts := time.Now()

	a := m.ProcessMessage(ctx, "alice", "chan-1", "m1", "hello", ts)
	b := m.ProcessMessage(ctx, "alice", "chan-2", "m2", "hello", ts)
	c := m.ProcessMessage(ctx, "bob", "chan-1", "m3", "hello", ts)

	ids := map[string]struct{}{a.SessionID: {}, b.SessionID: {}, c.SessionID: {}}
	if len(ids) != 3 {
		t.Errorf("expected 3 distinct sessions, got %d", len(ids))
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("I think we should really talk about the Mars rover mission! mars ROVER")
	want := []string{"talk", "mars", "rover", "mission"}
	if len(got) != len(want) {
		t.Fatalf("keywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractKeywords_Cap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "keyword%02d ", i)
	}
	if got := ExtractKeywords(sb.String()); len(got) != maxTopicKeywords {
		t.Errorf("keyword count = %d, want %d", len(got), maxTopicKeywords)
	}
}

func containsKeyword(kws []string, want string) bool {
	for _, kw := range kws {
		if kw == want {
			return true
		}
	}
	return false
}
