package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/provider/llm"
	llmmock "github.com/reverie-chat/reverie/pkg/provider/llm/mock"
)

func newFailoverPair() (*Failover, *llmmock.Provider, *llmmock.Provider) {
	primary := &llmmock.Provider{
		ModelIDValue:   "primary-model",
		CompleteResult: &llm.CompletionResponse{Content: "from primary"},
	}
	backup := &llmmock.Provider{
		ModelIDValue:   "backup-model",
		CompleteResult: &llm.CompletionResponse{Content: "from backup"},
	}
	f := NewFailover(primary,
		WithFailoverLogger(discardLogger()),
		WithBreakerConfig(BreakerConfig{MaxFailures: 2, Cooldown: time.Minute}),
	)
	f.AddFallback(backup)
	return f, primary, backup
}

func completionReq() llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages: []chat.Message{{Role: "user", Content: "hello"}},
	}
}

func TestFailover_PrimaryServesWhenHealthy(t *testing.T) {
	f, primary, backup := newFailoverPair()

	resp, err := f.Complete(context.Background(), completionReq())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from primary" {
		t.Fatalf("content = %q, want primary reply", resp.Content)
	}
	if len(primary.CompleteCalls) != 1 || len(backup.CompleteCalls) != 0 {
		t.Fatalf("calls = %d/%d, want 1/0", len(primary.CompleteCalls), len(backup.CompleteCalls))
	}
}

func TestFailover_FallsBackOnPrimaryError(t *testing.T) {
	f, primary, backup := newFailoverPair()
	primary.CompleteErr = errBackend

	resp, err := f.Complete(context.Background(), completionReq())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from backup" {
		t.Fatalf("content = %q, want backup reply", resp.Content)
	}
	if len(backup.CompleteCalls) != 1 {
		t.Fatalf("backup calls = %d, want 1", len(backup.CompleteCalls))
	}
}

func TestFailover_OpenBreakerSkipsPrimaryCall(t *testing.T) {
	f, primary, backup := newFailoverPair()
	primary.CompleteErr = errBackend

	// Two failures trip the primary's breaker.
	for i := 0; i < 2; i++ {
		if _, err := f.Complete(context.Background(), completionReq()); err != nil {
			t.Fatalf("Complete %d: %v", i, err)
		}
	}
	before := len(primary.CompleteCalls)

	if _, err := f.Complete(context.Background(), completionReq()); err != nil {
		t.Fatalf("Complete with open breaker: %v", err)
	}
	if got := len(primary.CompleteCalls); got != before {
		t.Fatalf("primary calls = %d, want %d (breaker should skip it)", got, before)
	}
	if len(backup.CompleteCalls) != 3 {
		t.Fatalf("backup calls = %d, want 3", len(backup.CompleteCalls))
	}
}

func TestFailover_AllBackendsDown(t *testing.T) {
	f, primary, backup := newFailoverPair()
	primary.CompleteErr = errBackend
	backup.CompleteErr = errBackend

	_, err := f.Complete(context.Background(), completionReq())
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Fatalf("err = %v, want ErrAllBackendsFailed", err)
	}
	if !errors.Is(err, errBackend) {
		t.Fatalf("err = %v, want wrapped backend error", err)
	}
}

func TestFailover_CancelledContextStopsChain(t *testing.T) {
	f, primary, backup := newFailoverPair()
	ctx, cancel := context.WithCancel(context.Background())
	primary.CompleteFunc = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cancel()
		return nil, context.Canceled
	}

	if _, err := f.Complete(ctx, completionReq()); err == nil {
		t.Fatal("Complete: want error on cancelled context")
	}
	if len(backup.CompleteCalls) != 0 {
		t.Fatalf("backup calls = %d, want 0 after cancellation", len(backup.CompleteCalls))
	}
}

func TestFailover_IdentityFollowsPrimary(t *testing.T) {
	f, primary, _ := newFailoverPair()
	primary.TokensPerMessage = 7

	if got := f.ModelID(); got != "primary-model" {
		t.Fatalf("ModelID = %q, want primary-model", got)
	}
	n, err := f.CountTokens([]chat.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hey"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 14 {
		t.Fatalf("CountTokens = %d, want 14", n)
	}
}
