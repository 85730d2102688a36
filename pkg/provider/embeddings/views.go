package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

// ViewInput carries one text plus the signal hints that frame its non-content
// views. Zero-value hints produce neutral frames, so a bare query text can
// still be embedded under every kind.
type ViewInput struct {
	// Text is the raw utterance or query.
	Text string

	// Emotion frames the emotion view. Coerced; empty means neutral.
	Emotion chat.Emotion

	// TopicTags frame the context view.
	TopicTags []string

	// RelationshipLevel frames the relationship view, [0, 1].
	RelationshipLevel float64

	// PersonaName frames the personality view.
	PersonaName string
}

// FrameView returns the text actually submitted to the model for one vector
// kind. The same model produces semantically distinct views because the frame
// shifts which aspects of the text dominate the embedding.
func FrameView(kind memory.VectorKind, in ViewInput) string {
	switch kind {
	case memory.KindContent:
		return in.Text
	case memory.KindEmotion:
		return fmt.Sprintf("emotion %s: %s", in.Emotion.Coerce(), in.Text)
	case memory.KindSemantic:
		return "meaning: " + in.Text
	case memory.KindRelationship:
		return fmt.Sprintf("relationship %.2f: %s", in.RelationshipLevel, in.Text)
	case memory.KindContext:
		if len(in.TopicTags) > 0 {
			return fmt.Sprintf("context [%s]: %s", strings.Join(in.TopicTags, ", "), in.Text)
		}
		return "context: " + in.Text
	case memory.KindPersonality:
		if in.PersonaName != "" {
			return fmt.Sprintf("personality of %s: %s", in.PersonaName, in.Text)
		}
		return "personality: " + in.Text
	default:
		return in.Text
	}
}

// EmbedViews embeds in.Text under each requested kind concurrently. Kinds
// defaults to all six when nil.
//
// The returned set contains every view that succeeded; the error joins the
// per-view failures. A partial set with a non-nil error is a valid result:
// retrieval callers drop the failed dimensions, while record writers must
// check [memory.VectorSet.Complete] before upserting.
func EmbedViews(ctx context.Context, p Provider, in ViewInput, kinds []memory.VectorKind) (memory.VectorSet, error) {
	if kinds == nil {
		kinds = memory.AllKinds
	}

	var (
		mu   sync.Mutex
		set  = memory.VectorSet{}
		errs = make([]error, len(kinds))
	)
	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			vec, err := p.Embed(ctx, FrameView(kind, in))
			if err != nil {
				errs[i] = fmt.Errorf("embeddings: view %s: %w", kind, err)
				return nil
			}
			mu.Lock()
			set[kind] = vec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return set, errors.Join(errs...)
}
