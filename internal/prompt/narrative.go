package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

const (
	// recentWindow splits retrieved memories into the live thread versus
	// older history.
	recentWindow = 2 * time.Hour

	// clauseLimit caps each rendered memory clause.
	clauseLimit = 120
)

// memoryNarrative renders retrieved memories as two prose sections: what just
// happened and what is known from before. Raw payloads and scores never
// appear.
func memoryNarrative(memories []memory.ScoredRecord, now time.Time) string {
	if len(memories) == 0 {
		return ""
	}
	cutoff := now.Add(-recentWindow)

	var recent, previous []string
	for _, m := range memories {
		clause := memoryClause(m.Record, now)
		if clause == "" {
			continue
		}
		if m.Record.CreatedAt.After(cutoff) {
			recent = append(recent, clause)
		} else {
			previous = append(previous, clause)
		}
	}
	if len(recent) == 0 && len(previous) == 0 {
		return ""
	}

	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("RECENT CONVERSATION CONTEXT:\n")
		for _, c := range recent {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(previous) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("PREVIOUS INTERACTIONS AND FACTS:\n")
		for _, c := range previous {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

// memoryClause renders one memory as a short tagged clause.
func memoryClause(r memory.Record, now time.Time) string {
	content := strings.TrimSpace(r.Content)
	if content == "" {
		return ""
	}

	tag := relativeAge(now.Sub(r.CreatedAt))
	if e := r.Payload.PrimaryEmotion.Coerce(); e != chat.EmotionNeutral {
		tag += ", " + string(e)
	}

	clause := fmt.Sprintf("(%s) %s", tag, content)
	if runes := []rune(clause); len(runes) > clauseLimit {
		clause = string(runes[:clauseLimit-1]) + "…"
	}
	return clause
}

// factNarrative renders the user's stored facts as one prose section. Low
// confidence facts are softened with "mentioned".
func factNarrative(facts []memory.Fact, userName string) string {
	if len(facts) == 0 {
		return ""
	}
	who := strings.TrimSpace(userName)
	if who == "" {
		who = "The user"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "WHAT YOU KNOW ABOUT %s:\n", strings.ToUpper(who))
	for _, f := range facts {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}
		if f.Confidence < 0.7 {
			fmt.Fprintf(&b, "- They mentioned: %q\n", content)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", content)
	}
	return b.String()
}

func relativeAge(d time.Duration) string {
	switch {
	case d < 2*time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Immersive-mode filter
// ─────────────────────────────────────────────────────────────────────────────

// metaPhrases mark history content as leaked analysis output rather than
// conversation.
var metaPhrases = []string{
	"core conversation analysis",
	"emotional analysis",
	"overall assessment",
	"relevance score",
	"engagement score",
	"conversation metrics",
	"would you like me to",
	"as an ai",
}

// scoredBreakdown matches numerically scored report lines such as
// "Relevance: 8/10" or "Score: 0.85".
var scoredBreakdown = regexp.MustCompile(`(?i)\b(score|rating|relevance|confidence)\s*[:=]\s*\d+(\.\d+)?(\s*/\s*\d+)?`)

// containsMetaAnalysis reports whether content reads as meta-analysis that
// would break immersion if replayed to the model.
func containsMetaAnalysis(content string) bool {
	lower := strings.ToLower(content)
	for _, p := range metaPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return scoredBreakdown.MatchString(content)
}
