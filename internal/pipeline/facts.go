package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/reverie-chat/reverie/pkg/memory"
)

// maxFactsPerTurn caps how many facts one message may contribute.
const maxFactsPerTurn = 4

// factPatterns match first-person declarations worth remembering across
// sessions. Each pattern captures the declared value; the category and
// confidence reflect how directly the phrasing states the fact.
var factPatterns = []struct {
	category   string
	confidence float64
	re         *regexp.Regexp
}{
	{"identity", 0.90, regexp.MustCompile(`(?i)\bmy name is ([a-z][\w'-]*(?: [a-z][\w'-]*)?)`)},
	{"identity", 0.80, regexp.MustCompile(`(?i)\bcall me ([a-z][\w'-]*)`)},
	{"location", 0.85, regexp.MustCompile(`(?i)\bi live in ([a-z][\w'-]*(?: [a-z][\w'-]*){0,3})`)},
	{"location", 0.70, regexp.MustCompile(`(?i)\bi'?m from ([a-z][\w'-]*(?: [a-z][\w'-]*){0,3})`)},
	{"occupation", 0.80, regexp.MustCompile(`(?i)\bi work (?:as|at) (?:an? )?([a-z][\w'-]*(?: [a-z][\w'-]*){0,3})`)},
	{"preference", 0.60, regexp.MustCompile(`(?i)\bi (?:love|really like|enjoy) ([a-z][\w'-]*(?: [a-z][\w'-]*){0,4})`)},
	{"preference", 0.60, regexp.MustCompile(`(?i)\bi (?:hate|can'?t stand) ([a-z][\w'-]*(?: [a-z][\w'-]*){0,4})`)},
	{"relationship", 0.70, regexp.MustCompile(`(?i)\bmy (wife|husband|partner|girlfriend|boyfriend|sister|brother|mother|mom|father|dad|son|daughter|dog|cat)\b`)},
}

// factStopwords end a captured value; the greedy multi-word captures would
// otherwise swallow the next clause.
var factStopwords = map[string]struct{}{
	"and": {}, "but": {}, "so": {}, "because": {}, "though": {}, "when": {},
}

// extractFacts pulls durable user facts out of one message. Extraction is
// deterministic: the same text always yields the same fact IDs, so
// re-persisting a turn is an idempotent upsert at the store.
func extractFacts(personaID, userID, text string, now time.Time) []memory.Fact {
	var out []memory.Fact
	seen := make(map[string]struct{})
	for _, p := range factPatterns {
		match := p.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		raw := match[1]
		value := trimAtStopword(raw)
		if value == "" {
			continue
		}
		id := factID(personaID, userID, p.category, value)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, memory.Fact{
			FactID:     id,
			PersonaID:  personaID,
			UserID:     userID,
			Category:   p.category,
			Content:    strings.TrimSpace(strings.TrimSuffix(match[0], raw) + value),
			Confidence: p.confidence,
			CreatedAt:  now,
		})
		if len(out) == maxFactsPerTurn {
			break
		}
	}
	return out
}

func trimAtStopword(v string) string {
	words := strings.Fields(v)
	for i, w := range words {
		if _, ok := factStopwords[strings.ToLower(w)]; ok {
			return strings.Join(words[:i], " ")
		}
	}
	return strings.TrimSpace(v)
}

// factID derives a stable identifier from the fact's identity fields, not
// its timestamp, so the same declaration never duplicates a row.
func factID(personaID, userID, category, value string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", personaID, userID, category, strings.ToLower(value))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
