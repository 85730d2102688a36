// Package emotion implements the lexicon-based emotion analyzer.
//
// The analyzer classifies one utterance into the closed emotion set carried
// by [chat.Emotion], scoring keyword and phrase matches per emotion and
// deriving intensity from expressive markers (exclamations, capitals,
// intensifiers). It is pure CPU work with no upstream model, so it cannot
// fail: inconclusive input degrades to a low-confidence neutral result.
//
// The analyzer is stateless and safe for concurrent use.
package emotion

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/reverie-chat/reverie/pkg/chat"
)

// lexicon maps each emotion to its cue words and phrases. Entries containing
// a space are matched as substrings of the lowercased text; single words are
// matched against word tokens.
var lexicon = map[chat.Emotion][]string{
	chat.EmotionJoy: {
		"happy", "glad", "wonderful", "great", "awesome", "amazing", "yay",
		"delighted", "fantastic", "fun", "laughing", "haha", "hi", "hello", "hey",
	},
	chat.EmotionExcitement: {
		"excited", "thrilled", "stoked", "pumped", "hyped", "incredible",
		"can't wait", "cant wait", "so cool",
	},
	chat.EmotionGratitude: {
		"thanks", "thank", "grateful", "appreciate", "appreciated",
	},
	chat.EmotionLove: {
		"love", "adore", "cherish", "beloved",
	},
	chat.EmotionHope: {
		"hope", "hopeful", "optimistic", "better", "looking forward",
	},
	chat.EmotionCuriosity: {
		"curious", "wonder", "wondering", "interesting", "intrigued", "what if",
	},
	chat.EmotionAnticipation: {
		"soon", "eager", "upcoming", "about to", "almost here",
	},
	chat.EmotionContentment: {
		"content", "calm", "peaceful", "relaxed", "satisfied", "relieved",
		"helping", "helps", "comfortable",
	},
	chat.EmotionContemplative: {
		"thinking", "pondering", "contemplating", "mulling", "been thinking",
	},
	chat.EmotionReflective: {
		"remember", "reflecting", "realized", "looking back", "in hindsight",
	},
	chat.EmotionSadness: {
		"sad", "unhappy", "crying", "cried", "lonely", "heartbroken",
		"depressed", "miss", "grieving",
	},
	chat.EmotionDisappointment: {
		"disappointed", "disappointing", "bummer", "let down", "letdown",
	},
	chat.EmotionFrustration: {
		"frustrated", "frustrating", "annoying", "annoyed", "stuck",
		"irritated", "ugh",
	},
	chat.EmotionAnger: {
		"angry", "furious", "mad", "hate", "rage", "outraged", "pissed",
	},
	chat.EmotionFear: {
		"afraid", "scared", "terrified", "frightened", "dread",
	},
	chat.EmotionAnxiety: {
		"anxious", "nervous", "overwhelmed", "stressed", "stress", "panic",
		"panicking",
	},
	chat.EmotionWorry: {
		"worried", "worry", "worrying", "concerned", "uneasy",
	},
}

// negators cancel a cue word appearing within two tokens after them
// ("not happy" scores nothing for joy).
var negators = map[string]bool{
	"not": true, "never": true, "no": true, "don't": true, "dont": true,
	"can't": true, "cant": true, "isn't": true, "isnt": true,
	"wasn't": true, "wasnt": true, "hardly": true,
}

// intensifiers raise intensity without changing the classification.
var intensifiers = map[string]bool{
	"very": true, "so": true, "really": true, "extremely": true,
	"totally": true, "absolutely": true, "incredibly": true, "deeply": true,
}

// Analyzer classifies utterances into the closed emotion set.
type Analyzer struct{}

// NewAnalyzer returns a ready Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze classifies text. recent carries the user's prior per-turn results,
// newest last; an inconclusive classification inherits a decayed echo of the
// most recent confident one. Analyze never fails — worst case it returns a
// zero-confidence neutral result.
func (a *Analyzer) Analyze(ctx context.Context, text, userID string, recent []chat.EmotionResult) chat.EmotionResult {
	if err := ctx.Err(); err != nil {
		return chat.NeutralEmotionResult()
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return chat.NeutralEmotionResult()
	}

	lower := strings.ToLower(trimmed)
	tokens := tokenize(lower)

	scores := map[chat.Emotion]float64{}
	matches := 0
	for emo, cues := range lexicon {
		for _, cue := range cues {
			if !matchCue(cue, lower, tokens) {
				continue
			}
			scores[emo] += 1.0
			matches++
		}
	}

	if matches == 0 {
		return a.carryOver(recent)
	}

	primary, topScore := maxScore(scores)
	total := 0.0
	for _, s := range scores {
		total += s
	}

	result := chat.EmotionResult{
		Primary:     primary,
		Confidence:  clamp01(topScore / total),
		Intensity:   intensity(trimmed, tokens, matches),
		AllEmotions: normalize(scores, topScore),
	}

	// Secondary emotions: anything scoring at least half the winner.
	for emo, s := range scores {
		if emo != primary && s >= topScore/2 {
			result.Secondary = append(result.Secondary, emo)
		}
	}
	sort.Slice(result.Secondary, func(i, j int) bool {
		return result.Secondary[i] < result.Secondary[j]
	})
	if len(result.Secondary) > 2 {
		result.Secondary = result.Secondary[:2]
	}
	return result
}

// carryOver echoes the most recent confident result at half strength, so a
// short follow-up ("yeah", "ok") does not reset an emotional thread.
func (a *Analyzer) carryOver(recent []chat.EmotionResult) chat.EmotionResult {
	for i := len(recent) - 1; i >= 0; i-- {
		prev := recent[i]
		if prev.Primary != chat.EmotionNeutral && prev.Confidence >= 0.6 {
			return chat.EmotionResult{
				Primary:     prev.Primary,
				Confidence:  prev.Confidence / 2,
				Intensity:   prev.Intensity / 2,
				AllEmotions: map[chat.Emotion]float64{prev.Primary: 1},
			}
		}
	}
	return chat.EmotionResult{
		Primary:     chat.EmotionNeutral,
		Confidence:  0.2,
		Intensity:   0.1,
		AllEmotions: map[chat.Emotion]float64{chat.EmotionNeutral: 1},
	}
}

// matchCue reports whether cue fires in the text. Phrases match as
// substrings; words match whole tokens and respect preceding negators.
func matchCue(cue, lower string, tokens []string) bool {
	if strings.Contains(cue, " ") {
		return strings.Contains(lower, cue)
	}
	for i, tok := range tokens {
		if tok != cue {
			continue
		}
		if negatedAt(tokens, i) {
			continue
		}
		return true
	}
	return false
}

func negatedAt(tokens []string, i int) bool {
	for back := 1; back <= 2 && i-back >= 0; back++ {
		if negators[tokens[i-back]] {
			return true
		}
	}
	return false
}

// intensity derives expressed strength from match density and typographic
// emphasis.
func intensity(text string, tokens []string, matches int) float64 {
	v := 0.3 + 0.1*float64(matches)
	v += 0.15 * float64(strings.Count(text, "!"))
	for _, tok := range tokens {
		if intensifiers[tok] {
			v += 0.1
		}
	}
	if hasShoutingWord(text) {
		v += 0.1
	}
	return clamp01(v)
}

func hasShoutingWord(text string) bool {
	for _, word := range strings.Fields(text) {
		upper := 0
		letters := 0
		for _, r := range word {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					upper++
				}
			}
		}
		if letters >= 3 && upper == letters {
			return true
		}
	}
	return false
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func maxScore(scores map[chat.Emotion]float64) (chat.Emotion, float64) {
	var (
		best     chat.Emotion
		topScore float64
	)
	// Deterministic tie-break: iterate the closed set in declared order.
	for _, emo := range chat.Emotions {
		if s, ok := scores[emo]; ok && s > topScore {
			best, topScore = emo, s
		}
	}
	return best, topScore
}

func normalize(scores map[chat.Emotion]float64, top float64) map[chat.Emotion]float64 {
	out := make(map[chat.Emotion]float64, len(scores))
	for emo, s := range scores {
		out[emo] = s / top
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
