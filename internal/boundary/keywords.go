package boundary

import "strings"

const (
	maxTopicKeywords = 10
	minKeywordLen    = 4
)

// stopWords are common tokens that carry no topical signal.
var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {}, "before": {},
	"being": {}, "believe": {}, "could": {}, "does": {}, "doing": {}, "dont": {},
	"down": {}, "even": {}, "every": {}, "feel": {}, "from": {}, "going": {},
	"gonna": {}, "have": {}, "here": {}, "hers": {}, "himself": {}, "into": {},
	"just": {}, "know": {}, "like": {}, "make": {}, "maybe": {}, "mean": {},
	"more": {}, "most": {}, "much": {}, "need": {}, "only": {}, "other": {},
	"over": {}, "really": {}, "said": {}, "same": {}, "should": {}, "some": {},
	"something": {}, "still": {}, "such": {}, "than": {}, "that": {}, "thats": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "thing": {},
	"think": {}, "this": {}, "those": {}, "through": {}, "very": {}, "want": {},
	"well": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"while": {}, "will": {}, "with": {}, "would": {}, "your": {}, "yours": {},
}

// ExtractKeywords pulls topic keywords from message text: lowercase tokens at
// least four characters long, stop words removed, first occurrence order
// preserved, capped at ten.
func ExtractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:()[]{}\"'`*_~")
		if len(tok) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == maxTopicKeywords {
			break
		}
	}
	return out
}
