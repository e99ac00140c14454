package intent

import (
	"regexp"
	"strings"
)

// Rule classification runs when the model is unreachable or returns
// garbage. It only promotes to ORDER on an unmistakable imperative;
// everything else stays a NOTE.
const (
	ruleOrderConfidence = 0.6
	ruleNoteConfidence  = 0.5
)

var imperativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwrite\s+(?:me\s+|us\s+)?(?:a\s+|an\s+|the\s+)?(?:\w+[ -]){0,2}post\b`),
	regexp.MustCompile(`(?i)\bcreate\s+(?:some\s+)?content\b`),
	regexp.MustCompile(`(?i)\bturn\s+this\s+into\s+(?:a\s+)?(?:\w+\s+)?post\b`),
	regexp.MustCompile(`(?i)\bmake\s+(?:me\s+|us\s+)?(?:a\s+|an\s+)?(?:\w+\s+){0,2}post\b`),
	regexp.MustCompile(`(?i)\bdraft\s+(?:me\s+|us\s+)?(?:a\s+|an\s+)?(?:\w+\s+){0,2}post\b`),
}

var knownPlatforms = []string{"linkedin", "instagram", "twitter", "blog"}

var knownTones = []string{"professional", "casual", "friendly", "witty", "bold", "formal", "playful"}

var topicPattern = regexp.MustCompile(`(?i)\babout\s+(.+?)(?:[.!?\n]|$)`)

var topicLeadIn = regexp.MustCompile(`(?i)^(?:our|my|the|this|these|those|a|an)\s+`)

// ClassifyByRules labels text without the model. Slots found in the
// text count as explicit; rules never infer.
func ClassifyByRules(text string) Result {
	result := Result{
		Intent:     KindNote,
		Confidence: ruleNoteConfidence,
		Explicit:   extractParams(text),
		Source:     SourceRules,
	}
	for _, re := range imperativePatterns {
		if re.MatchString(text) {
			result.Intent = KindOrder
			result.Confidence = ruleOrderConfidence
			break
		}
	}
	return result
}

func extractParams(text string) Params {
	lower := strings.ToLower(text)
	p := Params{}

	for _, platform := range knownPlatforms {
		if strings.Contains(lower, platform) {
			p.Platform = platform
			break
		}
	}

	switch {
	case containsWord(lower, "short"):
		p.Length = "short"
	case containsWord(lower, "long"):
		p.Length = "long"
	case containsWord(lower, "medium"):
		p.Length = "medium"
	}

	for _, tone := range knownTones {
		if containsWord(lower, tone) {
			p.Tone = tone
			break
		}
	}

	if m := topicPattern.FindStringSubmatch(text); len(m) == 2 {
		topic := strings.TrimSpace(m[1])
		topic = topicLeadIn.ReplaceAllString(topic, "")
		p.Topic = strings.TrimSpace(topic)
	}

	return p
}

func containsWord(text, word string) bool {
	idx := strings.Index(text, word)
	if idx < 0 {
		return false
	}
	if idx > 0 && isWordChar(text[idx-1]) {
		return false
	}
	end := idx + len(word)
	if end < len(text) && isWordChar(text[end]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
