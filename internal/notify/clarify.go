package notify

import (
	"fmt"
	"strings"

	"github.com/echoposthq/echopost/internal/chatwoot"
)

// Quick-reply choice sets per order field. Fields without a set, like
// topic, are asked as free text.
var fieldOptions = map[string][]chatwoot.SelectItem{
	"platform": {
		{Title: "LinkedIn", Value: "linkedin"},
		{Title: "Instagram", Value: "instagram"},
		{Title: "Twitter", Value: "twitter"},
		{Title: "Blog", Value: "blog"},
	},
	"tone": {
		{Title: "Professional", Value: "professional"},
		{Title: "Casual", Value: "casual"},
		{Title: "Witty", Value: "witty"},
		{Title: "Formal", Value: "formal"},
	},
	"length": {
		{Title: "Short", Value: "short"},
		{Title: "Medium", Value: "medium"},
		{Title: "Long", Value: "long"},
	},
}

var fieldQuestions = map[string]string{
	"platform": "Which platform should this content target?",
	"topic":    "What topic should the content cover? Reply with a short description.",
	"tone":     "Which tone should it have?",
	"length":   "How long should it be?",
	"angle":    "Which angle should it take? Reply in a few words.",
}

// Question returns the clarification prompt and quick-reply choices for
// an order field.
func Question(field string) (string, []chatwoot.SelectItem) {
	question, ok := fieldQuestions[field]
	if !ok {
		question = fmt.Sprintf("Which %s should this content use?", field)
	}
	return question, fieldOptions[field]
}

// InterpretAnswer turns an inbound reply into the value for the pending
// field. Replies matching an offered choice, by value or by the title
// shown on the button, map to the canonical value; anything else is
// taken as free text. Empty replies are rejected.
func InterpretAnswer(field, reply string) (string, bool) {
	answer := strings.TrimSpace(reply)
	if answer == "" {
		return "", false
	}

	options := fieldOptions[field]
	for _, opt := range options {
		if strings.EqualFold(answer, opt.Value) || strings.EqualFold(answer, opt.Title) {
			return opt.Value, true
		}
	}
	if len(options) > 0 {
		// Free-text fallback for menu fields stays canonical.
		return strings.ToLower(answer), true
	}
	return answer, true
}
