// Package intent decides what a flushed buffer is: an ORDER asking for
// content to be produced, or a NOTE to store silently. Classification
// never fails outward; every fallback tier lands on a usable result.
package intent

// Kind is the classified intent of a flushed buffer.
type Kind string

const (
	KindNote  Kind = "NOTE"
	KindOrder Kind = "ORDER"
)

// Classification sources.
const (
	SourceAI    = "ai"
	SourceRules = "rules"
)

// Params are the content-creation slots a message can carry.
type Params struct {
	Platform string `json:"platform,omitempty"`
	Length   string `json:"length,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Angle    string `json:"angle,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// IsZero reports whether no slot is set.
func (p Params) IsZero() bool {
	return p == Params{}
}

// Result is one classification outcome. Explicit holds slots the
// message states outright; Inferred holds slots the classifier read
// between the lines. The two feed different tiers of the parameter
// resolver.
type Result struct {
	Intent     Kind    `json:"intent"`
	Confidence float64 `json:"confidence"`
	Explicit   Params  `json:"explicit"`
	Inferred   Params  `json:"inferred"`
	Source     string  `json:"source"`
}
