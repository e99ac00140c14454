package intent

import "testing"

func TestClassifyByRules(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Kind
	}{
		{"write a post", "write a post for me please", KindOrder},
		{"write me a platform post", "Write me a LinkedIn post about our Q3 results", KindOrder},
		{"create content", "create content for instagram", KindOrder},
		{"turn this into a post", "Turn this into a post", KindOrder},
		{"make us a post", "make us an instagram post", KindOrder},
		{"draft a post", "Draft a witty twitter post about the hiring freeze. Thanks!", KindOrder},
		{"bare slots are not an order", "linkedin short", KindNote},
		{"link drop", "check out this article https://example.com/growth", KindNote},
		{"idea capture", "random thought: onboarding emails feel cold", KindNote},
		{"mention of writing is not enough", "I was writing in my journal yesterday", KindNote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyByRules(tt.text)
			if result.Intent != tt.want {
				t.Fatalf("ClassifyByRules(%q) = %s, want %s", tt.text, result.Intent, tt.want)
			}
			if result.Source != SourceRules {
				t.Errorf("source = %s, want rules", result.Source)
			}
			if tt.want == KindOrder && result.Confidence >= 0.9 {
				t.Errorf("rule ORDER confidence should stay low, got %v", result.Confidence)
			}
		})
	}
}

func TestExtractParams(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Params
	}{
		{
			name: "platform and topic",
			text: "Write me a LinkedIn post about our Q3 results",
			want: Params{Platform: "linkedin", Topic: "Q3 results"},
		},
		{
			name: "tone length platform",
			text: "Draft a witty twitter post, keep it short",
			want: Params{Platform: "twitter", Length: "short", Tone: "witty"},
		},
		{
			name: "topic stops at sentence end",
			text: "create content about the hiring freeze. Thanks!",
			want: Params{Topic: "hiring freeze"},
		},
		{
			name: "length needs a whole word",
			text: "we have come a long way along the shore",
			want: Params{Length: "long"},
		},
		{
			name: "no slots",
			text: "remember to call the accountant",
			want: Params{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractParams(tt.text)
			if got != tt.want {
				t.Fatalf("extractParams(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestContainsWordBoundaries(t *testing.T) {
	if containsWord("along the way", "long") {
		t.Error("'long' inside 'along' must not match")
	}
	if !containsWord("a long way", "long") {
		t.Error("standalone 'long' should match")
	}
	if containsWord("shortage", "short") {
		t.Error("'short' inside 'shortage' must not match")
	}
}
