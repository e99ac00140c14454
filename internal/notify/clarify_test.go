package notify

import "testing"

func TestQuestionKnownFields(t *testing.T) {
	question, items := Question("platform")
	if question == "" {
		t.Fatal("expected a question for platform")
	}
	if len(items) != 4 {
		t.Fatalf("expected four platform choices, got %+v", items)
	}

	question, items = Question("topic")
	if question == "" || len(items) != 0 {
		t.Fatalf("expected free-text topic question, got %q with %d items", question, len(items))
	}
}

func TestQuestionUnknownFieldFallsBack(t *testing.T) {
	question, items := Question("audience")
	if question == "" || len(items) != 0 {
		t.Fatalf("expected generic free-text question, got %q with %d items", question, len(items))
	}
}

func TestInterpretAnswer(t *testing.T) {
	cases := []struct {
		name  string
		field string
		reply string
		want  string
		ok    bool
	}{
		{name: "menu title match", field: "platform", reply: "LinkedIn", want: "linkedin", ok: true},
		{name: "menu value match", field: "platform", reply: "instagram", want: "instagram", ok: true},
		{name: "menu free text lowercased", field: "platform", reply: "TikTok", want: "tiktok", ok: true},
		{name: "length title", field: "length", reply: "Short", want: "short", ok: true},
		{name: "topic keeps casing", field: "topic", reply: "  Q3 Results  ", want: "Q3 Results", ok: true},
		{name: "empty rejected", field: "topic", reply: "   ", want: "", ok: false},
		{name: "tone menu", field: "tone", reply: "witty", want: "witty", ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := InterpretAnswer(tc.field, tc.reply)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("InterpretAnswer(%q, %q) = %q, %v; want %q, %v", tc.field, tc.reply, got, ok, tc.want, tc.ok)
			}
		})
	}
}
