package intent

import "strings"

// System defaults, the last resort of the parameter resolver.
const (
	DefaultPlatform = "linkedin"
	DefaultTone     = "professional"
	DefaultLength   = "medium"
)

// Resolution is the outcome of parameter resolution for one order.
// Missing lists required fields no tier could fill, in the order the
// policy names them; a non-empty list blocks dispatch until the
// clarification dialog fills it.
type Resolution struct {
	Params  map[string]string
	Missing []string
}

// Complete reports whether every required field resolved.
func (r Resolution) Complete() bool {
	return len(r.Missing) == 0
}

// Resolve merges order parameters by fixed priority: explicit message
// slots, then model-inferred slots, then stored profile preferences,
// then system defaults. A field in the required set never takes the
// system default; it must come from the sender or their profile, or it
// blocks.
func Resolve(explicit, inferred, prefs Params, required []string) Resolution {
	req := map[string]bool{}
	var order []string
	for _, field := range required {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "" || req[field] {
			continue
		}
		req[field] = true
		order = append(order, field)
	}

	params := map[string]string{}
	set := func(field, value string) {
		if value != "" {
			params[field] = value
		}
	}

	fill := func(field, systemDefault string, tiers ...string) {
		value := firstNonEmpty(tiers...)
		if value == "" && !req[field] {
			value = systemDefault
		}
		set(field, value)
	}

	fill("platform", DefaultPlatform, explicit.Platform, inferred.Platform, prefs.Platform)
	fill("tone", DefaultTone, explicit.Tone, inferred.Tone, prefs.Tone)
	fill("length", DefaultLength, explicit.Length, inferred.Length, prefs.Length)
	fill("angle", "", explicit.Angle, inferred.Angle, prefs.Angle)
	fill("topic", "", explicit.Topic, inferred.Topic, prefs.Topic)

	var missing []string
	for _, field := range order {
		if params[field] == "" {
			missing = append(missing, field)
		}
	}
	return Resolution{Params: params, Missing: missing}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
