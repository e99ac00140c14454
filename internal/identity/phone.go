// Package identity resolves inbound WhatsApp senders to internal user
// ids, falling back to a contact-scoped anonymous identity so intake
// never blocks on resolution.
package identity

import "strings"

// Normalize returns the canonical +digits form of a phone number, or
// empty when the value carries no digits.
func Normalize(raw string) string {
	digits := digitsOf(raw)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// Variants expands a raw phone number into the lookup candidates seen
// in the wild: with and without the plus, without leading zeros, and
// the US country code added to bare ten-digit numbers. Order matters,
// callers take the first hit.
func Variants(raw string) []string {
	digits := digitsOf(raw)
	if digits == "" {
		return nil
	}

	var out []string
	add := func(values ...string) {
		for _, v := range values {
			if v == "" {
				continue
			}
			seen := false
			for _, existing := range out {
				if existing == v {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, v)
			}
		}
	}

	add("+"+digits, digits)
	if trimmed := strings.TrimLeft(digits, "0"); trimmed != "" && trimmed != digits {
		add("+"+trimmed, trimmed)
	}
	if len(digits) == 10 && !strings.HasPrefix(digits, "0") {
		add("+1"+digits, "1"+digits)
	}
	return out
}

// CandidateVariants merges the variants of several raw candidates,
// preserving candidate order.
func CandidateVariants(raws ...string) []string {
	var out []string
	for _, raw := range raws {
		for _, v := range Variants(raw) {
			seen := false
			for _, existing := range out {
				if existing == v {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, v)
			}
		}
	}
	return out
}

func digitsOf(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
