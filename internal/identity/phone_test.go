package identity

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already e164", "+4915112345678", "+4915112345678"},
		{"formatted us", " +1 (555) 123-4567 ", "+15551234567"},
		{"bare digits", "4915112345678", "+4915112345678"},
		{"empty", "  ", ""},
		{"no digits", "wa-id", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			"international",
			"+49 151 1234 5678",
			[]string{"+4915112345678", "4915112345678"},
		},
		{
			"leading zero national",
			"015112345678",
			[]string{"+015112345678", "015112345678", "+15112345678", "15112345678"},
		},
		{
			"bare us ten digit",
			"5551234567",
			[]string{"+5551234567", "5551234567", "+15551234567", "15551234567"},
		},
		{
			"empty",
			"",
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Variants(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Variants(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCandidateVariantsDeduplicates(t *testing.T) {
	got := CandidateVariants("+4915112345678", "4915112345678", "")
	want := []string{"+4915112345678", "4915112345678"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
