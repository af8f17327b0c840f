package cardid

import "testing"

func TestGenerate(t *testing.T) {
	tests := []struct {
		issuer   string
		name     string
		expected string
	}{
		{"Chase", "Sapphire Preferred", "chase-sapphire-preferred"},
		{"AMEX", "Gold", "amex-gold"},
		{"  Citi ", "Premier  Card", "citi-premier-card"},
		{"HSBC", "Red", "hsbc-red"},
	}

	for _, tt := range tests {
		if got := Generate(tt.issuer, tt.name); got != tt.expected {
			t.Errorf("Generate(%q, %q) = %q, want %q", tt.issuer, tt.name, got, tt.expected)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a := Generate("Chase", "Freedom Unlimited")
	b := Generate("Chase", "Freedom Unlimited")
	if a != b {
		t.Errorf("expected identical IDs, got %q and %q", a, b)
	}
}
