package token

import (
	"errors"
	"strings"
	"testing"
)

func TestNewProducesUniqueCheckableTokens(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := New()
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
		if err := Check(tok); err != nil {
			t.Errorf("fresh token failed Check: %v", err)
		}
	}
}

func TestCheckRejectsGarbage(t *testing.T) {
	for _, s := range []string{
		"",
		"short",
		strings.Repeat("!", 43),
		strings.Repeat("A", 10), // decodes, wrong length
		strings.Repeat("A", 100),
	} {
		if err := Check(s); !errors.Is(err, ErrMalformed) {
			t.Errorf("Check(%q) = %v, want ErrMalformed", s, err)
		}
	}
}
