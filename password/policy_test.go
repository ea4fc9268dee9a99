package password

import (
	"strings"
	"testing"
)

func TestValidatePolicyAccepts(t *testing.T) {
	for _, candidate := range []string{
		"Str0ng&Secret",
		"x7#kQpL2",
		"correct-Horse9",
	} {
		result := ValidatePolicy(candidate)
		if !result.IsValid {
			t.Errorf("ValidatePolicy(%q) rejected: %v", candidate, result.Errors)
		}
	}
}

func TestValidatePolicyCollectsAllViolations(t *testing.T) {
	result := ValidatePolicy("abc123")
	if result.IsValid {
		t.Fatal("expected rejection")
	}
	if len(result.Errors) < 2 {
		t.Fatalf("expected multiple violations, got %v", result.Errors)
	}
	assertViolation(t, result.Errors, "8 characters")
	assertViolation(t, result.Errors, "special character")
}

func TestValidatePolicyRules(t *testing.T) {
	cases := []struct {
		name      string
		candidate string
		fragment  string
	}{
		{"too short", "aB1!", "8 characters"},
		{"too long", strings.Repeat("aB1!", 40), "128 characters"},
		{"no digit", "abcDEfg!!", "number"},
		{"no symbol", "abcdef12", "special character"},
		{"no letter", "12345678!!!!", "letter"},
		{"leading whitespace", " abcDE1!x", "whitespace"},
		{"trailing whitespace", "abcDE1!x ", "whitespace"},
		{"repeated run", "aaab1!cdEF", "repeat"},
		{"weak sequence", "qwerty12!A", "sequence"},
		{"weak word", "Password1!", "common word"},
		{"dual case at length", "abcdefgh1234!", "uppercase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := ValidatePolicy(tc.candidate)
			if result.IsValid {
				t.Fatalf("expected rejection of %q", tc.candidate)
			}
			assertViolation(t, result.Errors, tc.fragment)
		})
	}
}

func TestValidatePolicyShortPasswordSkipsDualCase(t *testing.T) {
	// Under 12 characters a single case is acceptable.
	result := ValidatePolicy("abcde1!x")
	if !result.IsValid {
		t.Fatalf("expected acceptance, got %v", result.Errors)
	}
}

func assertViolation(t *testing.T, errs []string, fragment string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(strings.ToLower(e), strings.ToLower(fragment)) {
			return
		}
	}
	t.Errorf("no violation mentioning %q in %v", fragment, errs)
}

func TestScoreLevels(t *testing.T) {
	cases := []struct {
		candidate string
		level     StrengthLevel
	}{
		{"abc", StrengthWeak},
		{"Tr1cky&PassPhrase42", StrengthStrong},
	}
	for _, tc := range cases {
		s := Score(tc.candidate)
		if s.Level != tc.level {
			t.Errorf("Score(%q) level = %s, want %s (score %d)", tc.candidate, s.Level, tc.level, s.Score)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	for _, candidate := range []string{"", "a", "aaaaaaaaaaaaaaaaaaaaa", "Zz9!Zz9!Zz9!Zz9!Zz9!"} {
		s := Score(candidate)
		if s.Score < 0 || s.Score > 100 {
			t.Errorf("Score(%q) = %d outside [0,100]", candidate, s.Score)
		}
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	a := Score("Tr1cky&Pass")
	b := Score("Tr1cky&Pass")
	if a.Score != b.Score || a.Level != b.Level {
		t.Fatalf("scoring not deterministic: %+v vs %+v", a, b)
	}
}

func TestScorePenalizesWeakPatterns(t *testing.T) {
	weak := Score("Password1!")
	strong := Score("Plaintiff1!")
	if weak.Score >= strong.Score {
		t.Errorf("weak-word password scored %d, non-weak scored %d", weak.Score, strong.Score)
	}
}
