package password

import (
	"strings"
	"unicode"
)

const (
	// MinLength and MaxLength bound acceptable password lengths.
	MinLength = 8
	MaxLength = 128

	// dualCaseLength is the length at or above which both a lowercase and
	// an uppercase letter are required.
	dualCaseLength = 12
)

// symbolSet is the fixed punctuation set that satisfies the special
// character requirement.
const symbolSet = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?~`"

// weakSequences are rejected whenever they appear anywhere in the password.
var weakSequences = []string{
	"123456",
	"654321",
	"qwerty",
	"asdfgh",
	"abcdef",
}

// weakWords are rejected case-insensitively as substrings.
var weakWords = []string{
	"password",
	"admin",
	"letmein",
	"welcome",
}

// StrengthLevel buckets a 0-100 strength score.
type StrengthLevel string

const (
	StrengthWeak   StrengthLevel = "weak"
	StrengthFair   StrengthLevel = "fair"
	StrengthGood   StrengthLevel = "good"
	StrengthStrong StrengthLevel = "strong"
)

// PolicyResult is the outcome of ValidatePolicy. Errors lists every failed
// rule; validation never short-circuits on the first violation.
type PolicyResult struct {
	IsValid bool
	Errors  []string
}

// Strength is the outcome of Score.
type Strength struct {
	Score    int
	Level    StrengthLevel
	Feedback []string
}

// ValidatePolicy checks a candidate password against the fixed policy and
// collects every violated rule.
func ValidatePolicy(candidate string) PolicyResult {
	var errs []string

	if strings.TrimSpace(candidate) != candidate {
		errs = append(errs, "password must not start or end with whitespace")
	}
	if len(candidate) < MinLength {
		errs = append(errs, "password must be at least 8 characters long")
	}
	if len(candidate) > MaxLength {
		errs = append(errs, "password must be at most 128 characters long")
	}

	classes := classify(candidate)
	if !classes.lower && !classes.upper {
		errs = append(errs, "password must contain at least one letter")
	}
	if !classes.digit {
		errs = append(errs, "password must contain at least one number")
	}
	if !classes.symbol {
		errs = append(errs, "password must contain at least one special character")
	}
	if len(candidate) >= dualCaseLength {
		if !classes.lower {
			errs = append(errs, "passwords of 12 or more characters must contain a lowercase letter")
		}
		if !classes.upper {
			errs = append(errs, "passwords of 12 or more characters must contain an uppercase letter")
		}
	}

	if hasRepeatedRun(candidate, 3) {
		errs = append(errs, "password must not repeat the same character 3 or more times in a row")
	}
	if matchWeakSequence(candidate) != "" {
		errs = append(errs, "password must not contain a common character sequence")
	}
	if matchWeakWord(candidate) != "" {
		errs = append(errs, "password must not contain a common word")
	}

	return PolicyResult{IsValid: len(errs) == 0, Errors: errs}
}

// Score rates a candidate password from 0 to 100. The additive model mirrors
// the policy rules: length tiers and character-class coverage add points,
// the weak patterns subtract them. The score is advisory; acceptance is
// decided by ValidatePolicy alone.
func Score(candidate string) Strength {
	score := 0
	var feedback []string

	switch {
	case len(candidate) >= 16:
		score += 40
	case len(candidate) >= dualCaseLength:
		score += 30
	case len(candidate) >= MinLength:
		score += 20
	default:
		feedback = append(feedback, "use at least 8 characters")
	}

	classes := classify(candidate)
	count := 0
	if classes.lower {
		score += 10
		count++
	} else {
		feedback = append(feedback, "add lowercase letters")
	}
	if classes.upper {
		score += 10
		count++
	} else {
		feedback = append(feedback, "add uppercase letters")
	}
	if classes.digit {
		score += 10
		count++
	} else {
		feedback = append(feedback, "add numbers")
	}
	if classes.symbol {
		score += 10
		count++
	} else {
		feedback = append(feedback, "add special characters")
	}
	if count >= 3 {
		score += 15
	}

	if hasRepeatedRun(candidate, 3) {
		score -= 15
		feedback = append(feedback, "avoid repeated characters")
	}
	if matchWeakSequence(candidate) != "" {
		score -= 20
		feedback = append(feedback, "avoid common sequences")
	}
	if matchWeakWord(candidate) != "" {
		score -= 25
		feedback = append(feedback, "avoid common words")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Strength{Score: score, Level: levelFor(score), Feedback: feedback}
}

func levelFor(score int) StrengthLevel {
	switch {
	case score < 30:
		return StrengthWeak
	case score < 60:
		return StrengthFair
	case score < 80:
		return StrengthGood
	default:
		return StrengthStrong
	}
}

type charClasses struct {
	lower  bool
	upper  bool
	digit  bool
	symbol bool
}

func classify(s string) charClasses {
	var c charClasses
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsDigit(r):
			c.digit = true
		case strings.ContainsRune(symbolSet, r):
			c.symbol = true
		}
	}
	return c
}

func hasRepeatedRun(s string, run int) bool {
	count := 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			count++
			if count >= run {
				return true
			}
		} else {
			prev = r
			count = 1
		}
	}
	return false
}

func matchWeakSequence(s string) string {
	lowered := strings.ToLower(s)
	for _, seq := range weakSequences {
		if strings.Contains(lowered, seq) {
			return seq
		}
	}
	return ""
}

func matchWeakWord(s string) string {
	lowered := strings.ToLower(s)
	for _, w := range weakWords {
		if strings.Contains(lowered, w) {
			return w
		}
	}
	return ""
}
