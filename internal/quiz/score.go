package quiz

import (
	"math"
	"strings"
	"unicode"
)

const (
	basePoints = 100
	speedBonus = 100

	// maxEditDistance tolerates free-text typos without accepting wholly
	// different answers.
	maxEditDistance = 3
)

// Points computes the score for one answer: 0 if incorrect, otherwise a flat
// base plus a speed bonus decaying linearly to zero at the time limit. Overruns
// clamp the bonus at zero rather than going negative.
func Points(correct bool, takenSeconds, limitSeconds float64) int {
	if !correct {
		return 0
	}
	if limitSeconds <= 0 {
		return basePoints
	}

	bonus := 1 - takenSeconds/limitSeconds
	if bonus < 0 {
		bonus = 0
	}
	return basePoints + int(math.Floor(speedBonus*bonus))
}

// FillBlankCorrect compares a free-text answer against the expected one:
// trimmed and case-insensitive, tolerating up to maxEditDistance typos.
// A 4-digit expected answer is treated as a year and must match exactly —
// "1969" is not an acceptable typo for "1970".
func FillBlankCorrect(user, correct string) bool {
	u := strings.TrimSpace(user)
	c := strings.TrimSpace(correct)

	if isYear(c) {
		return u == c
	}

	u = strings.ToLower(u)
	c = strings.ToLower(c)
	if u == c {
		return true
	}
	return levenshtein(u, c) <= maxEditDistance
}

func isYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// levenshtein is the classic two-row edit distance over runes.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}
