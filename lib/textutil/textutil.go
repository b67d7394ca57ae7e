package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t#")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// BestMatch returns the index of the candidate most similar to name
// (Jaro-Winkler over normalized names) and its score. An exact match after
// normalization always wins. Returns -1 when there are no candidates or
// nothing reaches minScore.
func BestMatch(name string, candidates []string, minScore float64) (int, float64) {
	target := NormalizeName(name)
	best := -1
	var bestScore float64
	for i, c := range candidates {
		normalized := NormalizeName(c)
		if normalized == target {
			return i, 1
		}
		score := matchr.JaroWinkler(target, normalized, false)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 || bestScore < minScore {
		return -1, bestScore
	}
	return best, bestScore
}

// SanitizeFilename replaces characters that are not allowed in file names
// on common filesystems with '-'.
func SanitizeFilename(name string) string {
	var out strings.Builder
	for _, c := range name {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, c), unicode.IsControl(c):
			out.WriteRune('-')
		default:
			out.WriteRune(c)
		}
	}
	return strings.TrimSpace(out.String())
}

var yearMonthRegex = regexp.MustCompile(`^(\d{4})-(\d{2})`)

// YearMonth extracts the YYYY-MM prefix of a timestamp such as
// "2025-12-16 10:30:00 PST" or "2025-12-16T10:30:00".
func YearMonth(timestamp string) (string, bool) {
	match := yearMonthRegex.FindString(timestamp)
	if match == "" {
		return "", false
	}
	return match, true
}
