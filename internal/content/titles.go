package content

import (
	"regexp"
	"strings"
)

var reNormalizeTitle = regexp.MustCompile(`[\[\]()~!@#$%^&*\-=+\\:;'",.?<>\s]|\bthe\b|\ban?\b`)

// NormalizeTitle lowercases title and strips punctuation, whitespace and
// English articles, for fuzzy title matching.
func NormalizeTitle(title string) string {
	return reNormalizeTitle.ReplaceAllString(strings.ToLower(title), "")
}

// SimilarTitles groups titles resembling target: those whose normalized form
// starts with, ends with or otherwise contains the normalized target.
type SimilarTitles struct {
	StartsWith []string `json:"startswiths"`
	EndsWith   []string `json:"endswiths"`
	Contains   []string `json:"contains"`
}

// Len returns the number of similar titles.
func (s SimilarTitles) Len() int {
	return len(s.StartsWith) + len(s.EndsWith) + len(s.Contains)
}

// FindSimilarTitles returns the titles resembling target, excluding target.
func FindSimilarTitles(titles []string, target string) SimilarTitles {
	result := SimilarTitles{StartsWith: []string{}, EndsWith: []string{}, Contains: []string{}}
	normalizedTarget := NormalizeTitle(target)
	if normalizedTarget == "" {
		return result
	}
	for _, title := range titles {
		if title == target {
			continue
		}
		normalized := NormalizeTitle(title)
		switch {
		case !strings.Contains(normalized, normalizedTarget):
		case strings.HasPrefix(normalized, normalizedTarget):
			result.StartsWith = append(result.StartsWith, title)
		case strings.HasSuffix(normalized, normalizedTarget):
			result.EndsWith = append(result.EndsWith, title)
		default:
			result.Contains = append(result.Contains, title)
		}
	}
	return result
}
