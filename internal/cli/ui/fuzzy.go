package ui

import (
	"sort"
	"strings"
)

const (
	// DefaultMaxDistance is the largest edit distance still suggested
	DefaultMaxDistance = 3
	// DefaultMaxSuggestions caps the suggestions returned
	DefaultMaxSuggestions = 3
)

// FuzzyMatchOptions configures fuzzy matching behavior
type FuzzyMatchOptions struct {
	MaxDistance    int
	MaxSuggestions int
	CaseSensitive  bool
}

// FindSimilar returns the candidates closest to target by edit distance,
// closest first. Ties keep candidate order.
//
//	FindSimilar("tmestamps", []string{"password", "timestamps"}, nil) // ["timestamps"]
func FindSimilar(target string, candidates []string, opts *FuzzyMatchOptions) []string {
	o := FuzzyMatchOptions{MaxDistance: DefaultMaxDistance, MaxSuggestions: DefaultMaxSuggestions}
	if opts != nil {
		o.CaseSensitive = opts.CaseSensitive
		if opts.MaxDistance > 0 {
			o.MaxDistance = opts.MaxDistance
		}
		if opts.MaxSuggestions > 0 {
			o.MaxSuggestions = opts.MaxSuggestions
		}
	}

	type match struct {
		value    string
		distance int
	}
	var matches []match
	for _, c := range candidates {
		a, b := target, c
		if !o.CaseSensitive {
			a, b = strings.ToLower(a), strings.ToLower(b)
		}
		if a == b {
			continue
		}
		if d := LevenshteinDistance(a, b); d <= o.MaxDistance {
			matches = append(matches, match{value: c, distance: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].distance < matches[j].distance })

	out := make([]string, 0, o.MaxSuggestions)
	for i := 0; i < len(matches) && i < o.MaxSuggestions; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// LevenshteinDistance counts the single-rune insertions, deletions and
// substitutions turning s1 into s2
func LevenshteinDistance(s1, s2 string) int {
	a, b := []rune(s1), []rune(s2)
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
