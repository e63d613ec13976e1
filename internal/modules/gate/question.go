package gate

import (
	"errors"
	"strings"
)

// Question is one gate prompt. An answer passes when it contains at least one
// keyword from every group.
type Question struct {
	ID       int64
	Prompt   string
	Keywords [][]string
}

// Matches does case-insensitive substring matching: AND across groups, OR
// within a group. A question with no groups never matches.
func (q Question) Matches(answer string) bool {
	if len(q.Keywords) == 0 {
		return false
	}
	answer = strings.ToLower(answer)
	for _, group := range q.Keywords {
		if !matchesAny(answer, group) {
			return false
		}
	}
	return true
}

func matchesAny(answer string, group []string) bool {
	for _, keyword := range group {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(answer, keyword) {
			return true
		}
	}
	return false
}

var errNoKeywords = errors.New("at least one keyword is required")

// ParseKeywords reads groups separated by ";" whose alternatives are separated
// by "," or "|". "rules; read, agree" yields [[rules] [read agree]].
func ParseKeywords(raw string) ([][]string, error) {
	var groups [][]string
	for _, part := range strings.Split(raw, ";") {
		var group []string
		for _, keyword := range strings.FieldsFunc(part, func(r rune) bool { return r == ',' || r == '|' }) {
			if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
				group = append(group, keyword)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	if len(groups) == 0 {
		return nil, errNoKeywords
	}
	return groups, nil
}

func FormatKeywords(groups [][]string) string {
	parts := make([]string, 0, len(groups))
	for _, group := range groups {
		parts = append(parts, strings.Join(group, " | "))
	}
	return strings.Join(parts, "; ")
}
