package handlers

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	urlPattern   = regexp.MustCompile(`https?://[^\s)>\]]+`)
)

// knownSkills is the vocabulary matched case-insensitively against free
// text. Kept deliberately small; unmatched skills simply go unreported.
var knownSkills = []string{
	"go", "golang", "python", "java", "javascript", "typescript", "rust",
	"c++", "sql", "postgresql", "mysql", "redis", "mongodb", "kafka",
	"docker", "kubernetes", "terraform", "aws", "gcp", "azure", "linux",
	"git", "react", "node.js", "grpc", "rest", "graphql", "ci/cd",
}

// splitSections breaks text into named sections keyed by lowercase header.
// A line is a header when it matches one of the recognized names after
// trimming punctuation. Text before the first header lands under "".
func splitSections(text string, headers []string) map[string]string {
	sections := make(map[string]string)
	current := ""
	var buf []string

	flush := func() {
		if len(buf) > 0 {
			sections[current] = strings.TrimSpace(strings.Join(buf, "\n"))
			buf = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		name := strings.ToLower(strings.Trim(strings.TrimSpace(line), ":-= \t"))
		if isHeader(name, headers) {
			flush()
			current = name
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return sections
}

func isHeader(name string, headers []string) bool {
	for _, h := range headers {
		if name == h {
			return true
		}
	}
	return false
}

// extractSkills returns the known skills mentioned in text, in vocabulary
// order, each at most once.
func extractSkills(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, skill := range knownSkills {
		if containsWord(lower, skill) {
			found = append(found, skill)
		}
	}
	return found
}

// containsWord reports whether text contains needle bounded by
// non-alphanumeric characters, so "go" does not match inside "mongodb".
func containsWord(text, needle string) bool {
	for start := 0; ; {
		idx := strings.Index(text[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		beforeOK := idx == 0 || !isAlnum(text[idx-1])
		afterOK := end == len(text) || !isAlnum(text[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// firstNonEmptyLine returns the first line of text with content.
func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// bulletLines returns the trimmed content of list-style lines (-, *, •)
// in text.
func bulletLines(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, marker := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(trimmed, marker) {
				items = append(items, strings.TrimSpace(strings.TrimPrefix(trimmed, marker)))
				break
			}
		}
	}
	return items
}
