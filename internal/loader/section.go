package loader

import (
	"strings"
	"unicode"
)

// sectionScanLines is how many leading non-empty lines are considered when
// looking for a section title.
const sectionScanLines = 5

// maxSectionTitleLen rejects lines too long to plausibly be headings.
const maxSectionTitleLen = 100

// detectSectionTitle finds a heading-like line near the top of a page.
// Preference order within the first few non-empty lines: short lines that
// are Title Case or ALL CAPS, or that end with a colon. Lines starting with
// an enumeration marker never qualify. Returns "" when nothing fits.
func detectSectionTitle(text string) string {
	seen := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seen++
		if seen > sectionScanLines {
			break
		}
		if isHeadingLine(line) {
			return strings.TrimSuffix(line, ":")
		}
	}
	return ""
}

func isHeadingLine(line string) bool {
	if len(line) > maxSectionTitleLen {
		return false
	}
	if startsWithEnumeration(line) {
		return false
	}
	// Table markup is never a heading.
	if strings.HasPrefix(line, TableOpen) || strings.Contains(line, "|") {
		return false
	}
	if strings.HasSuffix(line, ":") {
		return true
	}
	return isTitleCase(line) || isAllCaps(line)
}

// startsWithEnumeration reports whether the line begins with a list or
// enumeration marker: "1.", "1)", "a)", "-", "*", "•".
func startsWithEnumeration(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case '-', '*', '+', '>':
		return true
	}
	if strings.HasPrefix(line, "•") {
		return true
	}
	// "1." / "12)" / "a)" style markers.
	i := 0
	for i < len(line) && (line[i] >= '0' && line[i] <= '9') {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return true
	}
	if len(line) >= 2 && unicode.IsLower(rune(line[0])) && line[1] == ')' {
		return true
	}
	return false
}

// isTitleCase reports whether every word longer than three characters
// starts with an uppercase letter. Short connectives (of, and, the) are
// ignored so "Terms of Service" still qualifies.
func isTitleCase(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}
	checked := 0
	for _, w := range words {
		r := []rune(w)
		if !unicode.IsLetter(r[0]) {
			return false
		}
		if len(r) <= 3 {
			continue
		}
		checked++
		if !unicode.IsUpper(r[0]) {
			return false
		}
	}
	// A line of only short words (e.g. "to do it") is not a heading.
	return checked > 0 || unicode.IsUpper([]rune(words[0])[0])
}

// isAllCaps reports whether the line's letters are all uppercase and there
// are at least two of them.
func isAllCaps(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if unicode.IsLower(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}
