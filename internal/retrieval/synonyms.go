package retrieval

import "strings"

// domainSynonyms maps query vocabulary to document vocabulary. Documents
// and the people querying them rarely share terms exactly ("salary" vs
// "compensation"), so each entry bridges one such gap. Replacements happen
// whole-word on the normalized query.
var domainSynonyms = map[string][]string{
	// Policy and process vocabulary.
	"policy":    {"procedure", "guideline", "rule"},
	"procedure": {"process", "policy", "steps"},
	"rule":      {"policy", "requirement"},
	"guide":     {"manual", "handbook", "instructions"},
	"manual":    {"guide", "handbook", "documentation"},
	"handbook":  {"manual", "guide"},

	// Money and numbers.
	"cost":    {"price", "fee", "expense"},
	"price":   {"cost", "fee", "rate"},
	"salary":  {"compensation", "pay", "wage"},
	"pay":     {"salary", "compensation", "payment"},
	"budget":  {"allocation", "spending", "funds"},
	"revenue": {"income", "earnings", "sales"},

	// Time and scheduling.
	"deadline": {"due date", "cutoff", "timeline"},
	"schedule": {"timetable", "calendar", "plan"},
	"window":   {"period", "timeframe", "slot"},
	"date":     {"day", "deadline", "time"},

	// Operations vocabulary.
	"backup":   {"snapshot", "copy", "archive"},
	"restore":  {"recovery", "rollback"},
	"recovery": {"restore", "restoration"},
	"outage":   {"downtime", "incident", "failure"},
	"error":    {"failure", "fault", "issue"},
	"issue":    {"problem", "error", "defect"},
	"fix":      {"repair", "resolution", "remedy"},

	// People and org vocabulary.
	"employee": {"staff", "worker", "personnel"},
	"manager":  {"supervisor", "lead"},
	"customer": {"client", "user"},
	"vendor":   {"supplier", "provider"},

	// Contract vocabulary.
	"contract":  {"agreement", "terms"},
	"agreement": {"contract", "terms"},
	"terms":     {"conditions", "agreement"},
	"warranty":  {"guarantee", "coverage"},

	// Requirements vocabulary.
	"require":     {"need", "mandate"},
	"requirement": {"prerequisite", "condition", "need"},
	"allowed":     {"permitted", "authorized"},
	"prohibited":  {"forbidden", "banned", "disallowed"},
}

// maxVariants bounds query expansion: the original plus at most this many
// rewrites go through embedding and search.
const maxVariants = 3

// ExpandQuery generates query variants by substituting one known synonym
// at a time into the normalized query. The original is always first;
// duplicates are dropped. Queries with no known terms return just the
// original.
func ExpandQuery(normalized string) []string {
	words := strings.Fields(normalized)
	variants := []string{normalized}
	seen := map[string]struct{}{normalized: {}}

	for i, w := range words {
		if len(variants) > maxVariants {
			break
		}
		syns, ok := domainSynonyms[strings.ToLower(w)]
		if !ok {
			continue
		}
		for _, syn := range syns {
			rewritten := make([]string, len(words))
			copy(rewritten, words)
			rewritten[i] = syn
			v := strings.Join(rewritten, " ")
			if _, dup := seen[v]; dup {
				continue
			}
			variants = append(variants, v)
			seen[v] = struct{}{}
			break // one substitution per source term
		}
	}

	if len(variants) > maxVariants+1 {
		variants = variants[:maxVariants+1]
	}
	return variants
}
