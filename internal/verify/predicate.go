package verify

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Predicates use a constrained assertion grammar. The verifier only ever
// extracts the clauses it understands; unknown text is ignored rather than
// failing the check, since predicates are produced by an untrusted compiler.
//
//	URL contains 'value'   — case-insensitive substring
//	URL matches 'glob'     — doublestar glob over the full URL
//	URL equals 'value'     — case-insensitive equality
//	title contains|matches|equals 'value'
var predicateClauseRe = regexp.MustCompile(`(?i)\b(url|title)\s+(contains|matches|equals)\s+["']([^"']+)["']`)

type predicateClause struct {
	subject string // "url" | "title"
	op      string // "contains" | "matches" | "equals"
	value   string
}

func parsePredicate(predicate string) []predicateClause {
	var out []predicateClause
	for _, m := range predicateClauseRe.FindAllStringSubmatch(predicate, -1) {
		out = append(out, predicateClause{
			subject: strings.ToLower(m[1]),
			op:      strings.ToLower(m[2]),
			value:   m[3],
		})
	}
	return out
}

// matchClauses reports whether any clause for the given subject matches
// actual. No clause for the subject means no credit: the predicate simply
// does not assert anything about it.
func matchClauses(clauses []predicateClause, subject, actual string) bool {
	if strings.TrimSpace(actual) == "" {
		return false
	}
	for _, c := range clauses {
		if c.subject != subject {
			continue
		}
		switch c.op {
		case "contains":
			if strings.Contains(strings.ToLower(actual), strings.ToLower(c.value)) {
				return true
			}
		case "equals":
			if strings.EqualFold(strings.TrimSpace(actual), strings.TrimSpace(c.value)) {
				return true
			}
		case "matches":
			if ok, err := doublestar.Match(c.value, actual); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func hasClauses(clauses []predicateClause, subject string) bool {
	for _, c := range clauses {
		if c.subject == subject {
			return true
		}
	}
	return false
}
