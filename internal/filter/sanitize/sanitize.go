// Package sanitize cleans a host subset string before it is combined or
// translated to a target dialect. It is regex-based by design: the inputs
// are QGIS expression fragments, not general SQL, and a full parser would
// buy correctness the corpus of inputs never needs.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/filtergeist/filtergeist/internal/domain"
)

// localeOperator is a single non-English connective normalization rule.
type localeOperator struct {
	pattern     *regexp.Regexp
	replacement string
}

// operatorTable normalizes French, German, Spanish, Italian and Portuguese
// logical connectives to their English SQL equivalents. Order matters:
// compound forms ("ET NON") must be matched before their component words.
var operatorTable = []localeOperator{
	// French
	{regexp.MustCompile(`(?i)\)\s+ET\s+\(`), ") AND ("},
	{regexp.MustCompile(`(?i)\)\s+OU\s+\(`), ") OR ("},
	{regexp.MustCompile(`(?i)\bET\s+NON\b`), "AND NOT"},
	{regexp.MustCompile(`(?i)\bET\b`), "AND"},
	{regexp.MustCompile(`(?i)\bOU\b`), "OR"},
	{regexp.MustCompile(`(?i)\bNON\b`), "NOT"},
	// German
	{regexp.MustCompile(`(?i)\bUND\s+NICHT\b`), "AND NOT"},
	{regexp.MustCompile(`(?i)\bUND\b`), "AND"},
	{regexp.MustCompile(`(?i)\bODER\b`), "OR"},
	{regexp.MustCompile(`(?i)\bNICHT\b`), "NOT"},
	// Portuguese "NÃO" runs before the Spanish "O": Ã is not a word character
	// for \b, so `\bO\b` would otherwise match the final O of NÃO.
	{regexp.MustCompile(`(?i)\bNÃO\b`), "NOT"},
	// Spanish
	{regexp.MustCompile(`(?i)\bY\s+NO\b`), "AND NOT"},
	{regexp.MustCompile(`(?i)\bY\b`), "AND"},
	{regexp.MustCompile(`(?i)\bO\b`), "OR"},
	{regexp.MustCompile(`(?i)\bNO\b`), "NOT"},
	// Italian
	{regexp.MustCompile(`(?i)\bE\s+NON\b`), "AND NOT"},
	{regexp.MustCompile(`(?i)\bE\b`), "AND"},
	// Italian "O" (or) and "NON" (not) collide lexically with English
	// words elsewhere in the table; they are handled by the Spanish "O"
	// and French "NON" entries above since the tokens coincide.
}

var (
	// nonBooleanFieldPatterns match a bare field reference standing in for
	// a boolean clause: "AND ( "field" )" with no comparison operator.
	nonBooleanFieldPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\s+AND\s+\(\s*"[^"]+"\s*\)(?:\s*[=<>!]|)`),
		regexp.MustCompile(`(?i)\s+OR\s+\(\s*"[^"]+"\s*\)(?:\s*[=<>!]|)`),
		regexp.MustCompile(`(?i)\s+AND\s+\(\s*"[^"]+"\s*\.\s*"[^"]+"\s*\)`),
		regexp.MustCompile(`(?i)\s+OR\s+\(\s*"[^"]+"\s*\.\s*"[^"]+"\s*\)`),
	}

	coalescePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:^|\s+)AND\s+\(\s*COALESCE\s*\(\s*"[^"]+"\s*,\s*'[^']*'\s*\)\s*\)`),
		regexp.MustCompile(`(?i)(?:^|\s+)OR\s+\(\s*COALESCE\s*\(\s*"[^"]+"\s*,\s*'[^']*'\s*\)\s*\)`),
		regexp.MustCompile(`(?i)(?:^|\s+)AND\s+\(\s*COALESCE\s*\(\s*"[^"]+"\s*\.\s*"[^"]+"\s*,\s*'[^']*'\s*\)\s*\)`),
		regexp.MustCompile(`(?i)(?:^|\s+)OR\s+\(\s*COALESCE\s*\(\s*"[^"]+"\s*\.\s*"[^"]+"\s*,\s*'[^']*'\s*\)\s*\)`),
	}

	selectCasePattern = regexp.MustCompile(`(?is)\s*AND\s+\(\s*SELECT\s+CASE\s+(?:WHEN\s+.+?THEN\s+(?:true|false)\s*)+(?:ELSE\s+.+?)?\s*END\s*\)`)
	casePattern        = regexp.MustCompile(`(?is)\s*(?:AND|OR)\s+\(\s*CASE\s+(?:WHEN\s+.+?THEN\s+(?:true|false)\s*)+(?:ELSE\s+.+?)?\s*END\s*\)+`)

	trailingParens   = regexp.MustCompile(`\)+\s*$`)
	collapseSpace    = regexp.MustCompile(`\s+`)
	danglingTrailing = regexp.MustCompile(`(?i)\s+(AND|OR)\s*$`)
	danglingLeading  = regexp.MustCompile(`(?i)^\s*(AND|OR)\s+`)
	duplicateAnd     = regexp.MustCompile(`(?i)\s+AND\s+AND\s+`)
	duplicateOr      = regexp.MustCompile(`(?i)\s+OR\s+OR\s+`)

	inClausePattern = regexp.MustCompile(`(?i)"([^"]+)"(?:\."([^"]+)")?\s+IN\s*\([^)]+\)`)
)

// Sanitize runs the three-phase cleanup described for the Expression
// Sanitizer: operator normalization, non-boolean clause removal, and
// parenthesis/whitespace cleanup. It is idempotent: Sanitize(Sanitize(x))
// == Sanitize(x).
func Sanitize(subsetString string) (string, error) {
	if subsetString == "" {
		return subsetString, nil
	}

	s := normalizeOperators(subsetString)
	s = removeNonBooleanClauses(s)
	s, err := cleanup(s)
	if err != nil {
		return subsetString, err
	}
	return s, nil
}

func normalizeOperators(s string) string {
	for _, op := range operatorTable {
		s = op.pattern.ReplaceAllString(s, op.replacement)
	}
	return s
}

func removeNonBooleanClauses(s string) string {
	for _, p := range coalescePatterns {
		s = p.ReplaceAllString(s, "")
	}
	s = selectCasePattern.ReplaceAllString(s, "")
	s = casePattern.ReplaceAllString(s, "")
	for _, p := range nonBooleanFieldPatterns {
		s = p.ReplaceAllString(s, "")
	}
	return s
}

func cleanup(s string) (string, error) {
	open := strings.Count(s, "(")
	closeCount := strings.Count(s, ")")

	if closeCount > open {
		excess := closeCount - open
		loc := trailingParens.FindStringIndex(s)
		if loc == nil {
			return s, domain.ErrMalformedExpression
		}
		parensAtEnd := loc[1] - loc[0]
		if parensAtEnd < excess {
			return s, domain.ErrMalformedExpression
		}
		s = s[:len(s)-excess]
	}

	s = collapseSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = danglingTrailing.ReplaceAllString(s, "")
	s = danglingLeading.ReplaceAllString(s, "")
	s = duplicateAnd.ReplaceAllString(s, " AND ")
	s = duplicateOr.ReplaceAllString(s, " OR ")

	if strings.Count(s, "(") != strings.Count(s, ")") {
		return s, domain.ErrMalformedExpression
	}

	return strings.TrimSpace(s), nil
}

// DedupeInClauses keeps only the first `field IN (...)` predicate per field
// key, dropping later ANDed occurrences on the same field whatever their
// value lists.
func DedupeInClauses(expression string) string {
	if expression == "" {
		return expression
	}

	matches := inClausePattern.FindAllStringSubmatchIndex(expression, -1)
	if len(matches) <= 1 {
		return expression
	}

	seen := make(map[string]bool, len(matches))
	var drop [][2]int

	for _, m := range matches {
		field := fieldKeyFromMatch(expression, m)
		if seen[field] {
			start, end := expandToSurroundingAnd(expression, m[0], m[1])
			drop = append(drop, [2]int{start, end})
		} else {
			seen[field] = true
		}
	}

	if len(drop) == 0 {
		return expression
	}

	result := expression
	for i := len(drop) - 1; i >= 0; i-- {
		result = result[:drop[i][0]] + result[drop[i][1]:]
	}

	result = collapseSpace.ReplaceAllString(result, " ")
	result = regexp.MustCompile(`\(\s*\)`).ReplaceAllString(result, "")
	result = regexp.MustCompile(`(?i)AND\s+AND`).ReplaceAllString(result, "AND")
	result = regexp.MustCompile(`(?i)\(\s*AND`).ReplaceAllString(result, "(")
	result = regexp.MustCompile(`(?i)AND\s*\)`).ReplaceAllString(result, ")")

	return strings.TrimSpace(result)
}

func fieldKeyFromMatch(expr string, m []int) string {
	field := expr[m[2]:m[3]]
	if m[4] >= 0 && m[5] >= 0 {
		return `"` + field + `"."` + expr[m[4]:m[5]] + `"`
	}
	return `"` + field + `"`
}

// expandToSurroundingAnd widens a matched `field IN (...)` span to include
// a leading " AND (" and its balanced closing paren, so the whole clause
// can be dropped cleanly.
func expandToSurroundingAnd(expr string, start, end int) (int, int) {
	searchStart := start - 20
	if searchStart < 0 {
		searchStart = 0
	}
	before := expr[searchStart:start]

	andPattern := regexp.MustCompile(`(?i)\s+AND\s+\(\s*$`)
	loc := andPattern.FindStringIndex(before)
	if loc == nil {
		return start, end
	}

	actualStart := searchStart + loc[0]
	depth := 0
	closePos := end
	for i := actualStart; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				closePos = i + 1
				i = len(expr)
			}
		}
	}

	return actualStart, closePos
}

// ExtractSpatialClauses extracts only the spatial predicates from a filter
// expression, dropping display/style clauses, for use in EXISTS subqueries
// where only the spatial condition of the source layer's filter matters.
// Returns ok=false when no spatial predicate survives.
func ExtractSpatialClauses(filterExpr string) (string, bool) {
	if filterExpr == "" {
		return "", false
	}

	upper := strings.ToUpper(filterExpr)
	hasSpatial := false
	for _, pred := range spatialPredicates {
		if strings.Contains(upper, strings.ToUpper(pred)) {
			hasSpatial = true
			break
		}
	}
	if !hasSpatial {
		return "", false
	}

	cleaned := selectCasePattern.ReplaceAllString(filterExpr, "")
	cleaned = casePattern.ReplaceAllString(cleaned, "")
	for _, p := range coalescePatterns {
		cleaned = p.ReplaceAllString(cleaned, "")
	}

	cleaned = collapseSpace.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = danglingTrailing.ReplaceAllString(cleaned, "")
	cleaned = danglingLeading.ReplaceAllString(cleaned, "")

	for strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		if !isOuterParenPair(cleaned) {
			break
		}
		cleaned = strings.TrimSpace(cleaned[1 : len(cleaned)-1])
	}

	upperCleaned := strings.ToUpper(cleaned)
	stillHasSpatial := false
	for _, pred := range spatialPredicates {
		if strings.Contains(upperCleaned, strings.ToUpper(pred)) {
			stillHasSpatial = true
			break
		}
	}
	if !stillHasSpatial {
		return "", false
	}
	if strings.Count(cleaned, "(") != strings.Count(cleaned, ")") {
		return "", false
	}

	return cleaned, true
}

var spatialPredicates = []string{
	"ST_Intersects", "ST_Contains", "ST_Within", "ST_Touches",
	"ST_Overlaps", "ST_Crosses", "ST_Disjoint", "ST_Equals",
	"ST_DWithin", "ST_Covers", "ST_CoveredBy",
}

func isOuterParenPair(s string) bool {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i < len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}
