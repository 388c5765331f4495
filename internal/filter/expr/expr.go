// Package expr builds and rewrites filter-expression fragments for a
// specific SQL dialect: field qualification, identifier case correction,
// geometry-function translation, feature-id list construction and
// combination with a layer's prior subset string.
package expr

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/filter/sanitize"
)

// PKFormatter formats a slice of primary-key values into the SQL literal
// form a backend expects. The default implementation handles the common
// numeric and single-quoted-string cases; callers inject their own to
// match a host's exact escaping behavior.
type PKFormatter func(values []string, numeric bool) string

// DefaultPKFormatter joins numeric values unquoted and textual values
// single-quoted with doubled internal quotes.
func DefaultPKFormatter(values []string, numeric bool) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if numeric {
			parts[i] = v
			continue
		}
		parts[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(parts, ",")
}

var unqualifiedFieldPattern = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)"`)

// QualifyFields rewrites bare "field" references as "table"."field" for
// PostgreSQL. SpatiaLite and OGR keep fields double-quoted but never
// table-qualified; OGR additionally leaves the pseudo-column fid unquoted.
func QualifyFields(expression string, dialect domain.Dialect, table string, layer domain.LayerDescriptor) string {
	if expression == "" {
		return expression
	}

	switch dialect {
	case domain.DialectPostgreSQL:
		return unqualifiedFieldPattern.ReplaceAllStringFunc(expression, func(m string) string {
			field := m[1 : len(m)-1]
			if !layer.HasField(field) {
				return m
			}
			return fmt.Sprintf(`"%s"."%s"`, table, field)
		})
	case domain.DialectOGR:
		return regexp.MustCompile(`"fid"`).ReplaceAllString(expression, "fid")
	default:
		return expression
	}
}

// NormalizeFieldCase rewrites field-name occurrences in expression to
// match the authoritative casing given in fieldNames. Only applies to
// PostgreSQL, where identifier case is significant once quoted.
func NormalizeFieldCase(expression string, fieldNames []string) string {
	if expression == "" || len(fieldNames) == 0 {
		return expression
	}

	byLower := make(map[string]string, len(fieldNames))
	for _, f := range fieldNames {
		byLower[strings.ToLower(f)] = f
	}

	return unqualifiedFieldPattern.ReplaceAllStringFunc(expression, func(m string) string {
		field := m[1 : len(m)-1]
		if actual, ok := byLower[strings.ToLower(field)]; ok {
			return `"` + actual + `"`
		}
		return m
	})
}

// QuoteBareFields quotes bare field references that match one of layer's
// known fields and aren't already double-quoted, e.g. `population > 10000`
// becomes `"population" > 10000` (spec §4.10 step 3: a host expression runs
// through C1 sanitize then C2 here before it's queued as the source layer's
// subset). Fields are matched longest name first so one field's name being a
// prefix of another's never produces a partial, mismatched quote.
func QuoteBareFields(expression string, layer domain.LayerDescriptor) string {
	if expression == "" || len(layer.FieldNames) == 0 {
		return expression
	}

	fields := make([]string, len(layer.FieldNames))
	copy(fields, layer.FieldNames)
	sort.Slice(fields, func(i, j int) bool { return len(fields[i]) > len(fields[j]) })

	for _, field := range fields {
		pattern := regexp.MustCompile(`"?\b` + regexp.QuoteMeta(field) + `\b"?`)
		expression = pattern.ReplaceAllStringFunc(expression, func(m string) string {
			if strings.HasPrefix(m, `"`) && strings.HasSuffix(m, `"`) {
				return m
			}
			return `"` + field + `"`
		})
	}
	return expression
}

var geometryFunctionAliases = map[string]string{
	"intersects": "ST_Intersects",
	"contains":   "ST_Contains",
	"within":     "ST_Within",
}

// TranslateGeometryFunctions rewrites host-native unprefixed geometry
// predicate calls to the target dialect's form. PostgreSQL requires the
// ST_ prefix; SpatiaLite keeps the unprefixed form; OGR accepts either and
// is passed through unchanged.
func TranslateGeometryFunctions(expression string, dialect domain.Dialect) string {
	if dialect != domain.DialectPostgreSQL {
		return expression
	}

	for native, qualified := range geometryFunctionAliases {
		pattern := regexp.MustCompile(`(?i)\b` + native + `\s*\(`)
		expression = pattern.ReplaceAllString(expression, qualified+"(")
	}
	return expression
}

// BuildFeatureIDExpression builds a backend-appropriate IN expression from
// a list of primary key values.
func BuildFeatureIDExpression(
	values []string,
	layer domain.LayerDescriptor,
	dialect domain.Dialect,
	formatter PKFormatter,
) string {
	if formatter == nil {
		formatter = DefaultPKFormatter
	}

	pk := layer.PrimaryKey
	if pk == "" {
		pk = "fid"
	}

	column := `"` + pk + `"`
	if dialect == domain.DialectOGR && pk == "fid" {
		column = "fid"
	} else if dialect == domain.DialectPostgreSQL {
		column = fmt.Sprintf(`"%s"."%s"`, layer.Table, pk)
	}

	list := formatter(values, layer.PrimaryKeyNumeric)
	return fmt.Sprintf("%s IN (%s)", column, list)
}

// BuildNumericFeatureIDExpression is a convenience wrapper for int64 pk
// values, the common case for host feature ids.
func BuildNumericFeatureIDExpression(ids []int64, layer domain.LayerDescriptor, dialect domain.Dialect) string {
	layer.PrimaryKeyNumeric = true
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = strconv.FormatInt(id, 10)
	}
	return BuildFeatureIDExpression(values, layer, dialect, DefaultPKFormatter)
}

// CombineWithPrior sanitizes the old subset string and composes it with
// the new expression under op. If old contains a WHERE token, composition
// splits at the first WHERE and rebuilds; otherwise both operands are
// parenthesized and joined directly.
func CombineWithPrior(newExpr, oldSubset string, op domain.CombineOperator) (string, error) {
	if op == domain.CombineReplace || oldSubset == "" {
		return newExpr, nil
	}

	sanitizedOld, err := sanitize.Sanitize(oldSubset)
	if err != nil {
		return "", err
	}
	if sanitizedOld == "" {
		return newExpr, nil
	}

	opToken := combineOperatorToken(op)

	idx := findWhereToken(sanitizedOld)
	if idx >= 0 {
		prefix := sanitizedOld[:idx]
		tail := sanitizedOld[idx+len("WHERE"):]
		return fmt.Sprintf("%sWHERE %s %s %s", prefix, strings.TrimSpace(tail), opToken, newExpr), nil
	}

	return fmt.Sprintf("(%s) %s (%s)", sanitizedOld, opToken, newExpr), nil
}

func combineOperatorToken(op domain.CombineOperator) string {
	switch op {
	case domain.CombineAnd:
		return "AND"
	case domain.CombineAndNot:
		return "AND NOT"
	case domain.CombineOr:
		return "OR"
	default:
		return "AND"
	}
}

var whereTokenPattern = regexp.MustCompile(`(?i)\bWHERE\b`)

func findWhereToken(s string) int {
	loc := whereTokenPattern.FindStringIndex(s)
	if loc == nil {
		return -1
	}
	return loc[0]
}
