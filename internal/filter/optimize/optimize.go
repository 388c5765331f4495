// Package optimize pattern-matches combinations of a layer's existing
// subset and a new filter expression, and rewrites them for lower cost
// (spec §4.6). Detection is regex-level and dialect-aware; rewrites target
// the common shapes this module's own expression builders (internal/backend/*)
// emit, not arbitrary hand-written SQL.
package optimize

import (
	"crypto/md5" //nolint:gosec // cache fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/filtergeist/filtergeist/internal/domain"
)

// Thresholds configures when a rewrite fires (spec §6 defaults).
type Thresholds struct {
	SourceFIDMVThreshold int
	FIDRangeThreshold    int
	MaxInlineFIDs        int
}

// DefaultThresholds returns the spec's default values (50/20/30).
func DefaultThresholds() Thresholds {
	return Thresholds{SourceFIDMVThreshold: 50, FIDRangeThreshold: 20, MaxInlineFIDs: 30}
}

// MVReference is a detected MV_IN pattern: "<field>" IN (SELECT "<pk>" FROM
// "<schema>"."<view>") where view matches the session MV naming convention.
type MVReference struct {
	Field  string
	PK     string
	Schema string
	View   string
}

var mvInPattern = regexp.MustCompile(`(?i)"?(\w+)"?\s+IN\s*\(\s*SELECT\s+"?(\w+)"?\s+FROM\s+"?(\w+)"?\s*\.\s*"?(\w+)"?\s*\)`)

// DetectMVIn recognizes an IN-subselect against a session-scoped
// materialized view (spec §4.6 "MV_IN").
func DetectMVIn(expression string) (*MVReference, bool) {
	m := mvInPattern.FindStringSubmatch(expression)
	if m == nil {
		return nil, false
	}
	view := m[4]
	if !strings.HasPrefix(view, "fm_temp_") {
		return nil, false
	}
	return &MVReference{Field: m[1], PK: m[2], Schema: m[3], View: view}, true
}

// FIDList is a detected inline "<field>" IN (1,2,3,...) pattern (spec §4.6
// "FID_LIST").
type FIDList struct {
	Field     string
	IDs       []int64
	FullMatch string
}

var fidListPattern = regexp.MustCompile(`(?i)"?(\w+)"?\s+IN\s*\(\s*((?:\d+\s*,\s*)*\d+)\s*\)`)

// DetectFIDList recognizes an inline numeric IN-list.
func DetectFIDList(expression string) (*FIDList, bool) {
	m := fidListPattern.FindStringSubmatch(expression)
	if m == nil {
		return nil, false
	}
	parts := strings.Split(m[2], ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, v)
	}
	return &FIDList{Field: m[1], IDs: ids, FullMatch: m[0]}, true
}

// FIDRange is a detected ("<field>" >= a AND "<field>" <= b) pattern (spec
// §4.6 "FID_RANGE").
type FIDRange struct {
	Field string
	Min   int64
	Max   int64
}

var fidRangePattern = regexp.MustCompile(`(?i)\(\s*"?(\w+)"?\s*>=\s*(-?\d+)\s+AND\s+"?(\w+)"?\s*<=\s*(-?\d+)\s*\)`)

// DetectFIDRange recognizes a min/max range guard over the same field.
func DetectFIDRange(expression string) (*FIDRange, bool) {
	m := fidRangePattern.FindStringSubmatch(expression)
	if m == nil || !strings.EqualFold(m[1], m[3]) {
		return nil, false
	}
	min, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return nil, false
	}
	max, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return nil, false
	}
	return &FIDRange{Field: m[1], Min: min, Max: max}, true
}

// ExistsSpatial is a detected EXISTS(SELECT 1 FROM <source> AS __source
// WHERE <pred> [AND (<extra>)]) block, the shape internal/backend/postgres
// emits (spec §4.6 "EXISTS_SPATIAL").
type ExistsSpatial struct {
	Schema          string
	Table           string
	PredicateClause string
	SourceFilter    string
	HasSourceFilter bool
}

var existsSpatialPattern = regexp.MustCompile(`(?is)^EXISTS\s*\(\s*SELECT\s+1\s+FROM\s+"([^"]+)"\s*\.\s*"([^"]+)"\s+AS\s+\w+\s+WHERE\s+(.*)\)\s*$`)
var existsExtraSplitPattern = regexp.MustCompile(`(?s)^\((.*)\)\s+AND\s+\((.*)\)$`)

// DetectExistsSpatial recognizes the EXISTS-mode spatial join block.
func DetectExistsSpatial(expression string) (*ExistsSpatial, bool) {
	m := existsSpatialPattern.FindStringSubmatch(strings.TrimSpace(expression))
	if m == nil {
		return nil, false
	}
	es := &ExistsSpatial{Schema: m[1], Table: m[2], PredicateClause: m[3]}
	if split := existsExtraSplitPattern.FindStringSubmatch(m[3]); split != nil {
		es.PredicateClause = split[1]
		es.SourceFilter = split[2]
		es.HasSourceFilter = true
	}
	return es, true
}

// MVReuse rewrites a prior MV_IN subset combined with a new EXISTS_SPATIAL
// expression into a single driving query against the MV (spec §4.6
// "MV_REUSE"): the spatial predicate now only evaluates the MV's rows
// instead of the full target table joined against the source.
func MVReuse(mv *MVReference, es *ExistsSpatial, target domain.LayerDescriptor) string {
	mvRef := quoteIdent(mv.Schema) + "." + quoteIdent(mv.View)
	sourceRef := quoteIdent(es.Schema) + "." + quoteIdent(es.Table)
	targetGeom := quoteIdent(target.GeometryColumn)
	clause := strings.ReplaceAll(es.PredicateClause, targetGeom, "mv."+targetGeom)

	inner := clause
	if es.HasSourceFilter {
		inner = fmt.Sprintf("(%s) AND (%s)", clause, es.SourceFilter)
	}
	return fmt.Sprintf(
		`"%s" IN (SELECT mv.%s FROM %s AS mv WHERE EXISTS(SELECT 1 FROM %s AS __source WHERE %s))`,
		mv.Field, quoteIdent(mv.PK), mvRef, sourceRef, inner,
	)
}

// trySourceMV implements SOURCE_MV (spec §4.6 rule 2): when the EXISTS
// block's source filter carries an inline FID list larger than the
// configured threshold, request a source_selection MV precomputing the
// buffer and index instead of scanning the inline list per row. Returns the
// rewritten expression and the pending MV descriptor C10 must materialize
// before applying the filter.
func trySourceMV(newExpression string, es *ExistsSpatial, sessionID string, th Thresholds) (string, *domain.MaterializedView, bool) {
	if es == nil || !es.HasSourceFilter {
		return "", nil, false
	}
	fidList, ok := DetectFIDList(es.SourceFilter)
	if !ok || len(fidList.IDs) <= th.SourceFIDMVThreshold {
		return "", nil, false
	}

	contentHash := domain.ContentHash(fidList.IDs, "", false)
	mvName := domain.MVName(domain.MVKindSourceSelection, sessionID, contentHash)
	mv := &domain.MaterializedView{
		Schema:      domain.DefaultTempSchema,
		Name:        mvName,
		Kind:        domain.MVKindSourceSelection,
		ContentHash: contentHash,
		SessionID:   sessionID,
	}
	mvRef := quoteIdent(domain.DefaultTempSchema) + "." + quoteIdent(mvName)
	newFilter := fmt.Sprintf(`__source."%s" IN (SELECT "%s" FROM %s)`, fidList.Field, fidList.Field, mvRef)
	rewritten := strings.Replace(newExpression, fidList.FullMatch, newFilter, 1)
	return rewritten, mv, true
}

// RangeRewrite implements FID_RANGE (spec §4.6 rule 3): a large,
// mostly-consecutive FID list collapses to a min/max guard, keeping an
// explicit gap exclusion only when the gap list stays small relative to the
// original list.
func RangeRewrite(f *FIDList, th Thresholds) (string, bool) {
	if len(f.IDs) < th.FIDRangeThreshold {
		return "", false
	}
	sorted := append([]int64(nil), f.IDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	min, max := sorted[0], sorted[len(sorted)-1]
	span := max - min + 1
	if span <= 0 {
		return "", false
	}
	coverage := float64(len(sorted)) / float64(span)
	if coverage < 0.5 {
		return "", false
	}

	present := make(map[int64]bool, len(sorted))
	for _, v := range sorted {
		present[v] = true
	}
	var gaps []int64
	for v := min; v <= max; v++ {
		if !present[v] {
			gaps = append(gaps, v)
		}
	}

	col := quoteIdent(f.Field)
	base := fmt.Sprintf("(%s >= %d AND %s <= %d)", col, min, col, max)
	if len(gaps) > 0 && float64(len(gaps)) < 0.25*float64(len(sorted)) {
		parts := make([]string, len(gaps))
		for i, g := range gaps {
			parts[i] = strconv.FormatInt(g, 10)
		}
		base = fmt.Sprintf("(%s AND %s NOT IN (%s))", base, col, strings.Join(parts, ","))
	}
	return base, true
}

var topLevelAndPattern = regexp.MustCompile(`(?s)^\((.*)\)\s+AND\s+\((.*)\)$`)
var spatialTokenPattern = regexp.MustCompile(`(?i)\b(ST_\w+|Intersects|Contains|Within|Touches|Overlaps|Crosses|Disjoint|Equals|Covers|CoveredBy)\s*\(`)

// EnsureFIDFirst implements FID_ORDER (spec §4.6 rule 4): on SpatiaLite/OGR,
// a FID guard is moved ahead of a spatial predicate in a top-level AND so
// left-to-right short-circuit evaluation filters by index first. PostgreSQL
// relies on the planner instead and is left unchanged.
func EnsureFIDFirst(expression string, dialect domain.Dialect) string {
	if dialect == domain.DialectPostgreSQL {
		return expression
	}
	m := topLevelAndPattern.FindStringSubmatch(strings.TrimSpace(expression))
	if m == nil {
		return expression
	}
	first, second := m[1], m[2]
	if spatialTokenPattern.MatchString(first) && !spatialTokenPattern.MatchString(second) {
		return fmt.Sprintf("(%s) AND (%s)", second, first)
	}
	return expression
}

var doubleParenPattern = regexp.MustCompile(`\(\(([^()]+)\)\)`)
var emptyParenPattern = regexp.MustCompile(`\(\s*\)`)
var multiSpacePattern = regexp.MustCompile(`\s{2,}`)

// Simplify implements SIMPLIFY (spec §4.6 rule 5): collapses double
// parenthesization of a simple clause, duplicate whitespace and empty
// parens. Idempotent.
func Simplify(expression string) string {
	cur := expression
	for {
		next := doubleParenPattern.ReplaceAllString(cur, "($1)")
		if next == cur {
			break
		}
		cur = next
	}
	cur = emptyParenPattern.ReplaceAllString(cur, "")
	cur = multiSpacePattern.ReplaceAllString(cur, " ")
	return strings.TrimSpace(cur)
}

// Cache memoizes (old_subset, new_expression, operator) -> OptimizedExpression
// under a bounded ristretto cache (spec §4.6, default size 50).
type Cache struct {
	store *ristretto.Cache
}

// NewCache builds a Cache sized for maxEntries distinct optimization results.
func NewCache(maxEntries int64) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("optimize: creating result cache: %w", err)
	}
	return &Cache{store: store}, nil
}

func cacheKey(oldSubset, newExpression string, op domain.CombineOperator) string {
	sum := md5.Sum([]byte(oldSubset + "|" + newExpression + "|" + string(op))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Get looks up a previously computed optimization result.
func (c *Cache) Get(oldSubset, newExpression string, op domain.CombineOperator) (domain.OptimizedExpression, bool) {
	if c == nil || c.store == nil {
		return domain.OptimizedExpression{}, false
	}
	v, ok := c.store.Get(cacheKey(oldSubset, newExpression, op))
	if !ok {
		return domain.OptimizedExpression{}, false
	}
	oe, ok := v.(domain.OptimizedExpression)
	return oe, ok
}

// Set stores a computed optimization result under cost 1 (result count is
// what's bounded, not byte size).
func (c *Cache) Set(oldSubset, newExpression string, op domain.CombineOperator, result domain.OptimizedExpression) {
	if c == nil || c.store == nil {
		return
	}
	c.store.SetWithTTL(cacheKey(oldSubset, newExpression, op), result, 1, 0)
	c.store.Wait()
}

// Optimizer applies the detector/rewrite table to combined filter
// expressions, consulting the result Cache first (spec §4.6, "cache lookups
// are first operation").
type Optimizer struct {
	Cache      *Cache
	Thresholds Thresholds
	SessionID  string
}

// NewOptimizer builds an Optimizer. cache may be nil to disable memoization.
func NewOptimizer(cache *Cache, thresholds Thresholds, sessionID string) *Optimizer {
	return &Optimizer{Cache: cache, Thresholds: thresholds, SessionID: sessionID}
}

// Optimize rewrites the combination of oldSubset and newExpression for
// target under op, trying strategies in descending order of expected
// benefit (spec §4.6).
func (o *Optimizer) Optimize(oldSubset, newExpression string, op domain.CombineOperator, target domain.LayerDescriptor, dialect domain.Dialect) domain.OptimizedExpression {
	if cached, ok := o.Cache.Get(oldSubset, newExpression, op); ok {
		cached.OptimizationKind = domain.OptimizationCacheHit
		return cached
	}

	result := o.optimize(oldSubset, newExpression, op, target, dialect)
	o.Cache.Set(oldSubset, newExpression, op, result)
	return result
}

func (o *Optimizer) optimize(oldSubset, newExpression string, op domain.CombineOperator, target domain.LayerDescriptor, dialect domain.Dialect) domain.OptimizedExpression {
	if op == domain.CombineReplace || oldSubset == "" {
		return domain.OptimizedExpression{
			Expression:       domain.FilterExpression{SQL: newExpression, Dialect: dialect, CombineProtocol: op},
			OptimizationKind: domain.OptimizationNone,
			EstimatedSpeedup: 1.0,
		}
	}

	if dialect == domain.DialectPostgreSQL && op == domain.CombineAnd {
		if mv, ok := DetectMVIn(oldSubset); ok {
			if es, ok := DetectExistsSpatial(newExpression); ok {
				rewritten := MVReuse(mv, es, target)
				return domain.OptimizedExpression{
					Expression:       domain.FilterExpression{SQL: rewritten, Dialect: dialect, CombineProtocol: op},
					OptimizationKind: domain.OptimizationMVReuse,
					EstimatedSpeedup: 10.0,
				}
			}
		}

		if es, ok := DetectExistsSpatial(newExpression); ok {
			if rewritten, mv, ok := trySourceMV(newExpression, es, o.SessionID, o.Thresholds); ok {
				combined := Simplify(fmt.Sprintf("(%s) AND (%s)", oldSubset, rewritten))
				return domain.OptimizedExpression{
					Expression:       domain.FilterExpression{SQL: combined, Dialect: dialect, CombineProtocol: op},
					OptimizationKind: domain.OptimizationSourceMV,
					EstimatedSpeedup: 3.0,
					PendingMV:        mv,
				}
			}
		}
	}

	if dialect != domain.DialectPostgreSQL {
		if fidList, ok := DetectFIDList(newExpression); ok {
			if rangeExpr, ok := RangeRewrite(fidList, o.Thresholds); ok {
				rewritten := strings.Replace(newExpression, fidList.FullMatch, rangeExpr, 1)
				combined := Simplify(fmt.Sprintf("(%s) %s (%s)", oldSubset, opToken(op), rewritten))
				combined = EnsureFIDFirst(combined, dialect)
				return domain.OptimizedExpression{
					Expression:       domain.FilterExpression{SQL: combined, Dialect: dialect, CombineProtocol: op},
					OptimizationKind: domain.OptimizationRange,
					EstimatedSpeedup: 2.0,
				}
			}
		}

		combined := Simplify(fmt.Sprintf("(%s) %s (%s)", oldSubset, opToken(op), newExpression))
		reordered := EnsureFIDFirst(combined, dialect)
		kind := domain.OptimizationNone
		speedup := 1.0
		if reordered != combined {
			kind = domain.OptimizationSimplify
			speedup = 1.2
		}
		return domain.OptimizedExpression{
			Expression:       domain.FilterExpression{SQL: reordered, Dialect: dialect, CombineProtocol: op},
			OptimizationKind: kind,
			EstimatedSpeedup: speedup,
		}
	}

	combined := Simplify(fmt.Sprintf("(%s) %s (%s)", oldSubset, opToken(op), newExpression))
	kind := domain.OptimizationNone
	if combined != fmt.Sprintf("(%s) %s (%s)", oldSubset, opToken(op), newExpression) {
		kind = domain.OptimizationSimplify
	}
	return domain.OptimizedExpression{
		Expression:       domain.FilterExpression{SQL: combined, Dialect: dialect, CombineProtocol: op},
		OptimizationKind: kind,
		EstimatedSpeedup: 1.0,
	}
}

func opToken(op domain.CombineOperator) string {
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

func quoteIdent(s string) string {
	return `"` + s + `"`
}
