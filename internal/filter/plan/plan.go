// Package plan decomposes a complex filter expression into an ordered
// sequence of steps, executing the most selective conjuncts first (spec
// §4.7). Decomposition only ever reorders top-level AND-joined conjuncts; OR
// and nested boolean logic are left as a single post_process step since
// splitting them would change the expression's meaning.
package plan

import (
	"regexp"
	"strings"

	"github.com/filtergeist/filtergeist/internal/domain"
)

// spatialFunctions recognizes both SQL-dialect and QGIS-expression spellings
// of a spatial predicate call.
var spatialFunctions = []string{
	"ST_Intersects", "ST_Contains", "ST_Within", "ST_Overlaps",
	"ST_Crosses", "ST_Touches", "ST_Disjoint", "ST_Distance",
	"ST_DWithin", "ST_Buffer", "ST_Envelope", "ST_Equals", "ST_Covers", "ST_CoveredBy",
	"Intersects", "Contains", "Within", "Overlaps",
	"Crosses", "Touches", "Disjoint", "Distance", "Buffer",
}

// complexFunctions mark an attribute conjunct as low-selectivity and
// unpredictable, routed to a post_process step instead of attribute.
var complexFunctions = []string{
	"regexp_match", "regexp_replace", "substr", "length",
	"concat", "upper", "lower", "coalesce", "case", "when",
}

// Thresholds controls the cost model used to order and estimate steps (spec
// §4.7 defaults, taken from the teacher's benchmarked constants).
type Thresholds struct {
	SpatialReductionPct   float64
	AttributeReductionPct float64
	ComplexReductionPct   float64
	SpatialMSPer1K        float64
	AttributeMSPer1K      float64
	ComplexMSPer1K        float64
}

// DefaultThresholds mirrors the original implementation's calibrated
// constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SpatialReductionPct:   70.0,
		AttributeReductionPct: 40.0,
		ComplexReductionPct:   20.0,
		SpatialMSPer1K:        50.0,
		AttributeMSPer1K:      5.0,
		ComplexMSPer1K:        15.0,
	}
}

var attributeComparisonPattern = regexp.MustCompile(`"[^"]+"\s*[=<>!]`)
var andSplitPattern = regexp.MustCompile(`(?i)\s+AND\s+`)
var leadingAndPattern = regexp.MustCompile(`(?i)^\s*AND\s+`)
var trailingAndPattern = regexp.MustCompile(`(?i)\s+AND\s*$`)
var orTokenPattern = regexp.MustCompile(`(?i)\bOR\b`)

// Decompose splits expression into an ordered []domain.FilterStep, spatial
// conjuncts first, then simple attribute conjuncts, then complex/post-process
// conjuncts, each carrying a cumulative feature-count estimate (spec §4.7).
// featureCount seeds the cascade; pass the target layer's current count, or
// 1000 if unknown. Returns a single step, unmodified, when the expression
// isn't compound enough to benefit from decomposition.
func Decompose(expression string, featureCount int64, th Thresholds) []domain.FilterStep {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return nil
	}
	if featureCount <= 0 {
		featureCount = 1000
	}

	// OR, or an AND nested inside parentheses, keeps the whole expression
	// as one post_process step.
	orNested := orTokenPattern.MatchString(trimmed)
	for _, loc := range andSplitPattern.FindAllStringIndex(trimmed, -1) {
		before := trimmed[:loc[0]]
		orNested = orNested || strings.Count(before, "(") > strings.Count(before, ")")
	}
	if orNested {
		return []domain.FilterStep{{StepNumber: 1, Expression: trimmed, OperationType: domain.OperationPostProcess, EstimatedReductionPct: th.ComplexReductionPct, EstimatedCostMS: estimateTime(trimmed, featureCount, th)}}
	}

	if !isComplexExpression(trimmed) {
		return []domain.FilterStep{{
			StepNumber:            1,
			Expression:            trimmed,
			OperationType:         classify(trimmed),
			EstimatedReductionPct: estimateReduction(trimmed, th),
			EstimatedCostMS:       estimateTime(trimmed, featureCount, th),
		}}
	}

	candidates := buildCandidates(trimmed, th)
	if len(candidates) <= 1 {
		return []domain.FilterStep{{
			StepNumber:            1,
			Expression:            trimmed,
			OperationType:         classify(trimmed),
			EstimatedReductionPct: 50.0,
			EstimatedCostMS:       estimateTime(trimmed, featureCount, th),
		}}
	}

	ordered := orderCandidates(candidates)

	steps := make([]domain.FilterStep, 0, len(ordered))
	remaining := featureCount
	for i, c := range ordered {
		cost := estimateTime(c.expression, remaining, th)
		steps = append(steps, domain.FilterStep{
			StepNumber:            i + 1,
			Expression:            c.expression,
			OperationType:         c.opType,
			EstimatedReductionPct: c.reductionPct,
			EstimatedCostMS:       cost,
		})
		remaining = int64(float64(remaining) * (1.0 - c.reductionPct/100.0))
	}
	return steps
}

type candidate struct {
	expression   string
	opType       domain.OperationType
	reductionPct float64
	priority     int
}

func buildCandidates(expression string, th Thresholds) []candidate {
	var candidates []candidate

	for _, spatialExpr := range extractSpatialComponents(expression) {
		candidates = append(candidates, candidate{
			expression:   spatialExpr,
			opType:       domain.OperationSpatial,
			reductionPct: th.SpatialReductionPct,
			priority:     1,
		})
	}

	for _, attrExpr := range extractAttributeComponents(expression) {
		if isComplexAttribute(attrExpr) {
			candidates = append(candidates, candidate{
				expression:   attrExpr,
				opType:       domain.OperationPostProcess,
				reductionPct: th.ComplexReductionPct,
				priority:     3,
			})
		} else {
			candidates = append(candidates, candidate{
				expression:   attrExpr,
				opType:       domain.OperationAttribute,
				reductionPct: th.AttributeReductionPct,
				priority:     2,
			})
		}
	}
	return candidates
}

// orderCandidates sorts by priority (spatial, then simple attribute, then
// complex), preserving original discovery order within a priority tier —
// stable, not a full cost-based reorder, matching the original's
// straightforward tiering.
func orderCandidates(candidates []candidate) []candidate {
	tiers := map[int][]candidate{}
	for _, c := range candidates {
		tiers[c.priority] = append(tiers[c.priority], c)
	}
	var out []candidate
	for _, p := range []int{1, 2, 3} {
		out = append(out, tiers[p]...)
	}
	return out
}

func isComplexExpression(expression string) bool {
	andCount := len(andSplitPattern.FindAllString(expression, -1))
	hasSpatial := containsAny(expression, spatialFunctions)
	hasAttribute := attributeComparisonPattern.MatchString(expression)
	return andCount >= 1 || (hasSpatial && hasAttribute)
}

func classify(expression string) domain.OperationType {
	if containsAny(expression, spatialFunctions) {
		return domain.OperationSpatial
	}
	if containsAnyFold(expression, complexFunctions) {
		return domain.OperationPostProcess
	}
	return domain.OperationAttribute
}

func estimateReduction(expression string, th Thresholds) float64 {
	switch classify(expression) {
	case domain.OperationSpatial:
		return th.SpatialReductionPct
	case domain.OperationPostProcess:
		return th.ComplexReductionPct
	default:
		return th.AttributeReductionPct
	}
}

func estimateTime(expression string, featureCount int64, th Thresholds) float64 {
	thousands := float64(featureCount) / 1000.0
	if thousands < 1 {
		thousands = 1
	}
	var perK float64
	switch classify(expression) {
	case domain.OperationSpatial:
		perK = th.SpatialMSPer1K
	case domain.OperationPostProcess:
		perK = th.ComplexMSPer1K
	default:
		perK = th.AttributeMSPer1K
	}
	return perK * thousands
}

func spatialCallPattern(fn string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(fn) + `\s*\([^)]*(?:\([^)]*\)[^)]*)*\)`)
}

func extractSpatialComponents(expression string) []string {
	var out []string
	seen := map[string]bool{}
	for _, fn := range spatialFunctions {
		if !strings.Contains(expression, fn) {
			continue
		}
		for _, m := range spatialCallPattern(fn).FindAllString(expression, -1) {
			trimmed := strings.TrimSpace(m)
			if trimmed != "" && !seen[trimmed] {
				seen[trimmed] = true
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func extractAttributeComponents(expression string) []string {
	remaining := expression
	for _, fn := range spatialFunctions {
		remaining = spatialCallPattern(fn).ReplaceAllString(remaining, "")
	}
	remaining = leadingAndPattern.ReplaceAllString(remaining, "")
	remaining = trailingAndPattern.ReplaceAllString(remaining, "")

	parts := andSplitPattern.Split(remaining, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(leadingAndPattern.ReplaceAllString(part, ""))
		if p == "" || containsAny(p, spatialFunctions) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isComplexAttribute(expression string) bool {
	return containsAnyFold(expression, complexFunctions)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func containsAnyFold(s string, needles []string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
