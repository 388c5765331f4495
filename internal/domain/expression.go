package domain

// Dialect is the SQL dialect a FilterExpression is written in.
type Dialect string

const (
	DialectPostgreSQL Dialect = "postgresql"
	DialectSpatiaLite Dialect = "spatialite"
	DialectOGR        Dialect = "ogr"
)

// FilterExpression is a dialect-tagged subset-string expression carrying the
// protocol used to combine it with a prior subset (spec DATA MODEL,
// FilterExpression).
type FilterExpression struct {
	SQL              string
	Dialect          Dialect
	CombineProtocol  CombineOperator
}

// OptimizationKind names the rewrite the Combined Query Optimizer (C6)
// applied, or NONE.
type OptimizationKind string

const (
	OptimizationNone          OptimizationKind = "NONE"
	OptimizationMVReuse       OptimizationKind = "MV_REUSE"
	OptimizationFIDList       OptimizationKind = "FID_LIST"
	OptimizationRange         OptimizationKind = "RANGE"
	OptimizationSubqueryMerge OptimizationKind = "SUBQUERY_MERGE"
	OptimizationSimplify      OptimizationKind = "SIMPLIFY"
	OptimizationCacheHit      OptimizationKind = "CACHE_HIT"
	OptimizationSourceMV      OptimizationKind = "SOURCE_MV"
)

// OptimizedExpression is the output of C6 (spec DATA MODEL, OptimizedExpression).
type OptimizedExpression struct {
	Expression       FilterExpression
	OptimizationKind OptimizationKind
	EstimatedSpeedup float64
	PendingMV        *MaterializedView // non-nil when the expression needs an MV materialized first
}

// OperationType classifies a FilterStep's conjunct (spec DATA MODEL, FilterStep).
type OperationType string

const (
	OperationSpatial     OperationType = "spatial"
	OperationAttribute   OperationType = "attribute"
	OperationPostProcess OperationType = "post_process"
)

// FilterStep is one element of the Multi-step Planner's (C7) ordered plan
// (spec DATA MODEL, FilterStep).
type FilterStep struct {
	StepNumber           int
	Expression           string
	OperationType        OperationType
	EstimatedReductionPct float64
	EstimatedCostMS      float64
}
