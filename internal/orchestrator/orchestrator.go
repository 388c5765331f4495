// Package orchestrator implements the Filter Orchestrator (C10): the
// request-to-subset-string pipeline that ties every other filter-engine
// component together for one FilterRequest (spec §4.10). It mirrors the
// teacher's QueryService in shape — resolve inputs, iterate targets,
// tolerate per-target failure, record metrics — generalized from a
// read-only point query fan-out to a mutating, UI-thread-queued one.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/filtergeist/filtergeist/internal/backend"
	ogrbackend "github.com/filtergeist/filtergeist/internal/backend/ogr"
	postgresbackend "github.com/filtergeist/filtergeist/internal/backend/postgres"
	spatialitebackend "github.com/filtergeist/filtergeist/internal/backend/spatialite"
	"github.com/filtergeist/filtergeist/internal/cache"
	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/filter/expr"
	"github.com/filtergeist/filtergeist/internal/filter/optimize"
	"github.com/filtergeist/filtergeist/internal/filter/plan"
	"github.com/filtergeist/filtergeist/internal/filter/sanitize"
	"github.com/filtergeist/filtergeist/internal/geometry"
	"github.com/filtergeist/filtergeist/internal/history"
	"github.com/filtergeist/filtergeist/internal/hostport"
	"github.com/filtergeist/filtergeist/internal/mv"
	"github.com/filtergeist/filtergeist/internal/progress"
	"github.com/filtergeist/filtergeist/internal/uiqueue"
)

// LayerResolver looks up a live host layer by its opaque layer id. The host
// implements this over its project/layer registry; there is no in-process
// default.
type LayerResolver interface {
	Resolve(layerID string) (hostport.Layer, error)
}

// TargetOutcome reports what happened for one target layer in a filter
// request.
type TargetOutcome struct {
	LayerID          string
	Backend          domain.Backend
	FinalExpression  string
	OptimizationKind domain.OptimizationKind
	Steps            int
	Warnings         []string
}

// Result is the aggregate outcome of one FilterRequest.
type Result struct {
	SourceLayerID string
	Outcomes      []TargetOutcome
	FailedLayers  []string
}

// Config wires the orchestrator's collaborators. Logger defaults to
// slog.Default(); MVManagers and ExpressionCache may be nil (no views, no
// expression caching); MultiStepFeatureThreshold and UpdateExtentMaxFeatures
// default per spec §4.7/§4.11. PlanThresholds has no default.
type Config struct {
	Resolver        LayerResolver
	Availability    backend.Availability
	Processing      hostport.Processing
	Preparer        *geometry.Preparer
	Optimizer       *optimize.Optimizer
	PlanThresholds  plan.Thresholds
	MVManagers      map[domain.Dialect]*mv.Manager
	ExpressionCache *cache.ExpressionCache
	History         history.Store
	Collector       *progress.Collector
	Logger          *slog.Logger
	QueueConfig     uiqueue.Config

	// MultiStepFeatureThreshold seeds the Multi-step Planner's cascading cost
	// estimate when a target's FeatureCountHint is unknown (spec §4.7).
	MultiStepFeatureThreshold int64
	// UpdateExtentMaxFeatures caps the feature count under which C11 updates
	// a layer's extent after a subset change (spec §4.11 step 4).
	UpdateExtentMaxFeatures int64
}

// Orchestrator runs FilterRequests end to end: source resolution, geometry
// preparation (C3), backend dispatch (C4) and expression building (C5),
// combined-query optimization (C6), multi-step decomposition (C7),
// materialized-view creation (C8), queued application (C11), and history
// recording (C12), under a cancellable progress tracker (C13).
type Orchestrator struct {
	resolver   LayerResolver
	avail      backend.Availability
	processing hostport.Processing
	preparer   *geometry.Preparer
	optimizer  *optimize.Optimizer
	planTh     plan.Thresholds
	mvManagers map[domain.Dialect]*mv.Manager
	exprCache  *cache.ExpressionCache
	queue      *uiqueue.Queue
	history    history.Store
	collector  *progress.Collector
	logger     *slog.Logger

	updateExtentMaxFeatures   int64
	multiStepFeatureThreshold int64
}

// New builds an Orchestrator and its Subset-Application Queue. Call Run to
// start the queue's drain loop.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UpdateExtentMaxFeatures <= 0 {
		cfg.UpdateExtentMaxFeatures = 50000
	}
	if cfg.MultiStepFeatureThreshold <= 0 {
		cfg.MultiStepFeatureThreshold = 1000
	}

	o := &Orchestrator{
		resolver:                cfg.Resolver,
		avail:                   cfg.Availability,
		processing:              cfg.Processing,
		preparer:                cfg.Preparer,
		optimizer:               cfg.Optimizer,
		planTh:                  cfg.PlanThresholds,
		mvManagers:              cfg.MVManagers,
		exprCache:               cfg.ExpressionCache,
		history:                 cfg.History,
		collector:               cfg.Collector,
		logger:                  cfg.Logger,
		updateExtentMaxFeatures:   cfg.UpdateExtentMaxFeatures,
		multiStepFeatureThreshold: cfg.MultiStepFeatureThreshold,
	}
	o.queue = uiqueue.New(cfg.QueueConfig, o.applyPending, cfg.Logger)
	return o
}

// Run starts the Subset-Application Queue's ticker-driven drain loop; the
// host should start this once per session on a background goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	o.queue.Run(ctx)
}

// Execute dispatches req to the matching action handler (spec §4.10).
func (o *Orchestrator) Execute(ctx context.Context, req domain.FilterRequest, reporter hostport.TaskReporter) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tracker := progress.NewTracker(ctx, reporter)

	switch req.Action {
	case domain.ActionUnfilter:
		return o.unfilter(tracker, req)
	case domain.ActionReset:
		return o.reset(tracker, req)
	case domain.ActionExport:
		return nil, fmt.Errorf("orchestrator: %w: export is not implemented", domain.ErrUnsupported)
	default:
		return o.filter(tracker, req)
	}
}

type resolvedTarget struct {
	layer      hostport.Layer
	descriptor domain.LayerDescriptor
	backend    domain.Backend
	request    domain.TargetLayer
}

func (o *Orchestrator) filter(tracker *progress.Tracker, req domain.FilterRequest) (*Result, error) {
	ctx := tracker.Context()
	result := &Result{SourceLayerID: req.SourceLayerID}

	source, err := o.resolver.Resolve(req.SourceLayerID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolving source layer %s: %w", req.SourceLayerID, err)
	}
	sourceDescriptor := source.Descriptor()

	resolved, allPostgres := o.resolveTargets(req, result)

	tracker.Describe("resolving source selection")
	fids, err := o.resolveSelection(ctx, source, req)
	if err != nil {
		return nil, err
	}
	if len(fids) == 0 {
		return nil, domain.ErrNoSelection
	}

	features, err := source.Features(ctx, fids)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reading source features: %w", err)
	}

	tracker.Describe("preparing source geometry")
	prepared, err := o.preparer.Prepare(ctx, geometry.Options{
		Layer:                 sourceDescriptor,
		Buffer:                req.Buffer,
		UseCentroid:            req.UseCentroids.Source,
		TargetIsPostgres:       allPostgres,
		SourceFilterPredicate:  "",
	}, features)
	if err != nil {
		return nil, err
	}

	mvGeometry := o.tryFilterChainMV(ctx, req, sourceDescriptor, prepared.Geometry, fids, resolved)

	for i, rt := range resolved {
		if tracker.Canceled() {
			o.collector.RecordCancellation()
			// Flush whatever already completed before the cancellation was
			// observed, so the targets filtered so far are durably applied
			// instead of discarded along with the ones never reached.
			if err := o.queue.Flush(ctx); err != nil {
				o.logger.Warn("applying queued subset changes before cancellation", "error", err)
			}
			return result, &domain.CanceledError{RequestID: req.SessionID}
		}
		tracker.ReportProgress(progress.StepProgress(i, len(resolved)))
		tracker.Describe(fmt.Sprintf("filtering %s", rt.descriptor.LayerID))

		geomForTarget := prepared.Geometry
		if rt.backend == domain.BackendPostgreSQL && mvGeometry != nil {
			geomForTarget = *mvGeometry
		}

		outcome, err := o.applyTarget(ctx, req, sourceDescriptor, geomForTarget, rt)
		if err != nil {
			o.logger.Warn("target filter failed", "layer", rt.descriptor.LayerID, "error", err)
			result.FailedLayers = append(result.FailedLayers, rt.descriptor.LayerID)
			continue
		}
		outcome.Warnings = append(outcome.Warnings, prepared.Warnings...)
		result.Outcomes = append(result.Outcomes, *outcome)
	}

	tracker.ReportProgress(100)

	if err := o.queue.Flush(ctx); err != nil {
		return result, fmt.Errorf("orchestrator: applying queued subset changes: %w", err)
	}

	if len(result.FailedLayers) > 0 {
		partial := domain.NewPartialSuccessError(result.FailedLayers)
		tracker.Message("warning", partial.Error(), hostport.SeverityWarning)
		return result, partial
	}
	return result, nil
}

// resolveTargets resolves every target layer and its backend (spec §4.10
// step 2, via C4), appending any that fail to resolve straight to
// result.FailedLayers so one missing layer doesn't abort the request.
func (o *Orchestrator) resolveTargets(req domain.FilterRequest, result *Result) ([]resolvedTarget, bool) {
	resolved := make([]resolvedTarget, 0, len(req.TargetLayers))
	allPostgres := len(req.TargetLayers) > 0

	for _, t := range req.TargetLayers {
		layer, err := o.resolver.Resolve(t.LayerID)
		if err != nil {
			o.logger.Warn("target layer unresolvable", "layer", t.LayerID, "error", err)
			result.FailedLayers = append(result.FailedLayers, t.LayerID)
			continue
		}
		descriptor := layer.Descriptor()

		b, err := backend.Resolve(descriptor, string(descriptor.Backend), req.ForcedBackends, o.avail)
		if err != nil {
			o.logger.Warn("target backend unavailable", "layer", t.LayerID, "error", err)
			result.FailedLayers = append(result.FailedLayers, t.LayerID)
			continue
		}
		if b != domain.BackendPostgreSQL {
			allPostgres = false
		}

		resolved = append(resolved, resolvedTarget{layer: layer, descriptor: descriptor, backend: b, request: t})
	}
	return resolved, allPostgres
}

// resolveSelection picks the canonical selection mode in priority order:
// explicit ids, then host expression, then all-visible (spec §4.10 step 1).
func (o *Orchestrator) resolveSelection(ctx context.Context, source hostport.Layer, req domain.FilterRequest) ([]int64, error) {
	switch req.Selection.Kind {
	case domain.SelectionExplicitFeatureIDs:
		return geometry.SortedFeatureIDs(req.Selection.FeatureIDs), nil
	case domain.SelectionHostExpression:
		sanitized, err := sanitize.Sanitize(req.Selection.HostExpression)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: sanitizing host expression: %w", err)
		}
		// spec §4.10 step 3: a host expression runs through C1 (sanitize,
		// above) then C2 before it's queued against the source layer, so a
		// bare `population > 10000` becomes `"population" > 10000`.
		quoted := expr.QuoteBareFields(sanitized, source.Descriptor())
		o.queue.Enqueue(domain.PendingSubsetRequest{LayerHandle: source.ID(), NewExpression: quoted})
		if err := o.queue.Flush(ctx); err != nil {
			return nil, fmt.Errorf("orchestrator: applying host expression to source: %w", err)
		}
		return o.currentFeatureIDs(ctx, source)
	case domain.SelectionAllVisible:
		return o.currentFeatureIDs(ctx, source)
	default:
		return nil, domain.ErrNoSelection
	}
}

func (o *Orchestrator) currentFeatureIDs(ctx context.Context, source hostport.Layer) ([]int64, error) {
	features, err := source.Features(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reading source features: %w", err)
	}
	ids := make([]int64, len(features))
	for i, f := range features {
		ids[i] = f.ID
	}
	return geometry.SortedFeatureIDs(ids), nil
}

// tryFilterChainMV materializes a source_selection MV to share across
// PostgreSQL targets when at least two are spatial (spec §4.10 step 5),
// returning the MaterializedViewReference variant those targets should use
// in place of the inline WKT, or nil when the condition doesn't hold or
// materialization failed.
func (o *Orchestrator) tryFilterChainMV(ctx context.Context, req domain.FilterRequest, source domain.LayerDescriptor, prepared domain.PreparedSourceGeometry, fids []int64, resolved []resolvedTarget) *domain.PreparedSourceGeometry {
	if prepared.Kind != domain.PreparedWKTLiteral {
		return nil
	}
	spatialPostgresTargets := 0
	for _, rt := range resolved {
		if rt.backend == domain.BackendPostgreSQL && len(rt.request.Predicates) > 0 {
			spatialPostgresTargets++
		}
	}
	if spatialPostgresTargets < 2 {
		return nil
	}

	m, ok := o.mvManagers[domain.DialectPostgreSQL]
	if !ok {
		return nil
	}
	if err := m.EnsureSchema(ctx); err != nil {
		o.logger.Warn("filter_chain MV schema creation failed, falling back to inline WKT", "error", err)
		return nil
	}

	buf := bufferPtr(req.Buffer)
	view, err := m.SourceSelection(ctx, req.SessionID, fids, source.PrimaryKey, source.Table, source.GeometryColumn, buf, req.UseCentroids.Source)
	if err != nil {
		o.logger.Warn("filter_chain MV materialization failed, falling back to inline WKT", "error", err)
		return nil
	}

	return &domain.PreparedSourceGeometry{
		Kind: domain.PreparedMaterializedViewReference,
		MaterializedViewReference: &domain.MaterializedViewReferenceGeometry{
			Schema:   view.Schema,
			ViewName: view.Name,
			PKColumn: source.PrimaryKey,
		},
	}
}

// applyTarget builds, optimizes, enqueues and records the subset change for
// one resolved target layer (spec §4.10 step 6).
func (o *Orchestrator) applyTarget(ctx context.Context, req domain.FilterRequest, source domain.LayerDescriptor, sourceGeom domain.PreparedSourceGeometry, rt resolvedTarget) (*TargetOutcome, error) {
	start := time.Now()
	dialect := dialectForBackend(rt.backend)

	body, err := o.buildPredicateBodyCached(ctx, rt.backend, rt.layer, rt.descriptor, sourceGeom, req, rt.request)
	if err != nil {
		o.collector.RecordOperation(string(rt.backend), false, time.Since(start))
		return nil, fmt.Errorf("orchestrator: building expression for %s: %w", rt.descriptor.LayerID, err)
	}

	final, optKind, stepCount, pendingMV := o.optimizeSteps(body, rt.layer.SubsetString(), rt.request.CombineOperator, rt.descriptor, dialect, req)

	if pendingMV != nil {
		if err := o.materializePendingMV(ctx, dialect, pendingMV, source, req); err != nil {
			o.logger.Warn("pending MV materialization failed", "layer", rt.descriptor.LayerID, "error", err)
		}
	}

	o.queue.Enqueue(domain.PendingSubsetRequest{LayerHandle: rt.layer.ID(), NewExpression: final})

	if req.ProjectUUID != "" {
		if err := o.history.Append(ctx, domain.HistoryEntry{
			Timestamp:     time.Now(),
			ProjectUUID:   req.ProjectUUID,
			LayerID:       rt.descriptor.LayerID,
			SourceLayerID: req.SourceLayerID,
			SubsetString:  final,
		}); err != nil {
			o.logger.Warn("history append failed", "layer", rt.descriptor.LayerID, "error", err)
		}
	}

	o.collector.RecordOperation(string(rt.backend), true, time.Since(start))

	return &TargetOutcome{
		LayerID:          rt.descriptor.LayerID,
		Backend:          rt.backend,
		FinalExpression:  final,
		OptimizationKind: optKind,
		Steps:            stepCount,
	}, nil
}

// optimizeSteps runs the Multi-step Planner (C7) over body and threads each
// resulting conjunct through the Combined Query Optimizer (C6), cumulatively
// AND-ing each step onto the previous one so the layer narrows
// progressively. A non-complex body decomposes to a single step and behaves
// exactly like optimizing body directly.
func (o *Orchestrator) optimizeSteps(body, oldSubset string, op domain.CombineOperator, target domain.LayerDescriptor, dialect domain.Dialect, req domain.FilterRequest) (string, domain.OptimizationKind, int, *domain.MaterializedView) {
	featureCount := target.FeatureCountHint
	if featureCount <= 0 {
		featureCount = o.multiStepFeatureThreshold
	}
	steps := plan.Decompose(body, featureCount, o.planTh)
	if len(steps) == 0 {
		steps = []domain.FilterStep{{StepNumber: 1, Expression: body, OperationType: domain.OperationSpatial}}
	}

	cumulative := oldSubset
	currentOp := op
	var kind domain.OptimizationKind
	var pendingMV *domain.MaterializedView

	for _, step := range steps {
		optimized := o.optimizer.Optimize(cumulative, step.Expression, currentOp, target, dialect)
		cumulative = optimized.Expression.SQL
		kind = optimized.OptimizationKind
		if optimized.PendingMV != nil {
			pendingMV = optimized.PendingMV
		}
		o.collector.RecordStep(string(step.OperationType))
		currentOp = domain.CombineAnd
	}

	return cumulative, kind, len(steps), pendingMV
}

func (o *Orchestrator) materializePendingMV(ctx context.Context, dialect domain.Dialect, pending *domain.MaterializedView, source domain.LayerDescriptor, req domain.FilterRequest) error {
	m, ok := o.mvManagers[dialect]
	if !ok {
		return fmt.Errorf("orchestrator: no materialized view manager for dialect %s", dialect)
	}
	if err := m.EnsureSchema(ctx); err != nil {
		return err
	}
	// The optimizer parsed these fids out of the EXISTS clause's source
	// filter; the request's own selection is the best available proxy for
	// that filter here, since both trace back to the same source selection.
	selectSQL := m.BuildSourceSelectionSQL(source.PrimaryKey, source.Table, source.GeometryColumn, bufferPtr(req.Buffer), req.UseCentroids.Source, req.Selection.FeatureIDs)
	return m.Ensure(ctx, pending, selectSQL)
}

// predicateCacheKey fingerprints every Build() input so two targets sharing a
// backend, predicate set, source geometry and buffer skip rebuilding the
// expression (spec §4.9, C9's expression cache).
func predicateCacheKey(b domain.Backend, descriptor domain.LayerDescriptor, source domain.PreparedSourceGeometry, req domain.FilterRequest, targetReq domain.TargetLayer) []string {
	preds := make([]string, len(targetReq.Predicates))
	for i, p := range targetReq.Predicates {
		preds[i] = string(p)
	}
	sourceFingerprint := string(source.Kind)
	switch source.Kind {
	case domain.PreparedWKTLiteral:
		sourceFingerprint += "|" + source.WKTLiteral.WKT
	case domain.PreparedTableReference:
		sourceFingerprint += "|" + source.TableReference.Schema + "." + source.TableReference.Table + "|" + source.TableReference.FilterPredicate
	case domain.PreparedMaterializedViewReference:
		sourceFingerprint += "|" + source.MaterializedViewReference.Schema + "." + source.MaterializedViewReference.ViewName
	}
	return []string{
		string(b),
		descriptor.LayerID,
		strings.Join(preds, ","),
		sourceFingerprint,
		fmt.Sprintf("%v", req.Buffer),
		string(targetReq.CombineOperator),
	}
}

func (o *Orchestrator) buildPredicateBodyCached(ctx context.Context, b domain.Backend, target hostport.Layer, descriptor domain.LayerDescriptor, source domain.PreparedSourceGeometry, req domain.FilterRequest, targetReq domain.TargetLayer) (string, error) {
	if o.exprCache == nil {
		return o.buildPredicateBody(ctx, b, target, descriptor, source, req, targetReq)
	}

	keyParts := predicateCacheKey(b, descriptor, source, req, targetReq)
	if cached, ok := o.exprCache.Get(keyParts...); ok {
		return cached, nil
	}

	body, err := o.buildPredicateBody(ctx, b, target, descriptor, source, req, targetReq)
	if err != nil {
		return "", err
	}
	o.exprCache.Set(body, keyParts...)
	return body, nil
}

func (o *Orchestrator) buildPredicateBody(ctx context.Context, b domain.Backend, target hostport.Layer, descriptor domain.LayerDescriptor, source domain.PreparedSourceGeometry, req domain.FilterRequest, targetReq domain.TargetLayer) (string, error) {
	bufferApplied := !req.Buffer.IsZero()

	switch b {
	case domain.BackendPostgreSQL:
		return postgresbackend.Build(postgresbackend.Params{
			Predicates:      targetReq.Predicates,
			Target:          descriptor,
			Source:          source,
			Buffer:          req.Buffer,
			BufferApplied:   bufferApplied,
			PriorSubset:     "",
			CombineOperator: domain.CombineReplace,
		})
	case domain.BackendSpatiaLite:
		if source.WKTLiteral == nil {
			return "", fmt.Errorf("spatialite target requires a wkt source geometry, got %q", source.Kind)
		}
		return spatialitebackend.Build(spatialitebackend.Params{
			Predicates:      targetReq.Predicates,
			Target:          descriptor,
			Source:          source.WKTLiteral,
			Buffer:          req.Buffer,
			BufferApplied:   bufferApplied,
			PriorSubset:     "",
			CombineOperator: domain.CombineReplace,
		})
	default:
		return ogrbackend.Build(ctx, o.processing, ogrbackend.Params{
			Predicates:      targetReq.Predicates,
			Target:          target,
			Source:          source,
			PriorSubset:     "",
			CombineOperator: domain.CombineReplace,
		})
	}
}

func dialectForBackend(b domain.Backend) domain.Dialect {
	switch b {
	case domain.BackendPostgreSQL:
		return domain.DialectPostgreSQL
	case domain.BackendSpatiaLite:
		return domain.DialectSpatiaLite
	default:
		return domain.DialectOGR
	}
}

func bufferPtr(b domain.BufferParams) *domain.BufferParams {
	if b.IsZero() {
		return nil
	}
	return &b
}

func targetLayerIDs(targets []domain.TargetLayer) []string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.LayerID
	}
	return ids
}

// unfilter queues an empty subset for the source and every configured
// target, without touching history (spec §4.10 "action=unfilter").
func (o *Orchestrator) unfilter(tracker *progress.Tracker, req domain.FilterRequest) (*Result, error) {
	ctx := tracker.Context()
	result := &Result{SourceLayerID: req.SourceLayerID}

	for _, id := range append([]string{req.SourceLayerID}, targetLayerIDs(req.TargetLayers)...) {
		if id == "" {
			continue
		}
		layer, err := o.resolver.Resolve(id)
		if err != nil {
			result.FailedLayers = append(result.FailedLayers, id)
			continue
		}
		o.queue.Enqueue(domain.PendingSubsetRequest{LayerHandle: layer.ID(), NewExpression: ""})
	}

	if err := o.queue.Flush(ctx); err != nil {
		return result, fmt.Errorf("orchestrator: applying unfilter: %w", err)
	}
	if len(result.FailedLayers) > 0 {
		return result, domain.NewPartialSuccessError(result.FailedLayers)
	}
	return result, nil
}

// reset restores each (source, target) layer to its prior recorded subset
// (via C12), or empty if none was recorded, and clears that layer's history
// (spec §4.10 "action=reset", §4.12 delete_all).
func (o *Orchestrator) reset(tracker *progress.Tracker, req domain.FilterRequest) (*Result, error) {
	ctx := tracker.Context()
	result := &Result{SourceLayerID: req.SourceLayerID}

	for _, id := range append([]string{req.SourceLayerID}, targetLayerIDs(req.TargetLayers)...) {
		if id == "" {
			continue
		}
		layer, err := o.resolver.Resolve(id)
		if err != nil {
			result.FailedLayers = append(result.FailedLayers, id)
			continue
		}

		restore := ""
		if req.ProjectUUID != "" {
			if _, ok, _ := o.history.PopLast(ctx, req.ProjectUUID, id); ok {
				if prior, ok, _ := o.history.Latest(ctx, req.ProjectUUID, id); ok {
					restore = prior.SubsetString
				}
			}
			if err := o.history.DeleteAll(ctx, req.ProjectUUID, id); err != nil {
				o.logger.Warn("history delete_all failed", "layer", id, "error", err)
			}
		}
		o.queue.Enqueue(domain.PendingSubsetRequest{LayerHandle: layer.ID(), NewExpression: restore})
	}

	if err := o.queue.Flush(ctx); err != nil {
		return result, fmt.Errorf("orchestrator: applying reset: %w", err)
	}
	if len(result.FailedLayers) > 0 {
		return result, domain.NewPartialSuccessError(result.FailedLayers)
	}
	return result, nil
}

var largeInListPattern = regexp.MustCompile(`(?i)IN\s*\(([^()]*)\)`)

// isComplexFilter reports whether expression warrants the forced reload step
// of the Subset-Application Queue's contract (spec §4.11 step 3): an EXISTS
// join, a buffer call, a reference to a materialized view, or an inline id
// list running into the hundreds.
func isComplexFilter(expression string) bool {
	if strings.Contains(expression, "EXISTS") || strings.Contains(expression, "ST_Buffer") || strings.Contains(expression, "Buffer(") || strings.Contains(expression, "fm_temp_") {
		return true
	}
	for _, m := range largeInListPattern.FindAllStringSubmatch(expression, -1) {
		if strings.Count(m[1], ",") > 200 {
			return true
		}
	}
	return false
}

// applyPending is the Subset-Application Queue's Applier (spec §4.11): it
// runs only as a drained runnable on the host's UI thread, never called
// directly off it.
func (o *Orchestrator) applyPending(ctx context.Context, req domain.PendingSubsetRequest) error {
	layer, err := o.resolver.Resolve(req.LayerHandle)
	if err != nil {
		o.logger.Warn("pending subset target no longer resolvable", "handle", req.LayerHandle, "error", err)
		return nil
	}

	if layer.SubsetString() != req.NewExpression {
		if _, err := layer.SetSubsetString(ctx, req.NewExpression); err != nil {
			return fmt.Errorf("setting subset on %s: %w", req.LayerHandle, err)
		}
	}

	if isComplexFilter(req.NewExpression) {
		// spec §4.11: block the layer's change signals for the duration of
		// the reload so the host's UI never sees a stale mid-reload callback.
		wasBlocked := layer.BlockSignals(true)
		switch layer.ProviderType() {
		case domain.BackendPostgreSQL:
			if err := layer.ReloadData(ctx); err != nil {
				o.logger.Warn("reload data failed", "layer", req.LayerHandle, "error", err)
			}
		case domain.BackendSpatiaLite:
			if err := layer.Reload(ctx); err != nil {
				o.logger.Warn("reload failed", "layer", req.LayerHandle, "error", err)
			}
		}
		layer.BlockSignals(wasBlocked)
	}

	if count, known := layer.FeatureCount(); known && count < o.updateExtentMaxFeatures {
		if err := layer.UpdateExtents(ctx); err != nil {
			o.logger.Warn("update extents failed", "layer", req.LayerHandle, "error", err)
		}
	}

	if err := layer.TriggerRepaint(ctx); err != nil {
		o.logger.Warn("trigger repaint failed", "layer", req.LayerHandle, "error", err)
	}
	return nil
}
