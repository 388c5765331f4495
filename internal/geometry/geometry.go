// Package geometry implements the Geometry Preparer (C3): validating and
// repairing source feature geometry, reprojecting to a metric CRS when
// needed, buffering, centroid substitution, and emitting a
// PreparedSourceGeometry within a WKT size budget.
package geometry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/filtergeist/filtergeist/internal/domain"
	"github.com/filtergeist/filtergeist/internal/hostport"
)

// Thresholds carries the WKT-budget knobs from spec §6's threshold
// configuration (internal/config.ThresholdConfig), narrowed to what this
// package needs.
type Thresholds struct {
	MaxWKTLength           int
	WKTPrecisionGeographic int
	WKTPrecisionProjected  int
}

// Preparer runs the decision tree described for C3. Geom and Proc are the
// host collaborator ports; a nil Proc disables reprojection (the caller
// already selected a metric CRS layer).
type Preparer struct {
	Geom   hostport.Geometry
	Proc   hostport.Processing
	Thresh Thresholds
	Logger *slog.Logger
}

// NewPreparer constructs a Preparer, defaulting the logger to slog's
// default handler when none is given.
func NewPreparer(geom hostport.Geometry, proc hostport.Processing, thresh Thresholds, logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{Geom: geom, Proc: proc, Thresh: thresh, Logger: logger}
}

// Result augments the emitted geometry with warnings collected along the
// way (dropped features, eroded buffers, simplification failures or a WKT
// still over budget). Repair-ladder fallbacks to a convex hull or bounding
// box are logged, not listed here.
type Result struct {
	Geometry domain.PreparedSourceGeometry
	Warnings []string
}

// Options parametrizes a single Prepare call.
type Options struct {
	Layer           domain.LayerDescriptor
	Buffer          domain.BufferParams
	UseCentroid     bool
	TargetIsPostgres bool
	SourceFilterPredicate string // carried through for the TableReference variant
}

// Prepare runs repair, reprojection, buffering and centroid substitution
// over features, then emits a PreparedSourceGeometry.
func (p *Preparer) Prepare(ctx context.Context, opts Options, features []domain.Feature) (Result, error) {
	var warnings []string

	if opts.Layer.Backend == domain.BackendPostgreSQL && opts.TargetIsPostgres && opts.Buffer.IsZero() && !opts.UseCentroid {
		return Result{
			Geometry: domain.PreparedSourceGeometry{
				Kind: domain.PreparedTableReference,
				TableReference: &domain.TableReferenceGeometry{
					Schema:          opts.Layer.Schema,
					Table:           opts.Layer.Table,
					GeometryColumn:  opts.Layer.GeometryColumn,
					FilterPredicate: opts.SourceFilterPredicate,
				},
			},
		}, nil
	}

	wkts, dropped := p.repairAll(ctx, features)
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d feature(s) dropped: geometry repair exhausted", dropped))
	}
	if len(wkts) == 0 {
		return Result{}, &domain.GeometryPreparationError{
			SourceLayerID: opts.Layer.LayerID,
			Reason:        "no valid geometry survived the repair ladder",
		}
	}

	// The unit check looks at the source CRS, before any reprojection below.
	if opts.Layer.CRSIsGeographic && !opts.Buffer.IsZero() {
		distance := opts.Buffer.Distance
		if opts.Buffer.IsDynamic() && len(features) > 0 {
			distance = evaluateBufferExpression(opts.Buffer.DistanceExpression, features[0])
		}
		if math.Abs(distance) > 1 {
			return Result{}, &domain.GeometryPreparationError{
				SourceLayerID: opts.Layer.LayerID,
				Reason:        fmt.Sprintf("buffer distance %.2f is in degrees (source CRS is geographic); reproject to a metric CRS before buffering", distance),
			}
		}
	}

	if opts.Layer.CRSIsGeographic && p.Proc != nil {
		reprojected, targetSRID, err := p.reproject(ctx, opts.Layer, wkts)
		if err != nil {
			return Result{}, &domain.GeometryPreparationError{SourceLayerID: opts.Layer.LayerID, Reason: "reprojection failed", Err: err}
		}
		wkts = reprojected
		opts.Layer.CRS = domain.Projection{SRID: targetSRID}
		opts.Layer.CRSIsGeographic = false
	}

	if !opts.Buffer.IsZero() {
		buffered, erodedCount, err := p.bufferAll(ctx, wkts, opts.Layer, opts.Buffer, features)
		if err != nil {
			return Result{}, err
		}
		if erodedCount == len(wkts) && erodedCount > 0 {
			warnings = append(warnings, "all features were fully eroded by the negative buffer")
		} else if erodedCount > 0 {
			warnings = append(warnings, fmt.Sprintf("%d feature(s) fully eroded by the negative buffer", erodedCount))
		}
		wkts = buffered
	}

	if opts.UseCentroid {
		centroids := make([]string, 0, len(wkts))
		for _, wkt := range wkts {
			c, err := p.Geom.Centroid(ctx, wkt)
			if err != nil {
				continue
			}
			centroids = append(centroids, c)
		}
		if len(centroids) > 0 {
			wkts = centroids
		}
	}

	var merged string
	var err error
	if len(wkts) == 1 {
		merged = wkts[0]
	} else {
		merged, err = p.Geom.Collect(ctx, wkts)
		if err != nil {
			return Result{}, &domain.GeometryPreparationError{SourceLayerID: opts.Layer.LayerID, Reason: "collecting geometries", Err: err}
		}
	}

	wasSimplified := false
	if len(merged) > p.Thresh.MaxWKTLength {
		simplified, ok, simErr := p.simplifyToBudget(ctx, merged, opts.Layer, opts.Buffer)
		if simErr != nil {
			warnings = append(warnings, "adaptive simplification failed: "+simErr.Error())
		} else {
			merged = simplified
			wasSimplified = true
			if !ok {
				warnings = append(warnings, "WKT still exceeds budget after all simplification fallbacks")
			}
		}
	}

	return Result{
		Geometry: domain.PreparedSourceGeometry{
			Kind: domain.PreparedWKTLiteral,
			WKTLiteral: &domain.WKTLiteralGeometry{
				WKT:                  merged,
				SRID:                 opts.Layer.CRS.SRID,
				OriginalFeatureCount: len(features),
				WasSimplified:        wasSimplified,
				UsedCentroid:         opts.UseCentroid,
			},
		},
		Warnings: warnings,
	}, nil
}

// repairAll validates every feature's geometry, running the repair ladder
// on any that are invalid, and returns the surviving WKTs plus a drop count.
func (p *Preparer) repairAll(ctx context.Context, features []domain.Feature) ([]string, int) {
	var wkts []string
	dropped := 0

	for _, f := range features {
		wkt := f.Geometry.WKT
		valid, err := p.Geom.IsValid(ctx, wkt)
		if err == nil && valid {
			wkts = append(wkts, wkt)
			continue
		}

		repaired, ok := p.repairLadder(ctx, wkt)
		if ok {
			wkts = append(wkts, repaired)
		} else {
			dropped++
			p.Logger.Warn("dropping feature: repair ladder exhausted", "feature_id", f.ID)
		}
	}

	return wkts, dropped
}

// repairLadder tries, in order: make_valid, buffer(0), tiny-tolerance
// simplify + make_valid, convex hull, bounding box (spec §4.3.1).
func (p *Preparer) repairLadder(ctx context.Context, wkt string) (string, bool) {
	if fixed, err := p.Geom.MakeValid(ctx, wkt); err == nil {
		if ok, _ := p.Geom.IsValid(ctx, fixed); ok {
			return fixed, true
		}
	}

	if fixed, err := p.Geom.Buffer(ctx, wkt, domain.BufferParams{Distance: 0}); err == nil {
		if ok, _ := p.Geom.IsValid(ctx, fixed); ok {
			return fixed, true
		}
	}

	if simplified, err := p.Geom.Simplify(ctx, wkt, 1e-9); err == nil {
		if fixed, err := p.Geom.MakeValid(ctx, simplified); err == nil {
			if ok, _ := p.Geom.IsValid(ctx, fixed); ok {
				return fixed, true
			}
		}
	}

	if hull, err := p.Geom.ConvexHull(ctx, wkt); err == nil {
		if ok, _ := p.Geom.IsValid(ctx, hull); ok {
			p.Logger.Warn("repair ladder fell back to convex hull: precision lost")
			return hull, true
		}
	}

	if bbox, err := p.Geom.BoundingBox(ctx, wkt); err == nil {
		if ok, _ := p.Geom.IsValid(ctx, bbox); ok {
			p.Logger.Warn("repair ladder fell back to bounding box: precision lost")
			return bbox, true
		}
	}

	return "", false
}

// reproject picks the optimal metric CRS for the layer's extent and
// transforms every geometry into it.
func (p *Preparer) reproject(ctx context.Context, layer domain.LayerDescriptor, wkts []string) ([]string, int, error) {
	target, err := p.Proc.OptimalMetricCRS(ctx, domain.Extent{SRID: layer.CRS.SRID})
	if err != nil {
		return nil, 0, err
	}

	out := make([]string, len(wkts))
	for i, wkt := range wkts {
		reprojected, err := p.Proc.ReprojectGeometry(ctx, wkt, layer.CRS.SRID, target.SRID)
		if err != nil {
			return nil, 0, err
		}
		out[i] = reprojected
	}
	return out, target.SRID, nil
}

// bufferAll applies the buffer algorithm to every geometry, falling back to
// per-feature buffer when the host's native union path produces nothing.
func (p *Preparer) bufferAll(
	ctx context.Context,
	wkts []string,
	layer domain.LayerDescriptor,
	params domain.BufferParams,
	features []domain.Feature,
) ([]string, int, error) {
	distance := params.Distance
	if params.IsDynamic() && len(features) > 0 {
		distance = evaluateBufferExpression(params.DistanceExpression, features[0])
	}

	if layer.CRSIsGeographic && math.Abs(distance) > 1 {
		return nil, 0, &domain.GeometryPreparationError{
			SourceLayerID: layer.LayerID,
			Reason: fmt.Sprintf(
				"buffer distance %.2f is in degrees (source CRS is geographic); reproject to a metric CRS before buffering",
				distance,
			),
		}
	}

	resolved := params
	resolved.Distance = distance

	erodedCount := 0
	out := make([]string, 0, len(wkts))
	for _, wkt := range wkts {
		buffered, err := p.Geom.Buffer(ctx, wkt, resolved)
		if err != nil || buffered == "" {
			if distance < 0 {
				erodedCount++
				continue
			}
			return nil, 0, &domain.GeometryPreparationError{SourceLayerID: layer.LayerID, Reason: "buffer produced an empty result", Err: err}
		}
		out = append(out, buffered)
	}

	if len(out) > 1 {
		unioned, err := p.Geom.Union(ctx, out)
		if err == nil && unioned != "" {
			gt, _ := p.Geom.GeometryType(ctx, unioned)
			// A GeometryCollection is not coerced: it is passed on as-is,
			// non-polygon parts included.
			if gt == domain.GeomGeometryCollection {
				p.Logger.Info("buffer union produced a GeometryCollection; passing it on unchanged")
			}
			out = []string{unioned}
		}
	}

	return out, erodedCount, nil
}

func evaluateBufferExpression(expr string, f domain.Feature) float64 {
	for key, v := range f.Properties {
		if strings.Contains(expr, key) {
			if fv, ok := v.(float64); ok {
				return fv
			}
		}
	}
	return 0
}

// simplifyToBudget implements the adaptive simplification algorithm of
// §4.3.2: an initial tolerance derived from the buffer geometry or extent,
// doubled over successive rounds, with hull/bbox fallbacks if the budget is
// still not met.
func (p *Preparer) simplifyToBudget(ctx context.Context, wkt string, layer domain.LayerDescriptor, buffer domain.BufferParams) (string, bool, error) {
	target := p.Thresh.MaxWKTLength
	current := len(wkt)
	reductionRatio := float64(target) / float64(current)

	tolerance := initialTolerance(layer, buffer, reductionRatio)

	best := wkt
	bestLen := current
	originalType, _ := p.Geom.GeometryType(ctx, wkt)

	for attempt := 0; attempt < 15; attempt++ {
		simplified, err := p.Geom.Simplify(ctx, wkt, tolerance)
		if err == nil && simplified != "" {
			gt, _ := p.Geom.GeometryType(ctx, simplified)
			if gt == originalType || gt == "" {
				if len(simplified) < bestLen {
					best = simplified
					bestLen = len(simplified)
				}
				if len(simplified) <= target {
					return simplified, true, nil
				}
			}
		}
		tolerance *= 2
	}

	if hull, err := p.Geom.ConvexHull(ctx, wkt); err == nil {
		if len(hull) <= target {
			return hull, true, nil
		}
		if len(hull) < bestLen {
			best, bestLen = hull, len(hull)
		}
	}

	if bbox, err := p.Geom.BoundingBox(ctx, wkt); err == nil {
		if len(bbox) <= target {
			return bbox, true, nil
		}
		if len(bbox) < bestLen {
			best, bestLen = bbox, len(bbox)
		}
	}

	return best, bestLen <= target, nil
}

func initialTolerance(layer domain.LayerDescriptor, buffer domain.BufferParams, reductionRatio float64) float64 {
	var base float64

	if !buffer.IsZero() {
		segments := buffer.Segments
		if segments <= 0 {
			segments = 8
		}
		maxArcError := math.Abs(buffer.Distance) * (1 - math.Cos((math.Pi/(2*float64(segments)))/2))
		if buffer.EndCap == domain.EndCapFlat || buffer.EndCap == domain.EndCapSquare {
			maxArcError *= 2
		}
		base = maxArcError
	} else {
		extentSize := 1000.0 // conservative default absent a real extent
		if layer.CRSIsGeographic {
			base = extentSize * 0.0001
		} else {
			base = extentSize * 0.001
		}
	}

	severity := reductionSeverityFactor(reductionRatio)
	tolerance := base * severity

	minTolerance := 1e-6
	maxTolerance := 1e6
	if reductionRatio < 0.01 {
		maxTolerance *= 10
	}

	if tolerance < minTolerance {
		tolerance = minTolerance
	}
	if tolerance > maxTolerance {
		tolerance = maxTolerance
	}
	return tolerance
}

func reductionSeverityFactor(reductionRatio float64) float64 {
	switch {
	case reductionRatio < 0.01:
		return 50
	case reductionRatio < 0.05:
		return 20
	case reductionRatio < 0.10:
		return 10
	case reductionRatio < 0.50:
		return 5
	default:
		return 2
	}
}

// FormatWKTPrecision truncates (does not round) coordinate literals in wkt
// to the CRS-appropriate decimal count (thresh.WKTPrecisionGeographic or
// thresh.WKTPrecisionProjected; 8 and 3 in the default config). Kept
// simple: it only reformats plain decimal numbers, sufficient for the
// WKT this package itself produces.
func FormatWKTPrecision(wkt string, geographic bool, thresh Thresholds) string {
	precision := thresh.WKTPrecisionProjected
	if geographic {
		precision = thresh.WKTPrecisionGeographic
	}
	return roundNumbersInText(wkt, precision)
}

func roundNumbersInText(s string, precision int) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '-' || (c >= '0' && c <= '9') {
			j := i
			if s[j] == '-' {
				j++
			}
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			token := s[i:j]
			b.WriteString(roundToken(token, precision))
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func roundToken(token string, precision int) string {
	dot := strings.IndexByte(token, '.')
	if dot < 0 {
		return token
	}
	frac := token[dot+1:]
	if len(frac) <= precision {
		return token
	}
	return token[:dot+1+precision]
}

// SortedFeatureIDs returns a stable sort of feature ids, used to build
// deterministic content hashes for MV naming.
func SortedFeatureIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
