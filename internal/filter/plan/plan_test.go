package plan

import (
	"testing"

	"github.com/filtergeist/filtergeist/internal/domain"
)

func TestDecomposeEmptyExpression(t *testing.T) {
	if got := Decompose("", 1000, DefaultThresholds()); got != nil {
		t.Errorf("expected nil for empty expression, got %v", got)
	}
}

func TestDecomposeSimpleExpressionSingleStep(t *testing.T) {
	steps := Decompose(`"population" > 10000`, 1000, DefaultThresholds())
	if len(steps) != 1 {
		t.Fatalf("expected single step, got %d", len(steps))
	}
	if steps[0].OperationType != domain.OperationAttribute {
		t.Errorf("expected attribute classification, got %q", steps[0].OperationType)
	}
}

func TestDecomposeSpatialFirst(t *testing.T) {
	expr := `"population" > 10000 AND ST_Intersects($geometry, geom)`
	steps := Decompose(expr, 1000, DefaultThresholds())
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %+v", len(steps), steps)
	}
	if steps[0].OperationType != domain.OperationSpatial {
		t.Errorf("expected spatial step first, got %q", steps[0].OperationType)
	}
	if steps[1].OperationType != domain.OperationAttribute {
		t.Errorf("expected attribute step second, got %q", steps[1].OperationType)
	}
	if steps[0].StepNumber != 1 || steps[1].StepNumber != 2 {
		t.Errorf("unexpected step numbering: %+v", steps)
	}
}

func TestDecomposeComplexAttributeRoutedToPostProcess(t *testing.T) {
	expr := `ST_Intersects($geometry, geom) AND upper("name") = 'PARIS'`
	steps := Decompose(expr, 1000, DefaultThresholds())
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %+v", len(steps), steps)
	}
	if steps[1].OperationType != domain.OperationPostProcess {
		t.Errorf("expected post_process for upper(), got %q", steps[1].OperationType)
	}
}

func TestDecomposeCascadesRemainingFeatureCount(t *testing.T) {
	expr := `"a" > 1 AND ST_Intersects($geometry, geom) AND "b" < 2`
	th := DefaultThresholds()
	steps := Decompose(expr, 1000, th)
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d: %+v", len(steps), steps)
	}
	if steps[0].OperationType != domain.OperationSpatial {
		t.Errorf("expected spatial step ordered first, got %+v", steps[0])
	}
	// spatial step costs against the full 1000, later steps estimate against
	// the shrunk remainder.
	if steps[0].EstimatedCostMS <= steps[1].EstimatedCostMS {
		t.Errorf("expected spatial step (on full count) to cost more than a later attribute step on a shrunk count: %+v", steps)
	}
}

func TestDecomposeMultiplePredicatesOfSameTypeAllExtracted(t *testing.T) {
	expr := `"a" > 1 AND "b" < 2 AND "c" = 3`
	steps := Decompose(expr, 1000, DefaultThresholds())
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d: %+v", len(steps), steps)
	}
	for _, s := range steps {
		if s.OperationType != domain.OperationAttribute {
			t.Errorf("expected all attribute steps, got %q", s.OperationType)
		}
	}
}
