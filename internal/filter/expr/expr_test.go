package expr

import (
	"testing"

	"github.com/filtergeist/filtergeist/internal/domain"
)

func testLayer() domain.LayerDescriptor {
	return domain.LayerDescriptor{
		LayerID:           "parcels-1",
		Backend:           domain.BackendPostgreSQL,
		Schema:            "public",
		Table:             "parcels",
		GeometryColumn:    "geom",
		PrimaryKey:        "id",
		PrimaryKeyNumeric: true,
		FieldNames:        []string{"Status", "Owner_Name"},
	}
}

func TestQualifyFieldsPostgreSQL(t *testing.T) {
	layer := testLayer()
	got := QualifyFields(`"Status" = 'active'`, domain.DialectPostgreSQL, "parcels", layer)
	want := `"parcels"."Status" = 'active'`
	if got != want {
		t.Errorf("QualifyFields() = %q, want %q", got, want)
	}
}

func TestQualifyFieldsOGRUnqualifiesFid(t *testing.T) {
	got := QualifyFields(`"fid" = 1`, domain.DialectOGR, "parcels", testLayer())
	want := `fid = 1`
	if got != want {
		t.Errorf("QualifyFields() = %q, want %q", got, want)
	}
}

func TestQualifyFieldsSpatiaLiteUnchanged(t *testing.T) {
	input := `"Status" = 'active'`
	got := QualifyFields(input, domain.DialectSpatiaLite, "parcels", testLayer())
	if got != input {
		t.Errorf("QualifyFields() = %q, want unchanged %q", got, input)
	}
}

func TestNormalizeFieldCase(t *testing.T) {
	got := NormalizeFieldCase(`"status" = 'active'`, []string{"Status", "Owner_Name"})
	want := `"Status" = 'active'`
	if got != want {
		t.Errorf("NormalizeFieldCase() = %q, want %q", got, want)
	}
}

func TestTranslateGeometryFunctionsPostgreSQL(t *testing.T) {
	got := TranslateGeometryFunctions(`intersects("geom", "other")`, domain.DialectPostgreSQL)
	want := `ST_Intersects("geom", "other")`
	if got != want {
		t.Errorf("TranslateGeometryFunctions() = %q, want %q", got, want)
	}
}

func TestTranslateGeometryFunctionsSpatiaLiteUnchanged(t *testing.T) {
	input := `intersects("geom", "other")`
	got := TranslateGeometryFunctions(input, domain.DialectSpatiaLite)
	if got != input {
		t.Errorf("TranslateGeometryFunctions() = %q, want unchanged", got)
	}
}

func TestBuildNumericFeatureIDExpressionPostgreSQL(t *testing.T) {
	layer := testLayer()
	got := BuildNumericFeatureIDExpression([]int64{1, 2, 3}, layer, domain.DialectPostgreSQL)
	want := `"parcels"."id" IN (1,2,3)`
	if got != want {
		t.Errorf("BuildNumericFeatureIDExpression() = %q, want %q", got, want)
	}
}

func TestBuildNumericFeatureIDExpressionOGRFid(t *testing.T) {
	layer := testLayer()
	layer.PrimaryKey = "fid"
	got := BuildNumericFeatureIDExpression([]int64{1, 2}, layer, domain.DialectOGR)
	want := `fid IN (1,2)`
	if got != want {
		t.Errorf("BuildNumericFeatureIDExpression() = %q, want %q", got, want)
	}
}

func TestDefaultPKFormatterTextual(t *testing.T) {
	got := DefaultPKFormatter([]string{"a", "o'brien"}, false)
	want := `'a','o''brien'`
	if got != want {
		t.Errorf("DefaultPKFormatter() = %q, want %q", got, want)
	}
}

func TestCombineWithPriorReplace(t *testing.T) {
	got, err := CombineWithPrior(`"a" = 1`, `"b" = 2`, domain.CombineReplace)
	if err != nil {
		t.Fatalf("CombineWithPrior() error = %v", err)
	}
	if got != `"a" = 1` {
		t.Errorf("CombineWithPrior() = %q", got)
	}
}

func TestCombineWithPriorNoWhereToken(t *testing.T) {
	got, err := CombineWithPrior(`"a" = 1`, `"b" = 2`, domain.CombineAnd)
	if err != nil {
		t.Fatalf("CombineWithPrior() error = %v", err)
	}
	want := `("b" = 2) AND ("a" = 1)`
	if got != want {
		t.Errorf("CombineWithPrior() = %q, want %q", got, want)
	}
}

func TestCombineWithPriorWithWhereToken(t *testing.T) {
	got, err := CombineWithPrior(`"a" = 1`, `SELECT * FROM t WHERE "b" = 2`, domain.CombineOr)
	if err != nil {
		t.Fatalf("CombineWithPrior() error = %v", err)
	}
	want := `SELECT * FROM t WHERE "b" = 2 OR "a" = 1`
	if got != want {
		t.Errorf("CombineWithPrior() = %q, want %q", got, want)
	}
}

func TestCombineWithPriorEmptyOld(t *testing.T) {
	got, err := CombineWithPrior(`"a" = 1`, "", domain.CombineAnd)
	if err != nil {
		t.Fatalf("CombineWithPrior() error = %v", err)
	}
	if got != `"a" = 1` {
		t.Errorf("CombineWithPrior() = %q", got)
	}
}
