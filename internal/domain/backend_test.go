package domain

import "testing"

func TestLayerDescriptorQualifiedTable(t *testing.T) {
	tests := []struct {
		name string
		d    LayerDescriptor
		want string
	}{
		{
			name: "postgresql with schema",
			d:    LayerDescriptor{Schema: "public", Table: "parcels"},
			want: `"public"."parcels"`,
		},
		{
			name: "spatialite without schema",
			d:    LayerDescriptor{Table: "parcels"},
			want: `"parcels"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.QualifiedTable(); got != tt.want {
				t.Errorf("QualifiedTable() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLayerDescriptorHasField(t *testing.T) {
	d := LayerDescriptor{FieldNames: []string{"name", "population"}}

	if !d.HasField("population") {
		t.Error("expected HasField(population) = true")
	}
	if d.HasField("missing") {
		t.Error("expected HasField(missing) = false")
	}
}
