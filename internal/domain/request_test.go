package domain

import "testing"

func TestFilterRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     FilterRequest
		wantErr bool
	}{
		{
			name: "valid filter request",
			req: FilterRequest{
				Action:        ActionFilter,
				SourceLayerID: "parcels",
				Selection:     Selection{Kind: SelectionAllVisible},
			},
			wantErr: false,
		},
		{
			name: "filter without source layer",
			req: FilterRequest{
				Action:    ActionFilter,
				Selection: Selection{Kind: SelectionAllVisible},
			},
			wantErr: true,
		},
		{
			name: "missing selection",
			req: FilterRequest{
				Action:        ActionFilter,
				SourceLayerID: "parcels",
			},
			wantErr: true,
		},
		{
			name: "unfilter without source layer is allowed",
			req: FilterRequest{
				Action:    ActionUnfilter,
				Selection: Selection{Kind: SelectionAllVisible},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBufferParamsIsZero(t *testing.T) {
	if !(BufferParams{}).IsZero() {
		t.Error("empty BufferParams should be zero")
	}
	if (BufferParams{Distance: 10}).IsZero() {
		t.Error("BufferParams with distance should not be zero")
	}
	if (BufferParams{DistanceExpression: "field * 2"}).IsZero() {
		t.Error("BufferParams with a distance expression should not be zero")
	}
}

func TestBufferParamsIsDynamic(t *testing.T) {
	if (BufferParams{Distance: 10}).IsDynamic() {
		t.Error("fixed distance buffer should not be dynamic")
	}
	if !(BufferParams{DistanceExpression: "field"}).IsDynamic() {
		t.Error("expression-driven buffer should be dynamic")
	}
}
