package predictor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var swift = Request{Name: "Swift", Company: "Maruti", Year: 2015, KmsDriven: 30000, FuelType: "Petrol"}

func loadModel(t *testing.T, name string) *LinearModel {
	t.Helper()
	m, err := Load(filepath.Join("testdata", name))
	require.NoError(t, err)
	return m
}

func TestLinearModel_Predict(t *testing.T) {
	m := loadModel(t, "model.json")

	got, err := m.Predict(context.Background(), swift)
	require.NoError(t, err)
	assert.Equal(t, 430000.0, got)
}

func TestLinearModel_Deterministic(t *testing.T) {
	m := loadModel(t, "model.json")

	first, err := m.Predict(context.Background(), swift)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := m.Predict(context.Background(), swift)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestLinearModel_UnknownLevel(t *testing.T) {
	m := loadModel(t, "model.json")

	req := swift
	req.FuelType = "Electric"
	_, err := m.Predict(context.Background(), req)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), `unknown fuel_type "Electric"`)
}

func TestLinearModel_IgnoreUnknownFromYAML(t *testing.T) {
	m := loadModel(t, "model.yaml")

	req := swift
	req.FuelType = "Electric"
	got, err := m.Predict(context.Background(), req)
	require.NoError(t, err)
	// Same as Petrol, whose coefficient is zero.
	assert.Equal(t, 430000.0, got)
}

func TestLinearModel_CancelledContext(t *testing.T) {
	m := loadModel(t, "model.json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Predict(ctx, swift)
	assert.ErrorIs(t, err, ErrInference)
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join("testdata", "nope.json")},
		{"corrupt", filepath.Join("testdata", "corrupt.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			assert.ErrorIs(t, err, ErrModelUnavailable)
		})
	}
}

func TestParse_SchemaChecks(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name: "wrong feature order",
			doc: `{"features":["company","name","year","kms_driven","fuel_type"],
				"numeric":{"year":1,"kms_driven":1},
				"categorical":{"name":{"a":1},"company":{"b":1},"fuel_type":{"c":1}}}`,
			wantMsg: "do not match schema",
		},
		{
			name: "missing numeric coefficient",
			doc: `{"features":["name","company","year","kms_driven","fuel_type"],
				"numeric":{"year":1},
				"categorical":{"name":{"a":1},"company":{"b":1},"fuel_type":{"c":1}}}`,
			wantMsg: "missing numeric coefficient for kms_driven",
		},
		{
			name: "unknown kind",
			doc: `{"kind":"random_forest","features":["name","company","year","kms_driven","fuel_type"],
				"numeric":{"year":1,"kms_driven":1},
				"categorical":{"name":{"a":1},"company":{"b":1},"fuel_type":{"c":1}}}`,
			wantMsg: `unsupported artifact kind "random_forest"`,
		},
		{
			name: "unexpected field",
			doc: `{"features":["name","company","year","kms_driven","fuel_type"],"scaler":{}}`,
			wantMsg: "decoding artifact",
		},
		{
			name: "bad handle_unknown",
			doc: `{"features":["name","company","year","kms_driven","fuel_type"],
				"numeric":{"year":1,"kms_driven":1},
				"categorical":{"name":{"a":1},"company":{"b":1},"fuel_type":{"c":1}},
				"handle_unknown":"guess"}`,
			wantMsg: `invalid handle_unknown "guess"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrModelUnavailable)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLevels(t *testing.T) {
	m := loadModel(t, "model.json")
	assert.Equal(t, []string{"Diesel", "Petrol"}, m.Levels(FeatureFuelType))
	assert.Empty(t, m.Levels("colour"))
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	m := loadModel(t, "model.json")
	p := WithTimeout(m, time.Second)

	got, err := p.Predict(context.Background(), swift)
	require.NoError(t, err)
	assert.Equal(t, 430000.0, got)
}

func TestWithTimeout_UnresponsivePredictor(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := PredictorFunc(func(ctx context.Context, _ Request) (float64, error) {
		<-release
		return 1, nil
	})

	p := WithTimeout(stuck, 20*time.Millisecond)
	_, err := p.Predict(context.Background(), swift)
	require.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_PanicBecomesInferenceError(t *testing.T) {
	boom := PredictorFunc(func(context.Context, Request) (float64, error) {
		panic("coefficients exploded")
	})

	_, err := WithTimeout(boom, time.Second).Predict(context.Background(), swift)
	require.ErrorIs(t, err, ErrInference)
	assert.Contains(t, err.Error(), "coefficients exploded")
}

func TestWithTimeout_PreservesErrorKind(t *testing.T) {
	mismatch := PredictorFunc(func(context.Context, Request) (float64, error) {
		return 0, ErrSchemaMismatch
	})

	_, err := WithTimeout(mismatch, time.Second).Predict(context.Background(), swift)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestWithTimeout_ZeroDisables(t *testing.T) {
	m := loadModel(t, "model.json")
	assert.Same(t, Predictor(m), WithTimeout(m, 0))
}
