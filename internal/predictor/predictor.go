// Package predictor wraps a pre-trained price regression artifact behind a
// single inference call.
package predictor

import (
	"context"
	"errors"
)

var (
	// ErrModelUnavailable is returned when the artifact is missing or cannot be decoded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrSchemaMismatch is returned when the artifact cannot encode a request,
	// such as a categorical level it was never trained on.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInference covers every other inference failure, including timeouts.
	ErrInference = errors.New("inference error")
)

// Feature column names in the order the artifact was trained on.
const (
	FeatureName      = "name"
	FeatureCompany   = "company"
	FeatureYear      = "year"
	FeatureKmsDriven = "kms_driven"
	FeatureFuelType  = "fuel_type"
)

// Schema is the canonical feature order every artifact must declare.
var Schema = []string{FeatureName, FeatureCompany, FeatureYear, FeatureKmsDriven, FeatureFuelType}

// Request is a single feature record.
type Request struct {
	Name      string `json:"name"`
	Company   string `json:"company"`
	Year      int    `json:"year"`
	KmsDriven int    `json:"kms_driven"`
	FuelType  string `json:"fuel_type"`
}

// Predictor maps a feature record to a price estimate. Implementations must
// be safe for concurrent use and deterministic for a fixed artifact.
type Predictor interface {
	Predict(ctx context.Context, req Request) (float64, error)
}

// PredictorFunc adapts a plain function to the Predictor interface.
type PredictorFunc func(ctx context.Context, req Request) (float64, error)

func (f PredictorFunc) Predict(ctx context.Context, req Request) (float64, error) {
	return f(ctx, req)
}

func (r Request) categorical(feature string) string {
	switch feature {
	case FeatureName:
		return r.Name
	case FeatureCompany:
		return r.Company
	case FeatureFuelType:
		return r.FuelType
	}
	return ""
}

func (r Request) numeric(feature string) float64 {
	switch feature {
	case FeatureYear:
		return float64(r.Year)
	case FeatureKmsDriven:
		return float64(r.KmsDriven)
	}
	return 0
}
