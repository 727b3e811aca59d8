package predictor

import (
	"context"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	unknownError  = "error"
	unknownIgnore = "ignore"
)

// artifact is the on-disk form of an exported linear regression pipeline:
// one-hot encoded categorical columns, passthrough numeric columns and an
// intercept. JSON and YAML encodings are both accepted.
type artifact struct {
	Kind          string                        `json:"kind"`
	Features      []string                      `json:"features"`
	Intercept     float64                       `json:"intercept"`
	Numeric       map[string]float64            `json:"numeric"`
	Categorical   map[string]map[string]float64 `json:"categorical"`
	HandleUnknown string                        `json:"handle_unknown,omitempty"`
}

// LinearModel evaluates a linear regression artifact. It is immutable after
// Load and safe for concurrent use.
type LinearModel struct {
	intercept     float64
	numeric       map[string]float64
	categorical   map[string]map[string]float64
	ignoreUnknown bool
}

// Load reads and decodes the artifact at path.
func Load(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes an artifact from its JSON or YAML encoding.
func Parse(data []byte) (*LinearModel, error) {
	var a artifact
	if err := yaml.UnmarshalStrict(data, &a); err != nil {
		return nil, fmt.Errorf("%w: decoding artifact: %v", ErrModelUnavailable, err)
	}
	if err := a.check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	m := &LinearModel{
		intercept:     a.Intercept,
		numeric:       make(map[string]float64, len(a.Numeric)),
		categorical:   make(map[string]map[string]float64, len(a.Categorical)),
		ignoreUnknown: a.HandleUnknown == unknownIgnore,
	}
	for k, v := range a.Numeric {
		m.numeric[k] = v
	}
	for feature, levels := range a.Categorical {
		cp := make(map[string]float64, len(levels))
		for level, coef := range levels {
			cp[level] = coef
		}
		m.categorical[feature] = cp
	}
	return m, nil
}

func (a artifact) check() error {
	if a.Kind != "" && a.Kind != "linear_regression" {
		return fmt.Errorf("unsupported artifact kind %q", a.Kind)
	}
	if !slices.Equal(a.Features, Schema) {
		return fmt.Errorf("artifact features [%s] do not match schema [%s]",
			strings.Join(a.Features, ", "), strings.Join(Schema, ", "))
	}
	switch a.HandleUnknown {
	case "", unknownError, unknownIgnore:
	default:
		return fmt.Errorf("invalid handle_unknown %q", a.HandleUnknown)
	}

	for _, f := range []string{FeatureYear, FeatureKmsDriven} {
		if _, ok := a.Numeric[f]; !ok {
			return fmt.Errorf("missing numeric coefficient for %s", f)
		}
	}
	for _, f := range []string{FeatureName, FeatureCompany, FeatureFuelType} {
		if len(a.Categorical[f]) == 0 {
			return fmt.Errorf("missing categorical levels for %s", f)
		}
	}
	for f := range a.Numeric {
		if f != FeatureYear && f != FeatureKmsDriven {
			return fmt.Errorf("unexpected numeric feature %q", f)
		}
	}
	for f := range a.Categorical {
		if f != FeatureName && f != FeatureCompany && f != FeatureFuelType {
			return fmt.Errorf("unexpected categorical feature %q", f)
		}
	}
	return nil
}

// Predict returns intercept + numeric terms + the coefficient of each
// categorical level present in req.
func (m *LinearModel) Predict(ctx context.Context, req Request) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInference, err)
	}

	y := m.intercept
	for _, f := range []string{FeatureYear, FeatureKmsDriven} {
		y += m.numeric[f] * req.numeric(f)
	}
	for _, f := range []string{FeatureName, FeatureCompany, FeatureFuelType} {
		level := req.categorical(f)
		coef, ok := m.categorical[f][level]
		if !ok {
			if m.ignoreUnknown {
				continue
			}
			return 0, fmt.Errorf("%w: unknown %s %q", ErrSchemaMismatch, f, level)
		}
		y += coef
	}

	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("%w: non-finite prediction", ErrInference)
	}
	return y, nil
}

// Levels returns the categorical levels the artifact can encode for feature,
// sorted ascending.
func (m *LinearModel) Levels(feature string) []string {
	levels := make([]string, 0, len(m.categorical[feature]))
	for l := range m.categorical[feature] {
		levels = append(levels, l)
	}
	slices.Sort(levels)
	return levels
}
