// Package form drives the price prediction form: it keeps dependent
// selections consistent, validates them, and turns a confirmed selection into
// a predictor request.
package form

import "github.com/kalambet/carprice/internal/predictor"

// Phase is the externally visible state of a form session.
type Phase string

const (
	// PhaseSelecting is the initial and steady state.
	PhaseSelecting Phase = "selecting"
	// PhaseResult is entered after a successful prediction and left on the
	// next field change.
	PhaseResult Phase = "result"
)

// EventKind names a user action.
type EventKind string

const (
	SelectCompany  EventKind = "select_company"
	SelectModel    EventKind = "select_model"
	SelectFuelType EventKind = "select_fuel_type"
	SelectYear     EventKind = "select_year"
	SetKmsDriven   EventKind = "set_kms_driven"
	Predict        EventKind = "predict"
)

// Known reports whether k is one of the event kinds the controller handles.
func (k EventKind) Known() bool {
	switch k {
	case SelectCompany, SelectModel, SelectFuelType, SelectYear, SetKmsDriven, Predict:
		return true
	}
	return false
}

// Event is a single user action. Value carries the raw input for field
// changes and is ignored for Predict.
type Event struct {
	Kind  EventKind `json:"kind"`
	Value string    `json:"value,omitempty"`
}

// NoticeKind classifies a message shown to the user.
type NoticeKind string

const (
	NoticeValidation       NoticeKind = "validation_error"
	NoticeSchemaMismatch   NoticeKind = "schema_mismatch"
	NoticeInference        NoticeKind = "inference_error"
	NoticeModelUnavailable NoticeKind = "model_unavailable"
	NoticeDataUnavailable  NoticeKind = "data_unavailable"
)

// Notice is a message for the current attempt. It never outlives the next
// event.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Selection holds the five form fields.
type Selection struct {
	Company   string `json:"company" validate:"required"`
	Model     string `json:"name" validate:"required"`
	FuelType  string `json:"fuel_type" validate:"required"`
	Year      int    `json:"year" validate:"required"`
	KmsDriven int    `json:"kms_driven" validate:"gte=0"`
}

// Request converts the selection into the predictor's feature record.
func (s Selection) Request() predictor.Request {
	return predictor.Request{
		Name:      s.Model,
		Company:   s.Company,
		Year:      s.Year,
		KmsDriven: s.KmsDriven,
		FuelType:  s.FuelType,
	}
}

// Estimate is a formatted prediction.
type Estimate struct {
	Amount  float64 `json:"amount"`
	Display string  `json:"display"`
}

// State is one session's complete form state. States are values: every
// transition returns a new State and never mutates its input.
type State struct {
	Phase     Phase     `json:"phase"`
	Selection Selection `json:"selection"`
	// Models lists the selectable models for Selection.Company.
	Models []string  `json:"models"`
	Result *Estimate `json:"result,omitempty"`
	Notice *Notice   `json:"notice,omitempty"`
}
