package form

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/carprice/internal/catalog"
	"github.com/kalambet/carprice/internal/metrics"
	"github.com/kalambet/carprice/internal/predictor"
)

// Catalog is the read-only view of the dataset the controller needs.
type Catalog interface {
	Companies() []string
	FuelTypes() []string
	Years() []int
	ModelsForCompany(company string) []string
	HasCompany(company string) bool
	HasModel(company, name string) bool
	HasFuelType(fuelType string) bool
	HasYear(year int) bool
}

// Deps holds the controller's shared, read-only collaborators.
type Deps struct {
	Catalog   Catalog
	Predictor predictor.Predictor
	Currency  string           // defaults to DefaultCurrency
	Metrics   *metrics.Metrics // optional
}

// Controller applies form events. It holds no per-session state and is safe
// for concurrent use.
type Controller struct {
	catalog   Catalog
	predictor predictor.Predictor
	currency  string
	metrics   *metrics.Metrics
}

func NewController(deps Deps) *Controller {
	currency := deps.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Controller{
		catalog:   deps.Catalog,
		predictor: deps.Predictor,
		currency:  currency,
		metrics:   deps.Metrics,
	}
}

// Initial returns the state of a fresh session: the first company and its
// first model, the first fuel type, the most recent year and zero kilometers.
func (c *Controller) Initial() State {
	s := State{Phase: PhaseSelecting}

	if companies := c.catalog.Companies(); len(companies) > 0 {
		s.Selection.Company = companies[0]
	}
	s.Models = c.catalog.ModelsForCompany(s.Selection.Company)
	if len(s.Models) > 0 {
		s.Selection.Model = s.Models[0]
	}
	if fuels := c.catalog.FuelTypes(); len(fuels) > 0 {
		s.Selection.FuelType = fuels[0]
	}
	if years := c.catalog.Years(); len(years) > 0 {
		s.Selection.Year = years[0]
	}
	return s
}

// Apply returns the state that follows s after ev.
func (c *Controller) Apply(ctx context.Context, s State, ev Event) State {
	label := string(ev.Kind)
	if !ev.Kind.Known() {
		label = metrics.EventUnknown
	}
	c.metrics.IncrementFormEvent(label)

	if ev.Kind == Predict {
		return c.predict(ctx, s)
	}

	next := s
	next.Phase = PhaseSelecting
	next.Result = nil
	next.Notice = nil

	switch ev.Kind {
	case SelectCompany:
		next.Selection.Company = ev.Value
		next.Models = c.catalog.ModelsForCompany(ev.Value)
		if !slices.Contains(next.Models, next.Selection.Model) {
			next.Selection.Model = ""
			if len(next.Models) > 0 {
				next.Selection.Model = next.Models[0]
			}
		}
	case SelectModel:
		if !slices.Contains(s.Models, ev.Value) {
			next.Notice = validationNotice(&ValidationError{
				Field:  "name",
				Reason: fmt.Sprintf("%q is not a %s model", ev.Value, s.Selection.Company),
			})
			break
		}
		next.Selection.Model = ev.Value
	case SelectFuelType:
		next.Selection.FuelType = ev.Value
	case SelectYear:
		year, err := strconv.Atoi(strings.TrimSpace(ev.Value))
		if err != nil {
			next.Notice = validationNotice(&ValidationError{Field: "year", Reason: "must be a whole number"})
			break
		}
		next.Selection.Year = year
	case SetKmsDriven:
		kms, err := strconv.Atoi(strings.TrimSpace(ev.Value))
		if err != nil {
			next.Notice = validationNotice(&ValidationError{Field: "kms_driven", Reason: "must be a whole number"})
			break
		}
		next.Selection.KmsDriven = kms
	default:
		next.Notice = validationNotice(&ValidationError{Field: "event", Reason: fmt.Sprintf("%q is not supported", ev.Kind)})
	}
	return next
}

// Events turns a full form submission into the change events that lead from
// s to sel. Company comes first so the model list is narrowed before a model
// is chosen; unchanged fields produce no event.
func (c *Controller) Events(s State, sel Selection) []Event {
	var events []Event
	if sel.Company != s.Selection.Company {
		events = append(events, Event{Kind: SelectCompany, Value: sel.Company})
	}
	if sel.Model != "" && sel.Model != s.Selection.Model {
		events = append(events, Event{Kind: SelectModel, Value: sel.Model})
	}
	if sel.FuelType != s.Selection.FuelType {
		events = append(events, Event{Kind: SelectFuelType, Value: sel.FuelType})
	}
	if sel.Year != s.Selection.Year {
		events = append(events, Event{Kind: SelectYear, Value: strconv.Itoa(sel.Year)})
	}
	if sel.KmsDriven != s.Selection.KmsDriven {
		events = append(events, Event{Kind: SetKmsDriven, Value: strconv.Itoa(sel.KmsDriven)})
	}
	return events
}

// Submit applies events in order and, if predict is set, finishes with a
// Predict event. A field event that was rejected skips the prediction and
// its notice is kept.
func (c *Controller) Submit(ctx context.Context, s State, events []Event, predict bool) State {
	var rejected *Notice
	for _, ev := range events {
		s = c.Apply(ctx, s, ev)
		if s.Notice != nil {
			rejected = s.Notice
		}
	}
	if rejected != nil {
		s.Notice = rejected
		return s
	}
	if predict {
		s = c.Apply(ctx, s, Event{Kind: Predict})
	}
	return s
}

func (c *Controller) predict(ctx context.Context, s State) State {
	next := s
	next.Result = nil
	next.Notice = nil

	est, err := c.Estimate(ctx, s.Selection)
	if err != nil {
		next.Phase = PhaseSelecting
		next.Notice = noticeFor(err)
		return next
	}

	next.Phase = PhaseResult
	next.Result = &est
	return next
}

// Estimate validates sel and asks the predictor for a price. It is the
// stateless path shared by the form, the JSON API and the MCP tools.
func (c *Controller) Estimate(ctx context.Context, sel Selection) (Estimate, error) {
	if err := c.Validate(sel); err != nil {
		c.metrics.IncrementPrediction(metrics.OutcomeValidation)
		return Estimate{}, err
	}

	start := time.Now()
	price, err := c.predictor.Predict(ctx, sel.Request())
	c.metrics.ObserveInference(time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, predictor.ErrSchemaMismatch):
			c.metrics.IncrementPrediction(metrics.OutcomeSchemaMismatch)
		default:
			c.metrics.IncrementPrediction(metrics.OutcomeInference)
		}
		slog.Warn("prediction failed", "company", sel.Company, "model", sel.Model, "error", err)
		return Estimate{}, err
	}

	c.metrics.IncrementPrediction(metrics.OutcomeSuccess)
	return Estimate{
		Amount:  roundCents(price),
		Display: FormatPrice(c.currency, price),
	}, nil
}

func validationNotice(err *ValidationError) *Notice {
	return &Notice{Kind: NoticeValidation, Message: err.Error()}
}

func noticeFor(err error) *Notice {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return validationNotice(verr)
	case errors.Is(err, predictor.ErrSchemaMismatch):
		return &Notice{Kind: NoticeSchemaMismatch, Message: "The model cannot price this car: " + err.Error()}
	case errors.Is(err, predictor.ErrModelUnavailable):
		return &Notice{Kind: NoticeModelUnavailable, Message: "The price model is unavailable: " + err.Error()}
	case errors.Is(err, catalog.ErrDataUnavailable):
		return &Notice{Kind: NoticeDataUnavailable, Message: "The car catalog is unavailable: " + err.Error()}
	default:
		return &Notice{Kind: NoticeInference, Message: "Prediction failed: " + err.Error()}
	}
}
