package form

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/carprice/internal/catalog"
	"github.com/kalambet/carprice/internal/metrics"
	"github.com/kalambet/carprice/internal/predictor"
)

// recordingPredictor returns a fixed price and remembers every request.
type recordingPredictor struct {
	mu       sync.Mutex
	price    float64
	err      error
	requests []predictor.Request
}

func (p *recordingPredictor) Predict(_ context.Context, req predictor.Request) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.price, p.err
}

func (p *recordingPredictor) calls() []predictor.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]predictor.Request(nil), p.requests...)
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Record{
		{Name: "Swift", Company: "Maruti", Year: 2015, KmsDriven: 30000, FuelType: "Petrol", Price: 350000},
		{Name: "Alto", Company: "Maruti", Year: 2012, KmsDriven: 45000, FuelType: "Petrol", Price: 150000},
		{Name: "i20", Company: "Hyundai", Year: 2017, KmsDriven: 20000, FuelType: "Diesel", Price: 550000},
		{Name: "Creta", Company: "Hyundai", Year: 2019, KmsDriven: 10000, FuelType: "Diesel", Price: 1250000},
		{Name: "Nexon EV", Company: "Tata", Year: 2021, KmsDriven: 5000, FuelType: "Electric", Price: 1300000},
	})
	require.NoError(t, err)
	return c
}

func newTestController(t *testing.T, p predictor.Predictor) *Controller {
	t.Helper()
	return NewController(Deps{Catalog: testCatalog(t), Predictor: p})
}

func apply(c *Controller, s State, events ...Event) State {
	for _, ev := range events {
		s = c.Apply(context.Background(), s, ev)
	}
	return s
}

func TestInitial(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})

	s := c.Initial()
	assert.Equal(t, PhaseSelecting, s.Phase)
	assert.Equal(t, Selection{Company: "Hyundai", Model: "Creta", FuelType: "Diesel", Year: 2021}, s.Selection)
	assert.Equal(t, []string{"Creta", "i20"}, s.Models)
	assert.Nil(t, s.Result)
	assert.Nil(t, s.Notice)
}

// Scenario A: a full valid selection reaches the predictor as exactly the
// five-field record and renders a grouped currency value.
func TestPredict_EndToEnd(t *testing.T) {
	p := &recordingPredictor{price: 412345.678}
	c := newTestController(t, p)

	s := apply(c, c.Initial(),
		Event{Kind: SelectCompany, Value: "Maruti"},
	)
	require.Contains(t, s.Models, "Swift")

	s = apply(c, s,
		Event{Kind: SelectModel, Value: "Swift"},
		Event{Kind: SelectFuelType, Value: "Petrol"},
		Event{Kind: SelectYear, Value: "2015"},
		Event{Kind: SetKmsDriven, Value: "30000"},
		Event{Kind: Predict},
	)

	require.Equal(t, PhaseResult, s.Phase, "notice: %+v", s.Notice)
	assert.Equal(t, []predictor.Request{{
		Name: "Swift", Company: "Maruti", Year: 2015, KmsDriven: 30000, FuelType: "Petrol",
	}}, p.calls())
	require.NotNil(t, s.Result)
	assert.Equal(t, 412345.68, s.Result.Amount)
	assert.Equal(t, "₹ 412,345.68", s.Result.Display)
}

// Scenario B: a negative kilometer count never reaches the predictor.
func TestPredict_NegativeKmsRejected(t *testing.T) {
	p := &recordingPredictor{price: 1}
	c := newTestController(t, p)

	s := apply(c, c.Initial(),
		Event{Kind: SetKmsDriven, Value: "-1"},
		Event{Kind: Predict},
	)

	assert.Equal(t, PhaseSelecting, s.Phase)
	assert.Nil(t, s.Result)
	require.NotNil(t, s.Notice)
	assert.Equal(t, NoticeValidation, s.Notice.Kind)
	assert.Equal(t, "kms_driven must be 0 or greater", s.Notice.Message)
	assert.Empty(t, p.calls())
}

// Scenario C: the artifact rejecting an unseen level surfaces as a notice and
// the session stays usable.
func TestPredict_SchemaMismatch(t *testing.T) {
	p := &recordingPredictor{err: fmt.Errorf("%w: unknown fuel_type %q", predictor.ErrSchemaMismatch, "Electric")}
	c := newTestController(t, p)

	s := apply(c, c.Initial(),
		Event{Kind: SelectCompany, Value: "Tata"},
		Event{Kind: SelectFuelType, Value: "Electric"},
		Event{Kind: Predict},
	)

	assert.Equal(t, PhaseSelecting, s.Phase)
	assert.Nil(t, s.Result)
	require.NotNil(t, s.Notice)
	assert.Equal(t, NoticeSchemaMismatch, s.Notice.Kind)
	assert.Contains(t, s.Notice.Message, `unknown fuel_type "Electric"`)

	// The session recovers once the predictor accepts the request.
	p.mu.Lock()
	p.err, p.price = nil, 900000
	p.mu.Unlock()
	s = apply(c, s, Event{Kind: Predict})
	assert.Equal(t, PhaseResult, s.Phase)
	assert.Nil(t, s.Notice)
}

func TestPredict_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want NoticeKind
	}{
		{"inference", fmt.Errorf("%w: no result within 2s", predictor.ErrInference), NoticeInference},
		{"model unavailable", predictor.ErrModelUnavailable, NoticeModelUnavailable},
		{"data unavailable", catalog.ErrDataUnavailable, NoticeDataUnavailable},
		{"unclassified", errors.New("boom"), NoticeInference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, &recordingPredictor{err: tt.err})
			s := apply(c, c.Initial(), Event{Kind: Predict})

			assert.Equal(t, PhaseSelecting, s.Phase)
			assert.Nil(t, s.Result)
			require.NotNil(t, s.Notice)
			assert.Equal(t, tt.want, s.Notice.Kind)
		})
	}
}

func TestSelectCompany_ResetsModel(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})

	s := apply(c, c.Initial(),
		Event{Kind: SelectCompany, Value: "Maruti"},
		Event{Kind: SelectModel, Value: "Swift"},
	)
	require.Equal(t, "Swift", s.Selection.Model)

	s = apply(c, s, Event{Kind: SelectCompany, Value: "Hyundai"})
	assert.Equal(t, []string{"Creta", "i20"}, s.Models)
	assert.Equal(t, "Creta", s.Selection.Model)
}

func TestSelectCompany_UnknownCompanyClearsModel(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})

	s := apply(c, c.Initial(), Event{Kind: SelectCompany, Value: "Trabant"})
	assert.Empty(t, s.Models)
	assert.Equal(t, "", s.Selection.Model)

	s = apply(c, s, Event{Kind: Predict})
	require.NotNil(t, s.Notice)
	assert.Equal(t, NoticeValidation, s.Notice.Kind)
	assert.Equal(t, "name is required", s.Notice.Message)
}

// TestSelectCompany_PairAlwaysInCatalog walks every company pair and checks
// the selected model always belongs to the selected company.
func TestSelectCompany_PairAlwaysInCatalog(t *testing.T) {
	cat := testCatalog(t)
	c := NewController(Deps{Catalog: cat, Predictor: &recordingPredictor{}})

	for _, from := range cat.Companies() {
		for _, model := range cat.ModelsForCompany(from) {
			for _, to := range cat.Companies() {
				s := apply(c, c.Initial(),
					Event{Kind: SelectCompany, Value: from},
					Event{Kind: SelectModel, Value: model},
					Event{Kind: SelectCompany, Value: to},
				)
				assert.True(t, cat.HasModel(to, s.Selection.Model),
					"%s/%s -> %s left model %q", from, model, to, s.Selection.Model)
			}
		}
	}
}

func TestSelectModel_RejectsModelOfOtherCompany(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})

	s := apply(c, c.Initial(), Event{Kind: SelectModel, Value: "Swift"})
	assert.Equal(t, "Creta", s.Selection.Model)
	require.NotNil(t, s.Notice)
	assert.Equal(t, `name "Swift" is not a Hyundai model`, s.Notice.Message)
}

func TestNumericEvents_RejectGarbage(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})
	initial := c.Initial()

	s := apply(c, initial, Event{Kind: SetKmsDriven, Value: "lots"})
	assert.Equal(t, initial.Selection.KmsDriven, s.Selection.KmsDriven)
	require.NotNil(t, s.Notice)
	assert.Equal(t, "kms_driven must be a whole number", s.Notice.Message)

	s = apply(c, initial, Event{Kind: SelectYear, Value: "2015.5"})
	assert.Equal(t, initial.Selection.Year, s.Selection.Year)
	require.NotNil(t, s.Notice)
	assert.Equal(t, "year must be a whole number", s.Notice.Message)
}

func TestPredict_ValidationAgainstCatalog(t *testing.T) {
	tests := []struct {
		name    string
		events  []Event
		wantMsg string
	}{
		{"unknown fuel", []Event{{Kind: SelectFuelType, Value: "Steam"}}, `fuel_type "Steam" is not in the catalog`},
		{"unknown year", []Event{{Kind: SelectYear, Value: "1999"}}, "year 1999 is not in the catalog"},
		{"blank fuel", []Event{{Kind: SelectFuelType, Value: ""}}, "fuel_type is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingPredictor{}
			c := newTestController(t, p)

			s := apply(c, c.Initial(), append(tt.events, Event{Kind: Predict})...)
			require.NotNil(t, s.Notice)
			assert.Equal(t, NoticeValidation, s.Notice.Kind)
			assert.Equal(t, tt.wantMsg, s.Notice.Message)
			assert.Empty(t, p.calls())
		})
	}
}

func TestFieldChange_DiscardsResult(t *testing.T) {
	c := newTestController(t, &recordingPredictor{price: 500000})

	s := apply(c, c.Initial(), Event{Kind: Predict})
	require.Equal(t, PhaseResult, s.Phase)

	s = apply(c, s, Event{Kind: SetKmsDriven, Value: "1000"})
	assert.Equal(t, PhaseSelecting, s.Phase)
	assert.Nil(t, s.Result)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	c := newTestController(t, &recordingPredictor{price: 1})

	before := c.Initial()
	models := append([]string(nil), before.Models...)
	_ = apply(c, before, Event{Kind: SelectCompany, Value: "Maruti"}, Event{Kind: Predict})

	assert.Equal(t, "Hyundai", before.Selection.Company)
	assert.Equal(t, models, before.Models)
	assert.Nil(t, before.Result)
}

func TestApply_UnknownEvent(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})

	s := apply(c, c.Initial(), Event{Kind: "honk"})
	require.NotNil(t, s.Notice)
	assert.Equal(t, NoticeValidation, s.Notice.Kind)
}

func TestEvents_CompanyBeforeModel(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})

	events := c.Events(c.Initial(), Selection{
		Company: "Maruti", Model: "Swift", FuelType: "Petrol", Year: 2015, KmsDriven: 30000,
	})
	assert.Equal(t, []Event{
		{Kind: SelectCompany, Value: "Maruti"},
		{Kind: SelectModel, Value: "Swift"},
		{Kind: SelectFuelType, Value: "Petrol"},
		{Kind: SelectYear, Value: "2015"},
		{Kind: SetKmsDriven, Value: "30000"},
	}, events)
}

func TestEvents_NoChanges(t *testing.T) {
	c := newTestController(t, &recordingPredictor{})
	s := c.Initial()
	assert.Empty(t, c.Events(s, s.Selection))
}

func TestSubmit_StaleModelAfterCompanyChange(t *testing.T) {
	p := &recordingPredictor{price: 123}
	c := newTestController(t, p)
	s := c.Initial()

	// The browser posts the new company together with the old company's model.
	posted := s.Selection
	posted.Company = "Maruti"
	s = c.Submit(context.Background(), s, c.Events(s, posted), false)

	assert.Equal(t, "Maruti", s.Selection.Company)
	assert.Equal(t, "Alto", s.Selection.Model)
	assert.Nil(t, s.Notice)
	assert.Empty(t, p.calls())
}

func TestSubmit_RejectedFieldSkipsPrediction(t *testing.T) {
	p := &recordingPredictor{price: 123}
	c := newTestController(t, p)

	s := c.Submit(context.Background(), c.Initial(), []Event{
		{Kind: SetKmsDriven, Value: "many"},
		{Kind: SelectFuelType, Value: "Petrol"},
	}, true)

	require.NotNil(t, s.Notice)
	assert.Equal(t, "kms_driven must be a whole number", s.Notice.Message)
	assert.Equal(t, "Petrol", s.Selection.FuelType)
	assert.Empty(t, p.calls())
}

func TestEstimate_Deterministic(t *testing.T) {
	model, err := predictor.Parse([]byte(`{
		"features": ["name","company","year","kms_driven","fuel_type"],
		"intercept": 1000,
		"numeric": {"year": 2, "kms_driven": -0.01},
		"categorical": {"name": {"Swift": 10}, "company": {"Maruti": 5}, "fuel_type": {"Petrol": 1}}
	}`))
	require.NoError(t, err)
	c := NewController(Deps{Catalog: testCatalog(t), Predictor: model, Currency: "$"})

	sel := Selection{Company: "Maruti", Model: "Swift", FuelType: "Petrol", Year: 2015, KmsDriven: 30000}
	first, err := c.Estimate(context.Background(), sel)
	require.NoError(t, err)
	assert.Equal(t, Estimate{Amount: 4746, Display: "$ 4,746.00"}, first)

	for i := 0; i < 10; i++ {
		again, err := c.Estimate(context.Background(), sel)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEstimate_RecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := NewController(Deps{Catalog: testCatalog(t), Predictor: &recordingPredictor{price: 1}, Metrics: m})

	_, err := c.Estimate(context.Background(), Selection{Company: "Maruti", Model: "Swift", FuelType: "Petrol", Year: 2015})
	require.NoError(t, err)
	_, err = c.Estimate(context.Background(), Selection{Company: "Maruti", Model: "Swift", FuelType: "Petrol", Year: 2015, KmsDriven: -5})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "kms_driven", verr.Field)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Predictions.WithLabelValues(metrics.OutcomeValidation)))
}

func TestApply_UnknownEventKindsShareOneMetricLabel(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := NewController(Deps{Catalog: testCatalog(t), Predictor: &recordingPredictor{price: 1}, Metrics: m})

	s := c.Initial()
	for i := 0; i < 50; i++ {
		s = c.Apply(context.Background(), s, Event{Kind: EventKind(fmt.Sprintf("junk-%d", i))})
	}
	s = c.Apply(context.Background(), s, Event{Kind: SelectFuelType, Value: "Diesel"})

	assert.Equal(t, 2, testutil.CollectAndCount(m.FormEvents))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.FormEvents.WithLabelValues(metrics.EventUnknown)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FormEvents.WithLabelValues(string(SelectFuelType))))
	assert.Equal(t, "Diesel", s.Selection.FuelType)
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{350000, "₹ 350,000.00"},
		{1234567.891, "₹ 1,234,567.89"},
		{999.999, "₹ 1,000.00"},
		{12.5, "₹ 12.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPrice(DefaultCurrency, tt.amount))
	}
}
