// Package api exposes the price predictor over HTTP (an HTML form and a JSON
// API) and over MCP.
package api

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/carprice/internal/catalog"
	"github.com/kalambet/carprice/internal/form"
	"github.com/kalambet/carprice/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP surface needs. Catalog, Controller and
// Sessions are required.
type Deps struct {
	Catalog    *catalog.Catalog
	Controller *form.Controller
	Sessions   *session.Store
	Gatherer   prometheus.Gatherer // optional; /metrics is not mounted when nil
	SampleRows int
	Currency   string
}

// NewHandler returns the application router.
func NewHandler(deps Deps) http.Handler {
	if deps.Currency == "" {
		deps.Currency = form.DefaultCurrency
	}
	page := template.Must(template.New("index.html").Funcs(template.FuncMap{
		"price": func(amount float64) string { return form.FormatPrice(deps.Currency, amount) },
	}).ParseFS(templates, "templates/index.html"))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", handleHealth(deps))
	r.Get("/", handlePage(deps, page))
	r.Post("/", handlePageSubmit(deps, page))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/companies", handleCompanies(deps))
		r.Get("/companies/{company}/models", handleModels(deps))
		r.Get("/fuel-types", handleFuelTypes(deps))
		r.Get("/years", handleYears(deps))
		r.Get("/records", handleRecords(deps))
		r.Post("/predict", handlePredict(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Post("/sessions/{id}/events", handleSessionEvents(deps))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"records":  deps.Catalog.Len(),
			"sessions": deps.Sessions.Len(),
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
