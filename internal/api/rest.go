package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/carprice/internal/form"
	"github.com/kalambet/carprice/internal/predictor"
	"github.com/kalambet/carprice/internal/session"
)

type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func list[T any](data []T) listResponse[T] {
	return listResponse[T]{Object: "list", Data: data}
}

func handleCompanies(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, list(deps.Catalog.Companies()))
	}
}

// handleModels answers with an empty list for an unknown company.
func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		company := chi.URLParam(r, "company")
		if unescaped, err := url.PathUnescape(company); err == nil {
			company = unescaped
		}
		writeJSON(w, http.StatusOK, list(deps.Catalog.ModelsForCompany(company)))
	}
}

func handleFuelTypes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, list(deps.Catalog.FuelTypes()))
	}
}

func handleYears(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, list(deps.Catalog.Years()))
	}
}

func handleRecords(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := deps.SampleRows
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		writeJSON(w, http.StatusOK, list(deps.Catalog.Head(limit)))
	}
}

type predictResponse struct {
	form.Estimate
	Selection form.Selection `json:"selection"`
}

func handlePredict(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var sel form.Selection
		if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		est, err := deps.Controller.Estimate(r.Context(), sel)
		if err != nil {
			estimateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, predictResponse{Estimate: est, Selection: sel})
	}
}

// estimateError maps a failed estimate onto an HTTP status.
func estimateError(w http.ResponseWriter, err error) {
	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Error())
	case errors.Is(err, predictor.ErrSchemaMismatch):
		httpError(w, http.StatusUnprocessableEntity, "schema_mismatch", "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "inference_error", "%v", err)
	case errors.Is(err, predictor.ErrModelUnavailable):
		httpError(w, http.StatusServiceUnavailable, "model_unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "inference_error", "%v", err)
	}
}

type sessionResponse struct {
	ID    string     `json:"id"`
	State form.State `json:"state"`
}

type eventsRequest struct {
	// Events are applied in order.
	Events []form.Event `json:"events"`
	// Selection, when present, is turned into change events after Events.
	Selection *form.Selection `json:"selection"`
	Predict   bool            `json:"predict"`
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initial := deps.Controller.Initial()
		id := deps.Sessions.Create(initial)
		writeJSON(w, http.StatusCreated, sessionResponse{ID: id, State: initial})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s, err := deps.Sessions.Get(id)
		if err != nil {
			sessionError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{ID: id, State: s})
	}
}

func handleSessionEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req eventsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Events) == 0 && req.Selection == nil && !req.Predict {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of events, selection or predict is required")
			return
		}

		id := chi.URLParam(r, "id")
		ctx := r.Context()
		s, err := deps.Sessions.Update(id, func(s form.State) form.State {
			if req.Selection == nil {
				return deps.Controller.Submit(ctx, s, req.Events, req.Predict)
			}
			// The selection is diffed against the state the explicit events lead to.
			if len(req.Events) > 0 {
				s = deps.Controller.Submit(ctx, s, req.Events, false)
				if s.Notice != nil {
					return s
				}
			}
			return deps.Controller.Submit(ctx, s, deps.Controller.Events(s, *req.Selection), req.Predict)
		})
		if err != nil {
			sessionError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{ID: id, State: s})
	}
}

func sessionError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, session.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "session %s not found", id)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}
