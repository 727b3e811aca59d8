package api

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kalambet/carprice/internal/catalog"
	"github.com/kalambet/carprice/internal/form"
	"github.com/kalambet/carprice/internal/session"
)

//go:embed templates/index.html
var templates embed.FS

const sessionCookie = "carprice_session"

type pageData struct {
	State     form.State
	Companies []string
	FuelTypes []string
	Years     []int
	Sample    []catalog.Record
}

func handlePage(deps Deps, page *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, s := pageSession(deps, w, r)
		renderPage(w, deps, page, s)
	}
}

// handlePageSubmit applies a browser form post. The hidden "action" field
// names the event kind: a field change applies only that field, while
// "predict" applies every changed field and then predicts.
func handlePageSubmit(deps Deps, page *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form submission", http.StatusBadRequest)
			return
		}

		id, _ := pageSession(deps, w, r)
		ctx := r.Context()
		s, err := deps.Sessions.Update(id, func(s form.State) form.State {
			events, predict := submittedEvents(s, r.PostForm)
			return deps.Controller.Submit(ctx, s, events, predict)
		})
		if err != nil {
			// Evicted between lookup and update.
			s = deps.Controller.Initial()
		}
		renderPage(w, deps, page, s)
	}
}

// pageSession returns the browser's session, starting a new one when the
// cookie is missing or the session has expired.
func pageSession(deps Deps, w http.ResponseWriter, r *http.Request) (string, form.State) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		s, err := deps.Sessions.Get(c.Value)
		if err == nil {
			return c.Value, s
		}
		if !errors.Is(err, session.ErrNotFound) {
			slog.Warn("reading session", "error", err)
		}
	}

	s := deps.Controller.Initial()
	id := deps.Sessions.Create(s)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id, s
}

func submittedEvents(s form.State, values url.Values) ([]form.Event, bool) {
	action := values.Get("action")
	fields := []struct {
		kind    form.EventKind
		key     string
		current string
	}{
		{form.SelectCompany, "company", s.Selection.Company},
		{form.SelectModel, "name", s.Selection.Model},
		{form.SelectFuelType, "fuel_type", s.Selection.FuelType},
		{form.SelectYear, "year", strconv.Itoa(s.Selection.Year)},
		{form.SetKmsDriven, "kms_driven", strconv.Itoa(s.Selection.KmsDriven)},
	}

	var events []form.Event
	for _, f := range fields {
		if action != string(form.Predict) && action != string(f.kind) {
			continue
		}
		if _, ok := values[f.key]; !ok {
			continue
		}
		raw := strings.TrimSpace(values.Get(f.key))
		if raw == f.current {
			continue
		}
		events = append(events, form.Event{Kind: f.kind, Value: raw})
	}
	return events, action == string(form.Predict)
}

func renderPage(w http.ResponseWriter, deps Deps, page *template.Template, s form.State) {
	data := pageData{
		State:     s,
		Companies: deps.Catalog.Companies(),
		FuelTypes: deps.Catalog.FuelTypes(),
		Years:     deps.Catalog.Years(),
		Sample:    deps.Catalog.Head(deps.SampleRows),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, data); err != nil {
		slog.Error("rendering page", "error", err)
	}
}
