package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sitewatch/sitewatch/internal/app"
	"github.com/sitewatch/sitewatch/internal/cache"
	"github.com/sitewatch/sitewatch/internal/kpi"
	"github.com/sitewatch/sitewatch/internal/metrics"
	"github.com/sitewatch/sitewatch/internal/rules"
)

// ErrorResponse is the JSON error envelope for every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse reports whether the configured input currently yields a
// usable analysis.
type HealthResponse struct {
	Status      string    `json:"status"`
	Input       string    `json:"input"`
	Rows        int       `json:"rows"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Handlers serves the read-only API. Every data endpoint runs the pipeline
// through the shared result cache; nothing is precomputed at startup, so a
// changed input file shows up on the next request.
type Handlers struct {
	results *cache.Results
	base    app.Options
	topN    int
	metrics *metrics.Registry
}

// NewHandlers creates the handler set around a result cache.
func NewHandlers(results *cache.Results, base app.Options, topN int, reg *metrics.Registry) *Handlers {
	if reg == nil {
		reg = metrics.Default()
	}
	return &Handlers{results: results, base: base, topN: topN, metrics: reg}
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.results.Get(h.base)
	if err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:      "unavailable",
			Input:       h.base.InputPath,
			GeneratedAt: time.Now().UTC(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Input:       analysis.Meta.InputPath,
		Rows:        analysis.Meta.RowsLoaded,
		GeneratedAt: analysis.Meta.GeneratedAt,
	})
}

// Overall handles GET /api/v1/overall.
func (h *Handlers) Overall(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.analysis(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		Overall kpi.Overall `json:"overall"`
		Meta    app.Meta    `json:"meta"`
	}{analysis.KPIs.Overall, analysis.Meta})
}

// Sites handles GET /api/v1/sites, highest cost leakage first.
func (h *Handlers) Sites(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.analysis(w, r)
	if !ok {
		return
	}

	sites := trim(analysis.KPIs.BySite, h.top(r))
	h.writeJSON(w, http.StatusOK, struct {
		Sites []kpi.SiteAgg `json:"sites"`
		Count int           `json:"count"`
		Meta  app.Meta      `json:"meta"`
	}{sites, len(sites), analysis.Meta})
}

// Status handles GET /api/v1/status, most severe first.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.analysis(w, r)
	if !ok {
		return
	}

	statuses := trim(analysis.Statuses, h.top(r))
	h.writeJSON(w, http.StatusOK, struct {
		SiteStatus []rules.SiteStatus `json:"site_status"`
		Count      int                `json:"count"`
		Meta       app.Meta           `json:"meta"`
	}{statuses, len(statuses), analysis.Meta})
}

// LossMix handles GET /api/v1/lossmix.
func (h *Handlers) LossMix(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.analysis(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		LossMix []kpi.LossMixAgg `json:"loss_mix"`
		Count   int              `json:"count"`
		Meta    app.Meta         `json:"meta"`
	}{analysis.KPIs.LossMixBySite, len(analysis.KPIs.LossMixBySite), analysis.Meta})
}

// SiteDetail handles GET /api/v1/sites/{site_id}: the site aggregate, its
// daily series, its loss mix and its status row in one payload.
func (h *Handlers) SiteDetail(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.analysis(w, r)
	if !ok {
		return
	}

	siteID := mux.Vars(r)["site_id"]
	site, ok := analysis.KPIs.Site(siteID)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "unknown_site",
			"no fact rows for site "+siteID+" in the selected range")
		return
	}

	var status rules.SiteStatus
	for _, s := range analysis.Statuses {
		if s.SiteID == siteID {
			status = s
			break
		}
	}

	h.writeJSON(w, http.StatusOK, struct {
		Site    kpi.SiteAgg      `json:"site"`
		Days    []kpi.SiteDayAgg `json:"days"`
		LossMix []kpi.LossMixAgg `json:"loss_mix"`
		Status  rules.SiteStatus `json:"status"`
		Meta    app.Meta         `json:"meta"`
	}{site, analysis.KPIs.SiteDays(siteID), analysis.KPIs.SiteLossMix(siteID), status, analysis.Meta})
}

// NotFound handles unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"the requested endpoint does not exist")
}

// analysis runs the pipeline for the request's filter. Input failures are
// blocking: the client gets a 503 with the error class, never partial data.
func (h *Handlers) analysis(w http.ResponseWriter, r *http.Request) (*app.Analysis, bool) {
	opts, err := h.optionsFor(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return nil, false
	}

	analysis, err := h.results.Get(opts)
	if err != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, app.ErrorClass(err), err.Error())
		return nil, false
	}
	return analysis, true
}

// optionsFor layers the request's query filter over the server's base
// options. sites is comma-separated; from/to are inclusive 2006-01-02 dates.
func (h *Handlers) optionsFor(r *http.Request) (app.Options, error) {
	opts := h.base
	q := r.URL.Query()

	if raw := q.Get("sites"); raw != "" {
		var sites []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sites = append(sites, s)
			}
		}
		opts.Filter.Sites = sites
	}

	var err error
	if opts.Filter.From, err = queryDate("from", q.Get("from"), opts.Filter.From); err != nil {
		return app.Options{}, err
	}
	if opts.Filter.To, err = queryDate("to", q.Get("to"), opts.Filter.To); err != nil {
		return app.Options{}, err
	}

	return opts, nil
}

func queryDate(name, raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q: expected YYYY-MM-DD", name, raw)
	}
	return t, nil
}

// top resolves the ?top= bound, falling back to the configured default.
// Invalid values are ignored; 0 means no bound.
func (h *Handlers) top(r *http.Request) int {
	raw := r.URL.Query().Get("top")
	if raw == "" {
		return h.topN
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return h.topN
	}
	return n
}

func trim[T any](rows []T, top int) []T {
	if top > 0 && len(rows) > top {
		return rows[:top]
	}
	return rows
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
