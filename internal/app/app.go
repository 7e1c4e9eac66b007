// Package app runs the analysis pipeline end to end: load the fact table,
// apply the presentation filter, compute KPI aggregates, classify sites.
// Every surface (CLI report, export, menu, HTTP) goes through Run, so one
// invocation always yields one immutable, internally consistent snapshot.
package app

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitewatch/sitewatch/internal/facts"
	"github.com/sitewatch/sitewatch/internal/kpi"
	"github.com/sitewatch/sitewatch/internal/metrics"
	"github.com/sitewatch/sitewatch/internal/rules"
)

// Options select the input and scope of one analysis run.
type Options struct {
	InputPath string
	Filter    facts.Filter
	Rules     rules.Config

	// Metrics defaults to the process registry when nil.
	Metrics *metrics.Registry
}

// Meta describes the run that produced an Analysis.
type Meta struct {
	InputPath    string    `json:"input_path"`
	RowsLoaded   int       `json:"rows_loaded"`
	RowsSelected int       `json:"rows_selected"`
	Filter       string    `json:"filter"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Analysis is one full pipeline snapshot. Consumers treat it as read-only;
// the cache hands the same snapshot to multiple readers.
type Analysis struct {
	Rows     []facts.Row        `json:"-"`
	KPIs     *kpi.Outputs       `json:"kpis"`
	Statuses []rules.SiteStatus `json:"site_status"`
	Meta     Meta               `json:"meta"`
}

// Run executes one pipeline pass. Load failures and classification input
// failures return the typed errors of their packages; ErrorClass buckets
// them for metrics labels and exit messaging.
func Run(opts Options) (*Analysis, error) {
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.Default()
	}
	started := time.Now()

	timer := reg.StartStepTimer("load")
	rows, err := facts.Load(opts.InputPath)
	if err != nil {
		class := ErrorClass(err)
		timer.Stop(class)
		reg.RecordLoad(class, 0)
		log.Error().Err(err).Str("input", opts.InputPath).Msg("Fact table load failed")
		return nil, err
	}
	timer.Stop("ok")
	reg.RecordLoad("ok", len(rows))

	selected := opts.Filter.Apply(rows)

	timer = reg.StartStepTimer("compute")
	outputs := kpi.Compute(selected)
	timer.Stop("ok")

	timer = reg.StartStepTimer("classify")
	statuses, err := rules.Classify(outputs.BySite, outputs.BySiteDay, outputs.LossMixBySite, opts.Rules)
	if err != nil {
		timer.Stop(ErrorClass(err))
		log.Error().Err(err).Msg("Site classification failed")
		return nil, err
	}
	timer.Stop("ok")

	reg.RecordRun(statusCounts(statuses))

	log.Info().
		Str("input", opts.InputPath).
		Int("rows", len(rows)).
		Int("selected", len(selected)).
		Int("sites", len(outputs.BySite)).
		Dur("duration", time.Since(started)).
		Msg("Analysis complete")

	return &Analysis{
		Rows:     selected,
		KPIs:     outputs,
		Statuses: statuses,
		Meta: Meta{
			InputPath:    opts.InputPath,
			RowsLoaded:   len(rows),
			RowsSelected: len(selected),
			Filter:       opts.Filter.Key(),
			GeneratedAt:  time.Now().UTC(),
		},
	}, nil
}

// statusCounts counts sites per status, always including the three known
// statuses so gauges reset to zero when a status empties out.
func statusCounts(statuses []rules.SiteStatus) map[string]int {
	counts := map[string]int{
		string(rules.StatusNormal):       0,
		string(rules.StatusWatch):        0,
		string(rules.StatusIntervention): 0,
	}
	for _, s := range statuses {
		counts[string(s.Status)]++
	}
	return counts
}

// ErrorClass buckets a pipeline error for metrics labels and CLI messaging.
func ErrorClass(err error) string {
	var schemaErr *facts.SchemaError
	var valueErr *facts.ValueError
	var integrityErr *facts.IntegrityError
	var inputErr *rules.InputError

	switch {
	case errors.As(err, &schemaErr):
		return "schema_error"
	case errors.As(err, &valueErr):
		return "value_error"
	case errors.As(err, &integrityErr):
		return "integrity_error"
	case errors.As(err, &inputErr):
		return "input_error"
	default:
		return "io_error"
	}
}
