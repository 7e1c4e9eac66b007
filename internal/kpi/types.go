// Package kpi derives utilization and loss metrics from the daily fact table
// and aggregates them into the four output levels consumed by the rules engine
// and the presentation layer. Compute is a pure function: identical input
// produces identical output, with no hidden state between calls.
package kpi

import (
	"math"
	"time"

	"github.com/sitewatch/sitewatch/internal/facts"
)

// Derived is a fact row extended with the computed per-row metrics. It is
// recomputed on every aggregation call and never cached independently.
type Derived struct {
	facts.Row
	UtilizationRate   float64 // usable/actual, 0 when actual == 0
	LossRate          float64 // disposed/actual, 0 when actual == 0
	CostLeakage       float64 // disposed * unit_cost
	PlanVarianceUnits int     // actual - planned
	AnyShockFlag      int     // 1 when any of the three shock flags is set
}

// Overall is the single-row rollup of the whole fact set. Means over zero
// rows are defined as 0.0, matching the zero-denominator convention used for
// per-row ratios; no field is ever NaN.
type Overall struct {
	PlannedUnits       int     `json:"planned_units"`
	ActualUnits        int     `json:"actual_units"`
	UsableUnits        int     `json:"usable_units"`
	DisposedUnits      int     `json:"disposed_units"`
	CostLeakage        float64 `json:"cost_leakage"`
	AvgUnitCost        float64 `json:"avg_unit_cost"`
	AvgLossRate        float64 `json:"avg_loss_rate"`
	AvgUtilizationRate float64 `json:"avg_utilization_rate"`
	ShockDays          int     `json:"shock_days"`
}

// SiteAgg is one by_site row. The weighted ratios are computed from the
// aggregated numerator and denominator, never by averaging per-row ratios,
// so low-volume days do not bias the site figure.
type SiteAgg struct {
	SiteID                  string  `json:"site_id"`
	PlannedUnits            int     `json:"planned_units"`
	ActualUnits             int     `json:"actual_units"`
	UsableUnits             int     `json:"usable_units"`
	DisposedUnits           int     `json:"disposed_units"`
	CostLeakage             float64 `json:"cost_leakage"`
	AvgUnitCost             float64 `json:"avg_unit_cost"`
	AvgLossRate             float64 `json:"avg_loss_rate"`
	AvgUtilizationRate      float64 `json:"avg_utilization_rate"`
	ShockDays               int     `json:"shock_days"`
	LossRateWeighted        float64 `json:"loss_rate_weighted"`
	UtilizationRateWeighted float64 `json:"utilization_rate_weighted"`
}

// SiteDayAgg is one by_site_day row, the grain used for persistence and trend
// windows. AnyShockFlag is the max over the day's rows.
type SiteDayAgg struct {
	SiteID          string    `json:"site_id"`
	Date            time.Time `json:"date"`
	PlannedUnits    int       `json:"planned_units"`
	ActualUnits     int       `json:"actual_units"`
	UsableUnits     int       `json:"usable_units"`
	DisposedUnits   int       `json:"disposed_units"`
	CostLeakage     float64   `json:"cost_leakage"`
	AnyShockFlag    int       `json:"any_shock_flag"`
	LossRate        float64   `json:"loss_rate"`
	UtilizationRate float64   `json:"utilization_rate"`
}

// LossMixAgg is one (site, loss_reason) row of the driver breakdown.
// DisposedShare is the reason's share of the site's total disposed units;
// all shares are 0.0 for a site with zero total disposed units.
type LossMixAgg struct {
	SiteID        string  `json:"site_id"`
	LossReason    string  `json:"loss_reason"`
	DisposedUnits int     `json:"disposed_units"`
	TotalDisposed int     `json:"total_disposed"`
	DisposedShare float64 `json:"disposed_share"`
}

// Outputs bundles the four aggregate tables of one computation pass. The sort
// orders are a contract: BySite descends by cost leakage, BySiteDay ascends by
// (site, date), LossMixBySite ascends by site then descends by share, so the
// first mix row per site is its dominant driver.
type Outputs struct {
	Overall       Overall      `json:"overall"`
	BySite        []SiteAgg    `json:"by_site"`
	BySiteDay     []SiteDayAgg `json:"by_site_day"`
	LossMixBySite []LossMixAgg `json:"loss_mix_by_site"`
}

// Site returns the by_site row for id, or false when the site is absent.
func (o *Outputs) Site(id string) (SiteAgg, bool) {
	for _, s := range o.BySite {
		if s.SiteID == id {
			return s, true
		}
	}
	return SiteAgg{}, false
}

// SiteDays returns the by_site_day rows for id, preserving the date-ascending
// contract order.
func (o *Outputs) SiteDays(id string) []SiteDayAgg {
	var out []SiteDayAgg
	for _, d := range o.BySiteDay {
		if d.SiteID == id {
			out = append(out, d)
		}
	}
	return out
}

// SiteLossMix returns the loss-mix rows for id, preserving the
// share-descending contract order.
func (o *Outputs) SiteLossMix(id string) []LossMixAgg {
	var out []LossMixAgg
	for _, m := range o.LossMixBySite {
		if m.SiteID == id {
			out = append(out, m)
		}
	}
	return out
}

// round4 rounds presentation-facing ratio fields. Applied once, to output
// columns only; intermediate computation always runs unrounded.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// round2 rounds presentation-facing money fields.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
