// Package rules classifies sites into operational risk statuses from the KPI
// aggregates. Classification is deterministic: thresholds arrive as an
// explicit Config and each site is decided independently by a precedence-
// ordered rule list, so identical aggregates and config always produce the
// identical status table.
package rules

import (
	"fmt"
	"sort"

	"github.com/sitewatch/sitewatch/internal/facts"
	"github.com/sitewatch/sitewatch/internal/kpi"
)

// Status is a site's operational risk classification.
type Status string

const (
	StatusNormal       Status = "Normal"
	StatusWatch        Status = "Watch"
	StatusIntervention Status = "Intervention Required"
)

// rank orders statuses by severity, higher is worse.
func (s Status) rank() int {
	switch s {
	case StatusIntervention:
		return 2
	case StatusWatch:
		return 1
	default:
		return 0
	}
}

// SiteStatus is one row of the classification output.
type SiteStatus struct {
	SiteID                string  `json:"site_id"`
	Status                Status  `json:"status"`
	LossRateWeighted      float64 `json:"loss_rate_weighted"`
	CostLeakage           float64 `json:"cost_leakage"`
	ShockDays             int     `json:"shock_days"`
	DominantLossReason    string  `json:"dominant_loss_reason"`
	DominantLossShare     float64 `json:"dominant_loss_share"`
	SustainedHighLossFlag int     `json:"sustained_high_loss_flag"`
	RisingCostLeakageFlag int     `json:"rising_cost_leakage_flag"`
	RecommendedAction     string  `json:"recommended_action"`
}

// InputError reports a by_site row lacking a field classification keys on.
type InputError struct {
	Field string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("by_site input missing required field: %s", e.Field)
}

// Recommended actions keyed by dominant loss reason.
var actionByReason = map[string]string{
	facts.ReasonOverproduction: "Adjust ordering cadence / tighten plan vs actual variance; review reorder points.",
	facts.ReasonSpoilage:       "Strengthen process controls (handling/storage); investigate temperature excursions and SOP adherence.",
	facts.ReasonDamage:         "Improve handling/packaging; target training and standard work to reduce breakage.",
	facts.ReasonTimingMismatch: "Fix scheduling + staffing alignment; coordinate inbound timing and process capacity.",
}

const (
	actionNoDriverData = "Review site performance; insufficient driver data."
	actionUnmapped     = "Review site performance; define corrective action."
)

// Classify evaluates every site in bySite against cfg and returns one
// SiteStatus per site, most severe first (CostLeakage descending within a
// severity, SiteID ascending on ties). It relies on the upstream sort
// contracts: lossMix descends by share within a site, so the first mix row
// per site is its dominant driver, and bySiteDay ascends by date, so a
// slice tail is the most recent window.
func Classify(bySite []kpi.SiteAgg, bySiteDay []kpi.SiteDayAgg, lossMix []kpi.LossMixAgg, cfg Config) ([]SiteStatus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, s := range bySite {
		if s.SiteID == "" {
			return nil, &InputError{Field: "site_id"}
		}
	}

	dominant := dominantDrivers(lossMix)
	days := daysBySite(bySiteDay)

	out := make([]SiteStatus, 0, len(bySite))
	for _, s := range bySite {
		dom := dominant[s.SiteID]
		sustained := sustainedHighLoss(days[s.SiteID], cfg)
		rising := risingLeakage(days[s.SiteID], cfg)

		row := SiteStatus{
			SiteID:             s.SiteID,
			Status:             decide(cfg, s.LossRateWeighted, dom.DisposedShare, sustained, rising),
			LossRateWeighted:   s.LossRateWeighted,
			CostLeakage:        s.CostLeakage,
			ShockDays:          s.ShockDays,
			DominantLossReason: dom.LossReason,
			DominantLossShare:  dom.DisposedShare,
			RecommendedAction:  recommendAction(dom.LossReason),
		}
		if sustained {
			row.SustainedHighLossFlag = 1
		}
		if rising {
			row.RisingCostLeakageFlag = 1
		}
		out = append(out, row)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Status.rank() != b.Status.rank() {
			return a.Status.rank() > b.Status.rank()
		}
		if a.CostLeakage != b.CostLeakage {
			return a.CostLeakage > b.CostLeakage
		}
		return a.SiteID < b.SiteID
	})
	return out, nil
}

// decide applies the precedence-ordered rule list to one site. Order matters:
// intervention triggers are checked before watch triggers, and the dominant
// driver only escalates when the loss rate already exceeds the normal band.
func decide(cfg Config, lossRate, dominantShare float64, sustained, rising bool) Status {
	switch {
	case lossRate > cfg.WatchMaxLoss,
		sustained,
		dominantShare >= cfg.DominantDriverShare && lossRate > cfg.NormalMaxLoss:
		return StatusIntervention
	case lossRate > cfg.NormalMaxLoss, rising:
		return StatusWatch
	default:
		return StatusNormal
	}
}

// dominantDrivers picks the first mix row per site, which the upstream sort
// makes the largest-share reason. Sites absent from the mix stay absent; the
// caller's map lookup then yields a zero row (empty reason, 0.0 share).
func dominantDrivers(lossMix []kpi.LossMixAgg) map[string]kpi.LossMixAgg {
	dom := make(map[string]kpi.LossMixAgg)
	for _, m := range lossMix {
		if _, ok := dom[m.SiteID]; !ok {
			dom[m.SiteID] = m
		}
	}
	return dom
}

// daysBySite groups the daily rows by site, preserving the date-ascending
// contract order within each site.
func daysBySite(bySiteDay []kpi.SiteDayAgg) map[string][]kpi.SiteDayAgg {
	days := make(map[string][]kpi.SiteDayAgg)
	for _, d := range bySiteDay {
		days[d.SiteID] = append(days[d.SiteID], d)
	}
	return days
}

// sustainedHighLoss reports whether the site's most recent SustainedDays
// daily loss rates all sit at or above the sustained threshold. Shorter
// history is never padded; it simply cannot sustain.
func sustainedHighLoss(days []kpi.SiteDayAgg, cfg Config) bool {
	if len(days) < cfg.SustainedDays {
		return false
	}
	for _, d := range days[len(days)-cfg.SustainedDays:] {
		if d.LossRate < cfg.SustainedWatchLoss {
			return false
		}
	}
	return true
}

// risingLeakage reports whether the site's last TrendDays daily cost leakage
// values form a strictly increasing sequence.
func risingLeakage(days []kpi.SiteDayAgg, cfg Config) bool {
	if len(days) < cfg.TrendDays {
		return false
	}
	tail := days[len(days)-cfg.TrendDays:]
	for i := 1; i < len(tail); i++ {
		if tail[i-1].CostLeakage >= tail[i].CostLeakage {
			return false
		}
	}
	return true
}

func recommendAction(reason string) string {
	if reason == "" {
		return actionNoDriverData
	}
	if action, ok := actionByReason[reason]; ok {
		return action
	}
	return actionUnmapped
}
