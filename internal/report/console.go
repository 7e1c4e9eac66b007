// Package report renders analysis snapshots for the console and emits the
// artifact files downstream tooling consumes.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sitewatch/sitewatch/internal/app"
	"github.com/sitewatch/sitewatch/internal/kpi"
	"github.com/sitewatch/sitewatch/internal/rules"
)

// DefaultTopN bounds the console status table.
const DefaultTopN = 12

// RenderReport writes the overall rollup followed by the status table.
func RenderReport(w io.Writer, analysis *app.Analysis, top int) error {
	if err := RenderOverall(w, analysis.KPIs.Overall); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return RenderStatus(w, analysis.Statuses, top)
}

// RenderOverall writes the single-row rollup table.
func RenderOverall(w io.Writer, o kpi.Overall) error {
	fmt.Fprintln(w, "=== OVERALL ===")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "planned_units\tactual_units\tusable_units\tdisposed_units\tcost_leakage\tavg_unit_cost\tavg_loss_rate\tavg_utilization_rate\tshock_days")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.2f\t%.2f\t%.4f\t%.4f\t%d\n",
		o.PlannedUnits, o.ActualUnits, o.UsableUnits, o.DisposedUnits,
		o.CostLeakage, o.AvgUnitCost, o.AvgLossRate, o.AvgUtilizationRate, o.ShockDays)
	return tw.Flush()
}

// RenderStatus writes the site status table, most severe first, trimmed to
// top rows (DefaultTopN when top <= 0).
func RenderStatus(w io.Writer, statuses []rules.SiteStatus, top int) error {
	if top <= 0 {
		top = DefaultTopN
	}
	if len(statuses) > top {
		statuses = statuses[:top]
	}

	fmt.Fprintln(w, "=== SITE STATUS (TOP RISK FIRST) ===")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "site_id\tstatus\tloss_rate_weighted\tcost_leakage\tshock_days\tdominant_loss_reason\tdominant_loss_share\tsustained_high_loss_flag\trising_cost_leakage_flag\trecommended_action")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.2f\t%d\t%s\t%.4f\t%d\t%d\t%s\n",
			s.SiteID, s.Status, s.LossRateWeighted, s.CostLeakage, s.ShockDays,
			s.DominantLossReason, s.DominantLossShare,
			s.SustainedHighLossFlag, s.RisingCostLeakageFlag, s.RecommendedAction)
	}
	return tw.Flush()
}

// RenderSites writes the by_site table, highest cost leakage first, trimmed
// to top rows.
func RenderSites(w io.Writer, bySite []kpi.SiteAgg, top int) error {
	if top <= 0 {
		top = DefaultTopN
	}
	if len(bySite) > top {
		bySite = bySite[:top]
	}

	fmt.Fprintln(w, "=== TOP SITES BY COST LEAKAGE ===")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "site_id\tplanned_units\tactual_units\tusable_units\tdisposed_units\tcost_leakage\tloss_rate_weighted\tutilization_rate_weighted\tshock_days")
	for _, s := range bySite {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2f\t%.4f\t%.4f\t%d\n",
			s.SiteID, s.PlannedUnits, s.ActualUnits, s.UsableUnits, s.DisposedUnits,
			s.CostLeakage, s.LossRateWeighted, s.UtilizationRateWeighted, s.ShockDays)
	}
	return tw.Flush()
}

// RenderTrend writes the cross-site daily series: summed cost leakage and
// mean loss rate per date.
func RenderTrend(w io.Writer, trend []kpi.TrendPoint) error {
	fmt.Fprintln(w, "=== DAILY TREND ===")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "date\tcost_leakage\tloss_rate")
	for _, p := range trend {
		fmt.Fprintf(tw, "%s\t%.2f\t%.4f\n", p.Date.Format("2006-01-02"), p.CostLeakage, p.LossRate)
	}
	return tw.Flush()
}

// RenderMix writes the loss driver totals across the set, largest first.
func RenderMix(w io.Writer, totals []kpi.ReasonTotal) error {
	fmt.Fprintln(w, "=== LOSS DRIVER MIX ===")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "loss_reason\tdisposed_units")
	for _, r := range totals {
		fmt.Fprintf(tw, "%s\t%d\n", r.LossReason, r.DisposedUnits)
	}
	return tw.Flush()
}

// RenderThresholds writes the active rule configuration.
func RenderThresholds(w io.Writer, cfg rules.Config) error {
	fmt.Fprintln(w, "=== ACTIVE THRESHOLDS ===")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "normal_max_loss\t%.2f\n", cfg.NormalMaxLoss)
	fmt.Fprintf(tw, "watch_max_loss\t%.2f\n", cfg.WatchMaxLoss)
	fmt.Fprintf(tw, "sustained_watch_loss\t%.2f\n", cfg.SustainedWatchLoss)
	fmt.Fprintf(tw, "sustained_days\t%d\n", cfg.SustainedDays)
	fmt.Fprintf(tw, "dominant_driver_share\t%.2f\n", cfg.DominantDriverShare)
	fmt.Fprintf(tw, "trend_days\t%d\n", cfg.TrendDays)
	return tw.Flush()
}
