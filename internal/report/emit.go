package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sitewatch/sitewatch/internal/app"
	atomicio "github.com/sitewatch/sitewatch/internal/io"
	"github.com/sitewatch/sitewatch/internal/kpi"
	"github.com/sitewatch/sitewatch/internal/rules"
)

// Emitter writes the aggregate tables and a JSON snapshot into an output
// directory. Writes are atomic; column names and order are a compatibility
// contract for downstream consumers.
type Emitter struct {
	OutDir string
}

func NewEmitter(outDir string) *Emitter {
	return &Emitter{OutDir: outDir}
}

// EmitAll writes every artifact and returns the written paths in order.
func (e *Emitter) EmitAll(analysis *app.Analysis) ([]string, error) {
	artifacts := []struct {
		name string
		emit func(string) error
	}{
		{"by_site.csv", func(p string) error { return e.emitBySite(p, analysis.KPIs.BySite) }},
		{"by_site_day.csv", func(p string) error { return e.emitBySiteDay(p, analysis.KPIs.BySiteDay) }},
		{"loss_mix_by_site.csv", func(p string) error { return e.emitLossMix(p, analysis.KPIs.LossMixBySite) }},
		{"site_status.csv", func(p string) error { return e.emitStatus(p, analysis.Statuses) }},
		{"snapshot.json", func(p string) error { return e.emitSnapshot(p, analysis) }},
	}

	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		path := filepath.Join(e.OutDir, a.name)
		if err := a.emit(path); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", a.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (e *Emitter) emitBySite(path string, bySite []kpi.SiteAgg) error {
	header := []string{
		"site_id", "planned_units", "actual_units", "usable_units", "disposed_units",
		"cost_leakage", "avg_unit_cost", "avg_loss_rate", "avg_utilization_rate",
		"shock_days", "loss_rate_weighted", "utilization_rate_weighted",
	}
	records := make([][]string, 0, len(bySite))
	for _, s := range bySite {
		records = append(records, []string{
			s.SiteID,
			strconv.Itoa(s.PlannedUnits),
			strconv.Itoa(s.ActualUnits),
			strconv.Itoa(s.UsableUnits),
			strconv.Itoa(s.DisposedUnits),
			fmt.Sprintf("%.2f", s.CostLeakage),
			fmt.Sprintf("%.2f", s.AvgUnitCost),
			fmt.Sprintf("%.4f", s.AvgLossRate),
			fmt.Sprintf("%.4f", s.AvgUtilizationRate),
			strconv.Itoa(s.ShockDays),
			fmt.Sprintf("%.4f", s.LossRateWeighted),
			fmt.Sprintf("%.4f", s.UtilizationRateWeighted),
		})
	}
	return writeCSVAtomic(path, header, records)
}

func (e *Emitter) emitBySiteDay(path string, bySiteDay []kpi.SiteDayAgg) error {
	header := []string{
		"date", "site_id", "planned_units", "actual_units", "usable_units",
		"disposed_units", "cost_leakage", "any_shock_flag", "loss_rate", "utilization_rate",
	}
	records := make([][]string, 0, len(bySiteDay))
	for _, d := range bySiteDay {
		records = append(records, []string{
			d.Date.Format("2006-01-02"),
			d.SiteID,
			strconv.Itoa(d.PlannedUnits),
			strconv.Itoa(d.ActualUnits),
			strconv.Itoa(d.UsableUnits),
			strconv.Itoa(d.DisposedUnits),
			fmt.Sprintf("%.2f", d.CostLeakage),
			strconv.Itoa(d.AnyShockFlag),
			fmt.Sprintf("%.4f", d.LossRate),
			fmt.Sprintf("%.4f", d.UtilizationRate),
		})
	}
	return writeCSVAtomic(path, header, records)
}

func (e *Emitter) emitLossMix(path string, lossMix []kpi.LossMixAgg) error {
	header := []string{"site_id", "loss_reason", "disposed_units", "total_disposed", "disposed_share"}
	records := make([][]string, 0, len(lossMix))
	for _, m := range lossMix {
		records = append(records, []string{
			m.SiteID,
			m.LossReason,
			strconv.Itoa(m.DisposedUnits),
			strconv.Itoa(m.TotalDisposed),
			fmt.Sprintf("%.4f", m.DisposedShare),
		})
	}
	return writeCSVAtomic(path, header, records)
}

func (e *Emitter) emitStatus(path string, statuses []rules.SiteStatus) error {
	header := []string{
		"site_id", "status", "loss_rate_weighted", "cost_leakage", "shock_days",
		"dominant_loss_reason", "dominant_loss_share",
		"sustained_high_loss_flag", "rising_cost_leakage_flag", "recommended_action",
	}
	records := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		records = append(records, []string{
			s.SiteID,
			string(s.Status),
			fmt.Sprintf("%.4f", s.LossRateWeighted),
			fmt.Sprintf("%.2f", s.CostLeakage),
			strconv.Itoa(s.ShockDays),
			s.DominantLossReason,
			fmt.Sprintf("%.4f", s.DominantLossShare),
			strconv.Itoa(s.SustainedHighLossFlag),
			strconv.Itoa(s.RisingCostLeakageFlag),
			s.RecommendedAction,
		})
	}
	return writeCSVAtomic(path, header, records)
}

func (e *Emitter) emitSnapshot(path string, analysis *app.Analysis) error {
	snapshot := struct {
		Overall kpi.Overall `json:"overall"`
		Meta    app.Meta    `json:"meta"`
	}{
		Overall: analysis.KPIs.Overall,
		Meta:    analysis.Meta,
	}
	return atomicio.WriteJSONAtomic(path, snapshot)
}

func writeCSVAtomic(path string, header []string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return atomicio.WriteFileAtomic(path, buf.Bytes())
}
