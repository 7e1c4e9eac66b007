// Package facts loads and filters the daily per-site operational fact table.
// Rows are immutable after load; every downstream stage consumes them read-only.
package facts

import (
	"sort"
	"strings"
	"time"
)

// Canonical loss-reason taxonomy. The loader accepts any reason string; these
// are the values the recommended-action mapping recognizes.
const (
	ReasonOverproduction = "overproduction"
	ReasonSpoilage       = "spoilage"
	ReasonDamage         = "damage"
	ReasonTimingMismatch = "timing_mismatch"
)

// Input column names, exactly as they appear in the CSV header.
const (
	ColDate              = "date"
	ColSiteID            = "site_id"
	ColPlannedUnits      = "planned_units"
	ColActualUnits       = "actual_units"
	ColUsableUnits       = "usable_units"
	ColDisposedUnits     = "disposed_units"
	ColUnitCost          = "unit_cost"
	ColLossReason        = "loss_reason"
	ColStaffingShortfall = "staffing_shortfall_flag"
	ColSupplierDelay     = "supplier_delay_flag"
	ColTempExcursion     = "temp_excursion_flag"
)

// RequiredColumns lists every column the loader demands, in header order.
var RequiredColumns = []string{
	ColDate,
	ColSiteID,
	ColPlannedUnits,
	ColActualUnits,
	ColUsableUnits,
	ColDisposedUnits,
	ColUnitCost,
	ColLossReason,
	ColStaffingShortfall,
	ColSupplierDelay,
	ColTempExcursion,
}

// Row is one (date, site_id) observation from the daily fact table.
// Invariant: UsableUnits + DisposedUnits == ActualUnits; the loader rejects
// the whole batch when any row violates it.
type Row struct {
	Date                  time.Time `json:"date"`
	SiteID                string    `json:"site_id"`
	PlannedUnits          int       `json:"planned_units"`
	ActualUnits           int       `json:"actual_units"`
	UsableUnits           int       `json:"usable_units"`
	DisposedUnits         int       `json:"disposed_units"`
	UnitCost              float64   `json:"unit_cost"`
	LossReason            string    `json:"loss_reason"`
	StaffingShortfallFlag int       `json:"staffing_shortfall_flag"`
	SupplierDelayFlag     int       `json:"supplier_delay_flag"`
	TempExcursionFlag     int       `json:"temp_excursion_flag"`
}

// AnyShock reports whether any of the three shock flags is set on this row.
func (r Row) AnyShock() bool {
	return r.StaffingShortfallFlag == 1 || r.SupplierDelayFlag == 1 || r.TempExcursionFlag == 1
}

// Day truncates t to midnight UTC, the grain of the fact table.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Filter narrows a fact set to a site subset and/or an inclusive date range.
// The zero Filter selects everything. Filtering never mutates the input; the
// presentation layer passes the filtered slice back through the full pipeline.
type Filter struct {
	Sites []string  // empty selects all sites
	From  time.Time // zero means unbounded
	To    time.Time // zero means unbounded; inclusive
}

// IsZero reports whether the filter selects the full fact set.
func (f Filter) IsZero() bool {
	return len(f.Sites) == 0 && f.From.IsZero() && f.To.IsZero()
}

// Key returns a canonical string form of the filter, stable across equivalent
// filters, for use in cache keys.
func (f Filter) Key() string {
	if f.IsZero() {
		return "all"
	}
	sites := append([]string(nil), f.Sites...)
	sort.Strings(sites)

	var b strings.Builder
	b.WriteString("sites=")
	b.WriteString(strings.Join(sites, ","))
	b.WriteString(";from=")
	if !f.From.IsZero() {
		b.WriteString(Day(f.From).Format("2006-01-02"))
	}
	b.WriteString(";to=")
	if !f.To.IsZero() {
		b.WriteString(Day(f.To).Format("2006-01-02"))
	}
	return b.String()
}

// Apply returns the rows matching the filter, in input order.
func (f Filter) Apply(rows []Row) []Row {
	if f.IsZero() {
		out := make([]Row, len(rows))
		copy(out, rows)
		return out
	}

	var siteSet map[string]bool
	if len(f.Sites) > 0 {
		siteSet = make(map[string]bool, len(f.Sites))
		for _, s := range f.Sites {
			siteSet[s] = true
		}
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if siteSet != nil && !siteSet[r.SiteID] {
			continue
		}
		if !f.From.IsZero() && r.Date.Before(Day(f.From)) {
			continue
		}
		if !f.To.IsZero() && r.Date.After(Day(f.To)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Sites returns the distinct site IDs in rows, ascending.
func Sites(rows []Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.SiteID] {
			seen[r.SiteID] = true
			out = append(out, r.SiteID)
		}
	}
	sort.Strings(out)
	return out
}

// DateRange returns the earliest and latest dates in rows. Zero times when
// rows is empty.
func DateRange(rows []Row) (min, max time.Time) {
	for _, r := range rows {
		if min.IsZero() || r.Date.Before(min) {
			min = r.Date
		}
		if max.IsZero() || r.Date.After(max) {
			max = r.Date
		}
	}
	return min, max
}
