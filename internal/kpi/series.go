package kpi

import (
	"sort"
	"time"
)

// TrendPoint is one date of the cross-site daily series: cost leakage summed
// over all sites in the set, loss rate averaged across their site-days.
type TrendPoint struct {
	Date        time.Time `json:"date"`
	CostLeakage float64   `json:"cost_leakage"`
	LossRate    float64   `json:"loss_rate"`
}

// TrendByDay collapses by_site_day across sites into a date-ascending trend
// series for the dashboard and menu views.
func TrendByDay(bySiteDay []SiteDayAgg) []TrendPoint {
	type acc struct {
		leakage float64
		rateSum float64
		n       int
	}
	byDay := make(map[time.Time]*acc)
	for _, d := range bySiteDay {
		a := byDay[d.Date]
		if a == nil {
			a = &acc{}
			byDay[d.Date] = a
		}
		a.leakage += d.CostLeakage
		a.rateSum += d.LossRate
		a.n++
	}

	out := make([]TrendPoint, 0, len(byDay))
	for day, a := range byDay {
		out = append(out, TrendPoint{
			Date:        day,
			CostLeakage: round2(a.leakage),
			LossRate:    round4(a.rateSum / float64(a.n)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// ReasonTotal is one loss reason's disposed total across the whole set.
type ReasonTotal struct {
	LossReason    string `json:"loss_reason"`
	DisposedUnits int    `json:"disposed_units"`
}

// ReasonTotals sums the loss mix across sites, descending by disposed units
// (reason ascending on ties), for the driver-mix view.
func ReasonTotals(lossMix []LossMixAgg) []ReasonTotal {
	byReason := make(map[string]int)
	for _, m := range lossMix {
		byReason[m.LossReason] += m.DisposedUnits
	}

	out := make([]ReasonTotal, 0, len(byReason))
	for reason, units := range byReason {
		out = append(out, ReasonTotal{LossReason: reason, DisposedUnits: units})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DisposedUnits != b.DisposedUnits {
			return a.DisposedUnits > b.DisposedUnits
		}
		return a.LossReason < b.LossReason
	})
	return out
}
