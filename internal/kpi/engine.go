package kpi

import (
	"sort"
	"time"

	"github.com/sitewatch/sitewatch/internal/facts"
)

// Derive computes the per-row metrics for one fact row. Zero actual units is a
// first-class case: both ratios substitute 0.0 rather than dividing.
func Derive(r facts.Row) Derived {
	d := Derived{Row: r}
	if r.ActualUnits > 0 {
		d.UtilizationRate = float64(r.UsableUnits) / float64(r.ActualUnits)
		d.LossRate = float64(r.DisposedUnits) / float64(r.ActualUnits)
	}
	d.CostLeakage = float64(r.DisposedUnits) * r.UnitCost
	d.PlanVarianceUnits = r.ActualUnits - r.PlannedUnits
	if r.AnyShock() {
		d.AnyShockFlag = 1
	}
	return d
}

type siteDayKey struct {
	site string
	day  time.Time
}

type mixKey struct {
	site   string
	reason string
}

// siteAcc accumulates the by_site reducers: sums for counts and leakage,
// running sums for the mean-of-ratio fields.
type siteAcc struct {
	planned, actual, usable, disposed int
	leakage                           float64
	costSum                           float64
	lossRateSum                       float64
	utilRateSum                       float64
	shockDays                         int
	n                                 int
}

type siteDayAcc struct {
	planned, actual, usable, disposed int
	leakage                           float64
	anyShock                          int
}

// Compute runs one full aggregation pass over the fact rows. It is pure and
// never fails: empty input produces a zero Overall with 0.0 means and empty
// tables. Rows are assumed to already satisfy the loader's unit-balance
// invariant; Compute does not re-validate.
func Compute(rows []facts.Row) *Outputs {
	var (
		overallAcc siteAcc
		bySite     = make(map[string]*siteAcc)
		bySiteDay  = make(map[siteDayKey]*siteDayAcc)
		mix        = make(map[mixKey]int)
		siteTotals = make(map[string]int)
	)

	for _, row := range rows {
		d := Derive(row)

		overallAcc.add(d)

		sa := bySite[d.SiteID]
		if sa == nil {
			sa = &siteAcc{}
			bySite[d.SiteID] = sa
		}
		sa.add(d)

		dk := siteDayKey{site: d.SiteID, day: d.Date}
		da := bySiteDay[dk]
		if da == nil {
			da = &siteDayAcc{}
			bySiteDay[dk] = da
		}
		da.planned += d.PlannedUnits
		da.actual += d.ActualUnits
		da.usable += d.UsableUnits
		da.disposed += d.DisposedUnits
		da.leakage += d.CostLeakage
		if d.AnyShockFlag > da.anyShock {
			da.anyShock = d.AnyShockFlag
		}

		// Rows without a loss reason carry no driver attribution; they stay
		// out of the mix and out of its per-site totals.
		if d.LossReason != "" {
			mix[mixKey{site: d.SiteID, reason: d.LossReason}] += d.DisposedUnits
			siteTotals[d.SiteID] += d.DisposedUnits
		}
	}

	out := &Outputs{
		Overall:       overallAcc.overall(),
		BySite:        make([]SiteAgg, 0, len(bySite)),
		BySiteDay:     make([]SiteDayAgg, 0, len(bySiteDay)),
		LossMixBySite: make([]LossMixAgg, 0, len(mix)),
	}

	for id, acc := range bySite {
		out.BySite = append(out.BySite, acc.site(id))
	}
	sort.Slice(out.BySite, func(i, j int) bool {
		a, b := out.BySite[i], out.BySite[j]
		if a.CostLeakage != b.CostLeakage {
			return a.CostLeakage > b.CostLeakage
		}
		return a.SiteID < b.SiteID
	})

	for key, acc := range bySiteDay {
		row := SiteDayAgg{
			SiteID:        key.site,
			Date:          key.day,
			PlannedUnits:  acc.planned,
			ActualUnits:   acc.actual,
			UsableUnits:   acc.usable,
			DisposedUnits: acc.disposed,
			CostLeakage:   round2(acc.leakage),
			AnyShockFlag:  acc.anyShock,
		}
		if acc.actual > 0 {
			row.LossRate = round4(float64(acc.disposed) / float64(acc.actual))
			row.UtilizationRate = round4(float64(acc.usable) / float64(acc.actual))
		}
		out.BySiteDay = append(out.BySiteDay, row)
	}
	sort.Slice(out.BySiteDay, func(i, j int) bool {
		a, b := out.BySiteDay[i], out.BySiteDay[j]
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		return a.Date.Before(b.Date)
	})

	for key, disposed := range mix {
		row := LossMixAgg{
			SiteID:        key.site,
			LossReason:    key.reason,
			DisposedUnits: disposed,
			TotalDisposed: siteTotals[key.site],
		}
		if row.TotalDisposed > 0 {
			row.DisposedShare = round4(float64(disposed) / float64(row.TotalDisposed))
		}
		out.LossMixBySite = append(out.LossMixBySite, row)
	}
	sort.Slice(out.LossMixBySite, func(i, j int) bool {
		a, b := out.LossMixBySite[i], out.LossMixBySite[j]
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		if a.DisposedShare != b.DisposedShare {
			return a.DisposedShare > b.DisposedShare
		}
		return a.LossReason < b.LossReason
	})

	return out
}

func (a *siteAcc) add(d Derived) {
	a.planned += d.PlannedUnits
	a.actual += d.ActualUnits
	a.usable += d.UsableUnits
	a.disposed += d.DisposedUnits
	a.leakage += d.CostLeakage
	a.costSum += d.UnitCost
	a.lossRateSum += d.LossRate
	a.utilRateSum += d.UtilizationRate
	a.shockDays += d.AnyShockFlag
	a.n++
}

func (a *siteAcc) overall() Overall {
	o := Overall{
		PlannedUnits:  a.planned,
		ActualUnits:   a.actual,
		UsableUnits:   a.usable,
		DisposedUnits: a.disposed,
		CostLeakage:   round2(a.leakage),
		ShockDays:     a.shockDays,
	}
	if a.n > 0 {
		o.AvgUnitCost = round2(a.costSum / float64(a.n))
		o.AvgLossRate = round4(a.lossRateSum / float64(a.n))
		o.AvgUtilizationRate = round4(a.utilRateSum / float64(a.n))
	}
	return o
}

func (a *siteAcc) site(id string) SiteAgg {
	s := SiteAgg{
		SiteID:        id,
		PlannedUnits:  a.planned,
		ActualUnits:   a.actual,
		UsableUnits:   a.usable,
		DisposedUnits: a.disposed,
		CostLeakage:   round2(a.leakage),
		ShockDays:     a.shockDays,
	}
	if a.n > 0 {
		s.AvgUnitCost = round2(a.costSum / float64(a.n))
		s.AvgLossRate = round4(a.lossRateSum / float64(a.n))
		s.AvgUtilizationRate = round4(a.utilRateSum / float64(a.n))
	}
	if a.actual > 0 {
		s.LossRateWeighted = round4(float64(a.disposed) / float64(a.actual))
		s.UtilizationRateWeighted = round4(float64(a.usable) / float64(a.actual))
	}
	return s
}
