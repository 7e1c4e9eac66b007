package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch/sitewatch/internal/facts"
	"github.com/sitewatch/sitewatch/internal/kpi"
)

func siteAgg(id string, lossRateWeighted, costLeakage float64) kpi.SiteAgg {
	return kpi.SiteAgg{SiteID: id, LossRateWeighted: lossRateWeighted, CostLeakage: costLeakage}
}

func dayAgg(id, day string, lossRate, costLeakage float64) kpi.SiteDayAgg {
	d, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return kpi.SiteDayAgg{SiteID: id, Date: d, LossRate: lossRate, CostLeakage: costLeakage}
}

func mixAgg(id, reason string, share float64) kpi.LossMixAgg {
	return kpi.LossMixAgg{SiteID: id, LossReason: reason, DisposedShare: share}
}

// week builds n consecutive daily rows for one site with a fixed loss rate.
func week(id string, n int, lossRate float64) []kpi.SiteDayAgg {
	days := make([]kpi.SiteDayAgg, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, dayAgg(id, time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), lossRate, 10.0))
	}
	return days
}

func classifyOne(t *testing.T, site kpi.SiteAgg, days []kpi.SiteDayAgg, mix []kpi.LossMixAgg, cfg Config) SiteStatus {
	t.Helper()
	out, err := Classify([]kpi.SiteAgg{site}, days, mix, cfg)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestClassify_WorkedScenario(t *testing.T) {
	// One site, one day: planned 100, actual 100, usable 90, disposed 10 at
	// 2.0/unit, all disposals spoilage. The 0.10 weighted loss rate sits on
	// the watch boundary, but the single reason owns 100% of disposals, so
	// the dominant-driver rule escalates.
	rows := []facts.Row{{
		Date:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		SiteID:        "SITE-A",
		PlannedUnits:  100,
		ActualUnits:   100,
		UsableUnits:   90,
		DisposedUnits: 10,
		UnitCost:      2.0,
		LossReason:    "spoilage",
	}}
	agg := kpi.Compute(rows)
	assert.InDelta(t, 20.0, agg.Overall.CostLeakage, 1e-9)
	assert.InDelta(t, 0.10, agg.Overall.AvgLossRate, 1e-9)

	out, err := Classify(agg.BySite, agg.BySiteDay, agg.LossMixBySite, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out, 1)

	s := out[0]
	assert.Equal(t, StatusIntervention, s.Status)
	assert.InDelta(t, 0.10, s.LossRateWeighted, 1e-9)
	assert.InDelta(t, 20.0, s.CostLeakage, 1e-9)
	assert.Equal(t, "spoilage", s.DominantLossReason)
	assert.InDelta(t, 1.0, s.DominantLossShare, 1e-9)
	assert.Equal(t, 0, s.SustainedHighLossFlag)
	assert.Equal(t, 0, s.RisingCostLeakageFlag)
	assert.Equal(t, actionByReason["spoilage"], s.RecommendedAction)
}

func TestClassify_WatchOnBoundaryWithoutDominantDriver(t *testing.T) {
	// Same 0.10 loss rate, but disposals split evenly across two reasons, so
	// no driver reaches the 0.60 dominance threshold. 0.10 is not > 0.10.
	mix := []kpi.LossMixAgg{
		mixAgg("SITE-A", "damage", 0.5),
		mixAgg("SITE-A", "spoilage", 0.5),
	}
	s := classifyOne(t, siteAgg("SITE-A", 0.10, 20.0), nil, mix, DefaultConfig())

	assert.Equal(t, StatusWatch, s.Status)
	assert.Equal(t, "damage", s.DominantLossReason, "first mix row wins the tie")
}

func TestClassify_StatusThresholds(t *testing.T) {
	tests := []struct {
		name     string
		lossRate float64
		expected Status
	}{
		{"well below normal", 0.01, StatusNormal},
		{"exactly normal max", 0.05, StatusNormal},
		{"just above normal max", 0.0501, StatusWatch},
		{"exactly watch max", 0.10, StatusWatch},
		{"just above watch max", 0.1001, StatusIntervention},
		{"far above watch max", 0.50, StatusIntervention},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := classifyOne(t, siteAgg("SITE-A", tt.lossRate, 0), nil, nil, DefaultConfig())
			assert.Equal(t, tt.expected, s.Status)
		})
	}
}

func TestClassify_SeverityMonotonicInLossRate(t *testing.T) {
	severity := map[Status]int{StatusNormal: 0, StatusWatch: 1, StatusIntervention: 2}

	prev := -1
	for _, lr := range []float64{0.0, 0.03, 0.05, 0.06, 0.08, 0.10, 0.12, 0.30} {
		s := classifyOne(t, siteAgg("SITE-A", lr, 0), nil, nil, DefaultConfig())
		rank := severity[s.Status]
		assert.GreaterOrEqual(t, rank, prev, "raising the loss rate must never lower severity (at %v)", lr)
		prev = rank
	}
}

func TestClassify_SustainedHighLoss(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("exactly sustained_days at exactly the threshold", func(t *testing.T) {
		days := week("SITE-A", cfg.SustainedDays, cfg.SustainedWatchLoss)
		s := classifyOne(t, siteAgg("SITE-A", 0.02, 5.0), days, nil, cfg)

		assert.Equal(t, 1, s.SustainedHighLossFlag, "at-threshold days count (>= comparison)")
		assert.Equal(t, StatusIntervention, s.Status, "sustained loss escalates even a low weighted rate")
	})

	t.Run("one day short of the window", func(t *testing.T) {
		days := week("SITE-A", cfg.SustainedDays-1, cfg.SustainedWatchLoss)
		s := classifyOne(t, siteAgg("SITE-A", 0.02, 5.0), days, nil, cfg)

		assert.Equal(t, 0, s.SustainedHighLossFlag, "short history is never padded")
		assert.Equal(t, StatusNormal, s.Status)
	})

	t.Run("one dip inside the window resets the flag", func(t *testing.T) {
		days := week("SITE-A", cfg.SustainedDays, cfg.SustainedWatchLoss)
		days[cfg.SustainedDays-2].LossRate = cfg.SustainedWatchLoss - 0.001
		s := classifyOne(t, siteAgg("SITE-A", 0.02, 5.0), days, nil, cfg)

		assert.Equal(t, 0, s.SustainedHighLossFlag)
	})

	t.Run("only the trailing window matters", func(t *testing.T) {
		// Early high-loss days followed by a clean recent window.
		days := append(week("SITE-A", cfg.SustainedDays, 0.20), dayAgg("SITE-A", "2024-03-10", 0.0, 1.0))
		s := classifyOne(t, siteAgg("SITE-A", 0.02, 5.0), days, nil, cfg)

		assert.Equal(t, 0, s.SustainedHighLossFlag)
	})
}

func TestClassify_RisingCostLeakage(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("strictly increasing tail", func(t *testing.T) {
		days := []kpi.SiteDayAgg{
			dayAgg("SITE-A", "2024-03-01", 0.0, 5.0),
			dayAgg("SITE-A", "2024-03-02", 0.0, 6.0),
			dayAgg("SITE-A", "2024-03-03", 0.0, 7.5),
		}
		s := classifyOne(t, siteAgg("SITE-A", 0.0, 7.5), days, nil, cfg)

		assert.Equal(t, 1, s.RisingCostLeakageFlag)
		assert.Equal(t, StatusWatch, s.Status, "a rising trend alone lifts a quiet site to watch")
	})

	t.Run("plateau is not rising", func(t *testing.T) {
		days := []kpi.SiteDayAgg{
			dayAgg("SITE-A", "2024-03-01", 0.0, 5.0),
			dayAgg("SITE-A", "2024-03-02", 0.0, 6.0),
			dayAgg("SITE-A", "2024-03-03", 0.0, 6.0),
		}
		s := classifyOne(t, siteAgg("SITE-A", 0.0, 6.0), days, nil, cfg)

		assert.Equal(t, 0, s.RisingCostLeakageFlag)
		assert.Equal(t, StatusNormal, s.Status)
	})

	t.Run("too little history", func(t *testing.T) {
		days := []kpi.SiteDayAgg{
			dayAgg("SITE-A", "2024-03-01", 0.0, 5.0),
			dayAgg("SITE-A", "2024-03-02", 0.0, 6.0),
		}
		s := classifyOne(t, siteAgg("SITE-A", 0.0, 6.0), days, nil, cfg)

		assert.Equal(t, 0, s.RisingCostLeakageFlag)
	})

	t.Run("only the tail is inspected", func(t *testing.T) {
		// A mid-series dip does not matter when the last three days rise.
		days := []kpi.SiteDayAgg{
			dayAgg("SITE-A", "2024-03-01", 0.0, 9.0),
			dayAgg("SITE-A", "2024-03-02", 0.0, 2.0),
			dayAgg("SITE-A", "2024-03-03", 0.0, 3.0),
			dayAgg("SITE-A", "2024-03-04", 0.0, 4.0),
		}
		s := classifyOne(t, siteAgg("SITE-A", 0.0, 18.0), days, nil, cfg)

		assert.Equal(t, 1, s.RisingCostLeakageFlag)
	})
}

func TestClassify_DominantDriverEscalation(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		lossRate float64
		share    float64
		expected Status
	}{
		{"dominant share with elevated loss", 0.06, 0.75, StatusIntervention},
		{"share exactly at the dominance threshold", 0.06, 0.60, StatusIntervention},
		{"share just under the dominance threshold", 0.06, 0.59, StatusWatch},
		{"dominant share but loss within normal band", 0.05, 1.0, StatusNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mix := []kpi.LossMixAgg{mixAgg("SITE-A", "damage", tt.share)}
			s := classifyOne(t, siteAgg("SITE-A", tt.lossRate, 10.0), nil, mix, cfg)
			assert.Equal(t, tt.expected, s.Status)
		})
	}
}

func TestClassify_NoDriverData(t *testing.T) {
	// No daily rows and no mix rows at all for the site.
	s := classifyOne(t, siteAgg("SITE-A", 0.02, 1.0), nil, nil, DefaultConfig())

	assert.Equal(t, StatusNormal, s.Status)
	assert.Empty(t, s.DominantLossReason)
	assert.Zero(t, s.DominantLossShare)
	assert.Equal(t, 0, s.SustainedHighLossFlag)
	assert.Equal(t, 0, s.RisingCostLeakageFlag)
	assert.Equal(t, "Review site performance; insufficient driver data.", s.RecommendedAction)
}

func TestClassify_RecommendedActions(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"overproduction", "Adjust ordering cadence / tighten plan vs actual variance; review reorder points."},
		{"spoilage", "Strengthen process controls (handling/storage); investigate temperature excursions and SOP adherence."},
		{"damage", "Improve handling/packaging; target training and standard work to reduce breakage."},
		{"timing_mismatch", "Fix scheduling + staffing alignment; coordinate inbound timing and process capacity."},
		{"contamination", "Review site performance; define corrective action."},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			mix := []kpi.LossMixAgg{mixAgg("SITE-A", tt.reason, 1.0)}
			s := classifyOne(t, siteAgg("SITE-A", 0.0, 0.0), nil, mix, DefaultConfig())
			assert.Equal(t, tt.want, s.RecommendedAction)
		})
	}
}

func TestClassify_SortsMostSevereFirst(t *testing.T) {
	bySite := []kpi.SiteAgg{
		siteAgg("SITE-NORMAL", 0.01, 500.0),
		siteAgg("SITE-WATCH", 0.07, 5.0),
		siteAgg("SITE-CRIT", 0.20, 1.0),
	}

	out, err := Classify(bySite, nil, nil, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "SITE-CRIT", out[0].SiteID, "severity outranks leakage volume")
	assert.Equal(t, "SITE-WATCH", out[1].SiteID)
	assert.Equal(t, "SITE-NORMAL", out[2].SiteID)
}

func TestClassify_SortTieBreaks(t *testing.T) {
	bySite := []kpi.SiteAgg{
		siteAgg("SITE-B", 0.20, 10.0),
		siteAgg("SITE-A", 0.20, 10.0),
		siteAgg("SITE-C", 0.20, 30.0),
	}

	out, err := Classify(bySite, nil, nil, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "SITE-C", out[0].SiteID, "higher leakage first within a severity")
	assert.Equal(t, "SITE-A", out[1].SiteID, "site id breaks exact ties")
	assert.Equal(t, "SITE-B", out[2].SiteID)
}

func TestClassify_EmptySiteID(t *testing.T) {
	_, err := Classify([]kpi.SiteAgg{{SiteID: ""}}, nil, nil, DefaultConfig())
	require.Error(t, err)

	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "site_id", inputErr.Field)
	assert.Contains(t, err.Error(), "site_id")
}

func TestClassify_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WatchMaxLoss = 1.5

	_, err := Classify([]kpi.SiteAgg{siteAgg("SITE-A", 0.0, 0.0)}, nil, nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch_max_loss")
}

func TestClassify_EmptyInput(t *testing.T) {
	out, err := Classify(nil, nil, nil, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotNil(t, out, "an empty status table still marshals as []")
}

func TestClassify_CustomThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NormalMaxLoss = 0.01
	cfg.WatchMaxLoss = 0.02

	s := classifyOne(t, siteAgg("SITE-A", 0.03, 1.0), nil, nil, cfg)
	assert.Equal(t, StatusIntervention, s.Status, "tightened thresholds reclassify the same site")
}
