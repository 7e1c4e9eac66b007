package facts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validHeader = "date,site_id,planned_units,actual_units,usable_units,disposed_units,unit_cost,loss_reason,staffing_shortfall_flag,supplier_delay_flag,temp_excursion_flag"

func csvDoc(rows ...string) string {
	return validHeader + "\n" + strings.Join(rows, "\n") + "\n"
}

func TestParse_ValidFile(t *testing.T) {
	doc := csvDoc(
		"2024-03-01,SITE-A,100,100,90,10,2.00,spoilage,1,0,0",
		"2024-03-02,SITE-B,80,60,30,30,1.50,damage,0,0,1",
	)

	rows, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	r := rows[0]
	assert.Equal(t, "2024-03-01", r.Date.Format("2006-01-02"))
	assert.Equal(t, "SITE-A", r.SiteID)
	assert.Equal(t, 100, r.PlannedUnits)
	assert.Equal(t, 100, r.ActualUnits)
	assert.Equal(t, 90, r.UsableUnits)
	assert.Equal(t, 10, r.DisposedUnits)
	assert.InDelta(t, 2.0, r.UnitCost, 1e-9)
	assert.Equal(t, "spoilage", r.LossReason)
	assert.Equal(t, 1, r.StaffingShortfallFlag)
	assert.Equal(t, 0, r.SupplierDelayFlag)
	assert.True(t, r.AnyShock())

	assert.True(t, rows[1].AnyShock(), "temp excursion alone counts as a shock")
}

func TestParse_AcceptedDateFormats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"plain date", "2024-03-01"},
		{"rfc3339", "2024-03-01T14:30:00Z"},
		{"datetime", "2024-03-01 14:30:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := csvDoc(tt.raw + ",SITE-A,10,10,10,0,1.0,,0,0,0")
			rows, err := Parse(strings.NewReader(doc))
			require.NoError(t, err)
			require.Len(t, rows, 1)

			want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			assert.Equal(t, want, rows[0].Date, "dates truncate to midnight UTC")
		})
	}
}

func TestParse_MissingColumns(t *testing.T) {
	doc := "date,planned_units,actual_units,usable_units,unit_cost,loss_reason,staffing_shortfall_flag,supplier_delay_flag,temp_excursion_flag\n" +
		"2024-03-01,100,100,90,2.0,spoilage,0,0,0\n"

	_, err := Parse(strings.NewReader(doc))
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"disposed_units", "site_id"}, schemaErr.Missing,
		"all missing columns collected, sorted ascending")
	assert.Contains(t, err.Error(), "missing required columns: disposed_units, site_id")
}

func TestParse_BadNumericValue(t *testing.T) {
	doc := csvDoc(
		"2024-03-01,SITE-A,100,100,90,10,2.0,spoilage,0,0,0",
		"2024-03-02,SITE-A,abc,100,90,10,2.0,spoilage,0,0,0",
	)

	_, err := Parse(strings.NewReader(doc))
	require.Error(t, err)

	var valueErr *ValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, 3, valueErr.Line, "header is line 1; the bad row is line 3")
	assert.Equal(t, ColPlannedUnits, valueErr.Column)
	assert.Equal(t, "abc", valueErr.Value)
}

func TestParse_BadUnitCost(t *testing.T) {
	doc := csvDoc("2024-03-01,SITE-A,100,100,90,10,free,spoilage,0,0,0")

	_, err := Parse(strings.NewReader(doc))
	var valueErr *ValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, ColUnitCost, valueErr.Column)
	assert.Equal(t, "free", valueErr.Value)
}

func TestParse_BadDate(t *testing.T) {
	doc := csvDoc("03/01/2024,SITE-A,100,100,90,10,2.0,spoilage,0,0,0")

	_, err := Parse(strings.NewReader(doc))
	var valueErr *ValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, ColDate, valueErr.Column)
	assert.Equal(t, "03/01/2024", valueErr.Value)
}

func TestParse_IntegrityViolations(t *testing.T) {
	doc := csvDoc(
		"2024-03-01,SITE-A,100,100,90,10,2.0,spoilage,0,0,0",
		"2024-03-02,SITE-A,100,100,80,10,2.0,spoilage,0,0,0", // 80+10 != 100
		"2024-03-03,SITE-A,100,100,95,10,2.0,spoilage,0,0,0", // 95+10 != 100
	)

	_, err := Parse(strings.NewReader(doc))
	require.Error(t, err)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, 2, integrityErr.Violations)
	assert.Equal(t, []int{3, 4}, integrityErr.SampleLines)
	assert.Contains(t, err.Error(), "for 2 rows (lines 3, 4)")
}

func TestParse_IntegritySampleCapped(t *testing.T) {
	var rows []string
	for i := 0; i < 8; i++ {
		rows = append(rows, fmt.Sprintf("2024-03-%02d,SITE-A,100,100,80,10,2.0,spoilage,0,0,0", i+1))
	}

	_, err := Parse(strings.NewReader(csvDoc(rows...)))
	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, 8, integrityErr.Violations, "count reflects every violation")
	assert.Len(t, integrityErr.SampleLines, 5, "sample lines capped at five")
	assert.Equal(t, []int{2, 3, 4, 5, 6}, integrityErr.SampleLines)
}

func TestParse_EmptyTable(t *testing.T) {
	rows, err := Parse(strings.NewReader(validHeader + "\n"))
	require.NoError(t, err)
	assert.Empty(t, rows, "a header-only file is a valid empty fact set")
}

func TestParse_TrimsWhitespace(t *testing.T) {
	doc := csvDoc("2024-03-01, SITE-A ,100,100,90, 10 ,2.0, spoilage ,0,0,0")

	rows, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SITE-A", rows[0].SiteID)
	assert.Equal(t, 10, rows[0].DisposedUnits)
	assert.Equal(t, "spoilage", rows[0].LossReason)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.csv")
	doc := csvDoc("2024-03-01,SITE-A,100,100,90,10,2.0,spoilage,0,0,0")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	rows, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open fact table")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_WrapsPathInParseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.csv")
	doc := csvDoc("2024-03-01,SITE-A,100,100,80,10,2.0,spoilage,0,0,0")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)

	var integrityErr *IntegrityError
	assert.ErrorAs(t, err, &integrityErr)
}
