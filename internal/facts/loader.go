package facts

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// dateFormats are the accepted formats for the date column. Day precision is
// the table grain; timestamps are truncated to midnight UTC.
var dateFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

const integritySampleCap = 5

// Load reads the daily fact table from a CSV file. It fails whole on a missing
// file, a missing column, an uncoercible value, or any row violating the unit
// balance invariant. There is no partial acceptance.
func Load(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fact table: %w", err)
	}
	defer file.Close()

	rows, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// Parse reads the fact table from r. See Load for the failure contract.
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	line := 1 // header
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		line++

		row, err := parseRecord(record, cols, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	if err := checkIntegrity(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// mapColumns maps required column names to record indices, collecting every
// missing name before failing so the error lists them all at once.
func mapColumns(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &SchemaError{Missing: missing}
	}
	return idx, nil
}

func parseRecord(record []string, cols map[string]int, line int) (Row, error) {
	field := func(name string) string {
		i := cols[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	parseInt := func(name string) (int, error) {
		raw := field(name)
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, &ValueError{Line: line, Column: name, Value: raw}
		}
		return v, nil
	}

	var row Row
	var err error

	date, derr := parseDate(field(ColDate))
	if derr != nil {
		return Row{}, &ValueError{Line: line, Column: ColDate, Value: field(ColDate)}
	}
	row.Date = date
	row.SiteID = field(ColSiteID)
	row.LossReason = field(ColLossReason)

	if row.PlannedUnits, err = parseInt(ColPlannedUnits); err != nil {
		return Row{}, err
	}
	if row.ActualUnits, err = parseInt(ColActualUnits); err != nil {
		return Row{}, err
	}
	if row.UsableUnits, err = parseInt(ColUsableUnits); err != nil {
		return Row{}, err
	}
	if row.DisposedUnits, err = parseInt(ColDisposedUnits); err != nil {
		return Row{}, err
	}

	rawCost := field(ColUnitCost)
	if row.UnitCost, err = strconv.ParseFloat(rawCost, 64); err != nil {
		return Row{}, &ValueError{Line: line, Column: ColUnitCost, Value: rawCost}
	}

	if row.StaffingShortfallFlag, err = parseInt(ColStaffingShortfall); err != nil {
		return Row{}, err
	}
	if row.SupplierDelayFlag, err = parseInt(ColSupplierDelay); err != nil {
		return Row{}, err
	}
	if row.TempExcursionFlag, err = parseInt(ColTempExcursion); err != nil {
		return Row{}, err
	}

	return row, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, raw); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// checkIntegrity enforces usable+disposed == actual for every row. Violations
// reject the whole batch, reporting the count and the first few line numbers.
func checkIntegrity(rows []Row) error {
	var count int
	var sample []int
	for i, r := range rows {
		if r.UsableUnits+r.DisposedUnits != r.ActualUnits {
			count++
			if len(sample) < integritySampleCap {
				sample = append(sample, i+2) // data rows start at line 2
			}
		}
	}
	if count > 0 {
		return &IntegrityError{Violations: count, SampleLines: sample}
	}
	return nil
}
