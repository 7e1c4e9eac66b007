package facts

import (
	"fmt"
	"strings"
)

// SchemaError reports required columns absent from the CSV header. All missing
// names are collected before failing, sorted ascending.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// ValueError reports a value in a numeric column that could not be coerced.
// The load fails fast on the first occurrence; there is no partial load.
type ValueError struct {
	Line   int // 1-based CSV line number, header is line 1
	Column string
	Value  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("line %d: column %q: cannot parse %q as a number", e.Line, e.Column, e.Value)
}

// IntegrityError reports rows violating usable_units + disposed_units ==
// actual_units. The whole batch is rejected; SampleLines carries up to the
// first five offending CSV line numbers.
type IntegrityError struct {
	Violations  int
	SampleLines []int
}

func (e *IntegrityError) Error() string {
	if len(e.SampleLines) == 0 {
		return fmt.Sprintf("integrity check failed: usable+disposed != actual for %d rows", e.Violations)
	}
	parts := make([]string, len(e.SampleLines))
	for i, ln := range e.SampleLines {
		parts[i] = fmt.Sprintf("%d", ln)
	}
	return fmt.Sprintf("integrity check failed: usable+disposed != actual for %d rows (lines %s)",
		e.Violations, strings.Join(parts, ", "))
}
