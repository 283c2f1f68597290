package domain

import (
	"fmt"
	"slices"
	"strings"
)

// FeatureTemplate is the canonical default row defining the model input schema.
// Columns and Defaults are positionally aligned. A template is shared
// read-only across requests and must not be mutated.
type FeatureTemplate struct {
	Columns  []string
	Defaults []float64
}

// Empty reports whether the template has no row.
func (t *FeatureTemplate) Empty() bool {
	return t == nil || len(t.Columns) == 0 || len(t.Defaults) == 0
}

// Index returns the position of column, or -1 if absent.
func (t *FeatureTemplate) Index(column string) int {
	return slices.Index(t.Columns, column)
}

// validate checks the template is non-empty and aligned.
func (t *FeatureTemplate) validate() error {
	if t.Empty() {
		return ErrEmptyTemplate
	}
	if len(t.Columns) != len(t.Defaults) {
		return &SchemaMismatchError{Stage: "template", Expected: len(t.Columns), Got: len(t.Defaults), Detail: "defaults not aligned with columns"}
	}
	return nil
}

// Override is a caller-supplied partial assignment of column -> value.
type Override map[string]float64

// InputRow is one complete, model-ready feature vector.
type InputRow struct {
	Columns []string
	Values  []float64
}

// Get returns the value of column and whether it exists.
func (r InputRow) Get(column string) (float64, bool) {
	i := slices.Index(r.Columns, column)
	if i < 0 {
		return 0, false
	}
	return r.Values[i], true
}

// Map returns the row as a column -> value map.
func (r InputRow) Map() map[string]float64 {
	m := make(map[string]float64, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// BuildRow merges overrides into a copy of the template row. Every override
// key must be a template column; when several are unknown the
// lexicographically smallest is reported.
func BuildRow(tmpl *FeatureTemplate, overrides Override) (InputRow, error) {
	if err := tmpl.validate(); err != nil {
		return InputRow{}, err
	}

	row := InputRow{
		Columns: slices.Clone(tmpl.Columns),
		Values:  slices.Clone(tmpl.Defaults),
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		i := tmpl.Index(k)
		if i < 0 {
			return InputRow{}, &UnknownFeatureError{Key: k}
		}
		row.Values[i] = overrides[k]
	}
	return row, nil
}

// RowFromMap converts a full caller-supplied row into an InputRow ordered by
// the template. The key set must equal the template's column set.
func RowFromMap(tmpl *FeatureTemplate, values map[string]float64) (InputRow, error) {
	if err := tmpl.validate(); err != nil {
		return InputRow{}, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if tmpl.Index(k) < 0 {
			return InputRow{}, &UnknownFeatureError{Key: k}
		}
	}

	row := InputRow{
		Columns: slices.Clone(tmpl.Columns),
		Values:  make([]float64, len(tmpl.Columns)),
	}
	var missing []string
	for i, c := range tmpl.Columns {
		v, ok := values[c]
		if !ok {
			missing = append(missing, c)
			continue
		}
		row.Values[i] = v
	}
	if len(missing) > 0 {
		return InputRow{}, &SchemaMismatchError{
			Stage:    "input",
			Expected: len(tmpl.Columns),
			Got:      len(values),
			Detail:   "missing columns " + strings.Join(missing, ", "),
		}
	}
	return row, nil
}

// SelectCategory sets column to 1 and every other column sharing prefix to 0,
// e.g. picking one county out of the county_ indicator group.
func SelectCategory(row InputRow, prefix, column string) (InputRow, error) {
	if !strings.HasPrefix(column, prefix) || !slices.Contains(row.Columns, column) {
		return InputRow{}, &UnknownFeatureError{Key: column}
	}

	out := InputRow{Columns: row.Columns, Values: slices.Clone(row.Values)}
	for i, c := range out.Columns {
		if !strings.HasPrefix(c, prefix) {
			continue
		}
		if c == column {
			out.Values[i] = 1
		} else {
			out.Values[i] = 0
		}
	}
	return out, nil
}

// CategoryColumns lists the template columns that start with prefix.
func (t *FeatureTemplate) CategoryColumns(prefix string) []string {
	var cols []string
	for _, c := range t.Columns {
		if strings.HasPrefix(c, prefix) {
			cols = append(cols, c)
		}
	}
	return cols
}

func (r InputRow) String() string {
	parts := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		parts[i] = fmt.Sprintf("%s=%g", c, r.Values[i])
	}
	return strings.Join(parts, " ")
}
