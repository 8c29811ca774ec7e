package design

import (
	"lmmpower/domain/core"
)

// Dataset is a long-format table of categorical columns plus a numeric response.
// Factor columns are shared between copies and must be treated as read-only.
type Dataset struct {
	Columns  map[string][]string
	Levels   map[string][]string
	Response []float64
}

// Rows returns the number of observations
func (d *Dataset) Rows() int {
	return len(d.Response)
}

// Column returns a factor column by name
func (d *Dataset) Column(name string) ([]string, bool) {
	col, ok := d.Columns[name]
	return col, ok
}

// LevelsOf returns the ordered levels of a factor column
func (d *Dataset) LevelsOf(name string) ([]string, bool) {
	lv, ok := d.Levels[name]
	return lv, ok
}

// WithResponse returns a copy of the dataset carrying a new response vector.
// Factor columns are shared with the receiver.
func (d *Dataset) WithResponse(y []float64) (*Dataset, error) {
	if len(y) != d.Rows() {
		return nil, core.NewInvalidArgumentf("response", "expected %d values, got %d", d.Rows(), len(y))
	}
	return &Dataset{
		Columns:  d.Columns,
		Levels:   d.Levels,
		Response: y,
	}, nil
}
