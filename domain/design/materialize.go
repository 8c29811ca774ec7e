package design

import (
	"fmt"
	"math/rand/v2"
	"strconv"
)

// Materialize expands the specification into a fully crossed long-format dataset.
//
// Every subject sees every item under every within-both cell. Between-subject
// cells are assigned to subjects round-robin in declaration order, and the same
// for items. The response column is filled with standard normal draws from rng;
// it only exists so that a baseline model can be fitted.
func Materialize(spec Specification, rng *rand.Rand) (*Dataset, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	subjects := identifiers("S", spec.Subjects)
	items := identifiers("I", spec.Items)
	subjectCells := cartesian(spec.SubjectBetween)
	itemCells := cartesian(spec.ItemBetween)
	withinCells := cartesian(spec.WithinBoth)

	rows := spec.Rows()
	ds := &Dataset{
		Columns:  make(map[string][]string),
		Levels:   make(map[string][]string),
		Response: make([]float64, 0, rows),
	}
	ds.Levels[SubjectColumn] = subjects
	ds.Levels[ItemColumn] = items
	for _, factors := range [][]Factor{spec.SubjectBetween, spec.ItemBetween, spec.WithinBoth} {
		for _, f := range factors {
			ds.Levels[f.Name] = append([]string(nil), f.Levels...)
			ds.Columns[f.Name] = make([]string, 0, rows)
		}
	}
	ds.Columns[SubjectColumn] = make([]string, 0, rows)
	ds.Columns[ItemColumn] = make([]string, 0, rows)

	for si, subj := range subjects {
		sCell := subjectCells[si%len(subjectCells)]
		for ii, item := range items {
			iCell := itemCells[ii%len(itemCells)]
			for _, wCell := range withinCells {
				ds.Columns[SubjectColumn] = append(ds.Columns[SubjectColumn], subj)
				ds.Columns[ItemColumn] = append(ds.Columns[ItemColumn], item)
				appendCell(ds, spec.SubjectBetween, sCell)
				appendCell(ds, spec.ItemBetween, iCell)
				appendCell(ds, spec.WithinBoth, wCell)
				ds.Response = append(ds.Response, rng.NormFloat64())
			}
		}
	}

	return ds, nil
}

func appendCell(ds *Dataset, factors []Factor, cell []int) {
	for k, f := range factors {
		ds.Columns[f.Name] = append(ds.Columns[f.Name], f.Levels[cell[k]])
	}
}

// cartesian enumerates level-index combinations with the first factor varying slowest.
// An empty factor list yields a single empty cell.
func cartesian(factors []Factor) [][]int {
	cells := [][]int{{}}
	for _, f := range factors {
		next := make([][]int, 0, len(cells)*len(f.Levels))
		for _, prefix := range cells {
			for l := range f.Levels {
				cell := make([]int, len(prefix), len(prefix)+1)
				copy(cell, prefix)
				next = append(next, append(cell, l))
			}
		}
		cells = next
	}
	return cells
}

// identifiers builds zero-padded labels such as S01..S20
func identifiers(prefix string, n int) []string {
	width := len(strconv.Itoa(n))
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%0*d", prefix, width, i+1)
	}
	return ids
}
