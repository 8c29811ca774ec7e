package formula

import (
	"fmt"
	"strings"

	"lmmpower/domain/core"
	"lmmpower/domain/design"
)

// InterceptName labels the intercept column
const InterceptName = "(Intercept)"

// Columns is a column-major block of a model matrix
type Columns struct {
	Names []string
	Data  [][]float64
}

// Width returns the number of columns
func (c Columns) Width() int { return len(c.Names) }

// RandomBlock holds the per-row random-effect covariates for one grouping factor
// together with the level index of each row
type RandomBlock struct {
	Group   string
	Columns Columns
	Levels  []string
	Index   []int
}

// FixedColumns builds the fixed-effects model matrix X
func FixedColumns(f *Formula, ds *design.Dataset, contrasts Contrasts) (Columns, error) {
	if err := checkContrasts(ds, contrasts); err != nil {
		return Columns{}, err
	}
	return termsColumns(f.Fixed, ds, contrasts)
}

// RandomBlocks builds one block per random term, in formula order
func RandomBlocks(f *Formula, ds *design.Dataset, contrasts Contrasts) ([]RandomBlock, error) {
	blocks := make([]RandomBlock, 0, len(f.Random))
	for _, rt := range f.Random {
		cols, err := termsColumns(rt.Terms, ds, contrasts)
		if err != nil {
			return nil, err
		}
		groupCol, ok := ds.Column(rt.Group)
		if !ok {
			return nil, core.NewInvalidArgumentf("formula", "grouping factor %q is not a column of the dataset", rt.Group)
		}
		levels, _ := ds.LevelsOf(rt.Group)
		pos := make(map[string]int, len(levels))
		for i, lvl := range levels {
			pos[lvl] = i
		}
		index := make([]int, len(groupCol))
		for i, v := range groupCol {
			idx, ok := pos[v]
			if !ok {
				return nil, core.NewInvalidArgumentf("dataset", "value %q of %q is not a declared level", v, rt.Group)
			}
			index[i] = idx
		}
		blocks = append(blocks, RandomBlock{
			Group:   rt.Group,
			Columns: cols,
			Levels:  levels,
			Index:   index,
		})
	}
	return blocks, nil
}

// CoefficientNames returns the fixed-effect names without building the matrix
func CoefficientNames(f *Formula, ds *design.Dataset, contrasts Contrasts) ([]string, error) {
	cols, err := FixedColumns(f, ds, contrasts)
	if err != nil {
		return nil, err
	}
	return cols.Names, nil
}

func checkContrasts(ds *design.Dataset, contrasts Contrasts) error {
	for name, coding := range contrasts {
		if _, ok := ds.LevelsOf(name); !ok {
			return core.NewInvalidArgumentf("contrasts", "factor %q is not in the dataset", name)
		}
		if _, err := ParseCoding(string(coding)); err != nil {
			return err
		}
	}
	return nil
}

func termsColumns(terms []Term, ds *design.Dataset, contrasts Contrasts) (Columns, error) {
	var out Columns
	n := ds.Rows()
	for _, t := range terms {
		if t.IsIntercept() {
			ones := make([]float64, n)
			for i := range ones {
				ones[i] = 1
			}
			out.Names = append(out.Names, InterceptName)
			out.Data = append(out.Data, ones)
			continue
		}
		names, data, err := termColumns(t, ds, contrasts)
		if err != nil {
			return Columns{}, err
		}
		out.Names = append(out.Names, names...)
		out.Data = append(out.Data, data...)
	}
	return out, nil
}

// termColumns forms the row-wise Kronecker product of each factor's contrast
// columns; the first factor varies fastest
func termColumns(t Term, ds *design.Dataset, contrasts Contrasts) ([]string, [][]float64, error) {
	names := []string{""}
	data := [][]float64{nil}

	for _, factor := range t.Factors {
		col, ok := ds.Column(factor)
		if !ok {
			return nil, nil, core.NewInvalidArgumentf("formula", "variable %q is not a column of the dataset", factor)
		}
		levels, _ := ds.LevelsOf(factor)
		matrix, labels := contrasts.For(factor).Matrix(levels)
		pos := make(map[string]int, len(levels))
		for i, lvl := range levels {
			pos[lvl] = i
		}
		rowLevel := make([]int, len(col))
		for i, v := range col {
			idx, ok := pos[v]
			if !ok {
				return nil, nil, core.NewInvalidArgumentf("dataset", "value %q of %q is not a declared level", v, factor)
			}
			rowLevel[i] = idx
		}

		nextNames := make([]string, 0, len(names)*len(labels))
		nextData := make([][]float64, 0, len(names)*len(labels))
		for j, label := range labels {
			for k, prefix := range names {
				name := fmt.Sprintf("%s: %s", factor, label)
				if prefix != "" {
					name = strings.Join([]string{prefix, name}, " & ")
				}
				values := make([]float64, len(col))
				for i := range values {
					v := matrix[rowLevel[i]][j]
					if data[k] != nil {
						v *= data[k][i]
					}
					values[i] = v
				}
				nextNames = append(nextNames, name)
				nextData = append(nextData, values)
			}
		}
		names, data = nextNames, nextData
	}
	return names, data, nil
}
