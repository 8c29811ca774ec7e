// Package variance describes random-effect variance components and turns them
// into the relative covariance factors a mixed model is parameterised by.
package variance

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"lmmpower/domain/core"
)

// psdTolerance is the most negative eigenvalue still accepted as zero
const psdTolerance = 1e-10

// Component gives the relative standard deviations (intercept first, in
// random-term column order) and an optional correlation matrix for one
// grouping factor. SDs are relative to the residual standard deviation.
type Component struct {
	Group       string      `json:"group" yaml:"group"`
	SDs         []float64   `json:"sds" yaml:"sds"`
	Correlation [][]float64 `json:"correlation,omitempty" yaml:"correlation,omitempty"`
}

// Dim is the number of random-effect columns the component covers
func (c Component) Dim() int { return len(c.SDs) }

// Validate checks the standard deviations and the correlation matrix
func (c Component) Validate() error {
	if c.Group == "" {
		return core.NewInvalidArgument("variance.group", "grouping factor name cannot be empty")
	}
	if len(c.SDs) == 0 {
		return core.NewInvalidArgumentf("variance.sds", "group %q has no standard deviations", c.Group)
	}
	for i, sd := range c.SDs {
		if math.IsNaN(sd) || math.IsInf(sd, 0) || sd < 0 {
			return core.NewInvalidArgumentf("variance.sds", "group %q: sd[%d] = %v must be finite and non-negative", c.Group, i, sd)
		}
	}
	if c.Correlation == nil {
		return nil
	}

	k := len(c.SDs)
	if len(c.Correlation) != k {
		return core.NewInvalidArgumentf("variance.correlation", "group %q: expected %d×%d matrix, got %d rows", c.Group, k, k, len(c.Correlation))
	}
	for i, row := range c.Correlation {
		if len(row) != k {
			return core.NewInvalidArgumentf("variance.correlation", "group %q: row %d has %d columns, expected %d", c.Group, i, len(row), k)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.Abs(v) > 1+1e-12 {
				return core.NewInvalidArgumentf("variance.correlation", "group %q: entry (%d,%d) = %v outside [-1, 1]", c.Group, i, j, v)
			}
		}
		if math.Abs(row[i]-1) > 1e-12 {
			return core.NewInvalidArgumentf("variance.correlation", "group %q: diagonal entry %d must be 1", c.Group, i)
		}
	}
	for i := 0; i < k; i++ {
		for j := 0; j < i; j++ {
			if math.Abs(c.Correlation[i][j]-c.Correlation[j][i]) > 1e-12 {
				return core.NewInvalidArgumentf("variance.correlation", "group %q: matrix is not symmetric at (%d,%d)", c.Group, i, j)
			}
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(c.correlation(), false); !ok {
		return core.NewInvalidArgumentf("variance.correlation", "group %q: eigen decomposition failed", c.Group)
	}
	if smallest := minFloat(eig.Values(nil)); smallest < -psdTolerance {
		return core.NewInvalidArgumentf("variance.correlation", "group %q: matrix is not positive semi-definite (min eigenvalue %g)", c.Group, smallest)
	}
	return nil
}

// Factor returns the lower-triangular relative covariance factor
// Λ = diag(SDs)·chol(Correlation). Without a correlation matrix Λ is diagonal.
func (c Component) Factor() (*mat.TriDense, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	k := len(c.SDs)
	lambda := mat.NewTriDense(k, mat.Lower, nil)
	if c.Correlation == nil {
		for i, sd := range c.SDs {
			lambda.SetTri(i, i, sd)
		}
		return lambda, nil
	}

	chol := choleskyLower(c.correlation())
	for i := 0; i < k; i++ {
		for j := 0; j <= i; j++ {
			lambda.SetTri(i, j, c.SDs[i]*chol.At(i, j))
		}
	}
	return lambda, nil
}

// Covariance returns the relative covariance ΛΛᵀ
func (c Component) Covariance() (*mat.SymDense, error) {
	lambda, err := c.Factor()
	if err != nil {
		return nil, err
	}
	var cov mat.SymDense
	cov.SymOuterK(1, lambda)
	return &cov, nil
}

func (c Component) correlation() *mat.SymDense {
	k := len(c.SDs)
	s := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			s.SetSym(i, j, c.Correlation[i][j])
		}
	}
	return s
}

// choleskyLower factors a positive semi-definite matrix. Positive-definite
// input goes through gonum; a singular matrix (for example a correlation of
// exactly ±1) falls back to an outer-product factorisation that zeroes
// columns whose pivot vanishes.
func choleskyLower(s *mat.SymDense) *mat.TriDense {
	var chol mat.Cholesky
	if chol.Factorize(s) {
		var l mat.TriDense
		chol.LTo(&l)
		return &l
	}

	k := s.SymmetricDim()
	l := mat.NewTriDense(k, mat.Lower, nil)
	for j := 0; j < k; j++ {
		d := s.At(j, j)
		for m := 0; m < j; m++ {
			d -= l.At(j, m) * l.At(j, m)
		}
		if d <= psdTolerance {
			continue
		}
		root := math.Sqrt(d)
		l.SetTri(j, j, root)
		for i := j + 1; i < k; i++ {
			v := s.At(i, j)
			for m := 0; m < j; m++ {
				v -= l.At(i, m) * l.At(j, m)
			}
			l.SetTri(i, j, v/root)
		}
	}
	return l
}

// Match orders components by the model's grouping factors. Every group must be
// covered exactly once and carry dims[g] standard deviations.
func Match(groups []string, dims []int, components []Component) ([]Component, error) {
	if len(groups) != len(dims) {
		return nil, core.NewInvalidArgumentf("variance", "%d groups but %d dimensions", len(groups), len(dims))
	}
	byName := make(map[string]Component, len(components))
	for _, c := range components {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byName[c.Group]; dup {
			return nil, core.NewInvalidArgumentf("variance.group", "group %q specified more than once", c.Group)
		}
		byName[c.Group] = c
	}

	ordered := make([]Component, len(groups))
	for i, g := range groups {
		c, ok := byName[g]
		if !ok {
			return nil, core.NewInvalidArgumentf("variance.group", "no variance component for grouping factor %q", g)
		}
		if c.Dim() != dims[i] {
			return nil, core.NewInvalidArgumentf("variance.sds", "group %q has %d random-effect columns, got %d standard deviations", g, dims[i], c.Dim())
		}
		ordered[i] = c
		delete(byName, g)
	}
	if len(byName) > 0 {
		extra := make([]string, 0, len(byName))
		for name := range byName {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		return nil, core.NewInvalidArgumentf("variance.group", "model has no grouping factor %q", extra[0])
	}
	return ordered, nil
}

func minFloat(xs []float64) float64 {
	m := math.Inf(1)
	for _, x := range xs {
		if x < m {
			m = x
		}
	}
	return m
}
