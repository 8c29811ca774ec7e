package lmm

import (
	"gonum.org/v1/gonum/mat"

	"lmmpower/domain/design"
	"lmmpower/domain/formula"
	"lmmpower/ports"
)

// term describes one grouping factor's slice of the random-effects design
type term struct {
	group   string
	levels  []string
	index   []int // level of each row
	cols    [][]float64
	names   []string
	dim     int // random-effect columns per level
	offset  int // first column of this term in Z
	thetaAt int // first θ entry of this term
}

// width is the number of Z columns the term spans
func (t *term) width() int { return len(t.levels) * t.dim }

// thetaLen is the number of lower-triangle entries of the term's λ
func (t *term) thetaLen() int { return t.dim * (t.dim + 1) / 2 }

// structure is the immutable part of a model: design matrices and the
// cross-products that do not depend on the response. Clones share it.
type structure struct {
	formula   *formula.Formula
	contrasts formula.Contrasts
	data      *design.Dataset
	names     []string
	terms     []*term

	x   *mat.Dense    // n×p
	z   *mat.Dense    // n×q
	ztz *mat.SymDense // q×q
	ztx *mat.Dense    // q×p
	xtx *mat.SymDense // p×p

	n, p, q  int
	thetaLen int
}

// Model is a fitted linear mixed model
type Model struct {
	*structure

	reml     bool
	theta    []float64
	beta     []float64
	stdErr   []float64
	sigma    float64
	u        []float64 // spherical random effects
	b        []float64 // conditional modes, b = Λu
	fitted   []float64
	resid    []float64
	deviance float64
	singular bool
	iters    int
}

var _ ports.FittedModel = (*Model)(nil)

func (m *Model) Formula() *formula.Formula { return m.formula }

func (m *Model) CoefficientNames() []string { return append([]string(nil), m.names...) }

func (m *Model) Coefficients() []float64 { return append([]float64(nil), m.beta...) }

func (m *Model) StdErrors() []float64 { return append([]float64(nil), m.stdErr...) }

func (m *Model) Sigma() float64 { return m.sigma }

func (m *Model) Singular() bool { return m.singular }

// Deviance is the minimised (RE)ML criterion
func (m *Model) Deviance() float64 { return m.deviance }

// REML reports whether the model was estimated by restricted maximum likelihood
func (m *Model) REML() bool { return m.reml }

// Theta returns the relative covariance parameters, the column-major lower
// triangle of each grouping factor's λ
func (m *Model) Theta() []float64 { return append([]float64(nil), m.theta...) }

// Groups returns the grouping factors in formula order
func (m *Model) Groups() []string {
	out := make([]string, len(m.terms))
	for i, t := range m.terms {
		out[i] = t.group
	}
	return out
}

// RandomDims returns the random-effect columns per grouping factor
func (m *Model) RandomDims() []int {
	out := make([]int, len(m.terms))
	for i, t := range m.terms {
		out[i] = t.dim
	}
	return out
}

// RandomEffects returns the conditional modes of one grouping factor as a
// levels × columns matrix
func (m *Model) RandomEffects(group string) (*mat.Dense, bool) {
	for _, t := range m.terms {
		if t.group != group {
			continue
		}
		re := mat.NewDense(len(t.levels), t.dim, nil)
		for l := range t.levels {
			for j := 0; j < t.dim; j++ {
				re.Set(l, j, m.b[t.offset+l*t.dim+j])
			}
		}
		return re, true
	}
	return nil, false
}

// Residuals returns the conditional residuals y - Xβ - Zb
func (m *Model) Residuals() []float64 { return append([]float64(nil), m.resid...) }

// Clone returns a copy whose estimates can change independently. The design
// matrices are read-only and shared.
func (m *Model) Clone() ports.FittedModel {
	return m.clone()
}

func (m *Model) clone() *Model {
	c := *m
	c.theta = append([]float64(nil), m.theta...)
	c.beta = append([]float64(nil), m.beta...)
	c.stdErr = append([]float64(nil), m.stdErr...)
	c.u = append([]float64(nil), m.u...)
	c.b = append([]float64(nil), m.b...)
	c.fitted = append([]float64(nil), m.fitted...)
	c.resid = append([]float64(nil), m.resid...)
	return &c
}

// lambda expands θ into the q×q block-diagonal relative covariance factor
func (s *structure) lambda(theta []float64) *mat.Dense {
	l := mat.NewDense(s.q, s.q, nil)
	for _, t := range s.terms {
		local := s.localLambda(t, theta)
		for lvl := range t.levels {
			base := t.offset + lvl*t.dim
			for i := 0; i < t.dim; i++ {
				for j := 0; j <= i; j++ {
					l.Set(base+i, base+j, local.At(i, j))
				}
			}
		}
	}
	return l
}

// localLambda returns the dim×dim lower-triangular λ of one term
func (s *structure) localLambda(t *term, theta []float64) *mat.TriDense {
	local := mat.NewTriDense(t.dim, mat.Lower, nil)
	k := t.thetaAt
	for j := 0; j < t.dim; j++ {
		for i := j; i < t.dim; i++ {
			local.SetTri(i, j, theta[k])
			k++
		}
	}
	return local
}

// initialTheta is the identity λ for every term
func (s *structure) initialTheta() []float64 {
	theta := make([]float64, s.thetaLen)
	for _, t := range s.terms {
		k := t.thetaAt
		for j := 0; j < t.dim; j++ {
			theta[k] = 1
			k += t.dim - j
		}
	}
	return theta
}

// normalizeTheta flips λ columns with a negative diagonal; λλᵀ is unchanged
func (s *structure) normalizeTheta(theta []float64) {
	for _, t := range s.terms {
		k := t.thetaAt
		for j := 0; j < t.dim; j++ {
			if theta[k] < 0 {
				for i := 0; i < t.dim-j; i++ {
					theta[k+i] = -theta[k+i]
				}
			}
			k += t.dim - j
		}
	}
}

// isSingular reports whether any λ diagonal is below tol
func (s *structure) isSingular(theta []float64, tol float64) bool {
	for _, t := range s.terms {
		k := t.thetaAt
		for j := 0; j < t.dim; j++ {
			if theta[k] < tol && theta[k] > -tol {
				return true
			}
			k += t.dim - j
		}
	}
	return false
}
