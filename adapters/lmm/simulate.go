package lmm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"lmmpower/domain/core"
	"lmmpower/domain/design"
	"lmmpower/ports"
)

// SimulateReplicate draws y = Xβ + ZΛ(σu) + σε with u, ε standard normal.
// The spherical effects are drawn first, then the residuals, all from src.
func (f *Fitter) SimulateReplicate(model ports.FittedModel, beta []float64, sigma float64, src *rand.Rand) (*design.Dataset, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	if err := m.checkBeta(beta); err != nil {
		return nil, err
	}
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) || sigma < 0 {
		return nil, core.NewInvalidArgumentf("residual_scale", "must be finite and non-negative, got %v", sigma)
	}
	if src == nil {
		return nil, core.NewInvalidArgument("rng", "a random source is required")
	}

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	u := mat.NewVecDense(m.q, nil)
	for i := 0; i < m.q; i++ {
		u.SetVec(i, sigma*norm.Rand())
	}
	var b mat.VecDense
	b.MulVec(m.lambda(m.theta), u)

	y := m.linearPredictor(beta, &b)
	for i := range y {
		y[i] += sigma * norm.Rand()
	}
	return m.data.WithResponse(y)
}

// ResampleReplicate draws y = Xβ + Zb* + ε*, where b* resamples whole level
// vectors of each grouping factor's conditional modes and ε* resamples the
// conditional residuals, both with replacement
func (f *Fitter) ResampleReplicate(model ports.FittedModel, beta []float64, src *rand.Rand) (*design.Dataset, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	if err := m.checkBeta(beta); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, core.NewInvalidArgument("rng", "a random source is required")
	}
	if len(m.b) != m.q || len(m.resid) != m.n {
		return nil, core.NewInvalidArgument("model", "resampling needs a fitted model with conditional modes")
	}

	b := mat.NewVecDense(m.q, nil)
	for _, t := range m.terms {
		levels := len(t.levels)
		for l := 0; l < levels; l++ {
			from := src.IntN(levels)
			for j := 0; j < t.dim; j++ {
				b.SetVec(t.offset+l*t.dim+j, m.b[t.offset+from*t.dim+j])
			}
		}
	}

	y := m.linearPredictor(beta, b)
	for i := range y {
		y[i] += m.resid[src.IntN(m.n)]
	}
	return m.data.WithResponse(y)
}

// linearPredictor returns Xβ + Zb as a fresh slice
func (m *Model) linearPredictor(beta []float64, b mat.Vector) []float64 {
	eta := mat.NewVecDense(m.n, nil)
	eta.MulVec(m.x, mat.NewVecDense(m.p, append([]float64(nil), beta...)))
	var zb mat.VecDense
	zb.MulVec(m.z, b)
	eta.AddVec(eta, &zb)
	return eta.RawVector().Data
}

func (m *Model) checkBeta(beta []float64) error {
	if len(beta) != m.p {
		return core.NewInvalidArgumentf("fixed_effects", "model has %d coefficients %v, got %d values", m.p, m.names, len(beta))
	}
	for i, v := range beta {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return core.NewInvalidArgumentf("fixed_effects", "%s = %v is not finite", m.names[i], v)
		}
	}
	return nil
}
