// Package lmm fits linear mixed models by profiled (restricted) maximum
// likelihood and implements ports.ModelFitter on top of gonum.
package lmm

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"lmmpower/domain/core"
	"lmmpower/domain/design"
	"lmmpower/domain/formula"
	"lmmpower/domain/power"
	"lmmpower/domain/variance"
	"lmmpower/internal"
	"lmmpower/ports"
)

// Config controls estimation
type Config struct {
	// REML selects restricted maximum likelihood; the default is ML
	REML bool
	// MaxIterations bounds the Nelder-Mead major iterations
	MaxIterations int
	// SingularTolerance is the smallest λ diagonal not treated as zero
	SingularTolerance float64
}

// DefaultConfig returns ML estimation with the usual singularity threshold
func DefaultConfig() Config {
	return Config{
		MaxIterations:     2000,
		SingularTolerance: 1e-4,
	}
}

// Fitter implements ports.ModelFitter
type Fitter struct {
	cfg    Config
	logger *internal.Logger
}

var _ ports.ModelFitter = (*Fitter)(nil)

// NewFitter creates a fitter; zero config fields take their defaults
func NewFitter(cfg Config, logger *internal.Logger) *Fitter {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.SingularTolerance <= 0 {
		cfg.SingularTolerance = def.SingularTolerance
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Fitter{cfg: cfg, logger: logger}
}

// Fit builds the model matrices and estimates the model
func (f *Fitter) Fit(ctx context.Context, form *formula.Formula, ds *design.Dataset, contrasts formula.Contrasts) (ports.FittedModel, error) {
	if form == nil || ds == nil {
		return nil, core.NewInvalidArgument("fit", "formula and dataset are required")
	}
	s, err := newStructure(form, ds, contrasts)
	if err != nil {
		return nil, err
	}
	m := &Model{structure: s, reml: f.cfg.REML}
	if err := f.estimate(ctx, m, ds.Response); err != nil {
		return nil, err
	}
	f.logger.Debug("[LMM] fitted %s: deviance=%.4f sigma=%.4f theta=%v singular=%t (%d iterations)",
		form.Source(), m.Deviance(), m.sigma, m.theta, m.singular, m.iters)
	return m, nil
}

// Refit estimates a clone of model on a new response. A non-converging fit is
// reported as a singular outcome with NaN estimates rather than an error.
func (f *Fitter) Refit(ctx context.Context, model ports.FittedModel, ds *design.Dataset) (power.ReplicateOutcome, error) {
	base, err := asModel(model)
	if err != nil {
		return power.ReplicateOutcome{}, err
	}
	if ds == nil || ds.Rows() != base.n {
		return power.ReplicateOutcome{}, core.NewInvalidArgument("dataset", "response does not match the model's rows")
	}
	if err := ctx.Err(); err != nil {
		return power.ReplicateOutcome{}, err
	}

	m := base.clone()
	if err := f.estimate(ctx, m, ds.Response); err != nil {
		if core.IsFitFailure(err) {
			f.logger.Trace("[LMM] replicate refit failed: %v", err)
			return power.FailedOutcome(base.p), nil
		}
		return power.ReplicateOutcome{}, err
	}
	return power.ReplicateOutcome{
		Estimates: m.beta,
		StdErrors: m.stdErr,
		Sigma:     m.sigma,
		Singular:  m.singular,
	}, nil
}

// InstallVarianceComponents returns a clone whose θ encodes the components.
// Components are matched to grouping factors by name.
func (f *Fitter) InstallVarianceComponents(model ports.FittedModel, components []variance.Component) (ports.FittedModel, error) {
	base, err := asModel(model)
	if err != nil {
		return nil, err
	}
	ordered, err := variance.Match(base.Groups(), base.RandomDims(), components)
	if err != nil {
		return nil, err
	}

	m := base.clone()
	for i, t := range m.terms {
		lambda, err := ordered[i].Factor()
		if err != nil {
			return nil, err
		}
		k := t.thetaAt
		for j := 0; j < t.dim; j++ {
			for r := j; r < t.dim; r++ {
				m.theta[k] = lambda.At(r, j)
				k++
			}
		}
	}
	m.singular = m.isSingular(m.theta, f.cfg.SingularTolerance)
	return m, nil
}

func (f *Fitter) estimate(ctx context.Context, m *Model, y []float64) error {
	r := m.response(y)
	objective := func(theta []float64) float64 {
		sol, err := m.evaluate(theta, r, m.reml, false)
		if err != nil || math.IsNaN(sol.deviance) {
			return math.Inf(1)
		}
		return sol.deviance
	}

	settings := &optimize.Settings{
		MajorIterations: f.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Relative:   1e-10,
			Iterations: 50,
		},
	}
	result, err := optimize.Minimize(optimize.Problem{
		Func: objective,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}, m.initialTheta(), settings, &optimize.NelderMead{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return core.NewFitFailure("optimizer stopped", err)
	}
	if result.Status == optimize.IterationLimit {
		return core.NewFitFailure(fmt.Sprintf("no convergence after %d iterations", result.Stats.MajorIterations), nil)
	}
	if math.IsInf(result.F, 0) || math.IsNaN(result.F) {
		return core.NewFitFailure("deviance is not finite", nil)
	}

	theta := append([]float64(nil), result.X...)
	m.normalizeTheta(theta)
	sol, err := m.evaluate(theta, r, m.reml, true)
	if err != nil {
		return core.NewFitFailure("final evaluation", err)
	}
	m.apply(theta, sol, r, f.cfg.SingularTolerance)
	m.iters = result.Stats.MajorIterations
	return nil
}

// apply stores the estimates of a converged solution
func (m *Model) apply(theta []float64, sol *solution, r *response, tol float64) {
	m.theta = theta
	m.beta = sol.beta
	m.u = sol.u
	m.deviance = sol.deviance

	dof := float64(m.n)
	if m.reml {
		dof -= float64(m.p)
	}
	m.sigma = math.Sqrt(sol.pwrss / dof)

	m.stdErr = make([]float64, m.p)
	for i := range m.stdErr {
		m.stdErr[i] = m.sigma * math.Sqrt(sol.xtxInv.At(i, i))
	}

	lambda := m.lambda(theta)
	b := mat.NewVecDense(m.q, nil)
	b.MulVec(lambda, mat.NewVecDense(m.q, sol.u))
	m.b = b.RawVector().Data

	fitted := mat.NewVecDense(m.n, nil)
	fitted.MulVec(m.x, mat.NewVecDense(m.p, sol.beta))
	var zb mat.VecDense
	zb.MulVec(m.z, b)
	fitted.AddVec(fitted, &zb)
	m.fitted = fitted.RawVector().Data

	m.resid = make([]float64, m.n)
	for i := range m.resid {
		m.resid[i] = r.y.AtVec(i) - m.fitted[i]
	}
	m.singular = m.isSingular(theta, tol)
}

func asModel(model ports.FittedModel) (*Model, error) {
	m, ok := model.(*Model)
	if !ok || m == nil {
		return nil, core.NewInvalidArgumentf("model", "expected a model fitted by this package, got %T", model)
	}
	return m, nil
}

// newStructure builds X, Z and their cross-products
func newStructure(form *formula.Formula, ds *design.Dataset, contrasts formula.Contrasts) (*structure, error) {
	if len(form.Random) == 0 {
		return nil, core.NewInvalidArgument("formula", "a mixed model needs at least one random-effects term")
	}
	xcols, err := formula.FixedColumns(form, ds, contrasts)
	if err != nil {
		return nil, err
	}
	blocks, err := formula.RandomBlocks(form, ds, contrasts)
	if err != nil {
		return nil, err
	}

	n, p := ds.Rows(), xcols.Width()
	if p == 0 {
		return nil, core.NewInvalidArgument("formula", "the model has no fixed effects")
	}
	if n <= p {
		return nil, core.NewInvalidArgumentf("dataset", "%d rows cannot identify %d fixed effects", n, p)
	}

	s := &structure{
		formula:   form,
		contrasts: contrasts,
		data:      ds,
		names:     xcols.Names,
		n:         n,
		p:         p,
	}
	for _, blk := range blocks {
		t := &term{
			group:   blk.Group,
			levels:  blk.Levels,
			index:   blk.Index,
			cols:    blk.Columns.Data,
			names:   blk.Columns.Names,
			dim:     blk.Columns.Width(),
			offset:  s.q,
			thetaAt: s.thetaLen,
		}
		s.q += t.width()
		s.thetaLen += t.thetaLen()
		s.terms = append(s.terms, t)
	}

	s.x = mat.NewDense(n, p, nil)
	for j, col := range xcols.Data {
		for i, v := range col {
			s.x.Set(i, j, v)
		}
	}
	s.z = mat.NewDense(n, s.q, nil)
	for _, t := range s.terms {
		for i := 0; i < n; i++ {
			base := t.offset + t.index[i]*t.dim
			for j := 0; j < t.dim; j++ {
				s.z.Set(i, base+j, t.cols[j][i])
			}
		}
	}

	s.ztz = mat.NewSymDense(s.q, nil)
	s.ztz.SymOuterK(1, s.z.T())
	s.xtx = mat.NewSymDense(p, nil)
	s.xtx.SymOuterK(1, s.x.T())
	s.ztx = mat.NewDense(s.q, p, nil)
	s.ztx.Mul(s.z.T(), s.x)

	if rank := columnRank(s.x); rank < p {
		return nil, core.NewInvalidArgumentf("formula", "fixed-effects matrix is rank deficient (%d of %d columns)", rank, p)
	}
	return s, nil
}

// columnRank estimates the column rank of x from its singular values
func columnRank(x *mat.Dense) int {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0
	}
	tol := values[0] * 1e-10
	rank := 0
	for _, v := range values {
		if v > tol {
			rank++
		}
	}
	return rank
}
