package lmm

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"lmmpower/domain/core"
	"lmmpower/domain/design"
	"lmmpower/domain/formula"
	"lmmpower/domain/variance"
)

var effects = formula.Contrasts{"context": formula.EffectsCoding}

func crossedDataset(t *testing.T, subjects, items int) *design.Dataset {
	t.Helper()
	ds, err := design.Materialize(design.Specification{
		Subjects:   subjects,
		Items:      items,
		WithinBoth: []design.Factor{{Name: "context", Levels: []string{"neutral", "biased"}}},
	}, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	return ds
}

// oneWay builds six subjects with five observations each around fixed
// subject effects
func oneWay(t *testing.T) (*design.Dataset, []float64) {
	t.Helper()
	ds, err := design.Materialize(design.Specification{Subjects: 6, Items: 5}, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)

	subjectEffects := []float64{-3, -1.5, 0, 0.5, 1.5, 3}
	rng := rand.New(rand.NewPCG(5, 6))
	y := make([]float64, ds.Rows())
	for i := range y {
		y[i] = 10 + subjectEffects[i/5] + rng.NormFloat64()
	}
	ds, err = ds.WithResponse(y)
	require.NoError(t, err)
	return ds, y
}

type anova struct {
	mean, ssb, msb, msw float64
	groups, reps        float64
}

func balancedANOVA(y []float64, groups, reps int) anova {
	a := anova{groups: float64(groups), reps: float64(reps)}
	for _, v := range y {
		a.mean += v
	}
	a.mean /= float64(len(y))
	var ssw float64
	for g := 0; g < groups; g++ {
		var m float64
		for r := 0; r < reps; r++ {
			m += y[g*reps+r]
		}
		m /= float64(reps)
		a.ssb += float64(reps) * (m - a.mean) * (m - a.mean)
		for r := 0; r < reps; r++ {
			d := y[g*reps+r] - m
			ssw += d * d
		}
	}
	a.msb = a.ssb / float64(groups-1)
	a.msw = ssw / float64(groups*(reps-1))
	return a
}

func TestFitMatchesBalancedANOVA_REML(t *testing.T) {
	ds, y := oneWay(t)
	a := balancedANOVA(y, 6, 5)

	fitter := NewFitter(Config{REML: true}, nil)
	fitted, err := fitter.Fit(context.Background(), formula.MustParse("dv ~ 1 + (1 | subj)"), ds, nil)
	require.NoError(t, err)
	m := fitted.(*Model)

	sigmaB := math.Sqrt((a.msb - a.msw) / a.reps)
	assert.InDelta(t, a.mean, m.Coefficients()[0], 1e-8)
	assert.InEpsilon(t, math.Sqrt(a.msw), m.Sigma(), 5e-3)
	assert.InEpsilon(t, sigmaB/math.Sqrt(a.msw), m.Theta()[0], 5e-3)
	assert.InEpsilon(t, math.Sqrt(a.msb/(a.groups*a.reps)), m.StdErrors()[0], 5e-3)
	assert.False(t, m.Singular())
	assert.True(t, m.REML())
}

func TestFitMatchesBalancedANOVA_ML(t *testing.T) {
	ds, y := oneWay(t)
	a := balancedANOVA(y, 6, 5)

	fitted, err := NewFitter(Config{}, nil).Fit(context.Background(), formula.MustParse("dv ~ 1 + (1 | subj)"), ds, nil)
	require.NoError(t, err)
	m := fitted.(*Model)

	between := a.ssb / a.groups
	sigmaB := math.Sqrt((between - a.msw) / a.reps)
	assert.InDelta(t, a.mean, m.Coefficients()[0], 1e-8)
	assert.InEpsilon(t, math.Sqrt(a.msw), m.Sigma(), 5e-3)
	assert.InEpsilon(t, sigmaB/math.Sqrt(a.msw), m.Theta()[0], 5e-3)
	assert.InEpsilon(t, math.Sqrt(between/(a.groups*a.reps)), m.StdErrors()[0], 5e-3)
	assert.Equal(t, []string{"subj"}, m.Groups())
	assert.Equal(t, []int{1}, m.RandomDims())

	// -2 log L of y ~ N(mu, sigma^2 (I + theta^2 ZZ')) at the profiled sigma
	n := a.groups * a.reps
	s2, th := m.Sigma()*m.Sigma(), m.Theta()[0]
	want := n*math.Log(2*math.Pi*s2) + a.groups*math.Log(1+a.reps*th*th) + n
	assert.InDelta(t, want, m.Deviance(), 1e-6)
}

func TestFitFlagsSingular(t *testing.T) {
	ds, err := design.Materialize(design.Specification{Subjects: 6, Items: 5}, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	y := make([]float64, ds.Rows())
	pattern := []float64{-2, -1, 0, 1, 2}
	for i := range y {
		y[i] = pattern[i%5]
	}
	ds, err = ds.WithResponse(y)
	require.NoError(t, err)

	fitted, err := NewFitter(Config{SingularTolerance: 1e-2}, nil).Fit(context.Background(), formula.MustParse("dv ~ 1 + (1 | subj)"), ds, nil)
	require.NoError(t, err)
	assert.True(t, fitted.Singular())
	assert.Less(t, fitted.(*Model).Theta()[0], 1e-2)
}

func TestFitRecoversSimulatedParameters(t *testing.T) {
	ctx := context.Background()
	ds := crossedDataset(t, 30, 20)
	f := formula.MustParse("dv ~ 1 + context + (1 | subj) + (1 | item)")
	fitter := NewFitter(Config{}, nil)

	baseline, err := fitter.Fit(ctx, f, ds, effects)
	require.NoError(t, err)
	assert.Equal(t, []string{"(Intercept)", "context: biased"}, baseline.CoefficientNames())

	installed, err := fitter.InstallVarianceComponents(baseline, []variance.Component{
		{Group: "item", SDs: []float64{0.5}},
		{Group: "subj", SDs: []float64{1.0}},
	})
	require.NoError(t, err)

	sim, err := fitter.SimulateReplicate(installed, []float64{0.5, 0.3}, 1, rand.New(rand.NewPCG(10, 20)))
	require.NoError(t, err)

	fitted, err := fitter.Fit(ctx, f, sim, effects)
	require.NoError(t, err)
	m := fitted.(*Model)

	assert.InDelta(t, 0.5, m.Coefficients()[0], 1.0)
	assert.InDelta(t, 0.3, m.Coefficients()[1], 0.15)
	assert.InDelta(t, 1.0, m.Sigma(), 0.1)
	theta := m.Theta()
	assert.Greater(t, theta[0], 0.4)
	assert.Less(t, theta[0], 1.8)
	assert.Greater(t, theta[1], 0.1)
	assert.Less(t, theta[1], 1.2)

	subj, ok := m.RandomEffects("subj")
	require.True(t, ok)
	r, c := subj.Dims()
	assert.Equal(t, 30, r)
	assert.Equal(t, 1, c)
	assert.Len(t, m.Residuals(), ds.Rows())
}

func TestInstallVarianceComponents(t *testing.T) {
	ds := crossedDataset(t, 8, 6)
	f := formula.MustParse("dv ~ 1 + context + (1 + context | subj) + (1 | item)")
	fitter := NewFitter(Config{}, nil)
	baseline, err := fitter.Fit(context.Background(), f, ds, effects)
	require.NoError(t, err)
	before := baseline.(*Model).Theta()

	installed, err := fitter.InstallVarianceComponents(baseline, []variance.Component{
		{Group: "item", SDs: []float64{0.3}},
		{Group: "subj", SDs: []float64{1, 0.5}, Correlation: [][]float64{{1, 0.5}, {0.5, 1}}},
	})
	require.NoError(t, err)

	theta := installed.(*Model).Theta()
	require.Len(t, theta, 4)
	assert.InDelta(t, 1.0, theta[0], 1e-12)
	assert.InDelta(t, 0.25, theta[1], 1e-12)
	assert.InDelta(t, 0.5*math.Sqrt(0.75), theta[2], 1e-12)
	assert.InDelta(t, 0.3, theta[3], 1e-12)
	assert.False(t, installed.Singular())
	assert.Equal(t, before, baseline.(*Model).Theta(), "baseline must not change")

	zeroed, err := fitter.InstallVarianceComponents(baseline, []variance.Component{
		{Group: "item", SDs: []float64{0}},
		{Group: "subj", SDs: []float64{1, 0.5}},
	})
	require.NoError(t, err)
	assert.True(t, zeroed.Singular())

	_, err = fitter.InstallVarianceComponents(baseline, []variance.Component{{Group: "subj", SDs: []float64{1, 0.5}}})
	assert.True(t, core.IsInvalidArgument(err))
	_, err = fitter.InstallVarianceComponents(baseline, []variance.Component{
		{Group: "item", SDs: []float64{0.3}},
		{Group: "subj", SDs: []float64{1}},
	})
	assert.True(t, core.IsInvalidArgument(err))
}

func TestSimulateWithoutNoiseIsLinearPredictor(t *testing.T) {
	ds := crossedDataset(t, 4, 3)
	fitter := NewFitter(Config{}, nil)
	baseline, err := fitter.Fit(context.Background(), formula.MustParse("dv ~ 1 + context + (1 | subj)"), ds, effects)
	require.NoError(t, err)

	sim, err := fitter.SimulateReplicate(baseline, []float64{2, 0.5}, 0, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	ctx, _ := sim.Column("context")
	for i, y := range sim.Response {
		want := 1.5
		if ctx[i] == "biased" {
			want = 2.5
		}
		assert.InDelta(t, want, y, 1e-12)
	}
	assert.NotEqual(t, ds.Response, sim.Response)
}

func TestSimulateIsDeterministic(t *testing.T) {
	ds := crossedDataset(t, 6, 4)
	fitter := NewFitter(Config{}, nil)
	model, err := fitter.Fit(context.Background(), formula.MustParse("dv ~ 1 + context + (1 | subj) + (1 | item)"), ds, effects)
	require.NoError(t, err)
	beta := []float64{0, 0.4}

	a, err := fitter.SimulateReplicate(model, beta, 1, rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, err)
	b, err := fitter.SimulateReplicate(model, beta, 1, rand.New(rand.NewPCG(9, 9)))
	require.NoError(t, err)
	c, err := fitter.SimulateReplicate(model, beta, 1, rand.New(rand.NewPCG(9, 10)))
	require.NoError(t, err)
	assert.Equal(t, a.Response, b.Response)
	assert.NotEqual(t, a.Response, c.Response)

	_, err = fitter.SimulateReplicate(model, []float64{1}, 1, rand.New(rand.NewPCG(1, 1)))
	assert.True(t, core.IsInvalidArgument(err))
	_, err = fitter.SimulateReplicate(model, beta, -1, rand.New(rand.NewPCG(1, 1)))
	assert.True(t, core.IsInvalidArgument(err))
}

func TestResampleReplicate(t *testing.T) {
	ds := crossedDataset(t, 10, 6)
	fitter := NewFitter(Config{}, nil)
	f := formula.MustParse("dv ~ 1 + context + (1 | subj) + (1 | item)")
	model, err := fitter.Fit(context.Background(), f, ds, effects)
	require.NoError(t, err)
	beta := []float64{1, 0.2}

	a, err := fitter.ResampleReplicate(model, beta, rand.New(rand.NewPCG(4, 2)))
	require.NoError(t, err)
	b, err := fitter.ResampleReplicate(model, beta, rand.New(rand.NewPCG(4, 2)))
	require.NoError(t, err)
	require.Len(t, a.Response, ds.Rows())
	assert.Equal(t, a.Response, b.Response)

	// without random effects the replicate is Xβ plus resampled residuals
	m := model.(*Model)
	noRE := m.clone()
	for i := range noRE.b {
		noRE.b[i] = 0
	}
	c, err := fitter.ResampleReplicate(noRE, beta, rand.New(rand.NewPCG(8, 8)))
	require.NoError(t, err)

	eta := m.linearPredictor(beta, mat.NewVecDense(m.q, nil))
	resid := m.Residuals()
	for i, y := range c.Response {
		found := false
		for _, r := range resid {
			if math.Abs(y-eta[i]-r) < 1e-9 {
				found = true
				break
			}
		}
		assert.True(t, found, "row %d is not Xβ plus a fitted residual", i)
	}

	_, err = fitter.ResampleReplicate(model, []float64{1, 2, 3}, rand.New(rand.NewPCG(1, 1)))
	assert.True(t, core.IsInvalidArgument(err))
}

func TestRefitUsesClone(t *testing.T) {
	ctx := context.Background()
	ds := crossedDataset(t, 10, 6)
	fitter := NewFitter(Config{}, nil)
	model, err := fitter.Fit(ctx, formula.MustParse("dv ~ 1 + context + (1 | subj) + (1 | item)"), ds, effects)
	require.NoError(t, err)
	before := model.Coefficients()

	sim, err := fitter.SimulateReplicate(model, []float64{3, 1}, 1, rand.New(rand.NewPCG(2, 2)))
	require.NoError(t, err)
	outcome, err := fitter.Refit(ctx, model, sim)
	require.NoError(t, err)

	require.Len(t, outcome.Estimates, 2)
	require.Len(t, outcome.StdErrors, 2)
	assert.InDelta(t, 3, outcome.Estimates[0], 1.5)
	assert.Greater(t, outcome.StdErrors[1], 0.0)
	assert.Equal(t, before, model.Coefficients())
}

func TestRefitFailureBecomesSingularOutcome(t *testing.T) {
	ctx := context.Background()
	ds := crossedDataset(t, 6, 4)
	f := formula.MustParse("dv ~ 1 + context + (1 | subj) + (1 | item)")
	model, err := NewFitter(Config{}, nil).Fit(ctx, f, ds, effects)
	require.NoError(t, err)

	strict := NewFitter(Config{MaxIterations: 1}, nil)
	outcome, err := strict.Refit(ctx, model, ds)
	require.NoError(t, err)
	assert.True(t, outcome.Singular)
	assert.True(t, outcome.Failed())
	assert.True(t, math.IsNaN(outcome.Estimates[0]))

	_, err = strict.Fit(ctx, f, ds, effects)
	assert.True(t, core.IsFitFailure(err))
}

func TestFitRejectsBadModels(t *testing.T) {
	ctx := context.Background()
	ds := crossedDataset(t, 4, 3)
	fitter := NewFitter(Config{}, nil)

	_, err := fitter.Fit(ctx, formula.MustParse("dv ~ 1 + context"), ds, nil)
	assert.True(t, core.IsInvalidArgument(err))

	_, err = fitter.Fit(ctx, formula.MustParse("dv ~ 1 + modality + (1 | subj)"), ds, nil)
	assert.True(t, core.IsInvalidArgument(err))

	_, err = fitter.Fit(ctx, formula.MustParse("dv ~ 0 + context + (1 | subj)"), ds, formula.Contrasts{"context": formula.DummyCoding})
	require.NoError(t, err)

	_, err = fitter.Refit(ctx, nil, ds)
	assert.True(t, core.IsInvalidArgument(err))
}
