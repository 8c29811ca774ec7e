package app

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmmpower/domain/core"
	"lmmpower/domain/formula"
	"lmmpower/domain/power"
	"lmmpower/domain/variance"
)

func TestPowerRequestValidate(t *testing.T) {
	require.NoError(t, smallRequest().Validate())

	tests := []struct {
		name   string
		mutate func(*PowerRequest)
	}{
		{"zero replicates", func(r *PowerRequest) { r.Replicates = 0 }},
		{"no subjects", func(r *PowerRequest) { r.Design.Subjects = 0 }},
		{"negative residual scale", func(r *PowerRequest) { r.ResidualScale = -1 }},
		{"nan residual scale", func(r *PowerRequest) { r.ResidualScale = math.NaN() }},
		{"zero residual scale", func(r *PowerRequest) { r.ResidualScale = 0 }},
		{"no fixed effects", func(r *PowerRequest) { r.FixedEffects = nil }},
		{"infinite fixed effect", func(r *PowerRequest) { r.FixedEffects[1] = math.Inf(1) }},
		{"no components", func(r *PowerRequest) { r.VarianceComponents = nil }},
		{"negative sd", func(r *PowerRequest) {
			r.VarianceComponents = []variance.Component{{Group: "subj", SDs: []float64{-1}}}
		}},
		{"unknown method", func(r *PowerRequest) { r.Method = "jackknife" }},
		{"alpha of one", func(r *PowerRequest) { r.Alpha = 1 }},
		{"negative workers", func(r *PowerRequest) { r.Workers = -1 }},
		{"malformed run id", func(r *PowerRequest) { r.RunID = "run-1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := smallRequest()
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, core.IsInvalidArgument(err))
		})
	}
}

func TestPowerRequestModel(t *testing.T) {
	req := smallRequest()
	req.Contrasts = formula.Contrasts{"cond": "sum"}
	f, err := req.model()
	require.NoError(t, err)
	assert.Equal(t, []string{"subj", "item"}, f.Groups())
	assert.Equal(t, formula.Contrasts{"cond": formula.EffectsCoding}, req.normalizedContrasts())

	req.Contrasts = formula.Contrasts{"speed": "dummy"}
	_, err = req.model()
	assert.True(t, core.IsInvalidArgument(err))

	req.Contrasts = formula.Contrasts{"cond": "polynomial"}
	_, err = req.model()
	assert.True(t, core.IsInvalidArgument(err))

	req.Contrasts = nil
	req.Formula = "rt ~ 1 + cond + (1 | subj)"
	_, err = req.model()
	assert.True(t, core.IsInvalidArgument(err))
}

func TestAnalysisCacheKey(t *testing.T) {
	cache, err := NewAnalysisCache(0)
	require.NoError(t, err)

	a, err := cache.Key(smallRequest())
	require.NoError(t, err)

	req := smallRequest()
	req.Workers = 8
	b, err := cache.Key(req)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	req.Seed = 43
	c, err := cache.Key(req)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, ok := cache.Get(a)
	assert.False(t, ok)
	cache.Add(a, &PowerResult{Replicates: 12})
	hit, ok := cache.Get(a)
	require.True(t, ok)
	assert.True(t, hit.Cached)
	assert.Equal(t, 12, hit.Replicates)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestAnalysisCacheHitsAreIndependentCopies(t *testing.T) {
	cache, err := NewAnalysisCache(2)
	require.NoError(t, err)

	stored := &PowerResult{
		Coefficients: []string{"(Intercept)", "cond: b"},
		Table:        &power.Table{Rows: []power.Row{{Coefficient: "cond: b", Power: 0.8}}, Replicates: 10},
		Outcomes:     []power.ReplicateOutcome{{Estimates: []float64{0.1, 0.9}, StdErrors: []float64{0.2, 0.3}}},
	}
	cache.Add(1, stored)
	stored.Table.Rows[0].Power = 0.1

	first, ok := cache.Get(1)
	require.True(t, ok)
	first.Table.Rows[0].Power = 0
	first.Table.Replicates = 0
	first.Outcomes[0].Estimates[1] = -1
	first.Coefficients[1] = "changed"

	second, ok := cache.Get(1)
	require.True(t, ok)
	assert.Equal(t, 0.8, second.Table.Rows[0].Power)
	assert.Equal(t, 10, second.Table.Replicates)
	assert.Equal(t, 0.9, second.Outcomes[0].Estimates[1])
	assert.Equal(t, "cond: b", second.Coefficients[1])
}
