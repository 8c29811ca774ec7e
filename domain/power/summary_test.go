package power

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmmpower/domain/core"
)

func outcome(singular bool, pairs ...float64) ReplicateOutcome {
	o := ReplicateOutcome{Singular: singular, Sigma: 1}
	for i := 0; i+1 < len(pairs); i += 2 {
		o.Estimates = append(o.Estimates, pairs[i])
		o.StdErrors = append(o.StdErrors, pairs[i+1])
	}
	return o
}

func TestSummarizeZeroDetections(t *testing.T) {
	outcomes := make([]ReplicateOutcome, 100)
	for i := range outcomes {
		outcomes[i] = outcome(false, 0.1, 1.0)
	}

	table, err := Summarize(outcomes, []string{"x"}, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	row := table.Rows[0]
	assert.Equal(t, 0.0, row.Power)
	assert.Equal(t, 0, row.Detected)
	assert.Equal(t, 0.0, row.Lower)
	assert.InDelta(t, 0.03, row.Upper, 1e-12)
}

func TestSummarizeAllDetected(t *testing.T) {
	outcomes := make([]ReplicateOutcome, 100)
	for i := range outcomes {
		outcomes[i] = outcome(false, 5, 1)
	}
	table, err := Summarize(outcomes, []string{"x"}, SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, table.Rows[0].Power)
	assert.InDelta(t, 0.97, table.Rows[0].Lower, 1e-12)
	assert.Equal(t, 1.0, table.Rows[0].Upper)
}

func TestSummarizeKeepsNameOrder(t *testing.T) {
	names := []string{"(Intercept)", "age: old", "context: biased", "age: old & context: biased"}
	outcomes := []ReplicateOutcome{
		outcome(false, 10, 1, 0, 1, -3, 1, 0.5, 1),
		outcome(true, 10, 1, 0, 1, 3, 1, 2.5, 1),
	}

	table, err := Summarize(outcomes, names, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, table.Rows, len(names))
	for i, name := range names {
		assert.Equal(t, name, table.Rows[i].Coefficient)
	}
	assert.Equal(t, 1.0, table.Rows[0].Power)
	assert.Equal(t, 0.0, table.Rows[1].Power)
	assert.Equal(t, 1.0, table.Rows[2].Power)
	assert.Equal(t, 0.5, table.Rows[3].Power)
	assert.Equal(t, 1, table.SingularCount)
	assert.Equal(t, 2, table.Replicates)

	row, ok := table.Row("context: biased")
	require.True(t, ok)
	assert.Equal(t, 2, row.Detected)
	_, ok = table.Row("missing")
	assert.False(t, ok)
}

func TestSummarizeDoesNotMutateInput(t *testing.T) {
	outcomes := []ReplicateOutcome{
		outcome(false, 1, 0.2, 3, 4),
		outcome(true, 2, 0.3, 1, 5),
	}
	snapshot := []ReplicateOutcome{
		outcome(false, 1, 0.2, 3, 4),
		outcome(true, 2, 0.3, 1, 5),
	}
	_, err := Summarize(outcomes, []string{"a", "b"}, SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, snapshot, outcomes)
}

func TestSummarizeSingularCountIgnoresOrder(t *testing.T) {
	const m, k = 60, 17
	outcomes := make([]ReplicateOutcome, m)
	for i := range outcomes {
		outcomes[i] = outcome(i < k, float64(i), 1)
	}

	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 5; trial++ {
		rng.Shuffle(len(outcomes), func(i, j int) { outcomes[i], outcomes[j] = outcomes[j], outcomes[i] })
		table, err := Summarize(outcomes, []string{"x"}, SummaryOptions{})
		require.NoError(t, err)
		assert.Equal(t, k, table.SingularCount)
		assert.Equal(t, k, SingularCount(outcomes))
	}
}

func TestSummarizeNonFiniteNeverDetected(t *testing.T) {
	failed := ReplicateOutcome{
		Estimates: []float64{math.NaN()},
		StdErrors: []float64{math.NaN()},
		Sigma:     math.NaN(),
		Singular:  true,
	}
	outcomes := []ReplicateOutcome{failed, outcome(false, 4, 1), {
		Estimates: []float64{math.Inf(1)},
		StdErrors: []float64{1},
		Sigma:     1,
	}}
	table, err := Summarize(outcomes, []string{"x"}, SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Rows[0].Detected)
	assert.Equal(t, 1, table.FailedCount)
	assert.Equal(t, 1, table.SingularCount)
	assert.Equal(t, 4.0, table.Rows[0].MeanEstimate)
	assert.Equal(t, 1.0, table.MeanSigma)
}

func TestSummarizeAlpha(t *testing.T) {
	outcomes := []ReplicateOutcome{outcome(false, 1.8, 1)}

	table, err := Summarize(outcomes, []string{"x"}, SummaryOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 1.959964, table.Multiplier, 1e-6)
	assert.Equal(t, DefaultAlpha, table.Alpha)
	assert.Equal(t, 0, table.Rows[0].Detected)

	table, err = Summarize(outcomes, []string{"x"}, SummaryOptions{Alpha: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 1.644854, table.Multiplier, 1e-6)
	assert.Equal(t, 1, table.Rows[0].Detected)

	table, err = Summarize(outcomes, []string{"x"}, SummaryOptions{Multiplier: 1.5})
	require.NoError(t, err)
	assert.Equal(t, 1.5, table.Multiplier)
	assert.Equal(t, 1, table.Rows[0].Detected)
}

func TestSummarizeEstimateDistribution(t *testing.T) {
	outcomes := make([]ReplicateOutcome, 100)
	for i := range outcomes {
		outcomes[i] = outcome(false, float64(i+1), 2)
	}
	table, err := Summarize(outcomes, []string{"x"}, SummaryOptions{})
	require.NoError(t, err)

	row := table.Rows[0]
	assert.InDelta(t, 50.5, row.MeanEstimate, 1e-12)
	assert.InDelta(t, 29.011491975882016, row.SDEstimate, 1e-9)
	assert.Equal(t, 3.0, row.Percentile.Lower)
	assert.Equal(t, 98.0, row.Percentile.Upper)
	assert.Equal(t, 2.0, row.MeanStdError)
}

func TestSummarizeInvalid(t *testing.T) {
	good := []ReplicateOutcome{outcome(false, 1, 1)}

	_, err := Summarize(nil, []string{"x"}, SummaryOptions{})
	assert.True(t, core.IsInvalidArgument(err))

	_, err = Summarize(good, nil, SummaryOptions{})
	assert.True(t, core.IsInvalidArgument(err))

	_, err = Summarize(good, []string{"x", "y"}, SummaryOptions{})
	assert.True(t, core.IsInvalidArgument(err))

	_, err = Summarize([]ReplicateOutcome{{Estimates: []float64{1}}}, []string{"x"}, SummaryOptions{})
	assert.True(t, core.IsInvalidArgument(err))

	_, err = Summarize(good, []string{"x"}, SummaryOptions{Alpha: 1.5})
	assert.True(t, core.IsInvalidArgument(err))

	_, err = Summarize(good, []string{"x"}, SummaryOptions{Multiplier: -1})
	assert.True(t, core.IsInvalidArgument(err))
}

func TestDetected(t *testing.T) {
	assert.True(t, Detected(3, 1, 1.96))
	assert.True(t, Detected(-3, 1, 1.96))
	assert.False(t, Detected(1.96, 1, 1.96))
	assert.False(t, Detected(0, 0, 1.96))
	assert.True(t, Detected(0.1, 0, 1.96))
	assert.False(t, Detected(1, -1, 1.96))
}
