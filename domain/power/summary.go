package power

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"lmmpower/domain/core"
)

// DefaultAlpha is the two-sided significance level of the Wald interval
const DefaultAlpha = 0.05

// multiplier resolves alpha and the Wald critical value
func (o SummaryOptions) multiplier() (alpha, m float64, err error) {
	alpha = o.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if math.IsNaN(alpha) || alpha <= 0 || alpha >= 1 {
		return 0, 0, core.NewInvalidArgumentf("alpha", "must lie in (0, 1), got %v", o.Alpha)
	}
	if o.Multiplier < 0 || math.IsNaN(o.Multiplier) {
		return 0, 0, core.NewInvalidArgumentf("multiplier", "must be positive, got %v", o.Multiplier)
	}
	if o.Multiplier > 0 {
		return alpha, o.Multiplier, nil
	}
	return alpha, distuv.UnitNormal.Quantile(1 - alpha/2), nil
}

// Detected reports whether est ± m·se excludes zero. Non-finite values are
// never detections.
func Detected(est, se, m float64) bool {
	if math.IsNaN(est) || math.IsInf(est, 0) || math.IsNaN(se) || math.IsInf(se, 0) || se < 0 {
		return false
	}
	lower, upper := est-m*se, est+m*se
	return lower > 0 || upper < 0
}

// Summarize reduces replicate outcomes to one power row per coefficient, in
// the order of names. The outcomes slice is not modified.
func Summarize(outcomes []ReplicateOutcome, names []string, opts SummaryOptions) (*Table, error) {
	if len(outcomes) == 0 {
		return nil, core.NewInvalidArgument("outcomes", "at least one replicate is required")
	}
	if len(names) == 0 {
		return nil, core.NewInvalidArgument("names", "at least one coefficient name is required")
	}
	alpha, m, err := opts.multiplier()
	if err != nil {
		return nil, err
	}
	k := len(names)
	for i, o := range outcomes {
		if len(o.Estimates) != k || len(o.StdErrors) != k {
			return nil, core.NewInvalidArgumentf("outcomes",
				"replicate %d has %d estimates and %d standard errors, expected %d",
				i, len(o.Estimates), len(o.StdErrors), k)
		}
	}

	n := len(outcomes)
	table := &Table{
		Rows:       make([]Row, k),
		Replicates: n,
		Alpha:      alpha,
		Multiplier: m,
	}

	var sigmas stats.Float64Data
	for _, o := range outcomes {
		if o.Singular {
			table.SingularCount++
		}
		if o.Failed() {
			table.FailedCount++
		}
		if isFinite(o.Sigma) {
			sigmas = append(sigmas, o.Sigma)
		}
	}
	table.MeanSigma = meanOrZero(sigmas)

	for j, name := range names {
		detected := 0
		var ests, ses stats.Float64Data
		for _, o := range outcomes {
			est, se := o.Estimates[j], o.StdErrors[j]
			if Detected(est, se, m) {
				detected++
			}
			if isFinite(est) {
				ests = append(ests, est)
			}
			if isFinite(se) {
				ses = append(ses, se)
			}
		}

		p := float64(detected) / float64(n)
		iv, err := EstimateInterval(p, n)
		if err != nil {
			return nil, err
		}
		table.Rows[j] = Row{
			Coefficient:  name,
			Power:        p,
			Lower:        iv.Lower,
			Upper:        iv.Upper,
			Detected:     detected,
			MeanEstimate: meanOrZero(ests),
			SDEstimate:   sampleSD(ests),
			Percentile:   percentileInterval(ests, alpha),
			MeanStdError: meanOrZero(ses),
		}
	}
	return table, nil
}

// SingularCount counts replicates flagged as singular
func SingularCount(outcomes []ReplicateOutcome) int {
	count := 0
	for _, o := range outcomes {
		if o.Singular {
			count++
		}
	}
	return count
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func meanOrZero(data stats.Float64Data) float64 {
	m, err := stats.Mean(data)
	if err != nil {
		return 0
	}
	return m
}

func sampleSD(data stats.Float64Data) float64 {
	if len(data) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(data)
	if err != nil {
		return 0
	}
	return sd
}

// percentileInterval is the nearest-rank bootstrap percentile interval at
// the given two-sided level. Summaries over no finite values are zero so the
// table always encodes as JSON.
func percentileInterval(data stats.Float64Data, alpha float64) Interval {
	lo, err := stats.PercentileNearestRank(data, 100*alpha/2)
	if err != nil {
		return Interval{}
	}
	hi, err := stats.PercentileNearestRank(data, 100*(1-alpha/2))
	if err != nil {
		return Interval{}
	}
	return Interval{Lower: lo, Upper: hi}
}
