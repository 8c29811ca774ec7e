// Package profiling describes the sampling distribution of the replicate
// estimates of each coefficient.
package profiling

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"lmmpower/domain/power"
)

// EstimateProfile summarizes the replicate estimates of one coefficient
type EstimateProfile struct {
	Coefficient string  `json:"coefficient"`
	N           int     `json:"n"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Median      float64 `json:"median"`
	Q25         float64 `json:"q25"`
	Q75         float64 `json:"q75"`
	Skewness    float64 `json:"skewness"`
	// Kurtosis is the excess kurtosis; 0 for a normal distribution
	Kurtosis float64 `json:"kurtosis"`
	// NormalityP is the Jarque-Bera p-value
	NormalityP float64 `json:"normality_p"`
	IsNormal   bool    `json:"is_normal"`
	Outliers   int     `json:"outliers"`
	// MeanZ is the mean of estimate / standard error
	MeanZ float64 `json:"mean_z"`
}

// DistributionAnalyzer profiles replicate estimates
type DistributionAnalyzer struct {
	// Alpha is the normality test level
	Alpha float64
}

// NewDistributionAnalyzer creates an analyzer testing normality at the 5% level
func NewDistributionAnalyzer() *DistributionAnalyzer {
	return &DistributionAnalyzer{Alpha: 0.05}
}

// Profile returns one profile per coefficient name. Failed replicates and
// non-finite estimates are skipped; a coefficient with fewer than two usable
// estimates gets a profile with only N set.
func (da *DistributionAnalyzer) Profile(outcomes []power.ReplicateOutcome, names []string) []EstimateProfile {
	profiles := make([]EstimateProfile, len(names))
	for j, name := range names {
		var est, z []float64
		for _, o := range outcomes {
			if o.Failed() || j >= len(o.Estimates) {
				continue
			}
			e := o.Estimates[j]
			if math.IsNaN(e) || math.IsInf(e, 0) {
				continue
			}
			est = append(est, e)
			if j < len(o.StdErrors) && o.StdErrors[j] > 0 {
				z = append(z, e/o.StdErrors[j])
			}
		}
		profiles[j] = da.analyze(name, est, z)
	}
	return profiles
}

func (da *DistributionAnalyzer) analyze(name string, data, z []float64) EstimateProfile {
	p := EstimateProfile{Coefficient: name, N: len(data)}
	if len(data) < 2 {
		return p
	}

	p.Mean, _ = stats.Mean(data)
	p.StdDev, _ = stats.StandardDeviationSample(data)
	p.Min, _ = stats.Min(data)
	p.Max, _ = stats.Max(data)
	p.Median, _ = stats.Median(data)
	p.Q25, _ = stats.Percentile(data, 25)
	p.Q75, _ = stats.Percentile(data, 75)
	if len(z) > 0 {
		p.MeanZ, _ = stats.Mean(z)
	}

	p.Skewness = skewness(data, p.Mean)
	p.Kurtosis = excessKurtosis(data, p.Mean)
	p.NormalityP = jarqueBera(len(data), p.Skewness, p.Kurtosis)
	p.IsNormal = p.NormalityP > da.Alpha
	p.Outliers = detectOutliers(data, p.Q25, p.Q75)
	return p
}

// skewness is the population moment coefficient m3 / m2^1.5
func skewness(data []float64, mean float64) float64 {
	m2, m3 := 0.0, 0.0
	for _, x := range data {
		d := x - mean
		m2 += d * d
		m3 += d * d * d
	}
	n := float64(len(data))
	m2 /= n
	m3 /= n
	if m2 == 0 {
		return 0
	}
	return m3 / math.Pow(m2, 1.5)
}

// excessKurtosis is m4 / m2^2 - 3
func excessKurtosis(data []float64, mean float64) float64 {
	m2, m4 := 0.0, 0.0
	for _, x := range data {
		d := x - mean
		m2 += d * d
		m4 += d * d * d * d
	}
	n := float64(len(data))
	m2 /= n
	m4 /= n
	if m2 == 0 {
		return 0
	}
	return m4/(m2*m2) - 3
}

// jarqueBera returns the asymptotic p-value of JB = n/6 (S² + K²/4)
func jarqueBera(n int, skew, kurt float64) float64 {
	jb := float64(n) / 6 * (skew*skew + kurt*kurt/4)
	return 1 - distuv.ChiSquared{K: 2}.CDF(jb)
}

// detectOutliers counts values outside the 1.5 IQR fences
func detectOutliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lower := q25 - 1.5*iqr
	upper := q75 + 1.5*iqr

	count := 0
	for _, x := range data {
		if x < lower || x > upper {
			count++
		}
	}
	return count
}
