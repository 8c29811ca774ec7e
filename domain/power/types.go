package power

import "math"

// ReplicateOutcome is the refit of one simulated or resampled dataset.
// Estimates and StdErrors follow the model's coefficient order. A replicate
// whose refit failed carries NaN estimates and Singular = true.
type ReplicateOutcome struct {
	Estimates []float64 `json:"estimates"`
	StdErrors []float64 `json:"std_errors"`
	Sigma     float64   `json:"sigma"`
	Singular  bool      `json:"singular"`
}

// FailedOutcome is the outcome recorded for a replicate with p coefficients
// whose refit did not converge
func FailedOutcome(p int) ReplicateOutcome {
	est := make([]float64, p)
	se := make([]float64, p)
	for i := range est {
		est[i] = math.NaN()
		se[i] = math.NaN()
	}
	return ReplicateOutcome{
		Estimates: est,
		StdErrors: se,
		Sigma:     math.NaN(),
		Singular:  true,
	}
}

// Failed reports whether the refit produced no usable estimates
func (o ReplicateOutcome) Failed() bool {
	for _, e := range o.Estimates {
		if !math.IsNaN(e) {
			return false
		}
	}
	return true
}

// Row is the power estimate for one fixed-effect coefficient
type Row struct {
	Coefficient string  `json:"coefficient"`
	Power       float64 `json:"power"`
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Detected    int     `json:"detected"`

	// Distribution of the point estimate across replicates
	MeanEstimate float64  `json:"mean_estimate"`
	SDEstimate   float64  `json:"sd_estimate"`
	Percentile   Interval `json:"percentile_interval"`
	MeanStdError float64  `json:"mean_std_error"`
}

// Table is the aggregated result of a power analysis
type Table struct {
	Rows          []Row   `json:"rows"`
	Replicates    int     `json:"replicates"`
	SingularCount int     `json:"singular_count"`
	FailedCount   int     `json:"failed_count"`
	Alpha         float64 `json:"alpha"`
	Multiplier    float64 `json:"multiplier"`
	MeanSigma     float64 `json:"mean_sigma"`
}

// Row returns the row for a coefficient
func (t *Table) Row(coefficient string) (Row, bool) {
	for _, r := range t.Rows {
		if r.Coefficient == coefficient {
			return r, true
		}
	}
	return Row{}, false
}

// SummaryOptions configures Summarize. The zero value gives a two-sided 95%
// Wald interval.
type SummaryOptions struct {
	// Alpha is the two-sided significance level; 0 means DefaultAlpha
	Alpha float64
	// Multiplier overrides the critical value derived from Alpha when positive
	Multiplier float64
}
