package app

import (
	"math"
	"time"

	"lmmpower/domain/core"
	"lmmpower/domain/design"
	"lmmpower/domain/formula"
	"lmmpower/domain/power"
	"lmmpower/domain/variance"
)

// PowerRequest describes one simulation-based power analysis
type PowerRequest struct {
	Design             design.Specification `json:"design"`
	Formula            string               `json:"formula"`
	Contrasts          formula.Contrasts    `json:"contrasts,omitempty"`
	FixedEffects       []float64            `json:"fixed_effects"`
	ResidualScale      float64              `json:"residual_scale"`
	VarianceComponents []variance.Component `json:"variance_components"`
	Replicates         int                  `json:"replicates"`
	Seed               int64                `json:"seed"`
	Method             power.Method         `json:"method,omitempty"`
	Alpha              float64              `json:"alpha,omitempty"`

	// Workers overrides the service's worker count; it never changes results
	Workers int `json:"workers,omitempty" hash:"ignore"`

	// RunID optionally fixes the run's identifier so that a client can
	// subscribe to its progress before starting it
	RunID core.RunID `json:"run_id,omitempty" hash:"ignore"`
}

// PowerResult is the outcome of PowerService.Run
type PowerResult struct {
	RunID         core.RunID    `json:"run_id"`
	Fingerprint   core.Hash     `json:"fingerprint"`
	Formula       string        `json:"formula"`
	Method        power.Method  `json:"method"`
	Coefficients  []string      `json:"coefficients"`
	Table         *power.Table  `json:"table"`
	SingularCount int           `json:"singular_count"`
	Replicates    int           `json:"replicates"`
	Seed          int64         `json:"seed"`
	Cached        bool          `json:"cached"`
	CreatedAt     time.Time     `json:"created_at"`
	Duration      time.Duration `json:"duration"`

	// Outcomes holds every replicate in index order
	Outcomes []power.ReplicateOutcome `json:"-"`
}

// Validate checks everything that can be checked without fitting a model
func (r PowerRequest) Validate() error {
	if r.Replicates <= 0 {
		return core.NewInvalidArgumentf("replicates", "must be positive, got %d", r.Replicates)
	}
	if err := r.Design.Validate(); err != nil {
		return err
	}
	if math.IsNaN(r.ResidualScale) || math.IsInf(r.ResidualScale, 0) || r.ResidualScale <= 0 {
		return core.NewInvalidArgumentf("residual_scale", "must be finite and positive, got %v", r.ResidualScale)
	}
	if len(r.FixedEffects) == 0 {
		return core.NewInvalidArgument("fixed_effects", "at least one coefficient is required")
	}
	for i, v := range r.FixedEffects {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return core.NewInvalidArgumentf("fixed_effects", "value %d is not finite", i)
		}
	}
	if len(r.VarianceComponents) == 0 {
		return core.NewInvalidArgument("variance_components", "at least one grouping factor is required")
	}
	for _, c := range r.VarianceComponents {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if _, err := power.ParseMethod(string(r.Method)); err != nil {
		return err
	}
	if r.Alpha != 0 && (math.IsNaN(r.Alpha) || r.Alpha <= 0 || r.Alpha >= 1) {
		return core.NewInvalidArgumentf("alpha", "must lie in (0, 1), got %v", r.Alpha)
	}
	if r.RunID != "" {
		if _, err := core.ParseRunID(r.RunID.String()); err != nil {
			return core.NewInvalidArgument("run_id", err.Error())
		}
	}
	if r.Workers < 0 {
		return core.NewInvalidArgumentf("workers", "must not be negative, got %d", r.Workers)
	}
	return nil
}

// model parses the formula and checks it against the design
func (r PowerRequest) model() (*formula.Formula, error) {
	f, err := formula.Parse(r.Formula)
	if err != nil {
		return nil, err
	}
	if f.Response != design.ResponseColumn {
		return nil, core.NewInvalidArgumentf("formula", "response must be %q, got %q", design.ResponseColumn, f.Response)
	}
	if err := r.Design.CheckReferenced(f.Variables()); err != nil {
		return nil, err
	}
	for name, coding := range r.Contrasts {
		if _, _, ok := r.Design.Lookup(name); !ok {
			return nil, core.NewInvalidArgumentf("contrasts", "factor %q is not part of the design", name)
		}
		if _, err := formula.ParseCoding(string(coding)); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// normalizedContrasts maps scheme aliases such as "sum" onto their canonical names
func (r PowerRequest) normalizedContrasts() formula.Contrasts {
	out := make(formula.Contrasts, len(r.Contrasts))
	for name, coding := range r.Contrasts {
		c, err := formula.ParseCoding(string(coding))
		if err != nil {
			continue
		}
		out[name] = c
	}
	return out
}
