package ports

import (
	"context"
	"math/rand/v2"

	"lmmpower/domain/design"
	"lmmpower/domain/formula"
	"lmmpower/domain/power"
	"lmmpower/domain/variance"
)

// FittedModel is a fitted linear mixed model. Implementations are immutable
// from the caller's point of view; Clone returns an independent copy that a
// replicate may refit without affecting the original.
type FittedModel interface {
	// Formula returns the model formula
	Formula() *formula.Formula

	// CoefficientNames lists the fixed effects in estimation order
	CoefficientNames() []string

	// Coefficients returns the fixed-effect estimates
	Coefficients() []float64

	// StdErrors returns the standard errors of the fixed effects
	StdErrors() []float64

	// Sigma returns the residual standard deviation
	Sigma() float64

	// Groups returns the grouping factors in formula order
	Groups() []string

	// RandomDims returns the number of random-effect columns per grouping factor
	RandomDims() []int

	// Singular reports whether a variance component sits on its boundary
	Singular() bool

	// Clone returns a deep copy
	Clone() FittedModel
}

// ModelFitter fits, simulates from and refits linear mixed models
type ModelFitter interface {
	// Fit estimates the model on a dataset. Non-convergence returns core.ErrFitFailure.
	Fit(ctx context.Context, f *formula.Formula, ds *design.Dataset, contrasts formula.Contrasts) (FittedModel, error)

	// InstallVarianceComponents returns a copy of the model whose random-effect
	// covariance is replaced by the given components, matched by group name
	InstallVarianceComponents(model FittedModel, components []variance.Component) (FittedModel, error)

	// SimulateReplicate draws a new response from the model with fixed effects
	// beta and residual standard deviation sigma
	SimulateReplicate(model FittedModel, beta []float64, sigma float64, src *rand.Rand) (*design.Dataset, error)

	// ResampleReplicate builds a response from fixed effects beta plus group
	// effects and residuals of the fitted model resampled with replacement
	ResampleReplicate(model FittedModel, beta []float64, src *rand.Rand) (*design.Dataset, error)

	// Refit estimates the model on a new response and reports the outcome
	Refit(ctx context.Context, model FittedModel, ds *design.Dataset) (power.ReplicateOutcome, error)
}
