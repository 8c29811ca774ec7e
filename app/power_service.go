package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"lmmpower/domain/core"
	"lmmpower/domain/design"
	"lmmpower/domain/formula"
	"lmmpower/domain/power"
	"lmmpower/internal"
	"lmmpower/internal/metrics"
	"lmmpower/ports"
)

// PowerService runs simulation-based power analyses for linear mixed models
type PowerService struct {
	fitter   ports.ModelFitter
	rng      ports.RNGPort
	repo     ports.ResultRepository
	cache    *AnalysisCache
	logger   *internal.Logger
	progress ProgressFunc
	workers  int
}

// PowerServiceOption customizes a PowerService
type PowerServiceOption func(*PowerService)

// WithRepository persists every completed analysis
func WithRepository(repo ports.ResultRepository) PowerServiceOption {
	return func(s *PowerService) { s.repo = repo }
}

// WithCache serves repeated requests from an LRU cache
func WithCache(cache *AnalysisCache) PowerServiceOption {
	return func(s *PowerService) { s.cache = cache }
}

// WithLogger sets the service logger
func WithLogger(logger *internal.Logger) PowerServiceOption {
	return func(s *PowerService) { s.logger = logger }
}

// WithWorkers bounds the number of concurrently running replicates
func WithWorkers(n int) PowerServiceOption {
	return func(s *PowerService) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewPowerService creates a power analysis service
func NewPowerService(fitter ports.ModelFitter, rng ports.RNGPort, opts ...PowerServiceOption) *PowerService {
	s := &PowerService{
		fitter:  fitter,
		rng:     rng,
		logger:  internal.NewNopLogger(),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = internal.NewNopLogger()
	}
	return s
}

// Workers returns the default worker count
func (s *PowerService) Workers() int {
	return s.workers
}

// Run executes the full pipeline: materialize the design, fit a baseline
// model, install the requested parameters, simulate and refit every
// replicate, then summarize detections into a power table.
func (s *PowerService) Run(ctx context.Context, req PowerRequest) (*PowerResult, error) {
	start := time.Now()
	method, err := power.ParseMethod(string(req.Method))
	if err != nil {
		metrics.ObserveRun(string(req.Method), metrics.StatusInvalid, time.Since(start))
		return nil, err
	}
	req.Method = method
	if req.RunID == "" {
		req.RunID = core.NewRunID()
	}

	res, err := s.run(ctx, req, start)
	if err != nil {
		s.report(req.RunID, StageFailed, 0, req.Replicates, err.Error())
	}
	switch {
	case err == nil && res.Cached:
		metrics.ObserveRun(string(method), metrics.StatusCached, time.Since(start))
	case err == nil:
		metrics.ObserveRun(string(method), metrics.StatusSuccess, time.Since(start))
	case core.IsInvalidArgument(err):
		metrics.ObserveRun(string(method), metrics.StatusInvalid, time.Since(start))
	default:
		metrics.ObserveRun(string(method), metrics.StatusFailed, time.Since(start))
	}
	return res, err
}

func (s *PowerService) run(ctx context.Context, req PowerRequest, start time.Time) (*PowerResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var cacheKey uint64
	if s.cache != nil {
		key, err := s.cache.Key(req)
		if err != nil {
			s.logger.Warn("[PowerService] cache disabled for request: %v", err)
		} else if hit, ok := s.cache.Get(key); ok {
			s.logger.Debug("[PowerService] cache hit for run %s", hit.RunID)
			s.report(req.RunID, StageCached, hit.Replicates, hit.Replicates, hit.RunID.String())
			return hit, nil
		} else {
			cacheKey = key
		}
	}

	f, err := req.model()
	if err != nil {
		return nil, err
	}
	contrasts := req.normalizedContrasts()

	ds, err := design.Materialize(req.Design, s.rng.Stream("design", req.Seed))
	if err != nil {
		return nil, err
	}
	s.logger.Info("[PowerService] run %s: %s, formula %s, %d replicates (%s)",
		req.RunID, req.Design, f, req.Replicates, req.Method)
	s.report(req.RunID, StageStarted, 0, req.Replicates, "")

	baseline, err := s.fitter.Fit(ctx, f, ds, contrasts)
	if err != nil {
		return nil, fmt.Errorf("baseline fit: %w", err)
	}
	s.report(req.RunID, StageBaseline, 0, req.Replicates, "")
	names := baseline.CoefficientNames()
	if len(req.FixedEffects) != len(names) {
		return nil, core.NewInvalidArgumentf("fixed_effects",
			"model has %d coefficients %v, got %d values", len(names), names, len(req.FixedEffects))
	}

	model, err := s.fitter.InstallVarianceComponents(baseline, req.VarianceComponents)
	if err != nil {
		return nil, err
	}

	generate, model, err := s.generator(ctx, req, f, contrasts, model)
	if err != nil {
		return nil, err
	}

	outcomes, err := s.runReplicates(ctx, req, model, generate)
	if err != nil {
		return nil, err
	}

	table, err := power.Summarize(outcomes, names, power.SummaryOptions{Alpha: req.Alpha})
	if err != nil {
		return nil, err
	}
	metrics.AddReplicates(string(req.Method), len(outcomes), table.SingularCount)

	canonical := req
	canonical.Workers = 0
	canonical.RunID = ""
	fingerprint, err := core.Fingerprint(canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint request: %w", err)
	}

	res := &PowerResult{
		RunID:         req.RunID,
		Fingerprint:   fingerprint,
		Formula:       f.String(),
		Method:        req.Method,
		Coefficients:  names,
		Table:         table,
		SingularCount: table.SingularCount,
		Replicates:    req.Replicates,
		Seed:          req.Seed,
		CreatedAt:     start.UTC(),
		Duration:      time.Since(start),
		Outcomes:      outcomes,
	}
	s.logger.Info("[PowerService] run %s finished in %s: %d/%d singular",
		res.RunID, res.Duration.Round(time.Millisecond), res.SingularCount, res.Replicates)

	s.report(res.RunID, StageFinished, res.Replicates, res.Replicates, "")
	s.persist(ctx, req, res)
	if s.cache != nil && cacheKey != 0 {
		s.cache.Add(cacheKey, res)
	}
	return res, nil
}

// replicateGenerator draws the dataset for one replicate
type replicateGenerator func(src *rand.Rand) (*design.Dataset, error)

// generator returns the dataset generator for the request's method together
// with the model every replicate is refitted from
func (s *PowerService) generator(ctx context.Context, req PowerRequest, f *formula.Formula, contrasts formula.Contrasts, model ports.FittedModel) (replicateGenerator, ports.FittedModel, error) {
	switch req.Method {
	case power.MethodResample:
		// Residuals and group effects are resampled from a fit to one
		// dataset drawn from the installed parameters.
		pilot, err := s.fitter.SimulateReplicate(model, req.FixedEffects, req.ResidualScale, s.rng.Stream("pilot", req.Seed))
		if err != nil {
			return nil, nil, err
		}
		pilotModel, err := s.fitter.Fit(ctx, f, pilot, contrasts)
		if err != nil {
			return nil, nil, fmt.Errorf("pilot fit: %w", err)
		}
		return func(src *rand.Rand) (*design.Dataset, error) {
			return s.fitter.ResampleReplicate(pilotModel, req.FixedEffects, src)
		}, pilotModel, nil
	default:
		return func(src *rand.Rand) (*design.Dataset, error) {
			return s.fitter.SimulateReplicate(model, req.FixedEffects, req.ResidualScale, src)
		}, model, nil
	}
}

// runReplicates simulates and refits every replicate on a bounded worker pool.
// Outcome i only depends on (Seed, i), so the result is the same for any
// number of workers.
func (s *PowerService) runReplicates(ctx context.Context, req PowerRequest, model ports.FittedModel, generate replicateGenerator) ([]power.ReplicateOutcome, error) {
	workers := s.workers
	if req.Workers > 0 {
		workers = req.Workers
	}
	if workers > req.Replicates {
		workers = req.Replicates
	}

	outcomes := make([]power.ReplicateOutcome, req.Replicates)
	counter := newReplicateCounter(req.Replicates, func(completed int) {
		s.report(req.RunID, StageReplicates, completed, req.Replicates, "")
	})
	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < req.Replicates; i++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			out, err := s.replicate(gctx, req, i, model, generate)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", i, err)
			}
			outcomes[i] = out
			counter.add()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *PowerService) replicate(ctx context.Context, req PowerRequest, index int, model ports.FittedModel, generate replicateGenerator) (power.ReplicateOutcome, error) {
	ds, err := generate(s.rng.Replicate(req.Seed, index))
	if err != nil {
		return power.ReplicateOutcome{}, err
	}
	out, err := s.fitter.Refit(ctx, model.Clone(), ds)
	if err != nil {
		if core.IsFitFailure(err) {
			s.logger.Debug("[PowerService] replicate %d did not converge: %v", index, err)
			return power.FailedOutcome(len(req.FixedEffects)), nil
		}
		return power.ReplicateOutcome{}, err
	}
	return out, nil
}

func (s *PowerService) report(id core.RunID, stage string, completed, total int, message string) {
	if s.progress == nil {
		return
	}
	s.progress(ProgressEvent{
		RunID:     id,
		Stage:     stage,
		Completed: completed,
		Total:     total,
		Message:   message,
		Time:      time.Now(),
	})
}

// persist stores the analysis; storage problems are logged, never returned
func (s *PowerService) persist(ctx context.Context, req PowerRequest, res *PowerResult) {
	if s.repo == nil {
		return
	}
	req.Workers = 0
	req.RunID = ""
	raw, err := json.Marshal(req)
	if err != nil {
		s.logger.Warn("[PowerService] failed to encode request for run %s: %v", res.RunID, err)
		return
	}
	analysis := &power.Analysis{
		ID:          res.RunID,
		Fingerprint: res.Fingerprint,
		Formula:     res.Formula,
		Method:      res.Method,
		Replicates:  res.Replicates,
		Seed:        res.Seed,
		Request:     raw,
		Table:       res.Table,
		CreatedAt:   res.CreatedAt,
		Duration:    res.Duration,
	}
	if err := s.repo.Save(ctx, analysis); err != nil {
		s.logger.Warn("[PowerService] failed to save run %s: %v", res.RunID, err)
	}
}

// History lists stored analyses, newest first
func (s *PowerService) History(ctx context.Context, limit int) ([]*power.Analysis, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.List(ctx, limit)
}

// Analysis loads one stored analysis
func (s *PowerService) Analysis(ctx context.Context, id core.RunID) (*power.Analysis, error) {
	if s.repo == nil {
		return nil, core.NewNotFoundError("analysis", id.String())
	}
	return s.repo.Get(ctx, id)
}
