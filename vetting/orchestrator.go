package vetting

import (
	"context"
	"fmt"
	"slices"
	"time"

	"depvet/metrics"
	"depvet/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var levelStages = map[model.VettingLevel][]model.StageName{
	model.LevelBasic: {
		model.StageScreening,
		model.StageLicense,
		model.StageIntegration,
		model.StageArchitecture,
	},
	model.LevelStandard: {
		model.StageScreening,
		model.StageSecurity,
		model.StageLicense,
		model.StageMaintenance,
		model.StageIntegration,
	},
	model.LevelComprehensive: model.StageOrder,
	model.LevelQuick: {
		model.StageScreening,
		model.StageSecurity,
		model.StageLicense,
	},
}

// LevelStages returns the stages a vetting level runs, in execution order.
func LevelStages(level model.VettingLevel) ([]model.StageName, error) {
	stages, ok := levelStages[level]
	if !ok {
		return nil, fmt.Errorf("unknown vetting level %q", level)
	}
	return append([]model.StageName(nil), stages...), nil
}

func ParseLevel(s string) (model.VettingLevel, error) {
	l := model.VettingLevel(s)
	if _, ok := levelStages[l]; !ok {
		return "", fmt.Errorf("unknown vetting level %q", s)
	}
	return l, nil
}

type Options struct {
	Level model.VettingLevel
	Skip  []model.StageName
}

type Orchestrator struct {
	Stages      []Stage
	Weights     map[model.StageName]float64
	Metrics     *metrics.Metrics
	Log         *logrus.Logger
	Now         func() time.Time
	Concurrency int
}

func (o *Orchestrator) plan(opts Options) ([]Stage, error) {
	level := opts.Level
	if level == "" {
		level = model.LevelStandard
	}
	names, err := LevelStages(level)
	if err != nil {
		return nil, err
	}

	byName := make(map[model.StageName]Stage, len(o.Stages))
	for _, s := range o.Stages {
		byName[s.Name()] = s
	}

	var plan []Stage
	for _, name := range names {
		if slices.Contains(opts.Skip, name) {
			continue
		}
		s, ok := byName[name]
		if !ok {
			o.Log.WithField("stage", name).Debug("Stage not configured, skipping")
			continue
		}
		plan = append(plan, s)
	}
	return plan, nil
}

// Vet runs the planned stages in order. A hard failure ends the run as rejected. When ctx is
// cancelled the partial result is returned, not completed, with the context error.
func (o *Orchestrator) Vet(ctx context.Context, pkg model.Package, opts Options) (model.VettingResult, error) {
	result := model.VettingResult{
		ID:            uuid.NewString(),
		Package:       pkg,
		VettingLevel:  opts.Level,
		Stages:        make(map[model.StageName]model.StageResult),
		OverallStatus: model.OverallPending,
		StartTime:     o.now(),
	}
	if result.VettingLevel == "" {
		result.VettingLevel = model.LevelStandard
	}

	plan, err := o.plan(opts)
	if err != nil {
		return result, err
	}

	log := o.Log.WithFields(logrus.Fields{"package": pkg.Key(), "id": result.ID})
	m := NewMachine()

	for _, stage := range plan {
		if err := ctx.Err(); err != nil {
			return o.partial(result), err
		}
		if err := m.Transition(State(stage.Name())); err != nil {
			return result, err
		}

		start := time.Now()
		r := stage.Run(ctx, pkg)
		r.Stage = stage.Name()
		r.Duration = time.Since(start)

		// A stage cut short by cancellation is not kept.
		if err := ctx.Err(); err != nil && r.Status == model.StageError {
			return o.partial(result), err
		}

		result.Stages[r.Stage] = r
		o.Metrics.ObserveStage(string(r.Stage), string(r.Status), r.Duration)
		log.WithFields(logrus.Fields{"stage": r.Stage, "status": r.Status}).Debug("Stage finished")

		if isHardFailure(r) {
			log.WithField("stage", r.Stage).Info("Hard failure, rejecting")
			if err := m.Transition(StateTerminal); err != nil {
				return result, err
			}
			result.OverallScore = o.aggregate(result.Stages)
			return o.finish(result, model.Rejected), nil
		}
	}

	if err := m.Transition(StateAggregating); err != nil {
		return result, err
	}
	result.OverallScore = o.aggregate(result.Stages)
	rec := recommend(result.OverallScore)
	if err := m.Transition(StateTerminal); err != nil {
		return result, err
	}
	return o.finish(result, rec), nil
}

// VetAll vets packages concurrently. Results keep the order of pkgs.
func (o *Orchestrator) VetAll(ctx context.Context, pkgs []model.Package, opts Options) ([]model.VettingResult, error) {
	results := make([]model.VettingResult, len(pkgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())
	for i, pkg := range pkgs {
		i, pkg := i, pkg
		g.Go(func() error {
			r, err := o.Vet(gctx, pkg, opts)
			results[i] = r
			if err != nil {
				return fmt.Errorf("vetting %s: %w", pkg.Key(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func isHardFailure(r model.StageResult) bool {
	return r.HardFailure && r.Status == model.StageFailed
}

// aggregate is the weighted mean of the stages that produced a score. A stage weighted 0 still
// runs, and can still fail hard, but does not count towards the score.
func (o *Orchestrator) aggregate(stages map[model.StageName]model.StageResult) float64 {
	var sum, weights float64
	for name, r := range stages {
		if r.Score == nil {
			continue
		}
		w := 1.0
		if cw, ok := o.Weights[name]; ok && cw >= 0 {
			w = cw
		}
		sum += *r.Score * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func recommend(score float64) model.Recommendation {
	switch {
	case score >= 95:
		return model.Approved
	case score >= 80:
		return model.ConditionallyApproved
	default:
		return model.ReviewRequired
	}
}

func (o *Orchestrator) finish(r model.VettingResult, rec model.Recommendation) model.VettingResult {
	r.Recommendation = rec
	r.RiskLevel = rec.RiskFor()
	r.OverallStatus = model.OverallFailed
	if rec.Accepted() {
		r.OverallStatus = model.OverallPassed
	}
	r.Completed = true
	r.EndTime = o.now()
	o.Metrics.ObserveVetting(string(rec))
	return r
}

func (o *Orchestrator) partial(r model.VettingResult) model.VettingResult {
	r.EndTime = o.now()
	return r
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) concurrency() int {
	if o.Concurrency <= 0 {
		return 10
	}
	return o.Concurrency
}
