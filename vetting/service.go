package vetting

import (
	"context"
	"errors"
	"fmt"

	"depvet/model"
	"depvet/registry"

	"github.com/sirupsen/logrus"
)

type History interface {
	SaveVettingResult(ctx context.Context, r model.VettingResult) error
}

// Service runs vettings and records their outcome: every result goes to history, accepted
// packages are written to the registry.
type Service struct {
	Orchestrator *Orchestrator
	Registry     *registry.Store
	History      History
	ApprovedBy   string
	Frequency    string
	Log          *logrus.Logger
}

func (s *Service) Vet(ctx context.Context, pkg model.Package, opts Options) (model.VettingResult, error) {
	r, err := s.Orchestrator.Vet(ctx, pkg, opts)
	s.record(ctx, r)
	if err != nil {
		return r, err
	}
	if err := s.approve(ctx, r); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Service) VetAll(ctx context.Context, pkgs []model.Package, opts Options) ([]model.VettingResult, error) {
	results, err := s.Orchestrator.VetAll(ctx, pkgs, opts)
	for _, r := range results {
		if r.ID == "" {
			continue
		}
		s.record(ctx, r)
		if aerr := s.approve(ctx, r); aerr != nil {
			err = errors.Join(err, aerr)
		}
	}
	return results, err
}

// QuickCheck runs the quick level and never writes to the registry.
func (s *Service) QuickCheck(ctx context.Context, pkg model.Package) (model.VettingResult, error) {
	r, err := s.Orchestrator.Vet(ctx, pkg, Options{Level: model.LevelQuick})
	s.record(ctx, r)
	return r, err
}

func (s *Service) record(ctx context.Context, r model.VettingResult) {
	if s.History == nil || r.ID == "" {
		return
	}
	// Recording must survive the cancellation that may have ended the run.
	if err := s.History.SaveVettingResult(context.WithoutCancel(ctx), r); err != nil {
		s.Log.WithError(err).WithField("package", r.Package.Key()).Error("failed to store vetting result")
	}
}

func (s *Service) approve(ctx context.Context, r model.VettingResult) error {
	if s.Registry == nil || !r.Completed || !r.Recommendation.Accepted() {
		return nil
	}

	pkg := r.Package
	err := s.Registry.Update(ctx, func(reg *registry.Registry) error {
		e, ok := reg.Get(pkg.Name)
		if !ok {
			return reg.Add(pkg.Name, pkg.Version, registry.Approval{
				RegistrySource: pkg.RegistrySource,
				License:        pkg.License,
				ApprovedBy:     s.ApprovedBy,
				Frequency:      s.Frequency,
				Date:           r.EndTime,
			})
		}
		if e.Version == pkg.Version {
			return nil
		}
		return reg.UpdateVersion(pkg.Name, pkg.Version, r.EndTime)
	})
	if err != nil {
		return fmt.Errorf("failed to record approval of %s: %w", pkg.Key(), err)
	}

	s.Log.WithFields(logrus.Fields{
		"package":        pkg.Key(),
		"recommendation": r.Recommendation,
	}).Info("Dependency approved")
	return nil
}

const (
	ExitApproved       = 0
	ExitError          = 1
	ExitRejected       = 2
	ExitReviewRequired = 3
)

// ExitCode maps a result onto the process exit status.
func ExitCode(r model.VettingResult) int {
	if !r.Completed {
		return ExitError
	}
	switch r.Recommendation {
	case model.Approved, model.ConditionallyApproved:
		return ExitApproved
	case model.Rejected:
		return ExitRejected
	default:
		return ExitReviewRequired
	}
}

// WorstExitCode combines results: an error outranks a rejection, which outranks a review.
func WorstExitCode(results []model.VettingResult) int {
	worst := ExitApproved
	rank := map[int]int{ExitApproved: 0, ExitReviewRequired: 1, ExitRejected: 2, ExitError: 3}
	for _, r := range results {
		if c := ExitCode(r); rank[c] > rank[worst] {
			worst = c
		}
	}
	return worst
}
