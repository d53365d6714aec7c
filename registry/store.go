package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"depvet/metrics"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const defaultLockTimeout = 30 * time.Second

// Store serialises every load-mutate-save cycle on the registry file behind an exclusive file lock.
type Store struct {
	Path            string
	Log             *logrus.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
	LockTimeout     time.Duration
	RecreateCorrupt bool
}

type ImportSummary struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

func NewStore(path string, log *logrus.Logger) *Store {
	return &Store{
		Path:        path,
		Log:         log,
		Now:         time.Now,
		LockTimeout: defaultLockTimeout,
	}
}

// Update runs fn inside the critical section and saves the registry when fn succeeds.
// When fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(reg *Registry) error) error {
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	reg, err := Load(s.Path)
	if err != nil {
		if !errors.Is(err, ErrCorrupt) || !s.RecreateCorrupt {
			return err
		}
		s.logger().WithError(err).Warn("Recreating corrupt registry")
	}

	if err := fn(reg); err != nil {
		return err
	}

	if err := Save(reg, s.Path, s.now()); err != nil {
		return err
	}
	s.Metrics.SetRegistrySize(len(reg.Dependencies))
	return nil
}

// Snapshot reads the registry under the lock. A corrupt file is logged and read as empty.
func (s *Store) Snapshot(ctx context.Context) (*Registry, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reg, err := Load(s.Path)
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		s.logger().WithError(err).Warn("Using empty registry")
	}
	return reg, nil
}

func (s *Store) Add(ctx context.Context, name, version string, a Approval) error {
	if a.Date.IsZero() {
		a.Date = s.now()
	}
	return s.Update(ctx, func(reg *Registry) error {
		return reg.Add(name, version, a)
	})
}

func (s *Store) Remove(ctx context.Context, name string) error {
	return s.Update(ctx, func(reg *Registry) error {
		return reg.Remove(name)
	})
}

func (s *Store) UpdateVersion(ctx context.Context, name, version string) error {
	now := s.now()
	return s.Update(ctx, func(reg *Registry) error {
		return reg.UpdateVersion(name, version, now)
	})
}

func (s *Store) Get(ctx context.Context, name string) (Entry, error) {
	reg, err := s.Snapshot(ctx)
	if err != nil {
		return Entry{}, err
	}
	e, ok := reg.Get(name)
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return e, nil
}

func (s *Store) Export(ctx context.Context, w io.Writer) error {
	reg, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reg); err != nil {
		return fmt.Errorf("failed to export registry: %w", err)
	}
	return nil
}

// Import adds entries from an exported registry. Names already present are skipped.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportSummary, error) {
	var in Registry
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return ImportSummary{}, fmt.Errorf("failed to decode import: %w", err)
	}

	names := make([]string, 0, len(in.Dependencies))
	for name := range in.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var summary ImportSummary
	now := s.now()
	err := s.Update(ctx, func(reg *Registry) error {
		summary = ImportSummary{}
		for _, name := range names {
			if _, ok := reg.Dependencies[name]; ok {
				summary.Skipped++
				continue
			}
			e := in.Dependencies[name]
			e.Name = name
			if e.Status == "" {
				e.Status = StatusActive
			}
			if e.ApprovedDate.IsZero() {
				e.ApprovedDate = now
			}
			reg.Dependencies[name] = e
			summary.Added++
		}
		return nil
	})
	return summary, err
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	timeout := s.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(s.Path + ".lock")
	ok, err := fl.TryLockContext(lctx, 25*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to lock registry: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger().WithError(err).Warn("Failed to unlock registry")
		}
	}, nil
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Store) logger() *logrus.Logger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}
