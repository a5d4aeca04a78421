// Package scheduler runs the bridge's periodic maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes known players that have not been seen recently.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// FavoritesRefresher asks the poll loop to reload favorites on its next step.
type FavoritesRefresher interface {
	RequestFavoritesRefresh()
}

// Config holds the schedules and retention of the maintenance jobs. Both
// prune jobs run on PruneSchedule.
type Config struct {
	PruneSchedule            string
	FavoritesRefreshSchedule string
	Retention                time.Duration
	AuditRetention           time.Duration
}

// Targets are what the maintenance jobs act on. A nil target disables its
// job.
type Targets struct {
	KnownPlayers Pruner
	AuditEvents  Pruner
	Favorites    FavoritesRefresher
}

const (
	jobPruneKnownPlayers = "prune-known-players"
	jobPruneAuditEvents  = "prune-audit-events"
	jobRefreshFavorites  = "refresh-favorites"
)

// JobStatus describes one registered job.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Service schedules the maintenance jobs.
type Service struct {
	cron           *cron.Cron
	targets        Targets
	retention      time.Duration
	auditRetention time.Duration
	logger         *log.Logger
	now            func() time.Time

	mu      sync.Mutex
	running bool
	jobs    map[string]cron.EntryID
	specs   map[string]string
}

// NewService validates the schedules and registers the jobs.
func NewService(cfg Config, targets Targets, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.AuditRetention <= 0 {
		cfg.AuditRetention = 90 * 24 * time.Hour
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Service{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.PrintfLogger(logger)))),
		targets:        targets,
		retention:      cfg.Retention,
		auditRetention: cfg.AuditRetention,
		logger:         logger,
		now:            time.Now,
		jobs:           make(map[string]cron.EntryID),
		specs:          make(map[string]string),
	}

	if targets.KnownPlayers != nil && cfg.PruneSchedule != "" {
		if err := s.add(jobPruneKnownPlayers, cfg.PruneSchedule, s.PruneKnownPlayers); err != nil {
			return nil, err
		}
	}
	if targets.AuditEvents != nil && cfg.PruneSchedule != "" {
		if err := s.add(jobPruneAuditEvents, cfg.PruneSchedule, s.PruneAuditEvents); err != nil {
			return nil, err
		}
	}
	if targets.Favorites != nil && cfg.FavoritesRefreshSchedule != "" {
		if err := s.add(jobRefreshFavorites, cfg.FavoritesRefreshSchedule, s.RefreshFavorites); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) add(name, spec string, job func()) error {
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}
	s.jobs[name] = id
	s.specs[name] = spec
	return nil
}

// ==========================================================================
// Lifecycle
// ==========================================================================

// Start starts the cron runner.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.logger.Printf("SCHEDULER: starting with %d job(s)", len(s.jobs))
	s.cron.Start()
}

// IsRunning returns true if the scheduler is currently running.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop stops the runner and waits for running jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Printf("SCHEDULER: stopped")
}

// Jobs returns the registered jobs with their next run times.
func (s *Service) Jobs() []JobStatus {
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, name := range []string{jobPruneKnownPlayers, jobPruneAuditEvents, jobRefreshFavorites} {
		id, ok := s.jobs[name]
		if !ok {
			continue
		}
		entry := s.cron.Entry(id)
		statuses = append(statuses, JobStatus{
			Name:     name,
			Schedule: s.specs[name],
			Next:     entry.Next,
			Prev:     entry.Prev,
		})
	}
	return statuses
}

// ==========================================================================
// Jobs
// ==========================================================================

// PruneKnownPlayers deletes known players older than the retention window.
func (s *Service) PruneKnownPlayers() {
	s.prune(s.targets.KnownPlayers, "known player(s)", s.retention)
}

// PruneAuditEvents deletes audit events older than the audit retention.
func (s *Service) PruneAuditEvents() {
	s.prune(s.targets.AuditEvents, "audit event(s)", s.auditRetention)
}

func (s *Service) prune(pruner Pruner, what string, retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := s.now().Add(-retention)
	removed, err := pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Printf("SCHEDULER: pruning %s failed: %v", what, err)
		return
	}
	if removed > 0 {
		s.logger.Printf("SCHEDULER: pruned %d %s older than %s", removed, what, cutoff.Format(time.RFC3339))
	}
}

// RefreshFavorites flags a favorites reload. The poll loop performs it so
// that it stays the only writer of the state tree.
func (s *Service) RefreshFavorites() {
	s.targets.Favorites.RequestFavoritesRefresh()
}
