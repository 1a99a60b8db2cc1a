// Package status assembles the system overview: run state, agents, and the
// last recorded run of each scheduled job.
package status

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/mission-control/internal/model"
)

// JobWindow is how many recent audit entries are scanned for job runs.
// A job whose last run is older than the window shows no run.
const JobWindow = 300

// Store is the read access the status page needs.
type Store interface {
	GetRunState(ctx context.Context, id uuid.UUID) (model.RunState, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)
	QueryAuditEntries(ctx context.Context, f model.AuditFilter, limit, offset int) ([]model.AuditEntry, error)
}

// Service builds status pages.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Page reads the run state, agents and recent audit window concurrently
// and joins them. Any read failure fails the page.
func (s *Service) Page(ctx context.Context) (model.StatusPage, error) {
	var (
		rs      model.RunState
		agents  []model.Agent
		entries []model.AuditEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rs, err = s.store.GetRunState(gctx, model.RunStateID)
		if err != nil {
			return fmt.Errorf("status: run state: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		agents, err = s.store.ListAgents(gctx)
		if err != nil {
			return fmt.Errorf("status: agents: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		entries, err = s.store.QueryAuditEntries(gctx, model.AuditFilter{}, JobWindow, 0)
		if err != nil {
			return fmt.Errorf("status: audit window: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.StatusPage{}, err
	}

	jobs, ok, failed := JobRuns(entries)
	return model.StatusPage{
		RunState:   rs,
		Agents:     agents,
		Online:     model.CountByStatus(agents, model.AgentOnline),
		Jobs:       jobs,
		JobsOK:     ok,
		JobsFailed: failed,
	}, nil
}

// JobRuns matches each scheduled job to its most recent entry in entries,
// which must be newest first. It returns the jobs in catalogue order with
// counts of jobs whose last run succeeded or failed.
func JobRuns(entries []model.AuditEntry) (jobs []model.JobStatus, ok, failed int) {
	latest := make(map[string]model.AuditEntry, len(model.ScheduledJobs))
	for _, e := range entries {
		if _, seen := latest[string(e.Action)]; !seen {
			latest[string(e.Action)] = e
		}
	}

	jobs = make([]model.JobStatus, 0, len(model.ScheduledJobs))
	for _, j := range model.ScheduledJobs {
		js := model.JobStatus{ScheduledJob: j}
		if e, found := latest[j.Action]; found {
			at, id := e.ExecutedAt, e.ID
			js.LastRunAt = &at
			js.LastRunID = &id
			js.LastStatus = e.Status
			switch e.Status {
			case model.AuditSuccess:
				ok++
			case model.AuditFailure:
				failed++
			}
		}
		jobs = append(jobs, js)
	}
	return jobs, ok, failed
}
