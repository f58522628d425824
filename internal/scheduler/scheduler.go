// Package scheduler runs the governance calendar: recurring directory syncs,
// tool imports, exit sweeps and report generation, persisted as cron-style
// job definitions with an execution history.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/sparrowvision/accessgov/internal/models"
)

// Job is one recurring governance task. Config carries the type-specific
// parameters; Validate spells out the contract per type.
type Job struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Description string            `json:"description" db:"description"`
	Schedule    string            `json:"schedule" db:"schedule"` // cron expression
	JobType     JobType           `json:"job_type" db:"job_type"`
	Config      map[string]string `json:"config" db:"config"`
	Enabled     bool              `json:"enabled" db:"enabled"`
	LastRun     *time.Time        `json:"last_run,omitempty" db:"last_run"`
	NextRun     *time.Time        `json:"next_run,omitempty" db:"next_run"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// JobType names the governance tasks the scheduler knows how to run.
type JobType string

const (
	JobTypeDirectorySync  JobType = "directory_sync"
	JobTypeImportTool     JobType = "import_tool"
	JobTypeImportAllTools JobType = "import_all_tools"
	JobTypeExitSweep      JobType = "exit_sweep"
	JobTypeGenerateReport JobType = "generate_report"
)

// reportTypes mirrors the report generator's catalogue. Validated here so a
// misconfigured job fails at creation, not at 8am on Monday.
var reportTypes = map[string]bool{
	"certification": true,
	"violations":    true,
	"access":        true,
	"lingering":     true,
	"executive":     true,
}

// Validate checks the definition against the contract of its job type.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: job name is required", models.ErrValidation)
	}
	if strings.TrimSpace(j.Schedule) == "" {
		return fmt.Errorf("%w: cron schedule is required", models.ErrValidation)
	}

	switch j.JobType {
	case JobTypeDirectorySync, JobTypeImportAllTools, JobTypeExitSweep:
		// No config required.
	case JobTypeImportTool:
		toolID := j.Config["tool_id"]
		if toolID == "" {
			return fmt.Errorf("%w: import_tool jobs require config.tool_id", models.ErrValidation)
		}
		if _, err := uuid.Parse(toolID); err != nil {
			return fmt.Errorf("%w: config.tool_id %q is not a tool id", models.ErrValidation, toolID)
		}
	case JobTypeGenerateReport:
		if rt := j.Config["report_type"]; rt != "" && !reportTypes[rt] {
			return fmt.Errorf("%w: unknown report_type %q", models.ErrValidation, rt)
		}
	default:
		return fmt.Errorf("%w: unknown job type %q", models.ErrValidation, j.JobType)
	}

	return nil
}

// JobExecution is one recorded run of a job.
type JobExecution struct {
	ID        string          `json:"id" db:"id"`
	JobID     string          `json:"job_id" db:"job_id"`
	Status    ExecutionStatus `json:"status" db:"status"`
	StartedAt time.Time       `json:"started_at" db:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty" db:"ended_at"`
	Error     string          `json:"error,omitempty" db:"error"`
	Output    string          `json:"output,omitempty" db:"output"`
}

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// JobHandler executes one run of a job.
type JobHandler func(ctx context.Context, job *Job) error

// Store persists job definitions and their execution history.
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	UpdateLastRun(ctx context.Context, id string, lastRun time.Time) error
	CreateExecution(ctx context.Context, exec *JobExecution) error
	UpdateExecution(ctx context.Context, exec *JobExecution) error
	GetJobExecutions(ctx context.Context, jobID string, limit int) ([]*JobExecution, error)
}

// Scheduler arms enabled jobs on a cron runner and records every execution.
type Scheduler struct {
	cron     *cron.Cron
	store    Store
	handlers map[JobType]JobHandler
	armed    map[string]cron.EntryID
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewScheduler(store Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		store:    store,
		handlers: make(map[JobType]JobHandler),
		armed:    make(map[string]cron.EntryID),
		logger:   logger,
	}
}

// RegisterHandler binds a handler to a job type.
func (s *Scheduler) RegisterHandler(jobType JobType, handler JobHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = handler
}

// DefaultJobs is the baseline governance calendar installed on first boot: a
// nightly directory sync, tool imports every six hours, a morning exit sweep
// and a weekly executive report.
func DefaultJobs() []*Job {
	return []*Job{
		{
			Name:        "Nightly directory sync",
			Description: "Pull the employee directory and refresh risk scores",
			Schedule:    "0 2 * * *",
			JobType:     JobTypeDirectorySync,
			Enabled:     true,
		},
		{
			Name:        "Tool account imports",
			Description: "Import accounts from every connected tool and reconcile grants",
			Schedule:    "0 */6 * * *",
			JobType:     JobTypeImportAllTools,
			Enabled:     true,
		},
		{
			Name:        "Morning exit sweep",
			Description: "Flag grants still held by exited employees",
			Schedule:    "30 7 * * *",
			JobType:     JobTypeExitSweep,
			Enabled:     true,
		},
		{
			Name:        "Weekly executive report",
			Description: "Generate the weekly governance summary",
			Schedule:    "0 8 * * 1",
			JobType:     JobTypeGenerateReport,
			Config:      map[string]string{"report_type": "executive"},
			Enabled:     true,
		},
	}
}

// Bootstrap seeds the default governance calendar when no jobs exist yet.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	existing, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	defaults := DefaultJobs()
	for _, job := range defaults {
		if err := s.store.CreateJob(ctx, job); err != nil {
			return fmt.Errorf("seeding job %q: %w", job.Name, err)
		}
	}

	s.logger.Info("seeded default governance schedule", "jobs", len(defaults))
	return nil
}

// Start loads persisted jobs and arms the enabled ones.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("loading jobs: %w", err)
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.armJob(job); err != nil {
			s.logger.Error("failed to arm job",
				"job_id", job.ID,
				"job_name", job.Name,
				"error", err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", len(jobs))

	return nil
}

// Stop halts the cron runner; the returned context is done when in-flight
// runs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// AddJob validates, persists and arms a new job.
func (s *Scheduler) AddJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.armJob(job)
	}
	return nil
}

// UpdateJob validates and persists changes, re-arming the job as needed.
func (s *Scheduler) UpdateJob(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.disarmJob(job.ID)

	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	if job.Enabled {
		return s.armJob(job)
	}
	return nil
}

// DeleteJob disarms and removes a job along with its execution history.
func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	s.disarmJob(id)
	return s.store.DeleteJob(ctx, id)
}

// EnableJob resumes a paused job.
func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = true
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return err
	}

	return s.armJob(job)
}

// DisableJob pauses a job without losing its definition or history.
func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Enabled = false
	s.disarmJob(id)

	return s.store.UpdateJob(ctx, job)
}

// RunJobNow triggers an immediate out-of-schedule run.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	go s.runJob(job)
	return nil
}

// armJob places a job on the cron runner, replacing any prior entry.
func (s *Scheduler) armJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.armed[job.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.armed, job.ID)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", models.ErrValidation, job.Schedule, err)
	}

	s.armed[job.ID] = entryID

	entry := s.cron.Entry(entryID)
	nextRun := entry.Next
	job.NextRun = &nextRun

	s.logger.Info("armed job",
		"job_id", job.ID,
		"job_name", job.Name,
		"schedule", job.Schedule,
		"next_run", nextRun)

	return nil
}

func (s *Scheduler) disarmJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.armed[id]; ok {
		s.cron.Remove(entryID)
		delete(s.armed, id)
	}
}

// runJob executes one run and records it in the execution history.
func (s *Scheduler) runJob(job *Job) {
	ctx := context.Background()
	startTime := time.Now()

	exec := &JobExecution{
		JobID:     job.ID,
		Status:    StatusRunning,
		StartedAt: startTime,
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("failed to create execution record", "error", err)
	}

	s.logger.Info("executing job",
		"job_id", job.ID,
		"job_name", job.Name,
		"execution_id", exec.ID)

	s.mu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.mu.RUnlock()

	if !ok {
		exec.Status = StatusFailed
		exec.Error = fmt.Sprintf("no handler registered for job type: %s", job.JobType)
		endTime := time.Now()
		exec.EndedAt = &endTime
		_ = s.store.UpdateExecution(ctx, exec)
		return
	}

	err := handler(ctx, job)
	endTime := time.Now()
	exec.EndedAt = &endTime

	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
		s.logger.Error("job execution failed",
			"job_id", job.ID,
			"job_name", job.Name,
			"error", err,
			"duration", endTime.Sub(startTime))
	} else {
		exec.Status = StatusCompleted
		s.logger.Info("job execution completed",
			"job_id", job.ID,
			"job_name", job.Name,
			"duration", endTime.Sub(startTime))
	}

	_ = s.store.UpdateExecution(ctx, exec)
	_ = s.store.UpdateLastRun(ctx, job.ID, startTime)
}

// DefaultHandlers wires the governance engines into the scheduler's job
// types. Nil funcs leave the corresponding type unregistered.
type DefaultHandlers struct {
	SyncDirectoryFunc func(ctx context.Context) error
	ImportToolFunc    func(ctx context.Context, toolID string) error
	ImportAllFunc     func(ctx context.Context) error
	ExitSweepFunc     func(ctx context.Context) error
	ReportFunc        func(ctx context.Context, config map[string]string) error
}

func (h *DefaultHandlers) Register(s *Scheduler) {
	if h.SyncDirectoryFunc != nil {
		s.RegisterHandler(JobTypeDirectorySync, func(ctx context.Context, job *Job) error {
			return h.SyncDirectoryFunc(ctx)
		})
	}

	if h.ImportToolFunc != nil {
		s.RegisterHandler(JobTypeImportTool, func(ctx context.Context, job *Job) error {
			toolID := job.Config["tool_id"]
			if toolID == "" {
				return fmt.Errorf("tool_id not specified in job config")
			}
			return h.ImportToolFunc(ctx, toolID)
		})
	}

	if h.ImportAllFunc != nil {
		s.RegisterHandler(JobTypeImportAllTools, func(ctx context.Context, job *Job) error {
			return h.ImportAllFunc(ctx)
		})
	}

	if h.ExitSweepFunc != nil {
		s.RegisterHandler(JobTypeExitSweep, func(ctx context.Context, job *Job) error {
			return h.ExitSweepFunc(ctx)
		})
	}

	if h.ReportFunc != nil {
		s.RegisterHandler(JobTypeGenerateReport, func(ctx context.Context, job *Job) error {
			return h.ReportFunc(ctx, job.Config)
		})
	}
}
