package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/access"
	"github.com/sparrowvision/accessgov/internal/audit"
	"github.com/sparrowvision/accessgov/internal/connectors"
	"github.com/sparrowvision/accessgov/internal/directory"
	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/reconcile"
	"github.com/sparrowvision/accessgov/internal/review"
	"github.com/sparrowvision/accessgov/internal/store"
)

// Worker drains the job queue: directory syncs, tool imports and
// reconciliation passes.
type Worker struct {
	id         string
	queue      *Queue
	store      *store.Store
	syncer     *directory.Syncer
	reconciler *reconcile.Engine
	graph      *access.Graph
	ledger     *audit.Ledger
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.Mutex
}

type WorkerConfig struct {
	Queue      *Queue
	Store      *store.Store
	Syncer     *directory.Syncer
	Reconciler *reconcile.Engine
	Graph      *access.Graph
	Ledger     *audit.Ledger
	Logger     *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:         workerID,
		queue:      cfg.Queue,
		store:      cfg.Store,
		syncer:     cfg.Syncer,
		reconciler: cfg.Reconciler,
		graph:      cfg.Graph,
		ledger:     cfg.Ledger,
		logger:     logger.With("worker", workerID),
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.Info("worker starting")

	w.wg.Add(1)
	go w.heartbeatLoop()

	w.wg.Add(1)
	go w.processLoop()

	w.wg.Add(1)
	go w.cleanupLoop()

	return nil
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopping")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.queue.WorkerHeartbeat(w.ctx, w.id)
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(w.ctx, w.id)
			if err != nil {
				w.logger.Error("error dequeuing job", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}

			if job == nil {
				time.Sleep(1 * time.Second)
				continue
			}

			w.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

			if err := w.processJob(job); err != nil {
				w.logger.Error("job failed", "job_id", job.ID, "error", err)
				w.queue.RequeueJob(w.ctx, job, err.Error())
			} else {
				w.logger.Info("job completed", "job_id", job.ID)
				w.queue.CompleteJob(w.ctx, job, true)
			}
		}
	}
}

func (w *Worker) processJob(job *Job) error {
	switch job.Type {
	case JobDirectorySync:
		return w.runDirectorySync(job)
	case JobToolImport:
		return w.runToolImport(job, true)
	case JobReconcile:
		return w.runToolImport(job, false)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (w *Worker) runDirectorySync(job *Job) error {
	if w.syncer == nil {
		return fmt.Errorf("directory sync is not configured")
	}

	stats, err := w.syncer.Sync(w.ctx)
	if err != nil {
		return err
	}

	w.queue.UpdateProgress(w.ctx, &JobProgress{
		JobID:           job.ID,
		Status:          JobStatusRunning,
		AccountsFetched: stats.TotalUsers,
	})

	w.record("directory.synced", job.Requested, "", models.JSONB{
		"total_users":  stats.TotalUsers,
		"active_users": stats.ActiveUsers,
		"parse_errors": stats.ParseErrors,
	})

	return nil
}

// runToolImport fetches a tool's user list and reconciles it against the
// directory. With persist set, matched accounts are upserted as active grants
// and mirrored into the access graph; without it the pass is report-only.
func (w *Worker) runToolImport(job *Job, persist bool) error {
	if job.ToolID == nil {
		return fmt.Errorf("tool job %s has no tool id", job.ID)
	}

	tool, err := w.store.GetTool(w.ctx, *job.ToolID)
	if err != nil {
		return fmt.Errorf("getting tool: %w", err)
	}
	if tool == nil {
		return fmt.Errorf("tool not found: %s", job.ToolID)
	}

	conn, err := connectors.ForTool(w.ctx, tool)
	if err != nil {
		return fmt.Errorf("creating connector: %w", err)
	}
	defer conn.Close()

	if err := conn.Validate(w.ctx); err != nil {
		return fmt.Errorf("validating connection: %w", err)
	}

	accounts, err := conn.FetchAccounts(w.ctx)
	if err != nil {
		return fmt.Errorf("fetching accounts: %w", err)
	}

	snapshot, err := w.store.ListIdentities(w.ctx, directory.IdentityFilter{})
	if err != nil {
		return fmt.Errorf("loading directory snapshot: %w", err)
	}

	result := w.reconciler.Reconcile(accounts, snapshot)

	var revoked int
	if persist {
		if err := w.persistMatched(tool, result.Matched); err != nil {
			return err
		}
		revoked, err = w.revokeStaleGrants(tool, result.Matched)
		if err != nil {
			return err
		}
		if err := w.store.UpdateToolLastImport(w.ctx, tool.ID); err != nil {
			return fmt.Errorf("updating tool import time: %w", err)
		}
	}

	w.queue.UpdateProgress(w.ctx, &JobProgress{
		JobID:           job.ID,
		Status:          JobStatusRunning,
		AccountsFetched: result.Summary.Total,
		Matched:         result.Summary.Matched,
		Unmatched:       result.Summary.Unmatched,
		Flagged:         result.Summary.Flagged,
		Skipped:         result.Summary.Skipped,
	})

	eventType := "tool.reconciled"
	if persist {
		eventType = "tool.imported"
	}
	w.record(eventType, job.Requested, tool.ID.String(), models.JSONB{
		"tool":      tool.Name,
		"total":     result.Summary.Total,
		"matched":   result.Summary.Matched,
		"unmatched": result.Summary.Unmatched,
		"flagged":   result.Summary.Flagged,
		"skipped":   result.Summary.Skipped,
		"revoked":   revoked,
	})

	return nil
}

func (w *Worker) persistMatched(tool *models.Tool, matched []reconcile.MatchedAccount) error {
	if w.graph != nil {
		if err := w.graph.UpsertTool(w.ctx, tool); err != nil {
			w.logger.Error("error mirroring tool to graph", "tool", tool.Name, "error", err)
		}
	}

	for _, match := range matched {
		grant := &models.UserAccess{
			UserID:       match.IdentityID,
			UserEmail:    match.Account.Email,
			ToolID:       tool.ID,
			ToolName:     tool.Name,
			Role:         match.Account.Role,
			Permissions:  match.Account.Permissions,
			Status:       models.GrantActive,
			LastAccessed: match.Account.LastAccessed,
		}
		if err := w.store.UpsertGrant(w.ctx, grant); err != nil {
			return fmt.Errorf("upserting grant for %s: %w", grant.UserEmail, err)
		}

		if w.graph != nil {
			if err := w.graph.UpsertGrant(w.ctx, grant); err != nil {
				w.logger.Error("error mirroring grant to graph", "user", grant.UserEmail, "error", err)
			}
		}
	}

	return nil
}

// revokeStaleGrants closes out active grants for the tool whose accounts no
// longer appear in the fetched export. The export is the source of truth for
// who currently holds access.
func (w *Worker) revokeStaleGrants(tool *models.Tool, matched []reconcile.MatchedAccount) (int, error) {
	active, err := w.store.ListActiveGrants(w.ctx, review.GrantFilter{ToolName: tool.Name})
	if err != nil {
		return 0, fmt.Errorf("listing active grants: %w", err)
	}

	stale := staleGrants(active, matched)
	for _, grant := range stale {
		if err := w.store.RevokeGrant(w.ctx, grant.ID); err != nil {
			return 0, fmt.Errorf("revoking grant for %s: %w", grant.UserEmail, err)
		}
		if w.graph != nil {
			if err := w.graph.RemoveGrant(w.ctx, grant.UserEmail, grant.ToolName); err != nil {
				w.logger.Error("error removing grant from graph", "user", grant.UserEmail, "error", err)
			}
		}
		w.logger.Info("revoked stale grant", "user", grant.UserEmail, "tool", grant.ToolName)
	}

	return len(stale), nil
}

// staleGrants returns the grants whose account email is absent from the
// export. Email comparison is case-insensitive, matching the reconciler.
func staleGrants(active []models.UserAccess, matched []reconcile.MatchedAccount) []models.UserAccess {
	seen := make(map[string]struct{}, len(matched))
	for _, match := range matched {
		seen[strings.ToLower(match.Account.Email)] = struct{}{}
	}

	var stale []models.UserAccess
	for _, grant := range active {
		if _, ok := seen[strings.ToLower(grant.UserEmail)]; !ok {
			stale = append(stale, grant)
		}
	}
	return stale
}

func (w *Worker) cleanupLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := w.queue.CleanupStaleJobs(w.ctx, 30*time.Minute)
			if err != nil {
				w.logger.Error("error cleaning stale jobs", "error", err)
			} else if cleaned > 0 {
				w.logger.Info("cleaned up stale jobs", "count", cleaned)
			}
		}
	}
}

func (w *Worker) record(eventType, actor, subjectID string, detail models.JSONB) {
	if w.ledger == nil {
		return
	}
	event := &models.AuditEvent{
		EventType:   eventType,
		Actor:       actor,
		SubjectID:   subjectID,
		SubjectKind: "job",
		Detail:      detail,
	}
	if err := w.ledger.Append(w.ctx, event); err != nil {
		w.logger.Error("failed to append audit event", "event", eventType, "error", err)
	}
}
