package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/auth"
	"github.com/sparrowvision/accessgov/internal/connectors"
	"github.com/sparrowvision/accessgov/internal/directory"
	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/queue"
	"github.com/sparrowvision/accessgov/internal/review"
	"github.com/sparrowvision/accessgov/internal/scheduler"
)

// statusFromErr maps the shared sentinel errors to HTTP status codes.
func statusFromErr(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	status, code := statusFromErr(err)
	respondError(w, status, code, err.Error())
}

func actorEmail(r *http.Request) string {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.Email
}

// --- Auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	tokens, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrUserDisabled) {
		respondError(w, http.StatusForbidden, "account_disabled", "Account is disabled")
		return
	}
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	tokens, err := s.authService.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "auth_error", "Invalid refresh token")
		return
	}

	respondJSON(w, http.StatusOK, tokens)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = s.authService.LogoutAll(r.Context(), claims.UserID)
	} else {
		_ = s.authService.Logout(r.Context(), claims.UserID, req.RefreshToken)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) getCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "auth_error", "Not authenticated")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": claims.UserID,
		"email":   claims.Email,
		"name":    claims.Name,
		"role":    claims.Role,
	})
}

type createUserRequest struct {
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "email and password are required")
		return
	}

	if req.Role == "" {
		req.Role = auth.RoleViewer
	}
	if !req.Role.Grants(auth.RoleViewer) {
		respondError(w, http.StatusBadRequest, "validation_error", "role must be admin, reviewer, or viewer")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "server_error", "Failed to process password")
		return
	}

	user := &auth.User{
		Email:    req.Email,
		Name:     req.Name,
		Password: hashedPassword,
		Role:     req.Role,
		Active:   true,
	}

	if err := s.userStore.CreateUser(r.Context(), user); err != nil {
		respondDomainError(w, err)
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userStore.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, users)
}

// --- Identities ---

func (s *Server) listIdentities(w http.ResponseWriter, r *http.Request) {
	filter := directory.IdentityFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		st := models.IdentityStatus(status)
		filter.Status = &st
	}
	if dept := r.URL.Query().Get("department"); dept != "" {
		filter.Department = dept
	}
	if minRisk := r.URL.Query().Get("min_risk"); minRisk != "" {
		if n, err := strconv.Atoi(minRisk); err == nil {
			filter.MinRisk = n
		}
	}

	identities, err := s.store.ListIdentities(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, identities)
}

func (s *Server) getIdentity(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	identity, err := s.directoryService.FindByEmail(r.Context(), email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if identity == nil {
		respondError(w, http.StatusNotFound, "not_found", "Identity not found")
		return
	}

	respondJSON(w, http.StatusOK, identity)
}

type markExitRequest struct {
	ExitDate *time.Time `json:"exit_date,omitempty"`
}

func (s *Server) markIdentityExit(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")

	var req markExitRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	exitDate := time.Now()
	if req.ExitDate != nil {
		exitDate = *req.ExitDate
	}

	identity, err := s.directoryService.MarkExit(r.Context(), email, exitDate)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if s.graph != nil {
		if err := s.graph.UpsertIdentity(r.Context(), identity); err != nil {
			s.logger.Error("error mirroring exit to graph", "email", email, "error", err)
		}
	}

	_ = s.ledger.Append(r.Context(), &models.AuditEvent{
		EventType:   "identity.exited",
		Actor:       actorEmail(r),
		SubjectID:   identity.ID.String(),
		SubjectKind: "identity",
		Detail:      models.JSONB{"email": identity.Email, "exit_date": exitDate},
	})

	respondJSON(w, http.StatusOK, identity)
}

func (s *Server) listHighRiskIdentities(w http.ResponseWriter, r *http.Request) {
	threshold := s.cfg.Governance.HighRiskThreshold
	if t := r.URL.Query().Get("threshold"); t != "" {
		if n, err := strconv.Atoi(t); err == nil {
			threshold = n
		}
	}

	identities, err := s.directoryService.HighRisk(r.Context(), threshold)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, identities)
}

func (s *Server) listInactiveIdentities(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.Governance.InactiveDays
	if d := r.URL.Query().Get("days"); d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			days = n
		}
	}

	identities, err := s.directoryService.Inactive(r.Context(), days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, identities)
}

// --- Directory sync ---

func (s *Server) triggerDirectorySync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		respondError(w, http.StatusServiceUnavailable, "sync_unconfigured", "Directory sync is not configured")
		return
	}

	if s.queue != nil {
		job, err := s.enqueue(r.Context(), queue.JobDirectorySync, nil, actorEmail(r), 1)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, job)
		return
	}

	// Without a queue the sync runs in-request.
	stats, err := s.syncer.Sync(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "sync_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// --- Tools ---

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.store.ListTools(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, tools)
}

type createToolRequest struct {
	Name            string       `json:"name"`
	Category        string       `json:"category"`
	OwnerEmail      string       `json:"owner_email"`
	Connector       string       `json:"connector"`
	ConnectorConfig models.JSONB `json:"connector_config"`
}

func (s *Server) createTool(w http.ResponseWriter, r *http.Request) {
	var req createToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	if req.Connector != "" && !connectors.IsRegistered(req.Connector) {
		respondError(w, http.StatusBadRequest, "validation_error", "unknown connector type: "+req.Connector)
		return
	}

	existing, err := s.store.GetToolByName(r.Context(), req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "tool_exists", "Tool already exists")
		return
	}

	tool := &models.Tool{
		Name:            req.Name,
		Category:        req.Category,
		OwnerEmail:      req.OwnerEmail,
		Connector:       req.Connector,
		ConnectorConfig: req.ConnectorConfig,
	}

	if err := s.store.CreateTool(r.Context(), tool); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if s.graph != nil {
		if err := s.graph.UpsertTool(r.Context(), tool); err != nil {
			s.logger.Error("error mirroring tool to graph", "tool", tool.Name, "error", err)
		}
	}

	respondJSON(w, http.StatusCreated, tool)
}

func (s *Server) getTool(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	tool, err := s.store.GetTool(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if tool == nil {
		respondError(w, http.StatusNotFound, "not_found", "Tool not found")
		return
	}

	respondJSON(w, http.StatusOK, tool)
}

func (s *Server) deleteTool(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	if err := s.store.DeleteTool(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) triggerToolImport(w http.ResponseWriter, r *http.Request) {
	s.enqueueToolJob(w, r, queue.JobToolImport)
}

func (s *Server) triggerToolReconcile(w http.ResponseWriter, r *http.Request) {
	s.enqueueToolJob(w, r, queue.JobReconcile)
}

func (s *Server) enqueueToolJob(w http.ResponseWriter, r *http.Request, jobType queue.JobType) {
	id, err := uuid.Parse(chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid tool ID")
		return
	}

	tool, err := s.store.GetTool(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if tool == nil {
		respondError(w, http.StatusNotFound, "not_found", "Tool not found")
		return
	}
	if tool.Connector == "" {
		respondError(w, http.StatusBadRequest, "no_connector", "Tool has no connector configured")
		return
	}

	job, err := s.enqueue(r.Context(), jobType, &id, actorEmail(r), 0)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "queue_error", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

// --- Grants ---

func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	filter := review.GrantFilter{
		UserEmail: r.URL.Query().Get("user_email"),
		ToolName:  r.URL.Query().Get("tool"),
	}

	grants, err := s.store.ListActiveGrants(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, grants)
}

func (s *Server) revokeGrant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "grantID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid grant ID")
		return
	}

	grant, err := s.store.GetGrant(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if grant == nil {
		respondError(w, http.StatusNotFound, "not_found", "Grant not found")
		return
	}

	if err := s.store.RevokeGrant(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	if s.graph != nil {
		if err := s.graph.RemoveGrant(r.Context(), grant.UserEmail, grant.ToolName); err != nil {
			s.logger.Error("error removing grant from graph",
				"user", grant.UserEmail, "tool", grant.ToolName, "error", err)
		}
	}

	_ = s.ledger.Append(r.Context(), &models.AuditEvent{
		EventType:   "grant.revoked",
		Actor:       actorEmail(r),
		SubjectID:   grant.ID.String(),
		SubjectKind: "grant",
		Detail:      models.JSONB{"user_email": grant.UserEmail, "tool": grant.ToolName},
	})

	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// --- Scheduled jobs ---

func (s *Server) listScheduledJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.schedulerStore.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

type createJobRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Schedule    string            `json:"schedule"`
	JobType     scheduler.JobType `json:"job_type"`
	Config      map[string]string `json:"config"`
	Enabled     bool              `json:"enabled"`
}

func (s *Server) createScheduledJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Name == "" || req.Schedule == "" || req.JobType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "name, schedule, and job_type are required")
		return
	}

	job := &scheduler.Job{
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		JobType:     req.JobType,
		Config:      req.Config,
		Enabled:     req.Enabled,
	}

	if err := s.scheduler.AddJob(r.Context(), job); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) getScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.schedulerStore.GetJob(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) updateScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	job := &scheduler.Job{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		JobType:     req.JobType,
		Config:      req.Config,
		Enabled:     req.Enabled,
	}

	if err := s.scheduler.UpdateJob(r.Context(), job); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

func (s *Server) deleteScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.DeleteJob(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) runScheduledJobNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.RunJobNow(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) enableScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.EnableJob(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) disableScheduledJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	if err := s.scheduler.DisableJob(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) getJobExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")

	execs, err := s.schedulerStore.GetJobExecutions(r.Context(), id, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, execs)
}

// --- Queue ---

func (s *Server) getQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue is not available")
		return
	}

	stats, err := s.queue.GetQueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}

	workers, err := s.queue.GetActiveWorkers(r.Context(), time.Minute)
	if err != nil {
		s.logger.Error("error listing active workers", "error", err)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":    stats,
		"workers": workers,
	})
}

func (s *Server) getJobProgress(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, http.StatusServiceUnavailable, "queue_unavailable", "Job queue is not available")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid job ID")
		return
	}

	progress, err := s.queue.GetProgress(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "queue_error", err.Error())
		return
	}
	if progress == nil {
		respondError(w, http.StatusNotFound, "not_found", "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, progress)
}
