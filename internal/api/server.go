package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/access"
	"github.com/sparrowvision/accessgov/internal/audit"
	"github.com/sparrowvision/accessgov/internal/auth"
	"github.com/sparrowvision/accessgov/internal/config"
	_ "github.com/sparrowvision/accessgov/internal/connectors/aws"
	_ "github.com/sparrowvision/accessgov/internal/connectors/azure"
	_ "github.com/sparrowvision/accessgov/internal/connectors/google"
	"github.com/sparrowvision/accessgov/internal/directory"
	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/notifications"
	"github.com/sparrowvision/accessgov/internal/policy"
	"github.com/sparrowvision/accessgov/internal/queue"
	"github.com/sparrowvision/accessgov/internal/reconcile"
	"github.com/sparrowvision/accessgov/internal/reports"
	"github.com/sparrowvision/accessgov/internal/review"
	"github.com/sparrowvision/accessgov/internal/scheduler"
	"github.com/sparrowvision/accessgov/internal/store"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	authService *auth.Service
	userStore   auth.UserStore

	scheduler      *scheduler.Scheduler
	schedulerStore scheduler.Store

	directoryService *directory.Service
	syncer           *directory.Syncer
	reconciler       *reconcile.Engine
	reviewEngine     *review.Engine
	policyEngine     *policy.Engine
	ledger           *audit.Ledger

	queue  *queue.Queue
	worker *queue.Worker
	graph  *access.Graph

	reportGenerator *reports.Generator

	notificationService *notifications.Service
	notificationConfig  notifications.Config
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		store:  st,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.userStore = auth.NewPostgresUserStore(st.DB())
	s.authService = auth.NewService(auth.Config{
		JWTSecret:          cfg.Auth.JWTSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
	}, s.userStore)

	s.schedulerStore = scheduler.NewPostgresStore(st.DB())
	s.scheduler = scheduler.NewScheduler(s.schedulerStore, s.logger)

	s.ledger = audit.NewLedger(st, s.logger)
	s.directoryService = directory.NewService(st)
	s.reconciler = reconcile.NewEngine(cfg.Governance.OrgDomain)
	s.reviewEngine = review.NewEngine(st, s.directoryService, st, s.ledger, s.logger)
	s.policyEngine = policy.NewEngine(st, s.ledger, s.logger)

	if cfg.Directory.BaseURL != "" {
		syncer, err := directory.NewSyncer(directory.SyncConfig{
			BaseURL:    cfg.Directory.BaseURL,
			APIKey:     cfg.Directory.APIKey,
			OrgID:      cfg.Directory.OrgID,
			PageSize:   cfg.Directory.PageSize,
			MaxRetries: cfg.Directory.MaxRetries,
			RetryDelay: cfg.Directory.RetryDelay,
			Timeout:    cfg.Directory.Timeout,
		}, st, s.logger)
		if err != nil {
			return nil, fmt.Errorf("configuring directory sync: %w", err)
		}
		s.syncer = syncer
	}

	q, err := queue.New(queue.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		s.logger.Warn("job queue unavailable, imports must run in-process", "error", err)
	} else {
		s.queue = q
	}

	if cfg.Neo4j.Enabled {
		g, err := access.New(access.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
		})
		if err != nil {
			s.logger.Warn("access graph unavailable, graph queries disabled", "error", err)
		} else {
			s.graph = g
		}
	}

	if s.queue != nil {
		s.worker = queue.NewWorker(queue.WorkerConfig{
			Queue:      s.queue,
			Store:      st,
			Syncer:     s.syncer,
			Reconciler: s.reconciler,
			Graph:      s.graph,
			Ledger:     s.ledger,
			Logger:     s.logger,
		})
	}

	s.notificationConfig = notifications.Config{
		Slack: notifications.SlackConfig{
			WebhookURL:  cfg.Notifications.Slack.WebhookURL,
			Channel:     cfg.Notifications.Slack.Channel,
			Username:    "Access Governance Bot",
			IconEmoji:   ":key:",
			Enabled:     cfg.Notifications.Slack.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
		Email: notifications.EmailConfig{
			SMTPHost:    cfg.Notifications.Email.SMTPHost,
			SMTPPort:    cfg.Notifications.Email.SMTPPort,
			Username:    cfg.Notifications.Email.Username,
			Password:    cfg.Notifications.Email.Password,
			From:        cfg.Notifications.Email.From,
			To:          cfg.Notifications.Email.To,
			Enabled:     cfg.Notifications.Email.Enabled,
			MinSeverity: cfg.Notifications.MinSeverity,
		},
	}
	s.notificationService = notifications.NewService(s.notificationConfig, s.logger)

	s.reportGenerator = reports.NewGenerator(&reportDataProvider{store: st, graph: s.graph})

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)

			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.getCurrentUser)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
			})

			r.Route("/identities", func(r chi.Router) {
				r.Get("/", s.listIdentities)
				r.Get("/high-risk", s.listHighRiskIdentities)
				r.Get("/inactive", s.listInactiveIdentities)
				r.Get("/{email}", s.getIdentity)
				r.With(auth.RequireRole(auth.RoleAdmin)).Post("/{email}/exit", s.markIdentityExit)
			})

			r.Post("/directory/sync", s.triggerDirectorySync)

			r.Route("/tools", func(r chi.Router) {
				r.Get("/", s.listTools)
				r.With(auth.RequireRole(auth.RoleAdmin)).Post("/", s.createTool)
				r.Get("/{toolID}", s.getTool)
				r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/{toolID}", s.deleteTool)
				r.Post("/{toolID}/import", s.triggerToolImport)
				r.Post("/{toolID}/reconcile", s.triggerToolReconcile)
			})

			r.Route("/grants", func(r chi.Router) {
				r.Get("/", s.listGrants)
				r.With(auth.RequireRole(auth.RoleReviewer)).Delete("/{grantID}", s.revokeGrant)
			})

			r.Route("/reviews", func(r chi.Router) {
				r.Get("/", s.listReviews)
				r.With(auth.RequireRole(auth.RoleReviewer)).Post("/", s.createReview)
				r.Get("/{reviewID}", s.getReview)
				r.Get("/{reviewID}/entries", s.listReviewEntries)
				r.With(auth.RequireRole(auth.RoleReviewer)).Post("/{reviewID}/populate", s.populateReview)
				r.With(auth.RequireRole(auth.RoleReviewer)).Post("/{reviewID}/complete", s.completeReview)
			})
			r.With(auth.RequireRole(auth.RoleReviewer)).
				Post("/entries/{entryID}/decide", s.decideEntry)

			r.Route("/policies", func(r chi.Router) {
				r.Get("/", s.listPolicies)
				r.With(auth.RequireRole(auth.RoleAdmin)).Post("/", s.createPolicy)
				r.Post("/evaluate", s.evaluatePolicy)
				r.Get("/{policyID}", s.getPolicy)
				r.With(auth.RequireRole(auth.RoleAdmin)).Put("/{policyID}", s.updatePolicy)
				r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/{policyID}", s.deletePolicy)
			})

			r.Route("/violations", func(r chi.Router) {
				r.Get("/", s.listViolations)
				r.Get("/{violationID}", s.getViolation)
				r.With(auth.RequireRole(auth.RoleReviewer)).Post("/{violationID}/resolve", s.resolveViolation)
			})

			r.Get("/audit", s.listAuditEvents)
			r.Get("/dashboard", s.getDashboard)

			r.Route("/graph", func(r chi.Router) {
				r.Get("/lingering", s.listLingeringAccess)
				r.Get("/tools/{toolName}/access", s.getToolBlastRadius)
				r.Get("/stats", s.getGraphStats)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listScheduledJobs)
				r.Post("/", s.createScheduledJob)
				r.Get("/{jobID}", s.getScheduledJob)
				r.Put("/{jobID}", s.updateScheduledJob)
				r.Delete("/{jobID}", s.deleteScheduledJob)
				r.Post("/{jobID}/run", s.runScheduledJobNow)
				r.Post("/{jobID}/enable", s.enableScheduledJob)
				r.Post("/{jobID}/disable", s.disableScheduledJob)
				r.Get("/{jobID}/executions", s.getJobExecutions)
			})

			r.Route("/queue", func(r chi.Router) {
				r.Get("/stats", s.getQueueStats)
				r.Get("/jobs/{jobID}", s.getJobProgress)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/types", s.getReportTypes)
				r.Post("/generate", s.generateReport)
				r.Get("/stream", s.streamCSVReport)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Get("/settings", s.getNotificationSettings)
				r.Put("/settings", s.updateNotificationSettings)
				r.Post("/test", s.testNotification)
			})
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	s.registerJobHandlers()

	if err := s.scheduler.Bootstrap(ctx); err != nil {
		s.logger.Error("failed to seed default schedule", "error", err)
	}
	if err := s.scheduler.Start(ctx); err != nil {
		s.logger.Error("failed to start scheduler", "error", err)
	}

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			s.logger.Error("failed to start queue worker", "error", err)
		}
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		if s.worker != nil {
			s.worker.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// registerJobHandlers wires scheduled job types to the queue and engines.
func (s *Server) registerJobHandlers() {
	handlers := &scheduler.DefaultHandlers{
		SyncDirectoryFunc: func(ctx context.Context) error {
			_, err := s.enqueue(ctx, queue.JobDirectorySync, nil, "scheduler", 0)
			return err
		},
		ImportToolFunc: func(ctx context.Context, toolID string) error {
			id, err := uuid.Parse(toolID)
			if err != nil {
				return fmt.Errorf("invalid tool_id %q: %w", toolID, err)
			}
			_, err = s.enqueue(ctx, queue.JobToolImport, &id, "scheduler", 0)
			return err
		},
		ImportAllFunc: func(ctx context.Context) error {
			tools, err := s.store.ListTools(ctx)
			if err != nil {
				return err
			}
			for _, tool := range tools {
				if tool.Connector == "" {
					continue
				}
				id := tool.ID
				if _, err := s.enqueue(ctx, queue.JobToolImport, &id, "scheduler", 0); err != nil {
					return err
				}
			}
			return nil
		},
		ExitSweepFunc: func(ctx context.Context) error {
			return s.runExitSweep(ctx)
		},
		ReportFunc: func(ctx context.Context, cfg map[string]string) error {
			reportType := reports.ReportType(cfg["report_type"])
			if reportType == "" {
				reportType = reports.ReportTypeExecutive
			}
			report, err := s.reportGenerator.Generate(ctx, &reports.ReportRequest{
				Type:   reportType,
				Format: reports.FormatPDF,
				Title:  "Scheduled Governance Report",
			})
			if err != nil {
				return err
			}
			s.logger.Info("scheduled report generated",
				"type", reportType, "bytes", len(report.Data), "filename", report.Filename)
			return nil
		},
	}
	handlers.Register(s.scheduler)
}

// runExitSweep flags lingering grants held by exited employees and notifies
// per affected user.
func (s *Server) runExitSweep(ctx context.Context) error {
	exitStatus := models.IdentityExit
	exits, err := s.store.ListIdentities(ctx, directory.IdentityFilter{Status: &exitStatus})
	if err != nil {
		return fmt.Errorf("listing exited identities: %w", err)
	}
	if len(exits) == 0 {
		return nil
	}

	emails := make([]string, len(exits))
	for i, identity := range exits {
		emails[i] = identity.Email
	}

	grants, err := s.store.ListActiveGrants(ctx, review.GrantFilter{UserEmails: emails})
	if err != nil {
		return fmt.Errorf("listing grants for exited identities: %w", err)
	}

	toolsByUser := make(map[string]int)
	for _, grant := range grants {
		toolsByUser[grant.UserEmail]++
	}

	for email, count := range toolsByUser {
		risk := reconcile.ExitRisk(count)
		if err := s.notificationService.NotifyExitAccessFound(ctx, email, count, risk); err != nil {
			s.logger.Error("exit sweep notification failed", "user", email, "error", err)
		}
	}

	return s.ledger.Append(ctx, &models.AuditEvent{
		EventType:   "exit.sweep",
		Actor:       "scheduler",
		SubjectKind: "directory",
		Detail: models.JSONB{
			"exited_identities": len(exits),
			"lingering_grants":  len(grants),
			"affected_users":    len(toolsByUser),
		},
	})
}

func (s *Server) enqueue(ctx context.Context, jobType queue.JobType, toolID *uuid.UUID, requestedBy string, priority int) (*queue.Job, error) {
	if s.queue == nil {
		return nil, fmt.Errorf("job queue is not available")
	}
	job := &queue.Job{
		Type:      jobType,
		ToolID:    toolID,
		Requested: requestedBy,
		Priority:  priority,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// reportDataProvider adapts the store and the access graph to the report
// generator.
type reportDataProvider struct {
	store *store.Store
	graph *access.Graph
}

func (p *reportDataProvider) GetReviewData(ctx context.Context, reviewID string) (*reports.ReviewData, error) {
	id, err := uuid.Parse(reviewID)
	if err != nil {
		return nil, fmt.Errorf("invalid review id: %w", err)
	}

	rev, err := p.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, fmt.Errorf("review not found: %s", reviewID)
	}

	entries, err := p.store.ListEntries(ctx, id)
	if err != nil {
		return nil, err
	}

	data := &reports.ReviewData{Review: rev, Entries: make([]*models.AccessReviewEntry, len(entries))}
	for i := range entries {
		data.Entries[i] = &entries[i]
	}
	return data, nil
}

func (p *reportDataProvider) GetViolations(ctx context.Context, filters reports.ViolationsFilter) ([]*models.PolicyViolation, error) {
	storeFilters := store.ListViolationFilters{Limit: 10000}
	if len(filters.Severities) > 0 {
		sev := models.ViolationSeverity(filters.Severities[0])
		storeFilters.Severity = &sev
	}
	if len(filters.Statuses) > 0 {
		status := models.ViolationStatus(filters.Statuses[0])
		storeFilters.Status = &status
	}

	violations, _, err := p.store.ListViolations(ctx, storeFilters)
	if err != nil {
		return nil, err
	}

	result := make([]*models.PolicyViolation, len(violations))
	for i := range violations {
		result[i] = &violations[i]
	}
	return result, nil
}

func (p *reportDataProvider) GetGrants(ctx context.Context, filters reports.GrantsFilter) ([]*models.UserAccess, error) {
	filter := review.GrantFilter{}
	if len(filters.ToolNames) > 0 {
		filter.ToolName = filters.ToolNames[0]
	}

	grants, err := p.store.ListActiveGrants(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := make([]*models.UserAccess, len(grants))
	for i := range grants {
		result[i] = &grants[i]
	}
	return result, nil
}

func (p *reportDataProvider) GetLingering(ctx context.Context) ([]reports.LingeringRecord, error) {
	if p.graph != nil {
		lingering, err := p.graph.FindLingeringAccess(ctx)
		if err == nil {
			records := make([]reports.LingeringRecord, len(lingering))
			for i, l := range lingering {
				records[i] = reports.LingeringRecord{
					UserEmail: l.UserEmail,
					ToolName:  l.ToolName,
					Role:      l.Role,
					RiskScore: l.RiskScore,
				}
			}
			return records, nil
		}
	}

	// Relational fallback when the graph is unavailable.
	exitStatus := models.IdentityExit
	exits, err := p.store.ListIdentities(ctx, directory.IdentityFilter{Status: &exitStatus})
	if err != nil {
		return nil, err
	}
	if len(exits) == 0 {
		return nil, nil
	}

	emails := make([]string, len(exits))
	riskByEmail := make(map[string]int, len(exits))
	for i, identity := range exits {
		emails[i] = identity.Email
		riskByEmail[identity.Email] = identity.RiskScore
	}

	grants, err := p.store.ListActiveGrants(ctx, review.GrantFilter{UserEmails: emails})
	if err != nil {
		return nil, err
	}

	records := make([]reports.LingeringRecord, len(grants))
	for i, grant := range grants {
		records[i] = reports.LingeringRecord{
			UserEmail: grant.UserEmail,
			ToolName:  grant.ToolName,
			Role:      grant.Role,
			RiskScore: riskByEmail[grant.UserEmail],
		}
	}
	return records, nil
}

func (p *reportDataProvider) GetStats(ctx context.Context) (*reports.Stats, error) {
	stats := &reports.Stats{GrantsByTool: make(map[string]int)}

	identities, err := p.store.ListIdentities(ctx, directory.IdentityFilter{})
	if err != nil {
		return nil, err
	}
	stats.TotalIdentities = len(identities)
	exitEmails := make(map[string]bool)
	for _, identity := range identities {
		switch identity.Status {
		case models.IdentityActive:
			stats.ActiveIdentities++
		case models.IdentityExit:
			stats.ExitIdentities++
			exitEmails[identity.Email] = true
		}
	}

	tools, err := p.store.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalTools = len(tools)

	grants, err := p.store.ListActiveGrants(ctx, review.GrantFilter{})
	if err != nil {
		return nil, err
	}
	stats.ActiveGrants = len(grants)
	for _, grant := range grants {
		stats.GrantsByTool[grant.ToolName]++
		if exitEmails[grant.UserEmail] {
			stats.LingeringGrants++
		}
	}

	violations, _, err := p.store.ListViolations(ctx, store.ListViolationFilters{Limit: 10000})
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		switch v.Severity {
		case models.SeverityCritical:
			stats.CriticalViolations++
		case models.SeverityHigh:
			stats.HighViolations++
		case models.SeverityMedium:
			stats.MediumViolations++
		case models.SeverityLow:
			stats.LowViolations++
		}
		switch v.Status {
		case models.ViolationOpen, models.ViolationInvestigating:
			stats.OpenViolations++
		case models.ViolationResolved:
			stats.ResolvedViolations++
		}
	}

	return stats, nil
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
