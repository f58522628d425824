package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/audit"
	"github.com/sparrowvision/accessgov/internal/models"
	"github.com/sparrowvision/accessgov/internal/notifications"
	"github.com/sparrowvision/accessgov/internal/policy"
	"github.com/sparrowvision/accessgov/internal/reports"
	"github.com/sparrowvision/accessgov/internal/review"
	"github.com/sparrowvision/accessgov/internal/store"
)

// --- Access reviews ---

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	filters := store.ListReviewFilters{Limit: 50}

	if t := r.URL.Query().Get("type"); t != "" {
		rt := models.ReviewType(strings.ToUpper(t))
		filters.Type = &rt
	}
	if st := r.URL.Query().Get("status"); st != "" {
		rs := models.ReviewStatus(strings.ToUpper(st))
		filters.Status = &rs
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 500 {
			filters.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	reviews, total, err := s.store.ListReviews(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, reviews, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

type createReviewRequest struct {
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	TargetUser string   `json:"target_user,omitempty"`
	TargetTool string   `json:"target_tool,omitempty"`
	ExitEmails []string `json:"exit_emails,omitempty"`
}

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	reviewType := models.ReviewType(strings.ToUpper(req.Type))
	scope := review.Scope{
		Title:      req.Title,
		TargetUser: req.TargetUser,
		TargetTool: req.TargetTool,
		ExitEmails: req.ExitEmails,
		CreatedBy:  actorEmail(r),
	}

	created, err := s.reviewEngine.CreateReview(r.Context(), reviewType, scope)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notificationService.NotifyReviewLifecycle(ctx, created, false); err != nil {
			s.logger.Error("error sending review notification", "review_id", created.ID, "error", err)
		}
	}()

	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reviewID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid review ID")
		return
	}

	rev, err := s.store.GetReview(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if rev == nil {
		respondError(w, http.StatusNotFound, "not_found", "Review not found")
		return
	}

	respondJSON(w, http.StatusOK, rev)
}

func (s *Server) listReviewEntries(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reviewID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid review ID")
		return
	}

	entries, err := s.store.ListEntries(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) populateReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reviewID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid review ID")
		return
	}

	rev, err := s.reviewEngine.PopulateEntries(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rev)
}

type completeReviewRequest struct {
	Certify bool `json:"certify"`
}

func (s *Server) completeReview(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reviewID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid review ID")
		return
	}

	var req completeReviewRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	rev, cert, err := s.reviewEngine.CompleteReview(r.Context(), id, req.Certify, actorEmail(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notificationService.NotifyReviewLifecycle(ctx, rev, true); err != nil {
			s.logger.Error("error sending review notification", "review_id", rev.ID, "error", err)
		}
	}()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"review":        rev,
		"certification": cert,
	})
}

type decideEntryRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) decideEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid entry ID")
		return
	}

	var req decideEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	entry, err := s.reviewEngine.DecideEntry(
		r.Context(), id, review.Action(strings.ToLower(req.Action)), actorEmail(r), req.Notes,
	)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// --- Policies ---

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListPolicies(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, policies)
}

type policyRuleRequest struct {
	Name      string            `json:"name"`
	Condition json.RawMessage   `json:"condition"`
	Action    models.RuleAction `json:"action"`
	Priority  int               `json:"priority"`
	IsActive  bool              `json:"is_active"`
}

type policyRequest struct {
	Name     string              `json:"name"`
	Type     string              `json:"type"`
	Priority int                 `json:"priority"`
	IsActive bool                `json:"is_active"`
	Rules    []policyRuleRequest `json:"rules"`
}

func (s *Server) decodePolicy(r *http.Request) (*models.Policy, error) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if len(req.Rules) == 0 {
		return nil, fmt.Errorf("at least one rule is required")
	}

	pol := &models.Policy{
		Name:      req.Name,
		Type:      req.Type,
		Priority:  req.Priority,
		IsActive:  req.IsActive,
		CreatedBy: actorEmail(r),
	}

	for i, rule := range req.Rules {
		if _, err := policy.DecodeCondition(rule.Condition); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		pol.Rules = append(pol.Rules, models.PolicyRule{
			Name:      rule.Name,
			Condition: rule.Condition,
			Action:    rule.Action,
			Priority:  rule.Priority,
			IsActive:  rule.IsActive,
		})
	}

	return pol, nil
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	pol, err := s.decodePolicy(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := s.store.CreatePolicy(r.Context(), pol); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	_ = s.ledger.Append(r.Context(), &models.AuditEvent{
		EventType:   "policy.created",
		Actor:       actorEmail(r),
		SubjectID:   pol.ID.String(),
		SubjectKind: "policy",
		Detail:      models.JSONB{"name": pol.Name, "rules": len(pol.Rules)},
	})

	respondJSON(w, http.StatusCreated, pol)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	pol, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if pol == nil {
		respondError(w, http.StatusNotFound, "not_found", "Policy not found")
		return
	}

	respondJSON(w, http.StatusOK, pol)
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	existing, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "not_found", "Policy not found")
		return
	}

	pol, err := s.decodePolicy(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	pol.ID = id
	pol.CreatedBy = existing.CreatedBy
	pol.CreatedAt = existing.CreatedAt

	if err := s.store.UpdatePolicy(r.Context(), pol); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	_ = s.ledger.Append(r.Context(), &models.AuditEvent{
		EventType:   "policy.updated",
		Actor:       actorEmail(r),
		SubjectID:   pol.ID.String(),
		SubjectKind: "policy",
		Detail:      models.JSONB{"name": pol.Name},
	})

	respondJSON(w, http.StatusOK, pol)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "policyID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid policy ID")
		return
	}

	if err := s.store.DeletePolicy(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}

	_ = s.ledger.Append(r.Context(), &models.AuditEvent{
		EventType:   "policy.deleted",
		Actor:       actorEmail(r),
		SubjectID:   id.String(),
		SubjectKind: "policy",
	})

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) evaluatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.User.Email == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "user.email is required")
		return
	}

	decision, err := s.policyEngine.Evaluate(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "eval_error", err.Error())
		return
	}

	if len(decision.Violations) > 0 {
		violations := decision.Violations
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for _, v := range violations {
				if err := s.notificationService.NotifyViolationDetected(ctx, v); err != nil {
					s.logger.Error("error sending violation notification", "violation_id", v.ID, "error", err)
				}
			}
		}()
	}

	respondJSON(w, http.StatusOK, decision)
}

// --- Violations ---

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	filters := store.ListViolationFilters{
		UserEmail: r.URL.Query().Get("user_email"),
		Limit:     50,
	}

	if st := r.URL.Query().Get("status"); st != "" {
		vs := models.ViolationStatus(strings.ToUpper(st))
		filters.Status = &vs
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		vs := models.ViolationSeverity(strings.ToUpper(sev))
		filters.Severity = &vs
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 500 {
			filters.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	violations, total, err := s.store.ListViolations(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, violations, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

func (s *Server) getViolation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "violationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid violation ID")
		return
	}

	violation, err := s.store.GetViolation(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if violation == nil {
		respondError(w, http.StatusNotFound, "not_found", "Violation not found")
		return
	}

	respondJSON(w, http.StatusOK, violation)
}

type resolveViolationRequest struct {
	Remediation string `json:"remediation"`
}

func (s *Server) resolveViolation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "violationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid violation ID")
		return
	}

	var req resolveViolationRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	violation, err := s.policyEngine.ResolveViolation(r.Context(), id, actorEmail(r), req.Remediation)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, violation)
}

// --- Audit ledger ---

func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		EventType: r.URL.Query().Get("event_type"),
		Actor:     r.URL.Query().Get("actor"),
		SubjectID: r.URL.Query().Get("subject_id"),
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "since must be RFC3339")
			return
		}
		filter.Since = &t
	}
	if until := r.URL.Query().Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "until must be RFC3339")
			return
		}
		filter.Until = &t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	events, err := s.ledger.Query(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, events)
}

// getDashboard returns the posture overview backing the UI landing page.
// Same numbers as the executive report.
func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	provider := &reportDataProvider{store: s.store, graph: s.graph}
	stats, err := provider.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// --- Access graph ---

func (s *Server) listLingeringAccess(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		respondError(w, http.StatusServiceUnavailable, "graph_unavailable", "Access graph is not enabled")
		return
	}

	grants, err := s.graph.FindLingeringAccess(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "graph_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, grants)
}

func (s *Server) getToolBlastRadius(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		respondError(w, http.StatusServiceUnavailable, "graph_unavailable", "Access graph is not enabled")
		return
	}

	toolName := chi.URLParam(r, "toolName")
	records, err := s.graph.ToolBlastRadius(r.Context(), toolName)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "graph_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, records)
}

func (s *Server) getGraphStats(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		respondError(w, http.StatusServiceUnavailable, "graph_unavailable", "Access graph is not enabled")
		return
	}

	stats, err := s.graph.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "graph_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// --- Reports ---

func (s *Server) getReportTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, []map[string]interface{}{
		{
			"type":        reports.ReportTypeCertification,
			"name":        "Review Certification",
			"description": "Decisions and sign-off for one access review",
			"formats":     []string{"csv", "pdf"},
		},
		{
			"type":        reports.ReportTypeViolations,
			"name":        "Policy Violations",
			"description": "Violations filtered by severity, status, and date",
			"formats":     []string{"csv", "pdf"},
		},
		{
			"type":        reports.ReportTypeAccess,
			"name":        "Access Grants",
			"description": "Who holds access to which tools",
			"formats":     []string{"csv", "pdf"},
		},
		{
			"type":        reports.ReportTypeLingering,
			"name":        "Lingering Access",
			"description": "Grants still active for exited employees",
			"formats":     []string{"csv", "pdf"},
		},
		{
			"type":        reports.ReportTypeExecutive,
			"name":        "Executive Summary",
			"description": "Posture overview with identity, grant, and violation stats",
			"formats":     []string{"csv", "pdf"},
		},
	})
}

type generateReportRequest struct {
	Type       string     `json:"type"`
	Format     string     `json:"format"`
	Title      string     `json:"title,omitempty"`
	ReviewID   string     `json:"review_id,omitempty"`
	ToolNames  []string   `json:"tool_names,omitempty"`
	Severities []string   `json:"severities,omitempty"`
	Statuses   []string   `json:"statuses,omitempty"`
	DateFrom   *time.Time `json:"date_from,omitempty"`
	DateTo     *time.Time `json:"date_to,omitempty"`
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "type is required")
		return
	}
	if req.Format == "" {
		req.Format = "pdf"
	}

	report, err := s.reportGenerator.Generate(r.Context(), &reports.ReportRequest{
		Type:       reports.ReportType(req.Type),
		Format:     reports.ReportFormat(req.Format),
		Title:      req.Title,
		ReviewID:   req.ReviewID,
		ToolNames:  req.ToolNames,
		Severities: req.Severities,
		Statuses:   req.Statuses,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "report_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", report.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Data)
}

func (s *Server) streamCSVReport(w http.ResponseWriter, r *http.Request) {
	reportType := r.URL.Query().Get("type")
	if reportType == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "type query parameter is required")
		return
	}

	req := &reports.ReportRequest{
		Type:   reports.ReportType(reportType),
		Format: reports.FormatCSV,
	}
	if tool := r.URL.Query().Get("tool"); tool != "" {
		req.ToolNames = []string{tool}
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		req.Severities = []string{sev}
	}
	if st := r.URL.Query().Get("status"); st != "" {
		req.Statuses = []string{st}
	}

	filename := fmt.Sprintf("%s_%s.csv", reportType, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := s.reportGenerator.StreamCSV(r.Context(), w, req); err != nil {
		// Headers may already be written; log instead of rewriting the status.
		s.logger.Error("error streaming CSV report", "type", reportType, "error", err)
	}
}

// --- Notifications ---

func (s *Server) getNotificationSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.notificationService.Settings())
}

func (s *Server) updateNotificationSettings(w http.ResponseWriter, r *http.Request) {
	var cfg notifications.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	s.notificationService.UpdateSettings(cfg)
	respondJSON(w, http.StatusOK, s.notificationService.Settings())
}

func (s *Server) testNotification(w http.ResponseWriter, r *http.Request) {
	notif := &notifications.Notification{
		Type:     notifications.NotifySyncComplete,
		Title:    "Test Notification",
		Message:  fmt.Sprintf("Test notification sent by %s", actorEmail(r)),
		Severity: models.SeverityCritical,
	}

	if err := s.notificationService.Send(r.Context(), notif); err != nil {
		respondError(w, http.StatusBadGateway, "notify_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
