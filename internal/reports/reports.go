package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/sparrowvision/accessgov/internal/models"
)

type ReportType string

const (
	ReportTypeCertification ReportType = "certification"
	ReportTypeViolations    ReportType = "violations"
	ReportTypeAccess        ReportType = "access"
	ReportTypeLingering     ReportType = "lingering"
	ReportTypeExecutive     ReportType = "executive"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

type ReportRequest struct {
	Type       ReportType
	Format     ReportFormat
	Title      string
	ReviewID   string
	ToolNames  []string
	Severities []string
	Statuses   []string
	DateFrom   *time.Time
	DateTo     *time.Time
}

type Report struct {
	ID          string
	Type        ReportType
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	GeneratedBy string
	Data        []byte
	Filename    string
	MimeType    string
}

// ReviewData is everything a certification report needs about one review.
type ReviewData struct {
	Review  *models.AccessReview
	Entries []*models.AccessReviewEntry
}

// LingeringRecord is one grant still active for an exited employee.
type LingeringRecord struct {
	UserEmail string
	ToolName  string
	Role      string
	RiskScore int
}

type ViolationsFilter struct {
	Severities []string
	Statuses   []string
	DateFrom   *time.Time
	DateTo     *time.Time
}

type GrantsFilter struct {
	ToolNames []string
	Statuses  []string
}

type Stats struct {
	TotalIdentities    int
	ActiveIdentities   int
	ExitIdentities     int
	TotalTools         int
	ActiveGrants       int
	LingeringGrants    int
	OpenViolations     int
	CriticalViolations int
	HighViolations     int
	MediumViolations   int
	LowViolations      int
	ResolvedViolations int
	GrantsByTool       map[string]int
}

// DataProvider supplies the report generator with governance data. The API
// layer implements it over the store and the access graph.
type DataProvider interface {
	GetReviewData(ctx context.Context, reviewID string) (*ReviewData, error)
	GetViolations(ctx context.Context, filters ViolationsFilter) ([]*models.PolicyViolation, error)
	GetGrants(ctx context.Context, filters GrantsFilter) ([]*models.UserAccess, error)
	GetLingering(ctx context.Context) ([]LingeringRecord, error)
	GetStats(ctx context.Context) (*Stats, error)
}

type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req *ReportRequest) (*Report, error) {
	switch req.Type {
	case ReportTypeCertification:
		return g.generateCertificationReport(ctx, req)
	case ReportTypeViolations:
		return g.generateViolationsReport(ctx, req)
	case ReportTypeAccess:
		return g.generateAccessReport(ctx, req)
	case ReportTypeLingering:
		return g.generateLingeringReport(ctx, req)
	case ReportTypeExecutive:
		return g.generateExecutiveReport(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported report type: %s", req.Type)
	}
}

func (g *Generator) generateCertificationReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	if req.ReviewID == "" {
		return nil, fmt.Errorf("certification report requires a review id")
	}

	data, err := g.provider.GetReviewData(ctx, req.ReviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch review: %w", err)
	}

	var out []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		out, err = g.certificationToCSV(data)
		filename = fmt.Sprintf("certification_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		out, err = g.certificationToPDF(data, req.Title)
		filename = fmt.Sprintf("certification_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        out,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) certificationToCSV(data *ReviewData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Access Review Certification"})
	_ = w.Write([]string{"Review", data.Review.Title})
	_ = w.Write([]string{"Type", string(data.Review.Type)})
	_ = w.Write([]string{"Status", string(data.Review.Status)})
	_ = w.Write([]string{"Created By", data.Review.CreatedBy})
	if data.Review.CompletedAt != nil {
		_ = w.Write([]string{"Completed At", data.Review.CompletedAt.Format(time.RFC3339)})
	}
	_ = w.Write([]string{""})

	header := []string{
		"User Email", "Tool", "Role", "Decision", "Remove",
		"Risk Score", "Reviewed By", "Reviewed At", "Notes",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, e := range data.Entries {
		reviewedAt := ""
		if e.ReviewedAt != nil {
			reviewedAt = e.ReviewedAt.Format(time.RFC3339)
		}
		row := []string{
			e.UserEmail,
			e.ToolName,
			e.Role,
			string(e.Status),
			fmt.Sprintf("%t", e.ShouldRemove),
			fmt.Sprintf("%d", e.RiskScore),
			e.ReviewedBy,
			reviewedAt,
			e.Notes,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) certificationToPDF(data *ReviewData, title string) ([]byte, error) {
	if title == "" {
		title = fmt.Sprintf("Certification: %s", data.Review.Title)
	}
	pdf := NewPDFReport(title)

	pdf.AddSection("Review Summary")
	pdf.AddSummaryTable(map[string]int{
		"Total Entries": data.Review.TotalItems,
		"Reviewed":      data.Review.ReviewedItems,
		"Flagged":       data.Review.FlaggedItems,
		"Removed":       data.Review.RemovedItems,
	})

	completed := "in progress"
	if data.Review.CompletedAt != nil {
		completed = data.Review.CompletedAt.Format(time.RFC1123)
	}
	pdf.AddParagraph(fmt.Sprintf("Review %q (%s) created by %s. Completed: %s.",
		data.Review.Title, data.Review.Type, data.Review.CreatedBy, completed))

	pdf.AddSection("Decisions")
	headers := []string{"User", "Tool", "Role", "Decision", "Risk"}
	rows := make([][]string, len(data.Entries))
	for i, e := range data.Entries {
		rows[i] = []string{
			truncate(e.UserEmail, 30),
			truncate(e.ToolName, 20),
			truncate(e.Role, 15),
			string(e.Status),
			fmt.Sprintf("%d", e.RiskScore),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateViolationsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	violations, err := g.provider.GetViolations(ctx, ViolationsFilter{
		Severities: req.Severities,
		Statuses:   req.Statuses,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch violations: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.violationsToCSV(violations)
		filename = fmt.Sprintf("violations_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.violationsToPDF(violations, req.Title)
		filename = fmt.Sprintf("violations_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) violationsToCSV(violations []*models.PolicyViolation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"ID", "Policy", "User Email", "Type", "Severity", "Status",
		"Description", "Detected At", "Resolved By",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, v := range violations {
		row := []string{
			v.ID.String(),
			v.PolicyName,
			v.UserEmail,
			v.ViolationType,
			string(v.Severity),
			string(v.Status),
			v.Description,
			v.DetectedAt.Format(time.RFC3339),
			v.ResolvedBy,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) violationsToPDF(violations []*models.PolicyViolation, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Summary")
	summary := map[string]int{
		"Critical": 0, "High": 0, "Medium": 0, "Low": 0,
	}
	for _, v := range violations {
		switch v.Severity {
		case models.SeverityCritical:
			summary["Critical"]++
		case models.SeverityHigh:
			summary["High"]++
		case models.SeverityMedium:
			summary["Medium"]++
		default:
			summary["Low"]++
		}
	}
	pdf.AddSummaryTable(summary)

	pdf.AddSection("Violations Detail")
	headers := []string{"Policy", "User", "Type", "Severity", "Status"}
	rows := make([][]string, len(violations))
	for i, v := range violations {
		rows[i] = []string{
			truncate(v.PolicyName, 25),
			truncate(v.UserEmail, 30),
			truncate(v.ViolationType, 20),
			string(v.Severity),
			string(v.Status),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateAccessReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	grants, err := g.provider.GetGrants(ctx, GrantsFilter{
		ToolNames: req.ToolNames,
		Statuses:  req.Statuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch grants: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.grantsToCSV(grants)
		filename = fmt.Sprintf("access_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.grantsToPDF(grants, req.Title)
		filename = fmt.Sprintf("access_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) grantsToCSV(grants []*models.UserAccess) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"User Email", "Tool", "Role", "Permissions", "Status",
		"Granted At", "Last Accessed",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, grant := range grants {
		lastAccessed := ""
		if grant.LastAccessed != nil {
			lastAccessed = grant.LastAccessed.Format(time.RFC3339)
		}
		row := []string{
			grant.UserEmail,
			grant.ToolName,
			grant.Role,
			joinPermissions(grant.Permissions),
			string(grant.Status),
			grant.GrantedAt.Format(time.RFC3339),
			lastAccessed,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) grantsToPDF(grants []*models.UserAccess, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Access Inventory")

	headers := []string{"User", "Tool", "Role", "Status"}
	rows := make([][]string, len(grants))
	for i, grant := range grants {
		rows[i] = []string{
			truncate(grant.UserEmail, 35),
			truncate(grant.ToolName, 20),
			truncate(grant.Role, 15),
			string(grant.Status),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateLingeringReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	records, err := g.provider.GetLingering(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lingering access: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.lingeringToCSV(records)
		filename = fmt.Sprintf("lingering_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.lingeringToPDF(records, req.Title)
		filename = fmt.Sprintf("lingering_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) lingeringToCSV(records []LingeringRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"User Email", "Tool", "Role", "Risk Score"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, r := range records {
		row := []string{
			r.UserEmail,
			r.ToolName,
			r.Role,
			fmt.Sprintf("%d", r.RiskScore),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) lingeringToPDF(records []LingeringRecord, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Lingering Access")
	pdf.AddParagraph(fmt.Sprintf(
		"%d active grants are still held by exited employees. Each one should be revoked or certified through an exit review.",
		len(records)))

	headers := []string{"User", "Tool", "Role", "Risk"}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			truncate(r.UserEmail, 35),
			truncate(r.ToolName, 20),
			truncate(r.Role, 15),
			fmt.Sprintf("%d", r.RiskScore),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateExecutiveReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	stats, err := g.provider.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.executiveToCSV(stats)
		filename = fmt.Sprintf("executive_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = ExecutiveSummaryPDF(req.Title, stats)
		filename = fmt.Sprintf("executive_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) executiveToCSV(stats *Stats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Access Governance Summary"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})

	_ = w.Write([]string{"Metric", "Value"})
	_ = w.Write([]string{"Total Identities", fmt.Sprintf("%d", stats.TotalIdentities)})
	_ = w.Write([]string{"Active Identities", fmt.Sprintf("%d", stats.ActiveIdentities)})
	_ = w.Write([]string{"Exited Identities", fmt.Sprintf("%d", stats.ExitIdentities)})
	_ = w.Write([]string{"Tools", fmt.Sprintf("%d", stats.TotalTools)})
	_ = w.Write([]string{"Active Grants", fmt.Sprintf("%d", stats.ActiveGrants)})
	_ = w.Write([]string{"Lingering Grants", fmt.Sprintf("%d", stats.LingeringGrants)})
	_ = w.Write([]string{"Open Violations", fmt.Sprintf("%d", stats.OpenViolations)})
	_ = w.Write([]string{"Critical Violations", fmt.Sprintf("%d", stats.CriticalViolations)})
	_ = w.Write([]string{"Resolved Violations", fmt.Sprintf("%d", stats.ResolvedViolations)})

	w.Flush()
	return buf.Bytes(), w.Error()
}

func joinPermissions(perms models.StringArray) string {
	var buf bytes.Buffer
	for i, p := range perms {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(p)
	}
	return buf.String()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// StreamCSV writes a report straight to the response without buffering the
// whole document. Only CSV-friendly report types are supported.
func (g *Generator) StreamCSV(ctx context.Context, w io.Writer, req *ReportRequest) error {
	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	switch req.Type {
	case ReportTypeViolations:
		violations, err := g.provider.GetViolations(ctx, ViolationsFilter{
			Severities: req.Severities,
			Statuses:   req.Statuses,
			DateFrom:   req.DateFrom,
			DateTo:     req.DateTo,
		})
		if err != nil {
			return err
		}

		header := []string{"ID", "Policy", "User Email", "Type", "Severity", "Status", "Detected At"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, v := range violations {
			row := []string{
				v.ID.String(), v.PolicyName, v.UserEmail, v.ViolationType,
				string(v.Severity), string(v.Status), v.DetectedAt.Format(time.RFC3339),
			}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	case ReportTypeAccess:
		grants, err := g.provider.GetGrants(ctx, GrantsFilter{ToolNames: req.ToolNames})
		if err != nil {
			return err
		}

		header := []string{"User Email", "Tool", "Role", "Status", "Granted At"}
		if err := csvWriter.Write(header); err != nil {
			return err
		}

		for _, grant := range grants {
			row := []string{
				grant.UserEmail, grant.ToolName, grant.Role,
				string(grant.Status), grant.GrantedAt.Format(time.RFC3339),
			}
			if err := csvWriter.Write(row); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("report type %s cannot be streamed as CSV", req.Type)
	}

	return nil
}
