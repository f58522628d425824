package reports

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sparrowvision/accessgov/internal/models"
)

type fakeProvider struct {
	review     *ReviewData
	violations []*models.PolicyViolation
	grants     []*models.UserAccess
	lingering  []LingeringRecord
	stats      *Stats
}

func (f *fakeProvider) GetReviewData(ctx context.Context, reviewID string) (*ReviewData, error) {
	return f.review, nil
}

func (f *fakeProvider) GetViolations(ctx context.Context, filters ViolationsFilter) ([]*models.PolicyViolation, error) {
	return f.violations, nil
}

func (f *fakeProvider) GetGrants(ctx context.Context, filters GrantsFilter) ([]*models.UserAccess, error) {
	return f.grants, nil
}

func (f *fakeProvider) GetLingering(ctx context.Context) ([]LingeringRecord, error) {
	return f.lingering, nil
}

func (f *fakeProvider) GetStats(ctx context.Context) (*Stats, error) {
	return f.stats, nil
}

func testProvider() *fakeProvider {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reviewed := completed.Add(-time.Hour)

	return &fakeProvider{
		review: &ReviewData{
			Review: &models.AccessReview{
				ID:            uuid.New(),
				Title:         "Q1 Exit Review",
				Type:          models.ReviewExitEmployee,
				Status:        models.ReviewCompleted,
				CreatedBy:     "security@corp.io",
				CompletedAt:   &completed,
				TotalItems:    2,
				ReviewedItems: 2,
				FlaggedItems:  1,
				RemovedItems:  1,
			},
			Entries: []*models.AccessReviewEntry{
				{
					UserEmail:    "gone@corp.io",
					ToolName:     "github",
					Role:         "admin",
					Status:       models.EntryRemoved,
					ShouldRemove: true,
					RiskScore:    85,
					ReviewedBy:   "security@corp.io",
					ReviewedAt:   &reviewed,
				},
				{
					UserEmail: "alice@corp.io",
					ToolName:  "github",
					Role:      "member",
					Status:    models.EntryApproved,
					RiskScore: 10,
				},
			},
		},
		violations: []*models.PolicyViolation{
			{
				ID:            uuid.New(),
				PolicyName:    "no-exit-access",
				UserEmail:     "gone@corp.io",
				ViolationType: "lingering_access",
				Severity:      models.SeverityCritical,
				Status:        models.ViolationOpen,
				DetectedAt:    completed,
			},
		},
		grants: []*models.UserAccess{
			{
				UserEmail:   "alice@corp.io",
				ToolName:    "github",
				Role:        "member",
				Permissions: models.StringArray{"read", "write"},
				Status:      models.GrantActive,
				GrantedAt:   completed,
			},
		},
		lingering: []LingeringRecord{
			{UserEmail: "gone@corp.io", ToolName: "github", Role: "admin", RiskScore: 85},
		},
		stats: &Stats{
			TotalIdentities:    10,
			ActiveIdentities:   8,
			ExitIdentities:     2,
			TotalTools:         3,
			ActiveGrants:       15,
			LingeringGrants:    1,
			OpenViolations:     1,
			CriticalViolations: 1,
			GrantsByTool:       map[string]int{"github": 10, "slack": 5},
		},
	}
}

func TestGenerateCertificationCSV(t *testing.T) {
	g := NewGenerator(testProvider())

	report, err := g.Generate(context.Background(), &ReportRequest{
		Type:     ReportTypeCertification,
		Format:   FormatCSV,
		ReviewID: uuid.New().String(),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	body := string(report.Data)
	if !strings.Contains(body, "Q1 Exit Review") {
		t.Errorf("CSV missing review title:\n%s", body)
	}
	if !strings.Contains(body, "gone@corp.io") || !strings.Contains(body, "REMOVED") {
		t.Errorf("CSV missing removal decision:\n%s", body)
	}
	if report.MimeType != "text/csv" {
		t.Errorf("MimeType = %q, want text/csv", report.MimeType)
	}
	if !strings.HasSuffix(report.Filename, ".csv") {
		t.Errorf("Filename = %q, want .csv suffix", report.Filename)
	}
}

func TestGenerateCertificationRequiresReviewID(t *testing.T) {
	g := NewGenerator(testProvider())

	_, err := g.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeCertification,
		Format: FormatCSV,
	})
	if err == nil {
		t.Fatal("expected error for missing review id")
	}
}

func TestGenerateViolationsCSV(t *testing.T) {
	g := NewGenerator(testProvider())

	report, err := g.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeViolations,
		Format: FormatCSV,
		Title:  "Open Violations",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	body := string(report.Data)
	if !strings.Contains(body, "no-exit-access") || !strings.Contains(body, "CRITICAL") {
		t.Errorf("CSV missing violation row:\n%s", body)
	}
}

func TestGenerateLingeringPDF(t *testing.T) {
	g := NewGenerator(testProvider())

	report, err := g.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeLingering,
		Format: FormatPDF,
		Title:  "Exit Sweep",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(report.Data) == 0 {
		t.Fatal("PDF output is empty")
	}
	if !bytes.HasPrefix(report.Data, []byte("%PDF")) {
		t.Errorf("output does not look like a PDF")
	}
	if report.MimeType != "application/pdf" {
		t.Errorf("MimeType = %q, want application/pdf", report.MimeType)
	}
}

func TestGenerateExecutivePDF(t *testing.T) {
	g := NewGenerator(testProvider())

	report, err := g.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeExecutive,
		Format: FormatPDF,
		Title:  "Governance Summary",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !bytes.HasPrefix(report.Data, []byte("%PDF")) {
		t.Errorf("output does not look like a PDF")
	}
}

func TestGenerateUnsupportedType(t *testing.T) {
	g := NewGenerator(testProvider())

	_, err := g.Generate(context.Background(), &ReportRequest{Type: "nope", Format: FormatCSV})
	if err == nil {
		t.Fatal("expected error for unsupported report type")
	}
}

func TestStreamCSV(t *testing.T) {
	g := NewGenerator(testProvider())

	var buf bytes.Buffer
	err := g.StreamCSV(context.Background(), &buf, &ReportRequest{Type: ReportTypeAccess})
	if err != nil {
		t.Fatalf("StreamCSV() error = %v", err)
	}

	body := buf.String()
	if !strings.Contains(body, "alice@corp.io") || !strings.Contains(body, "github") {
		t.Errorf("streamed CSV missing grant row:\n%s", body)
	}

	err = g.StreamCSV(context.Background(), &buf, &ReportRequest{Type: ReportTypeCertification})
	if err == nil {
		t.Fatal("expected error streaming certification report")
	}
}
