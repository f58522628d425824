// Package access maintains the identity-to-tool grant graph. The relational
// store stays authoritative; the graph exists for relationship queries that
// are awkward in SQL, like lingering access of exited employees.
package access

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sparrowvision/accessgov/internal/models"
)

type Graph struct {
	driver neo4j.DriverWithContext
}

type Config struct {
	URI      string
	Username string
	Password string
}

func New(cfg Config) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	g := &Graph{driver: driver}

	if err := g.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return g, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) createIndexes(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS FOR (n:Identity) ON (n.email)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Identity) ON (n.status)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Tool) ON (n.name)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

func (g *Graph) UpsertIdentity(ctx context.Context, identity *models.Identity) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (i:Identity {email: $email})
		SET i.id = $id,
			i.displayName = $displayName,
			i.status = $status,
			i.department = $department,
			i.riskScore = $riskScore
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":          identity.ID.String(),
		"email":       identity.Email,
		"displayName": identity.DisplayName,
		"status":      string(identity.Status),
		"department":  identity.Department,
		"riskScore":   identity.RiskScore,
	})

	return err
}

func (g *Graph) UpsertTool(ctx context.Context, tool *models.Tool) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (t:Tool {name: $name})
		SET t.id = $id,
			t.category = $category,
			t.ownerEmail = $ownerEmail
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":         tool.ID.String(),
		"name":       tool.Name,
		"category":   tool.Category,
		"ownerEmail": tool.OwnerEmail,
	})

	return err
}

// UpsertGrant mirrors one grant into the graph as a HAS_ACCESS edge.
func (g *Graph) UpsertGrant(ctx context.Context, grant *models.UserAccess) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (i:Identity {email: $email})
		MATCH (t:Tool {name: $toolName})
		MERGE (i)-[r:HAS_ACCESS]->(t)
		SET r.id = $id,
			r.role = $role,
			r.permissions = $permissions,
			r.status = $status
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":          grant.ID.String(),
		"email":       grant.UserEmail,
		"toolName":    grant.ToolName,
		"role":        grant.Role,
		"permissions": []string(grant.Permissions),
		"status":      string(grant.Status),
	})

	return err
}

// RemoveGrant drops the edge once the grant is revoked.
func (g *Graph) RemoveGrant(ctx context.Context, userEmail, toolName string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (i:Identity {email: $email})-[r:HAS_ACCESS]->(t:Tool {name: $toolName})
		DELETE r
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"email":    userEmail,
		"toolName": toolName,
	})

	return err
}

// LingeringGrant is an active edge held by an identity that already exited.
type LingeringGrant struct {
	UserEmail string `json:"user_email"`
	ToolName  string `json:"tool_name"`
	Role      string `json:"role"`
	RiskScore int    `json:"risk_score"`
}

// FindLingeringAccess returns every active grant still attached to an EXIT
// identity. These are the entries an exit-employee review must catch.
func (g *Graph) FindLingeringAccess(ctx context.Context) ([]LingeringGrant, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (i:Identity {status: 'EXIT'})-[r:HAS_ACCESS {status: 'ACTIVE'}]->(t:Tool)
		RETURN i.email as email,
			   t.name as toolName,
			   r.role as role,
			   i.riskScore as riskScore
		ORDER BY i.riskScore DESC, i.email
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var grants []LingeringGrant
	for result.Next(ctx) {
		record := result.Record()
		email, _ := record.Get("email")
		toolName, _ := record.Get("toolName")
		role, _ := record.Get("role")
		riskScore, _ := record.Get("riskScore")

		grant := LingeringGrant{
			UserEmail: email.(string),
			ToolName:  toolName.(string),
		}
		if s, ok := role.(string); ok {
			grant.Role = s
		}
		if n, ok := riskScore.(int64); ok {
			grant.RiskScore = int(n)
		}
		grants = append(grants, grant)
	}

	return grants, nil
}

// ToolAccessRecord is one identity's access to one tool.
type ToolAccessRecord struct {
	UserEmail  string `json:"user_email"`
	Department string `json:"department"`
	Status     string `json:"status"`
	Role       string `json:"role"`
}

// ToolBlastRadius returns every identity holding active access to a tool.
func (g *Graph) ToolBlastRadius(ctx context.Context, toolName string) ([]ToolAccessRecord, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (i:Identity)-[r:HAS_ACCESS {status: 'ACTIVE'}]->(t:Tool {name: $toolName})
		RETURN i.email as email,
			   i.department as department,
			   i.status as status,
			   r.role as role
		ORDER BY i.email
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"toolName": toolName,
	})
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var records []ToolAccessRecord
	for result.Next(ctx) {
		rec := result.Record()
		email, _ := rec.Get("email")
		department, _ := rec.Get("department")
		status, _ := rec.Get("status")
		role, _ := rec.Get("role")

		record := ToolAccessRecord{
			UserEmail: email.(string),
		}
		if s, ok := department.(string); ok {
			record.Department = s
		}
		if s, ok := status.(string); ok {
			record.Status = s
		}
		if s, ok := role.(string); ok {
			record.Role = s
		}
		records = append(records, record)
	}

	return records, nil
}

type GraphStats struct {
	IdentitiesByStatus map[string]int `json:"identities_by_status"`
	ToolCount          int            `json:"tool_count"`
	ActiveGrantCount   int            `json:"active_grant_count"`
	LingeringCount     int            `json:"lingering_count"`
}

func (g *Graph) Stats(ctx context.Context) (*GraphStats, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	stats := &GraphStats{IdentitiesByStatus: make(map[string]int)}

	result, err := session.Run(ctx, `
		MATCH (i:Identity)
		RETURN i.status as status, count(i) as count
	`, nil)
	if err == nil {
		for result.Next(ctx) {
			rec := result.Record()
			status, _ := rec.Get("status")
			count, _ := rec.Get("count")
			stats.IdentitiesByStatus[status.(string)] = int(count.(int64))
		}
	}

	result, err = session.Run(ctx, `MATCH (t:Tool) RETURN count(t) as count`, nil)
	if err == nil && result.Next(ctx) {
		count, _ := result.Record().Get("count")
		stats.ToolCount = int(count.(int64))
	}

	result, err = session.Run(ctx, `
		MATCH ()-[r:HAS_ACCESS {status: 'ACTIVE'}]->()
		RETURN count(r) as count
	`, nil)
	if err == nil && result.Next(ctx) {
		count, _ := result.Record().Get("count")
		stats.ActiveGrantCount = int(count.(int64))
	}

	result, err = session.Run(ctx, `
		MATCH (i:Identity {status: 'EXIT'})-[r:HAS_ACCESS {status: 'ACTIVE'}]->()
		RETURN count(r) as count
	`, nil)
	if err == nil && result.Next(ctx) {
		count, _ := result.Record().Get("count")
		stats.LingeringCount = int(count.(int64))
	}

	return stats, nil
}
