// Generates sample tool account exports and a directory snapshot for local
// testing. The exports feed `accessgov reconcile -file`, the snapshot can be
// loaded behind a stub directory API.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	firstNames  = []string{"John", "Jane", "Michael", "Emily", "David", "Sarah", "Robert", "Lisa", "William", "Jennifer", "James", "Maria", "Charles", "Patricia", "Thomas", "Linda", "Daniel", "Elizabeth", "Matthew", "Barbara"}
	lastNames   = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin"}
	departments = []string{"Engineering", "Sales", "Marketing", "Finance", "Human Resources", "Legal", "Operations", "Customer Support", "Research", "Product"}
	tools       = []string{"GitHub", "Salesforce", "Jira", "Datadog", "Figma"}
	roles       = []string{"member", "member", "member", "viewer", "admin", "billing manager"}
)

const orgDomain = "example.com"

type directoryUser struct {
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	Department  string     `json:"department"`
	Groups      []string   `json:"groups"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type toolAccount struct {
	ToolName     string     `json:"tool_name"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	Permissions  []string   `json:"permissions"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

func main() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	outputDir := "/tmp/accessgov-test-data"
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", outputDir, err)
		os.Exit(1)
	}

	users := generateDirectory(rng, 80)
	writeJSON(filepath.Join(outputDir, "directory.json"), users)

	for _, tool := range tools {
		accounts := generateExport(rng, tool, users)
		name := strings.ToLower(tool) + "_export.json"
		writeJSON(filepath.Join(outputDir, name), accounts)
	}

	fmt.Printf("Wrote sample data to %s\n", outputDir)
}

func generateDirectory(rng *rand.Rand, count int) []directoryUser {
	users := make([]directoryUser, 0, count)
	seen := make(map[string]bool)

	for len(users) < count {
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		username := strings.ToLower(first + "." + last)
		if seen[username] {
			continue
		}
		seen[username] = true

		status := "ACTIVE"
		switch r := rng.Float64(); {
		case r < 0.08:
			status = "EXIT"
		case r < 0.14:
			status = "SUSPENDED"
		}

		var lastLogin *time.Time
		if rng.Float64() > 0.1 {
			t := time.Now().AddDate(0, 0, -rng.Intn(180))
			lastLogin = &t
		}

		dept := departments[rng.Intn(len(departments))]
		groups := []string{strings.ToLower(dept)}
		if rng.Float64() < 0.1 {
			groups = append(groups, "admins")
		}

		users = append(users, directoryUser{
			Email:       username + "@" + orgDomain,
			Username:    username,
			DisplayName: first + " " + last,
			Status:      status,
			Department:  dept,
			Groups:      groups,
			LastLoginAt: lastLogin,
		})
	}

	return users
}

func generateExport(rng *rand.Rand, tool string, users []directoryUser) []toolAccount {
	accounts := make([]toolAccount, 0, len(users))

	for _, user := range users {
		// Not everyone uses every tool; exits often linger in exports.
		if user.Status != "EXIT" && rng.Float64() > 0.6 {
			continue
		}
		if user.Status == "EXIT" && rng.Float64() > 0.4 {
			continue
		}

		var lastAccessed *time.Time
		if rng.Float64() > 0.2 {
			t := time.Now().AddDate(0, 0, -rng.Intn(120))
			lastAccessed = &t
		}

		accounts = append(accounts, toolAccount{
			ToolName:     tool,
			Email:        user.Email,
			Role:         roles[rng.Intn(len(roles))],
			Permissions:  []string{"read"},
			LastAccessed: lastAccessed,
		})
	}

	// A few accounts that never existed in the directory.
	for i := 0; i < 3; i++ {
		accounts = append(accounts, toolAccount{
			ToolName: tool,
			Email:    fmt.Sprintf("contractor%d@externalfirm.io", rng.Intn(100)),
			Role:     "member",
		})
	}

	// One duplicate row, as real exports tend to contain.
	if len(accounts) > 0 {
		accounts = append(accounts, accounts[0])
	}

	return accounts
}

func writeJSON(path string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("  %s (%d bytes)\n", path, len(data))
}
