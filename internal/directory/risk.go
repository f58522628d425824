package directory

import (
	"strings"
	"time"

	"github.com/sparrowvision/accessgov/internal/models"
)

var adminKeywords = []string{"admin", "administrator", "root", "superuser", "privileged", "sudo"}

// adminGroups returns the subset of groups whose name contains an admin
// keyword.
func adminGroups(groups []string) []string {
	var matched []string
	for _, group := range groups {
		lower := strings.ToLower(group)
		for _, keyword := range adminKeywords {
			if strings.Contains(lower, keyword) {
				matched = append(matched, group)
				break
			}
		}
	}
	return matched
}

// LoginActivity is the last-login signal from an upstream user record. A
// timestamp that was reported but would not parse is weaker evidence of
// staleness than one that was never reported, so the two score differently.
type LoginActivity struct {
	At        *time.Time
	Malformed bool
}

// RiskScore computes a 0-100 risk score for an identity from its status,
// login recency and group memberships.
func RiskScore(status models.IdentityStatus, login LoginActivity, groups []string, now time.Time) int {
	score := 0

	switch status {
	case models.IdentitySuspended:
		score += 20
	case models.IdentityExit:
		score += 50
	}

	switch {
	case login.At != nil:
		days := int(now.Sub(*login.At).Hours() / 24)
		switch {
		case days > 90:
			score += 30
		case days > 30:
			score += 15
		case days > 7:
			score += 5
		}
	case login.Malformed:
		score += 10
	default:
		score += 25
	}

	score += len(adminGroups(groups)) * 10

	if score > 100 {
		score = 100
	}
	return score
}
