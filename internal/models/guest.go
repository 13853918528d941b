package models

import (
	"strings"
	"time"
)

// Guest represents a wedding guest
type Guest struct {
	ID                  string     `json:"id"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Name                string     `json:"name,omitempty"`
	Email               string     `json:"email,omitempty"`
	PhoneNumber         string     `json:"phone_number,omitempty"`
	Token               string     `json:"token"`
	HasUsedToken        bool       `json:"has_used_token"`
	PlusOneEligible     bool       `json:"plus_one_eligible"`
	PlusOneName         string     `json:"plus_one_name,omitempty"`
	PlusOneEmail        string     `json:"plus_one_email,omitempty"`
	InvitationGroup     string     `json:"invitation_group,omitempty"`
	DietaryRestrictions []string   `json:"dietary_restrictions,omitempty"`
	SpecialNotes        string     `json:"special_notes,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	LastAccessed        *time.Time `json:"last_accessed,omitempty"`
}

// FullName returns the display name, falling back to first + last.
func (g Guest) FullName() string {
	if g.Name != "" {
		return g.Name
	}
	return strings.TrimSpace(g.FirstName + " " + g.LastName)
}

// GuestStats aggregates the guest list for the admin view
type GuestStats struct {
	Total           int            `json:"total"`
	ByGroup         map[string]int `json:"by_group"`
	PlusOneEligible int            `json:"plus_one_eligible"`
	PlusOneNamed    int            `json:"plus_one_named"`
	TokensUsed      int            `json:"tokens_used"`
}
