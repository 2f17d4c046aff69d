// Package ai holds the static AI role registry, per-provider pricing, and the
// router that dispatches a role's prompt to the provider that serves it.
// Prompt templates, context assembly, provider adapters and the orchestration
// pipeline live in the subpackages.
package ai

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-tutor-backend/internal/ai/provider"
	"github.com/tbourn/go-tutor-backend/internal/domain"
)

// RoleConfig is the static routing entry for a role.
type RoleConfig struct {
	Role     domain.Role
	Name     string
	Provider provider.Name
	Format   provider.Format
}

var registry = map[domain.Role]RoleConfig{
	domain.RolePlanner:  {Role: domain.RolePlanner, Provider: provider.OpenAI, Format: provider.FormatJSON},
	domain.RoleTutor:    {Role: domain.RoleTutor, Provider: provider.DeepSeek, Format: provider.FormatText},
	domain.RoleExaminer: {Role: domain.RoleExaminer, Provider: provider.OpenAI, Format: provider.FormatJSON},
	domain.RoleCoach:    {Role: domain.RoleCoach, Provider: provider.DeepSeek, Format: provider.FormatJSON},
	domain.RoleReviewer: {Role: domain.RoleReviewer, Provider: provider.OpenAI, Format: provider.FormatJSON},
}

var titleCaser = cases.Title(language.English)

// Lookup returns the registry entry for role.
func Lookup(role domain.Role) (RoleConfig, bool) {
	rc, ok := registry[role]
	if !ok {
		return RoleConfig{}, false
	}
	rc.Name = titleCaser.String(string(role))
	return rc, true
}

// RoleInfo describes a role for discovery endpoints.
type RoleInfo struct {
	ID       domain.Role     `json:"id"`
	Name     string          `json:"name"`
	Provider provider.Name   `json:"provider"`
	Format   provider.Format `json:"output_format"`
	Versions []string        `json:"versions"`
}

// ListRoles describes every role in registry order. versions reports the
// prompt versions installed for a role and may be nil.
func ListRoles(versions func(domain.Role) []string) []RoleInfo {
	out := make([]RoleInfo, 0, len(domain.Roles))
	for _, r := range domain.Roles {
		rc, _ := Lookup(r)
		info := RoleInfo{ID: r, Name: rc.Name, Provider: rc.Provider, Format: rc.Format, Versions: []string{}}
		if versions != nil {
			if v := versions(r); v != nil {
				info.Versions = v
			}
		}
		out = append(out, info)
	}
	return out
}
