package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker gates the management slash commands behind a Discord
// role.
type PermissionChecker struct {
	adminRoleID string
}

// NewPermissionChecker creates a checker for the given admin role ID.
func NewPermissionChecker(adminRoleID string) *PermissionChecker {
	return &PermissionChecker{adminRoleID: adminRoleID}
}

// IsAdmin reports whether the interaction author carries the admin role. An
// empty configured role allows everyone, which suits single-owner setups.
// Interactions without a Member (DM channels) are denied when a role is set.
func (p *PermissionChecker) IsAdmin(i *discordgo.InteractionCreate) bool {
	if p.adminRoleID == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, p.adminRoleID)
}
