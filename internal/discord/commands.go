// Package discord is the bot's Discord surface: slash command definitions,
// their registration and the interaction handlers.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const (
	cmdVerify      = "verify"
	cmdUpdate      = "update"
	cmdRank        = "rank"
	cmdBlacklisted = "blacklisted"
	cmdBackground  = "background"

	verifyButtonPrefix = "verify:"
)

var adminPerms int64 = discordgo.PermissionAdministrator

// Commands returns the application commands the bot serves.
func Commands() []*discordgo.ApplicationCommand {
	groupOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "group_id",
		Description: "Roblox group id",
		Required:    true,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdVerify,
			Description: "Link your Roblox account",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "username",
				Description: "Your Roblox username",
				Required:    true,
			}},
		},
		{
			Name:        cmdUpdate,
			Description: "Refresh your rank and nickname",
		},
		{
			Name:                     cmdRank,
			Description:              "Set a member's rank in the group",
			DefaultMemberPermissions: &adminPerms,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "username",
					Description: "Roblox username",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "rank",
					Description: "Rank name or number",
					Required:    true,
				},
			},
		},
		{
			Name:        cmdBackground,
			Description: "Check if a player is in any blacklisted groups",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "username",
				Description: "Roblox username to check",
				Required:    true,
			}},
		},
		{
			Name:                     cmdBlacklisted,
			Description:              "Manage blacklisted Roblox groups",
			DefaultMemberPermissions: &adminPerms,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Blacklist a group",
					Options:     []*discordgo.ApplicationCommandOption{groupOpt},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Remove a group from the blacklist",
					Options:     []*discordgo.ApplicationCommandOption{groupOpt},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List blacklisted groups",
				},
			},
		},
	}
}

// CommandOverwriter is the part of *discordgo.Session the registrar uses.
type CommandOverwriter interface {
	ApplicationCommandBulkOverwrite(appID, guildID string, cmds []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Registrar replaces the application's commands with Commands().
type Registrar struct {
	api     CommandOverwriter
	appID   string
	guildID string // empty registers globally
}

func NewRegistrar(api CommandOverwriter, appID, guildID string) *Registrar {
	return &Registrar{api: api, appID: appID, guildID: guildID}
}

// Sync performs a single bulk overwrite and returns how many commands
// Discord now has registered.
func (r *Registrar) Sync(ctx context.Context) (int, error) {
	if r.appID == "" {
		return 0, fmt.Errorf("register commands: empty application id")
	}
	got, err := r.api.ApplicationCommandBulkOverwrite(r.appID, r.guildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("register commands: %w", err)
	}
	return len(got), nil
}
