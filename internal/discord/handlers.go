package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/loykin/rankvisor/internal/verify"
)

const (
	colorInfo  = 0x3498db
	colorOK    = 0x2ecc71
	colorError = 0xe74c3c
)

// Handle routes one interaction. Panics in a handler are logged and
// answered with a generic error instead of killing the worker.
func (b *Bot) Handle(ctx context.Context, rs Responder, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("interaction handler panic", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		b.log.Info("command received", "command", data.Name, "user", userID(i))
		switch data.Name {
		case cmdVerify:
			b.handleVerify(ctx, rs, i, data)
		case cmdUpdate:
			b.handleUpdate(ctx, rs, i)
		case cmdRank:
			b.handleRank(ctx, rs, i, data)
		case cmdBlacklisted:
			b.handleBlacklisted(ctx, rs, i, data)
		case cmdBackground:
			b.handleBackground(ctx, rs, i, data)
		default:
			b.reply(rs, i, errorEmbed("Unknown command"), nil)
		}
	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		if owner, ok := strings.CutPrefix(id, verifyButtonPrefix); ok {
			b.handleVerifyButton(ctx, rs, i, owner)
		}
	}
}

func userID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func stringOpt(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name && o.Type == discordgo.ApplicationCommandOptionString {
			return o.StringValue()
		}
	}
	return ""
}

func (b *Bot) handleVerify(ctx context.Context, rs Responder, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	uid := userID(i)
	if !b.deferReply(rs, i) {
		return
	}
	p, err := b.svc.Begin(ctx, uid, stringOpt(data.Options, "username"))
	if err != nil {
		b.edit(rs, i, b.failure("Verification could not start", err), nil)
		return
	}
	embed := &discordgo.MessageEmbed{
		Title: "Roblox verification",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "1. Copy your verification code", Value: "`" + p.Code + "`"},
			{Name: "2. Add it to your Roblox profile description", Value: "Profile > About > Description, then save."},
			{Name: "3. Press Verify", Value: "Once the code is in your description, press the button below."},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Verifying as %s. Expires <t:%d:R>.", p.RobloxUsername, p.ExpiresAt.Unix())},
	}
	row := []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Verify", Style: discordgo.SuccessButton, CustomID: verifyButtonPrefix + uid},
	}}}
	b.edit(rs, i, embed, row)
}

func (b *Bot) handleVerifyButton(ctx context.Context, rs Responder, i *discordgo.InteractionCreate, owner string) {
	uid := userID(i)
	if owner != uid {
		b.reply(rs, i, errorEmbed("This verification belongs to someone else."), nil)
		return
	}
	if !b.deferReply(rs, i) {
		return
	}
	v, err := b.svc.Confirm(ctx, uid)
	if err != nil {
		b.edit(rs, i, b.failure("Verification failed", err), nil)
		return
	}
	if i.GuildID != "" {
		nick := verify.Nickname(v.RankName, v.RobloxUsername)
		if err := rs.GuildMemberNickname(i.GuildID, uid, nick, discordgo.WithContext(ctx)); err != nil {
			b.log.Warn("could not set nickname", "user", uid, "error", err)
		}
	}
	b.edit(rs, i, &discordgo.MessageEmbed{
		Title:       "Verified",
		Color:       colorOK,
		Description: fmt.Sprintf("Linked to Roblox account **%s** (%d).", v.RobloxUsername, v.RobloxUserID),
	}, []discordgo.MessageComponent{})
}

func (b *Bot) handleUpdate(ctx context.Context, rs Responder, i *discordgo.InteractionCreate) {
	uid := userID(i)
	if !b.deferReply(rs, i) {
		return
	}
	st, err := b.svc.Update(ctx, uid)
	if err != nil {
		b.edit(rs, i, b.failure("Update failed", err), nil)
		return
	}
	rankName := ""
	desc := "Not a member of the group."
	if st.InGroup {
		rankName = st.Role.Name
		desc = fmt.Sprintf("Rank: **%s** (%d)", st.Role.Name, st.Role.Rank)
	}
	if st.Blacklisted.Blacklisted() {
		desc += "\nWarning: member of a blacklisted group."
	}
	if i.GuildID != "" {
		nick := verify.Nickname(rankName, st.Verified.RobloxUsername)
		if err := rs.GuildMemberNickname(i.GuildID, uid, nick, discordgo.WithContext(ctx)); err != nil {
			b.log.Warn("could not set nickname", "user", uid, "error", err)
		}
	}
	b.edit(rs, i, &discordgo.MessageEmbed{Title: st.Verified.RobloxUsername, Color: colorInfo, Description: desc}, nil)
}

func (b *Bot) handleRank(ctx context.Context, rs Responder, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !b.deferReply(rs, i) {
		return
	}
	c, err := b.svc.Rank(ctx, stringOpt(data.Options, "username"), stringOpt(data.Options, "rank"))
	if err != nil {
		b.edit(rs, i, b.failure("Rank change failed", err), nil)
		return
	}
	b.edit(rs, i, &discordgo.MessageEmbed{
		Title:       "Rank updated",
		Color:       colorOK,
		Description: fmt.Sprintf("**%s**: %s → %s", c.User.Name, c.From.Name, c.To.Name),
	}, nil)
}

func (b *Bot) handleBackground(ctx context.Context, rs Responder, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if !b.deferReply(rs, i) {
		return
	}
	bg, err := b.svc.Background(ctx, stringOpt(data.Options, "username"))
	if err != nil {
		b.edit(rs, i, b.failure("Background check failed", err), nil)
		return
	}
	color, groups, footer := colorOK, "None", "This user is not in any blacklisted groups"
	if bg.Blacklisted.Blacklisted() {
		lines := make([]string, len(bg.Blacklisted.Groups))
		for k, g := range bg.Blacklisted.Groups {
			lines[k] = fmt.Sprintf("%s (ID: %d)", g.Name, g.ID)
		}
		color, groups, footer = colorError, strings.Join(lines, "\n"), "This user is in one or more blacklisted groups"
	}
	b.edit(rs, i, &discordgo.MessageEmbed{
		Title: "Background Check: " + bg.User.Name,
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Username", Value: bg.User.Name, Inline: true},
			{Name: "User ID", Value: fmt.Sprintf("%d", bg.User.ID), Inline: true},
			{Name: "Account Age", Value: fmt.Sprintf("%d days", bg.AgeDays), Inline: true},
			{Name: "Blacklisted Groups", Value: groups},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: footer},
	}, nil)
}

func (b *Bot) handleBlacklisted(ctx context.Context, rs Responder, i *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	if len(data.Options) == 0 {
		b.reply(rs, i, errorEmbed("Missing subcommand"), nil)
		return
	}
	sub := data.Options[0]
	var (
		msg string
		err error
	)
	switch sub.Name {
	case "add", "remove":
		var id int64
		id, err = verify.ParseGroupID(stringOpt(sub.Options, "group_id"))
		if err != nil {
			break
		}
		if sub.Name == "add" {
			var n int
			if n, err = b.svc.AddBlacklist(ctx, id); err == nil {
				msg = fmt.Sprintf("Group %d blacklisted. %d group(s) on the blacklist.", id, n)
			}
		} else {
			var removed bool
			if removed, err = b.svc.RemoveBlacklist(ctx, id); err == nil {
				msg = fmt.Sprintf("Group %d was not blacklisted.", id)
				if removed {
					msg = fmt.Sprintf("Group %d removed from the blacklist.", id)
				}
			}
		}
	case "list":
		var ids []int64
		if ids, err = b.svc.ListBlacklist(ctx); err == nil {
			msg = "No groups are blacklisted."
			if len(ids) > 0 {
				parts := make([]string, len(ids))
				for k, id := range ids {
					parts[k] = fmt.Sprintf("`%d`", id)
				}
				msg = "Blacklisted groups: " + strings.Join(parts, ", ")
			}
		}
	default:
		err = fmt.Errorf("unknown subcommand %q", sub.Name)
	}
	if err != nil {
		b.reply(rs, i, b.failure("Blacklist", err), nil)
		return
	}
	b.reply(rs, i, &discordgo.MessageEmbed{Title: "Blacklist", Color: colorOK, Description: msg}, nil)
}

// failure turns a service error into a user-facing embed. Expected errors
// show their text; anything else is logged and shown generically.
func (b *Bot) failure(title string, err error) *discordgo.MessageEmbed {
	switch {
	case errors.Is(err, verify.ErrUserNotFound), errors.Is(err, verify.ErrNoPending),
		errors.Is(err, verify.ErrCodeMissing), errors.Is(err, verify.ErrBlacklisted),
		errors.Is(err, verify.ErrNotVerified), errors.Is(err, verify.ErrRoleNotFound),
		errors.Is(err, verify.ErrNotInGroup), errors.Is(err, verify.ErrInvalidGroup):
		return &discordgo.MessageEmbed{Title: title, Color: colorError, Description: err.Error()}
	}
	b.log.Error(strings.ToLower(title), "error", err)
	return &discordgo.MessageEmbed{Title: title, Color: colorError, Description: "Something went wrong. Please try again later."}
}

func errorEmbed(msg string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: "Error", Color: colorError, Description: msg}
}

func (b *Bot) reply(rs Responder, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed, comps []discordgo.MessageComponent) {
	err := rs.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{e},
			Components: comps,
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.log.Warn("interaction reply failed", "error", err)
	}
}

// deferReply acknowledges the interaction so slow Roblox calls do not hit
// Discord's three second response window.
func (b *Bot) deferReply(rs Responder, i *discordgo.InteractionCreate) bool {
	err := rs.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log.Warn("interaction defer failed", "error", err)
		return false
	}
	return true
}

func (b *Bot) edit(rs Responder, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed, comps []discordgo.MessageComponent) {
	edit := &discordgo.WebhookEdit{Embeds: &[]*discordgo.MessageEmbed{e}}
	if comps != nil {
		edit.Components = &comps
	}
	if _, err := rs.InteractionResponseEdit(i.Interaction, edit); err != nil {
		b.log.Warn("interaction edit failed", "error", err)
	}
}
