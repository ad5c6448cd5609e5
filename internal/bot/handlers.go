package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guardian/internal/escalation"
	"guardian/internal/modules/audit"
	"guardian/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAction  = 0x2ecc71
	colorWarning = 0xf39c12
	colorError   = 0xe74c3c
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	switch interaction.Type {
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.handleAutocomplete(session, interaction)
		return
	case discordgo.InteractionApplicationCommand:
	default:
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()

	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Moderation", "This command only works inside the server.", colorError, nil), true)
		return
	}

	switch data.Name {
	case "warn":
		b.handleWarn(ctx, session, interaction, data.Options)
	case "mute":
		b.handleMute(ctx, session, interaction, data.Options)
	case "unmute":
		b.handleUnmute(ctx, session, interaction, data.Options)
	case "kick":
		b.handleKick(ctx, session, interaction, data.Options)
	case "ban":
		b.handleBan(ctx, session, interaction, data.Options)
	case "clear":
		b.handleClear(ctx, session, interaction, data.Options)
	case "profile":
		b.handleProfile(ctx, session, interaction, data.Options)
	case "verify":
		b.handleVerify(ctx, session, interaction)
	case "monitor":
		b.handleMonitor(ctx, session, interaction, data.Options)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Moderation", "Unknown command.", colorError, nil), true)
	}
}

func (b *Bot) handleAutocomplete(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()
	if data.Name != "warn" {
		return
	}

	var partial string
	for _, opt := range data.Options {
		if opt.Name == "reason" && opt.Focused {
			partial = strings.ToLower(opt.StringValue())
		}
	}

	presets, err := b.store.ListWarnPresets(context.Background())
	if err != nil {
		b.logger.Debug("preset lookup failed", zap.Error(err))
		return
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, 25)
	for _, preset := range presets {
		if partial != "" && !strings.Contains(strings.ToLower(preset.Name), partial) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("%s (+%d points)", preset.Name, preset.Points),
			Value: preset.Name,
		})
		if len(choices) == 25 {
			break
		}
	}

	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

func (b *Bot) handleWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Warn", "Target user required.", colorError, nil), true)
		return
	}
	if target.Bot {
		b.respondEmbed(session, interaction, b.commandEmbed("Warn", "Bots cannot be warned.", colorError, nil), true)
		return
	}

	reason := ""
	if opt, ok := opts["reason"]; ok {
		reason = opt.StringValue()
	}

	points := 0
	if opt, ok := opts["points"]; ok {
		points = int(opt.IntValue())
	}
	if points <= 0 {
		// A reason matching a preset name carries the preset's points.
		points = 1
		if presets, err := b.store.ListWarnPresets(ctx); err == nil {
			for _, preset := range presets {
				if strings.EqualFold(preset.Name, reason) {
					points = preset.Points
					break
				}
			}
		}
	}

	total, err := b.store.AddWarning(ctx, target.ID, storage.Warning{
		Moderator: interactionUserID(interaction),
		Reason:    reason,
		Points:    points,
	})
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Warn", "Could not record the warning: "+err.Error(), colorError, nil), true)
		return
	}

	b.audit.Log(ctx, audit.LevelInfo, target.ID, "warn",
		fmt.Sprintf("moderator=%s reason=%s points=%d total=%d", interactionUserID(interaction), reason, points, total))
	b.DirectMessage(ctx, target.ID,
		fmt.Sprintf("**You have been warned:** %s (+%d points, total %d)", reason, points, total))

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: "<@" + target.ID + ">", Inline: true},
		{Name: "Points", Value: fmt.Sprintf("+%d (total %d)", points, total), Inline: true},
		{Name: "Reason", Value: reason, Inline: false},
	}

	if b.escalate != nil {
		settings := b.appSettings(ctx)
		outcome := b.escalate.Evaluate(ctx, target.ID, total, escalation.Defaults{
			Threshold:       settings.AutoMuteThreshold,
			DurationMinutes: settings.AutoMuteDuration,
		})
		if outcome.Summary != "" {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Escalation", Value: outcome.Summary, Inline: false})
		}
	}

	b.respondEmbed(session, interaction, b.commandEmbed("Warn", "Warning recorded.", colorWarning, fields), false)
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Target user required.", colorError, nil), true)
		return
	}
	minutes := 10
	if opt, ok := opts["minutes"]; ok {
		minutes = int(opt.IntValue())
	}
	if minutes < 1 {
		minutes = 1
	}
	reason := stringOption(opts, "reason")

	if err := b.Timeout(ctx, target.ID, time.Duration(minutes)*time.Minute, reason); err != nil {
		b.audit.Log(ctx, audit.LevelWarn, target.ID, "action_failed", "mute failed: "+err.Error())
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Mute failed: "+err.Error(), colorError, nil), true)
		return
	}

	b.audit.Log(ctx, audit.LevelWarn, target.ID, "mute",
		fmt.Sprintf("moderator=%s minutes=%d reason=%s", interactionUserID(interaction), minutes, reason))
	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: "<@" + target.ID + ">", Inline: true},
		{Name: "Duration", Value: fmt.Sprintf("%d minutes", minutes), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Mute", "User muted.", colorAction, fields), false)
}

func (b *Bot) handleUnmute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Unmute", "Target user required.", colorError, nil), true)
		return
	}

	if err := b.Unmute(ctx, target.ID); err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Unmute", "Unmute failed: "+err.Error(), colorError, nil), true)
		return
	}

	b.audit.Log(ctx, audit.LevelInfo, target.ID, "unmute", "moderator="+interactionUserID(interaction))
	fields := []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + target.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Unmute", "Timeout removed.", colorAction, fields), false)
}

func (b *Bot) handleKick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Kick", "Target user required.", colorError, nil), true)
		return
	}
	reason := stringOption(opts, "reason")

	if err := b.Kick(ctx, target.ID, reason); err != nil {
		b.audit.Log(ctx, audit.LevelWarn, target.ID, "action_failed", "kick failed: "+err.Error())
		b.respondEmbed(session, interaction, b.commandEmbed("Kick", "Kick failed: "+err.Error(), colorError, nil), true)
		return
	}

	b.audit.Log(ctx, audit.LevelWarn, target.ID, "kick",
		fmt.Sprintf("moderator=%s reason=%s", interactionUserID(interaction), reason))
	fields := []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + target.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Kick", "User kicked.", colorAction, fields), false)
}

func (b *Bot) handleBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Ban", "Target user required.", colorError, nil), true)
		return
	}
	reason := stringOption(opts, "reason")

	if err := b.Ban(ctx, target.ID, reason); err != nil {
		b.audit.Log(ctx, audit.LevelWarn, target.ID, "action_failed", "ban failed: "+err.Error())
		b.respondEmbed(session, interaction, b.commandEmbed("Ban", "Ban failed: "+err.Error(), colorError, nil), true)
		return
	}

	b.audit.Log(ctx, audit.LevelCrit, target.ID, "ban",
		fmt.Sprintf("moderator=%s reason=%s", interactionUserID(interaction), reason))
	fields := []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + target.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Ban", "User banned.", colorAction, fields), false)
}

func (b *Bot) handleClear(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Clear", "Target user required.", colorError, nil), true)
		return
	}

	if err := b.store.ClearPunishments(ctx, target.ID); err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Clear", "Clear failed: "+err.Error(), colorError, nil), true)
		return
	}
	if b.escalate != nil {
		b.escalate.Reset(target.ID)
	}

	b.audit.Log(ctx, audit.LevelInfo, target.ID, "clear", "moderator="+interactionUserID(interaction))
	fields := []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + target.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Clear", "Warnings and points cleared.", colorAction, fields), false)
}

func (b *Bot) handleProfile(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Profile", "Target user required.", colorError, nil), true)
		return
	}

	rep, err := b.store.GetUser(ctx, target.ID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Profile", "Lookup failed: "+err.Error(), colorError, nil), true)
		return
	}
	monitored, _ := b.store.IsMonitored(ctx, target.ID)

	history := "None"
	if len(rep.Warnings) > 0 {
		lines := make([]string, 0, len(rep.Warnings))
		for i, warning := range rep.Warnings {
			if i == 5 {
				lines = append(lines, fmt.Sprintf("... and %d more", len(rep.Warnings)-5))
				break
			}
			lines = append(lines, fmt.Sprintf("`+%d` %s (%s)", warning.Points, warning.Reason, warning.CreatedAt.Format("2006-01-02")))
		}
		history = strings.Join(lines, "\n")
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: "<@" + target.ID + ">", Inline: true},
		{Name: "Points", Value: fmt.Sprintf("%d", rep.Points), Inline: true},
		{Name: "Watched", Value: fmt.Sprintf("%t", monitored), Inline: true},
		{Name: "Recent Warnings", Value: history, Inline: false},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Profile", "Infraction profile.", colorAction, fields), true)
}

func (b *Bot) handleVerify(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	userID := interactionUserID(interaction)
	if userID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Verify", "Could not resolve your account.", colorError, nil), true)
		return
	}

	settings := b.appSettings(ctx)
	verifiedID := b.roleIDByName(interaction.GuildID, settings.RoleVerified)
	unverifiedID := b.roleIDByName(interaction.GuildID, settings.RoleUnverified)

	if verifiedID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Verify", "Verification is not configured on this server.", colorError, nil), true)
		return
	}

	if err := session.GuildMemberRoleAdd(interaction.GuildID, userID, verifiedID); err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Verify", "Verification failed: "+err.Error(), colorError, nil), true)
		return
	}
	if unverifiedID != "" {
		if err := session.GuildMemberRoleRemove(interaction.GuildID, userID, unverifiedID); err != nil {
			b.logger.Debug("unverified role removal failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	b.audit.Log(ctx, audit.LevelInfo, userID, "verify", "self verification")
	b.respondEmbed(session, interaction, b.commandEmbed("Verify", "You are verified. Welcome!", colorAction, nil), true)
}

func (b *Bot) handleMonitor(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := optionMap(options)
	action := stringOption(opts, "action")

	if action == "list" {
		ids, err := b.store.ListMonitored(ctx)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "Listing failed: "+err.Error(), colorError, nil), true)
			return
		}
		value := "None"
		if len(ids) > 0 {
			lines := make([]string, 0, len(ids))
			for _, id := range ids {
				lines = append(lines, "<@"+id+">")
			}
			value = strings.Join(lines, "\n")
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Watched Users", Value: value, Inline: false}}
		b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "Current AI watch list.", colorAction, fields), true)
		return
	}

	target := userOption(opts, "user", session)
	if target == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "Target user required.", colorError, nil), true)
		return
	}

	switch action {
	case "add":
		if err := b.store.SetMonitored(ctx, target.ID, interactionUserID(interaction), true); err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "Update failed: "+err.Error(), colorError, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, target.ID, "monitor_add", "moderator="+interactionUserID(interaction))
		fields := []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + target.ID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "User added to the AI watch list.", colorAction, fields), true)
	case "remove":
		if err := b.store.SetMonitored(ctx, target.ID, interactionUserID(interaction), false); err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "Update failed: "+err.Error(), colorError, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, target.ID, "monitor_remove", "moderator="+interactionUserID(interaction))
		fields := []*discordgo.MessageEmbedField{{Name: "User", Value: "<@" + target.ID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "User removed from the AI watch list.", colorAction, fields), true)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Monitor", "Unknown action.", colorError, nil), true)
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func userOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string, session *discordgo.Session) *discordgo.User {
	opt, ok := opts[name]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionUser {
		return nil
	}
	return opt.UserValue(session)
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func interactionUserID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}
