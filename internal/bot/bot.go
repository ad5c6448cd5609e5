package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardian/internal/analytics"
	"guardian/internal/api"
	"guardian/internal/config"
	"guardian/internal/escalation"
	"guardian/internal/modules/audit"
	"guardian/internal/monitor"
	"guardian/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	analytics *analytics.Service
	escalate  *escalation.Engine
	cache     *monitor.ContextCache
	batcher   *monitor.Batcher
	session   *discordgo.Session

	auditAggMu sync.Mutex
	auditAgg   map[string]*auditAggregate
}

type auditAggregate struct {
	channelID string
	messageID string
	count     int
	lastAt    time.Time
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		auditAgg:  make(map[string]*auditAggregate),
	}

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

// SetEscalation wires the auto-punishment engine. Called after construction
// because the engine enforces through the bot's session.
func (b *Bot) SetEscalation(engine *escalation.Engine) {
	b.escalate = engine
}

// SetMonitor wires the AI pipeline's context cache and batcher.
func (b *Bot) SetMonitor(cache *monitor.ContextCache, batcher *monitor.Batcher) {
	b.cache = cache
	b.batcher = batcher
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" || msg.GuildID != b.cfg.GuildID {
		return
	}

	ctx := context.Background()

	if b.cache != nil {
		b.cache.Add(monitor.Message{
			ID:         msg.ID,
			ChannelID:  msg.ChannelID,
			AuthorID:   msg.Author.ID,
			AuthorName: msg.Author.Username,
			Content:    msg.Content,
			Timestamp:  msg.Timestamp,
		})
	}

	if b.batcher == nil || msg.Content == "" {
		return
	}

	settings := b.appSettings(ctx)
	if !settings.AIEnabled {
		return
	}
	monitored, err := b.store.IsMonitored(ctx, msg.Author.ID)
	if err != nil || !monitored {
		return
	}

	var contextMsgs []monitor.Message
	if b.cache != nil {
		contextMsgs = b.cache.Recent(msg.ChannelID, msg.ID, b.cfg.Monitor.ContextDepth)
	}
	b.batcher.Add(ctx, monitor.Message{
		ID:         msg.ID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.Author.ID,
		AuthorName: msg.Author.Username,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	}, contextMsgs)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.GuildID != b.cfg.GuildID || event.User == nil {
		return
	}
	ctx := context.Background()
	settings := b.appSettings(ctx)

	if roleID := b.roleIDByName(event.GuildID, settings.RoleUnverified); roleID != "" {
		if err := session.GuildMemberRoleAdd(event.GuildID, event.User.ID, roleID); err != nil {
			b.logger.Warn("unverified role assignment failed",
				zap.String("user_id", event.User.ID), zap.Error(err))
		}
	}

	b.DirectMessage(ctx, event.User.ID,
		"Welcome! Run **/verify** in the server to unlock all channels.")
	b.audit.Log(ctx, audit.LevelInfo, event.User.ID, "member_join", "unverified role assigned")
}

// MonitorOptions feeds the classifier the server rules and custom prompt
// configured from the dashboard.
func (b *Bot) MonitorOptions(ctx context.Context) monitor.Options {
	settings := b.appSettings(ctx)
	return monitor.Options{Rules: settings.AIRules, Prompt: settings.AIPrompt}
}

// Timeout, Kick, and Ban implement the escalation engine's enforcement
// surface on top of the Discord session.
func (b *Bot) Timeout(ctx context.Context, userID string, duration time.Duration, reason string) error {
	_ = ctx
	until := time.Now().Add(duration)
	return b.session.GuildMemberTimeout(b.cfg.GuildID, userID, &until, auditLogReason(reason)...)
}

func (b *Bot) Unmute(ctx context.Context, userID string) error {
	_ = ctx
	return b.session.GuildMemberTimeout(b.cfg.GuildID, userID, nil)
}

func (b *Bot) Kick(ctx context.Context, userID, reason string) error {
	_ = ctx
	return b.session.GuildMemberDeleteWithReason(b.cfg.GuildID, userID, reason)
}

func (b *Bot) Ban(ctx context.Context, userID, reason string) error {
	_ = ctx
	return b.session.GuildBanCreateWithReason(b.cfg.GuildID, userID, reason, 0)
}

// DirectMessage reports delivery so callers can fall back to a channel
// mention when a user's DMs are closed.
func (b *Bot) DirectMessage(ctx context.Context, userID, content string) bool {
	_ = ctx
	channel, err := b.session.UserChannelCreate(userID)
	if err != nil {
		return false
	}
	_, err = b.session.ChannelMessageSend(channel.ID, content)
	return err == nil
}

// React, Reply, and Delete implement the monitor gate's message surface.
func (b *Bot) React(ctx context.Context, channelID, messageID, emoji string) error {
	_ = ctx
	return b.session.MessageReactionAdd(channelID, messageID, emoji)
}

func (b *Bot) Reply(ctx context.Context, channelID, messageID, content string, ping bool) (string, error) {
	_ = ctx
	msg, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Reference: &discordgo.MessageReference{
			MessageID: messageID,
			ChannelID: channelID,
			GuildID:   b.cfg.GuildID,
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: ping},
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (b *Bot) Delete(ctx context.Context, channelID, messageID string) error {
	_ = ctx
	return b.session.ChannelMessageDelete(channelID, messageID)
}

// ListInvites implements the dashboard's invite source over the session.
func (b *Bot) ListInvites(ctx context.Context) ([]api.Invite, error) {
	_ = ctx
	invites, err := b.session.GuildInvites(b.cfg.GuildID)
	if err != nil {
		return nil, err
	}

	out := make([]api.Invite, 0, len(invites))
	for _, invite := range invites {
		if invite == nil {
			continue
		}
		entry := api.Invite{
			Code:      invite.Code,
			Uses:      invite.Uses,
			MaxUses:   invite.MaxUses,
			CreatedAt: invite.CreatedAt,
		}
		if invite.Inviter != nil {
			entry.InviterID = invite.Inviter.ID
			entry.InviterName = invite.Inviter.Username
		}
		out = append(out, entry)
	}
	return out, nil
}

// auditLogReason turns a reason string into request options so enforcement
// reasons show up in Discord's own audit log, not just ours.
func auditLogReason(reason string) []discordgo.RequestOption {
	if reason == "" {
		return nil
	}
	return []discordgo.RequestOption{discordgo.WithAuditLogReason(reason)}
}

func (b *Bot) appSettings(ctx context.Context) storage.AppSettings {
	settings, err := b.store.AppSettings(ctx)
	if err != nil {
		b.logger.Warn("settings fallback", zap.Error(err))
		return storage.DefaultAppSettings()
	}
	return settings
}

func (b *Bot) roleIDByName(guildID, name string) string {
	if name == "" {
		return ""
	}
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, _ = b.session.Guild(guildID)
	}
	if guild == nil {
		return ""
	}
	for _, role := range guild.Roles {
		if role != nil && role.Name == name {
			return role.ID
		}
	}
	return ""
}

// notifyAudit mirrors an audit entry into the configured log channel.
// Repeats of the same entry within the window edit the existing message
// instead of flooding the channel.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	settings := b.appSettings(ctx)
	channelID := settings.LogChannelID
	if entry.Level != audit.LevelInfo && settings.ModLogChannelID != "" {
		channelID = settings.ModLogChannelID
	}
	if channelID == "" {
		return
	}

	key := entry.Level + "|" + entry.Event + "|" + entry.UserID + "|" + entry.Details
	window := 10 * time.Minute

	b.auditAggMu.Lock()
	agg := b.auditAgg[key]
	if agg != nil && agg.channelID == channelID && time.Since(agg.lastAt) <= window {
		agg.count++
		agg.lastAt = time.Now()
		count := agg.count
		messageID := agg.messageID
		b.auditAggMu.Unlock()
		embed := b.buildAuditEmbed(entry, count)
		if _, err := b.session.ChannelMessageEditEmbed(channelID, messageID, embed); err == nil {
			return
		}
		b.auditAggMu.Lock()
		delete(b.auditAgg, key)
		b.auditAggMu.Unlock()
	} else {
		b.auditAggMu.Unlock()
	}

	embed := b.buildAuditEmbed(entry, 1)
	msg, err := b.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil || msg == nil {
		return
	}
	b.auditAggMu.Lock()
	b.auditAgg[key] = &auditAggregate{channelID: channelID, messageID: msg.ID, count: 1, lastAt: time.Now()}
	b.auditAggMu.Unlock()
}

func (b *Bot) buildAuditEmbed(entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	userValue := "<@" + entry.UserID + ">"
	if entry.UserID == "" {
		userValue = "System"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Event", Value: entry.Event, Inline: true},
		{Name: "Level", Value: entry.Level, Inline: true},
		{Name: "User", Value: userValue, Inline: true},
	}
	if count > 1 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Count", Value: fmt.Sprintf("%d", count), Inline: true})
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: entry.Details, Inline: false})
	}

	return &discordgo.MessageEmbed{
		Title:     "Moderation Log",
		Color:     levelColor(entry.Level),
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields:    fields,
	}
}

func levelColor(level string) int {
	switch level {
	case audit.LevelCrit:
		return 0xe74c3c
	case audit.LevelWarn:
		return 0xf39c12
	default:
		return 0x3498db
	}
}
