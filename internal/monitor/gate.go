package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/storage"

	"go.uber.org/zap"
)

// MessageActions is what the gate needs from the chat platform. Every call
// is best-effort from the gate's point of view.
type MessageActions interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
	Reply(ctx context.Context, channelID, messageID, content string, ping bool) (string, error)
	Delete(ctx context.Context, channelID, messageID string) error
}

type SettingsSource interface {
	AppSettings(ctx context.Context) (storage.AppSettings, error)
}

const (
	seenEmoji     = "👀"
	sampleMaxLen  = 120
	sweepMultiple = 20
)

// Gate turns a grouped violation into observable effects while rate
// limiting public call-outs per author.
type Gate struct {
	mu        sync.Mutex
	lastAlert map[string]time.Time
	cooldown  time.Duration
	alertTTL  time.Duration
	clock     Clock
	actions   MessageActions
	settings  SettingsSource
	audit     *audit.Logger
	logger    *zap.Logger
}

func NewGate(cooldown, alertTTL time.Duration, actions MessageActions, settings SettingsSource, auditLogger *audit.Logger, logger *zap.Logger) *Gate {
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	if alertTTL <= 0 {
		alertTTL = 15 * time.Second
	}
	return &Gate{
		lastAlert: make(map[string]time.Time),
		cooldown:  cooldown,
		alertTTL:  alertTTL,
		clock:     realClock{},
		actions:   actions,
		settings:  settings,
		audit:     auditLogger,
		logger:    logger,
	}
}

func (g *Gate) WithClock(clock Clock) {
	g.clock = clock
}

// HandleGroupViolation marks, optionally calls out, optionally deletes, and
// always audits one author's flagged messages. Individual send/delete
// failures never abort the rest of the group.
func (g *Gate) HandleGroupViolation(ctx context.Context, authorID string, messages []Message, verdict Verdict) {
	if len(messages) == 0 || !verdict.Violation {
		return
	}

	settings := storage.DefaultAppSettings()
	if g.settings != nil {
		if loaded, err := g.settings.AppSettings(ctx); err == nil {
			settings = loaded
		}
	}

	if verdict.Severity < settings.AIThreshold {
		// Sub-threshold verdicts stay out of the audit table but are
		// visible in debug logs for threshold tuning.
		g.logger.Debug("violation below alert threshold",
			zap.String("author_id", authorID),
			zap.Int("severity", verdict.Severity),
			zap.Int("threshold", settings.AIThreshold),
			zap.String("reason", verdict.Reason))
		return
	}

	for _, msg := range messages {
		if err := g.actions.React(ctx, msg.ChannelID, msg.ID, seenEmoji); err != nil {
			g.logger.Debug("react failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	last := messages[len(messages)-1]
	now := g.clock.Now()

	g.mu.Lock()
	previous, seen := g.lastAlert[authorID]
	suppressed := seen && now.Sub(previous) < g.cooldown
	if !suppressed {
		g.lastAlert[authorID] = now
	}
	g.sweepLocked(now)
	g.mu.Unlock()

	if !suppressed {
		content := alertContent(verdict)
		replyID, err := g.actions.Reply(ctx, last.ChannelID, last.ID, content, settings.AIPingUser)
		if err != nil {
			g.logger.Warn("alert reply failed", zap.String("message_id", last.ID), zap.Error(err))
		} else if replyID != "" {
			channelID := last.ChannelID
			g.clock.AfterFunc(g.alertTTL, func() {
				// Double-delete is tolerated as a no-op upstream.
				_ = g.actions.Delete(context.Background(), channelID, replyID)
			})
		}
	}

	if settings.AIAction == "delete" {
		for _, msg := range messages {
			if err := g.actions.Delete(ctx, msg.ChannelID, msg.ID); err != nil {
				g.logger.Debug("message delete failed", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
	}

	g.audit.Log(ctx, audit.LevelWarn, authorID, "ai_violation",
		fmt.Sprintf("reason=%s severity=%d messages=%d mode=%s sample=%q",
			verdict.Reason, verdict.Severity, len(messages), settings.AIAction, sample(messages[0].Content)))
}

// sweepLocked drops cooldown entries long past expiry so the map cannot
// grow one entry per ever-flagged user for the life of the process.
func (g *Gate) sweepLocked(now time.Time) {
	horizon := g.cooldown * sweepMultiple
	for userID, at := range g.lastAlert {
		if now.Sub(at) > horizon {
			delete(g.lastAlert, userID)
		}
	}
}

func alertContent(verdict Verdict) string {
	if verdict.Comment != "" {
		return fmt.Sprintf("⚠️ **Guardian Watch**\n> *%q*\n\n**Reason:** %s (severity %d/100)",
			verdict.Comment, verdict.Reason, verdict.Severity)
	}
	return fmt.Sprintf("⚠️ **AI Monitor Alert**\nReason: %s\nSeverity: %d/100", verdict.Reason, verdict.Severity)
}

func sample(content string) string {
	runes := []rune(content)
	if len(runes) <= sampleMaxLen {
		return content
	}
	return string(runes[:sampleMaxLen]) + "…"
}
