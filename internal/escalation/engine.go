package escalation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/storage"

	"go.uber.org/zap"
)

type Action string

const (
	ActionMute Action = "mute"
	ActionKick Action = "kick"
	ActionBan  Action = "ban"
)

type Rule struct {
	ID              int64
	Name            string
	Threshold       int
	Action          Action
	DurationMinutes int
}

// Defaults is the global auto-mute fallback used when no configured rule
// matches. A zero threshold disables it.
type Defaults struct {
	Threshold       int
	DurationMinutes int
}

// Enforcer executes punishments. Implementations must translate "not
// permitted" conditions into errors, never panics.
type Enforcer interface {
	Timeout(ctx context.Context, userID string, duration time.Duration, reason string) error
	Kick(ctx context.Context, userID, reason string) error
	Ban(ctx context.Context, userID, reason string) error
}

// Notifier delivers best-effort direct messages. The return value reports
// delivery; failures are not errors.
type Notifier interface {
	DirectMessage(ctx context.Context, userID, content string) bool
}

type RuleSource interface {
	ListEscalationRules(ctx context.Context) ([]storage.EscalationRule, error)
}

type Outcome struct {
	Acted   bool
	Failed  bool
	Action  Action
	Rule    Rule
	Summary string
}

type Engine struct {
	mu          sync.Mutex
	lastApplied map[string]int
	rules       RuleSource
	enforcer    Enforcer
	notifier    Notifier
	audit       *audit.Logger
	logger      *zap.Logger
}

func NewEngine(rules RuleSource, enforcer Enforcer, notifier Notifier, auditLogger *audit.Logger, logger *zap.Logger) *Engine {
	return &Engine{
		lastApplied: make(map[string]int),
		rules:       rules,
		enforcer:    enforcer,
		notifier:    notifier,
		audit:       auditLogger,
		logger:      logger,
	}
}

// Select returns the rule with the highest threshold not exceeding total.
// When none matches, the default auto-mute rule applies if configured and
// reached.
func Select(rules []Rule, total int, defaults Defaults) (Rule, bool) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold > sorted[j].Threshold
	})
	for _, rule := range sorted {
		if total >= rule.Threshold {
			return rule, true
		}
	}
	if defaults.Threshold > 0 && total >= defaults.Threshold {
		duration := defaults.DurationMinutes
		if duration < 1 {
			duration = 60
		}
		return Rule{Name: "Auto-Mute", Threshold: defaults.Threshold, Action: ActionMute, DurationMinutes: duration}, true
	}
	return Rule{}, false
}

// Evaluate decides and executes the punishment for a user's new point total.
// It never returns an error: enforcement failures are reported in the
// Outcome so the invoking moderator sees them, and every attempt produces
// exactly one audit entry.
func (e *Engine) Evaluate(ctx context.Context, userID string, total int, defaults Defaults) Outcome {
	var rules []Rule
	if e.rules != nil {
		stored, err := e.rules.ListEscalationRules(ctx)
		if err != nil {
			e.logger.Warn("escalation rule load failed", zap.Error(err))
		}
		for _, r := range stored {
			rules = append(rules, Rule{
				ID:              r.ID,
				Name:            r.Name,
				Threshold:       r.Threshold,
				Action:          Action(r.Action),
				DurationMinutes: r.DurationMinutes,
			})
		}
	}

	rule, ok := Select(rules, total, defaults)
	if !ok {
		return Outcome{}
	}

	// A rule already applied at this threshold is not re-applied; two
	// warnings landing at the same total would otherwise double-enforce.
	e.mu.Lock()
	if e.lastApplied[userID] == rule.Threshold {
		e.mu.Unlock()
		return Outcome{Rule: rule, Summary: fmt.Sprintf("%s rule at %d points already applied", rule.Action, rule.Threshold)}
	}
	e.mu.Unlock()

	reason := fmt.Sprintf("Auto-punish: reached %d points", rule.Threshold)
	var execErr error
	var description string

	switch rule.Action {
	case ActionMute:
		minutes := rule.DurationMinutes
		if minutes < 1 {
			minutes = 1
		}
		execErr = e.enforcer.Timeout(ctx, userID, time.Duration(minutes)*time.Minute, reason)
		description = fmt.Sprintf("muted for %d minutes", minutes)
	case ActionKick:
		execErr = e.enforcer.Kick(ctx, userID, reason)
		description = "kicked"
	case ActionBan:
		execErr = e.enforcer.Ban(ctx, userID, reason)
		description = "banned"
	default:
		return Outcome{}
	}

	ruleName := rule.Name
	if ruleName == "" {
		ruleName = "Threshold Rule"
	}

	if execErr != nil {
		e.audit.Log(ctx, audit.LevelWarn, userID, "auto_punish_failed",
			fmt.Sprintf("rule=%s action=%s threshold=%d error=%v", ruleName, rule.Action, rule.Threshold, execErr))
		return Outcome{
			Failed:  true,
			Action:  rule.Action,
			Rule:    rule,
			Summary: fmt.Sprintf("failed: %v", execErr),
		}
	}

	e.mu.Lock()
	e.lastApplied[userID] = rule.Threshold
	e.mu.Unlock()

	e.audit.Log(ctx, audit.LevelCrit, userID, "auto_punish",
		fmt.Sprintf("rule=%s action=%s threshold=%d total=%d", ruleName, rule.Action, rule.Threshold, total))

	if e.notifier != nil {
		e.notifier.DirectMessage(ctx, userID,
			fmt.Sprintf("**Auto-Punishment Triggered:** You have been %s for reaching %d points.", description, total))
	}

	return Outcome{
		Acted:   true,
		Action:  rule.Action,
		Rule:    rule,
		Summary: fmt.Sprintf("user was auto-%s", description),
	}
}

// Reset forgets the last applied rule for a user. Called when punishments
// are cleared so a rebuilt point total can trigger tiers again.
func (e *Engine) Reset(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastApplied, userID)
}
