package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/storage"

	"go.uber.org/zap"
)

type fakeEnforcer struct {
	timeouts  []time.Duration
	kicks     int
	bans      int
	failWith  error
	lastScope string
}

func (f *fakeEnforcer) Timeout(ctx context.Context, userID string, d time.Duration, reason string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.timeouts = append(f.timeouts, d)
	f.lastScope = reason
	return nil
}

func (f *fakeEnforcer) Kick(ctx context.Context, userID, reason string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.kicks++
	return nil
}

func (f *fakeEnforcer) Ban(ctx context.Context, userID, reason string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.bans++
	return nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) DirectMessage(ctx context.Context, userID, content string) bool {
	f.messages = append(f.messages, content)
	return true
}

type fakeRules struct {
	rules []storage.EscalationRule
}

func (f *fakeRules) ListEscalationRules(ctx context.Context) ([]storage.EscalationRule, error) {
	return f.rules, nil
}

func newTestEngine(t *testing.T, rules []storage.EscalationRule, enforcer *fakeEnforcer) (*Engine, *storage.Store, *fakeNotifier) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	notifier := &fakeNotifier{}
	auditLogger := audit.NewLogger(store, zap.NewNop())
	engine := NewEngine(&fakeRules{rules: rules}, enforcer, notifier, auditLogger, zap.NewNop())
	return engine, store, notifier
}

func TestSelectHighestSatisfiedThreshold(t *testing.T) {
	rules := []Rule{
		{Threshold: 10, Action: ActionMute, DurationMinutes: 60},
		{Threshold: 20, Action: ActionKick},
	}

	rule, ok := Select(rules, 15, Defaults{})
	if !ok {
		t.Fatalf("expected a rule at 15 points")
	}
	if rule.Threshold != 10 || rule.Action != ActionMute {
		t.Fatalf("expected the 10-point mute rule, got %+v", rule)
	}

	rule, ok = Select(rules, 25, Defaults{})
	if !ok || rule.Threshold != 20 || rule.Action != ActionKick {
		t.Fatalf("expected the 20-point kick rule at 25 points, got %+v", rule)
	}

	if _, ok := Select(rules, 5, Defaults{}); ok {
		t.Fatalf("expected no rule at 5 points")
	}
}

func TestSelectDefaultFallback(t *testing.T) {
	defaults := Defaults{Threshold: 20, DurationMinutes: 60}

	rule, ok := Select(nil, 25, defaults)
	if !ok {
		t.Fatalf("expected default rule")
	}
	if rule.Action != ActionMute || rule.DurationMinutes != 60 || rule.Name != "Auto-Mute" {
		t.Fatalf("unexpected default rule %+v", rule)
	}

	if _, ok := Select(nil, 15, defaults); ok {
		t.Fatalf("default should not fire below threshold")
	}
	if _, ok := Select(nil, 100, Defaults{}); ok {
		t.Fatalf("disabled default should never fire")
	}
}

func TestEvaluateAutoMute(t *testing.T) {
	enforcer := &fakeEnforcer{}
	engine, _, notifier := newTestEngine(t, nil, enforcer)

	outcome := engine.Evaluate(context.Background(), "u1", 25, Defaults{Threshold: 20, DurationMinutes: 60})
	if !outcome.Acted || outcome.Failed {
		t.Fatalf("expected successful action, got %+v", outcome)
	}
	if len(enforcer.timeouts) != 1 || enforcer.timeouts[0] != 60*time.Minute {
		t.Fatalf("expected one 60m timeout, got %v", enforcer.timeouts)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected one DM, got %d", len(notifier.messages))
	}
}

func TestEvaluateTierSelection(t *testing.T) {
	rules := []storage.EscalationRule{
		{ID: 1, Threshold: 10, Action: "mute", DurationMinutes: 60},
		{ID: 2, Threshold: 20, Action: "kick"},
	}
	enforcer := &fakeEnforcer{}
	engine, _, _ := newTestEngine(t, rules, enforcer)

	outcome := engine.Evaluate(context.Background(), "u1", 15, Defaults{})
	if !outcome.Acted || outcome.Action != ActionMute {
		t.Fatalf("expected mute at 15 points, got %+v", outcome)
	}
	if enforcer.kicks != 0 {
		t.Fatalf("kick rule must not fire at 15 points")
	}
}

func TestEvaluateDoesNotReapplySameTier(t *testing.T) {
	rules := []storage.EscalationRule{{ID: 1, Threshold: 10, Action: "mute", DurationMinutes: 30}}
	enforcer := &fakeEnforcer{}
	engine, _, _ := newTestEngine(t, rules, enforcer)

	first := engine.Evaluate(context.Background(), "u1", 10, Defaults{})
	second := engine.Evaluate(context.Background(), "u1", 12, Defaults{})
	if !first.Acted {
		t.Fatalf("first evaluation should act")
	}
	if second.Acted {
		t.Fatalf("second evaluation at the same tier should be skipped, got %+v", second)
	}
	if len(enforcer.timeouts) != 1 {
		t.Fatalf("expected exactly one timeout, got %d", len(enforcer.timeouts))
	}

	engine.Reset("u1")
	third := engine.Evaluate(context.Background(), "u1", 12, Defaults{})
	if !third.Acted {
		t.Fatalf("after reset the tier should fire again")
	}
}

func TestEvaluateHigherTierStillFires(t *testing.T) {
	rules := []storage.EscalationRule{
		{ID: 1, Threshold: 10, Action: "mute", DurationMinutes: 30},
		{ID: 2, Threshold: 20, Action: "kick"},
	}
	enforcer := &fakeEnforcer{}
	engine, _, _ := newTestEngine(t, rules, enforcer)

	engine.Evaluate(context.Background(), "u1", 10, Defaults{})
	outcome := engine.Evaluate(context.Background(), "u1", 20, Defaults{})
	if !outcome.Acted || outcome.Action != ActionKick {
		t.Fatalf("expected kick at 20 points, got %+v", outcome)
	}
}

func TestEvaluateEnforcementFailure(t *testing.T) {
	rules := []storage.EscalationRule{{ID: 1, Threshold: 10, Action: "ban"}}
	enforcer := &fakeEnforcer{failWith: errors.New("missing permissions")}
	engine, store, _ := newTestEngine(t, rules, enforcer)

	outcome := engine.Evaluate(context.Background(), "u1", 10, Defaults{})
	if outcome.Acted || !outcome.Failed {
		t.Fatalf("expected failed outcome, got %+v", outcome)
	}
	if outcome.Summary == "" {
		t.Fatalf("failed outcome must carry a reason")
	}

	logs, err := store.ListAuditLogs(context.Background(), time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "auto_punish_failed" {
		t.Fatalf("expected one failure audit entry, got %+v", logs)
	}

	// A failure must not arm the idempotency guard.
	enforcer.failWith = nil
	retry := engine.Evaluate(context.Background(), "u1", 10, Defaults{})
	if !retry.Acted {
		t.Fatalf("retry after failure should act, got %+v", retry)
	}
}
