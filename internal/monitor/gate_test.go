package monitor

import (
	"context"
	"strconv"
	"testing"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/storage"

	"go.uber.org/zap"
)

type actionCall struct {
	kind      string
	channelID string
	messageID string
}

type fakeActions struct {
	calls   []actionCall
	replyID string
}

func (f *fakeActions) React(ctx context.Context, channelID, messageID, emoji string) error {
	f.calls = append(f.calls, actionCall{kind: "react", channelID: channelID, messageID: messageID})
	return nil
}

func (f *fakeActions) Reply(ctx context.Context, channelID, messageID, content string, ping bool) (string, error) {
	f.calls = append(f.calls, actionCall{kind: "reply", channelID: channelID, messageID: messageID})
	return f.replyID, nil
}

func (f *fakeActions) Delete(ctx context.Context, channelID, messageID string) error {
	f.calls = append(f.calls, actionCall{kind: "delete", channelID: channelID, messageID: messageID})
	return nil
}

func (f *fakeActions) count(kind string) int {
	n := 0
	for _, c := range f.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

type fakeSettings struct {
	settings storage.AppSettings
}

func (f *fakeSettings) AppSettings(ctx context.Context) (storage.AppSettings, error) {
	return f.settings, nil
}

func newTestGate(t *testing.T, settings storage.AppSettings) (*Gate, *fakeActions, *fakeClock, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	actions := &fakeActions{replyID: "alert-1"}
	auditLogger := audit.NewLogger(store, zap.NewNop())
	gate := NewGate(15*time.Second, 15*time.Second, actions, &fakeSettings{settings: settings}, auditLogger, zap.NewNop())
	clock := newFakeClock()
	gate.WithClock(clock)
	return gate, actions, clock, store
}

func defaultSettings() storage.AppSettings {
	s := storage.DefaultAppSettings()
	s.AIThreshold = 60
	return s
}

func violation(severity int) Verdict {
	return Verdict{Violation: true, Reason: "harassment", Severity: severity}
}

func groupMessages(channelID, authorID string, n int) []Message {
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Message{
			ID:        authorID + "-" + strconv.Itoa(i),
			ChannelID: channelID,
			AuthorID:  authorID,
			Content:   "flagged content",
		})
	}
	return out
}

func TestGateAlertsAndAudits(t *testing.T) {
	gate, actions, _, store := newTestGate(t, defaultSettings())
	ctx := context.Background()

	msgs := groupMessages("c1", "u1", 2)
	gate.HandleGroupViolation(ctx, "u1", msgs, violation(85))

	if got := actions.count("react"); got != 2 {
		t.Fatalf("expected a reaction per message, got %d", got)
	}
	if got := actions.count("reply"); got != 1 {
		t.Fatalf("expected one alert reply, got %d", got)
	}
	last := actions.calls[len(actions.calls)-1]
	if last.kind != "reply" || last.messageID != "u1-1" {
		t.Fatalf("alert should reply to the newest message, got %+v", last)
	}

	logs, err := store.ListAuditLogs(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(logs))
	}
	if logs[0].Event != "ai_violation" || logs[0].UserID != "u1" {
		t.Fatalf("unexpected audit entry %+v", logs[0])
	}
}

func TestGateCooldownSuppressesRepeatAlerts(t *testing.T) {
	gate, actions, clock, store := newTestGate(t, defaultSettings())
	ctx := context.Background()

	gate.HandleGroupViolation(ctx, "u1", groupMessages("c1", "u1", 1), violation(80))
	clock.Advance(5 * time.Second)
	gate.HandleGroupViolation(ctx, "u1", groupMessages("c1", "u1", 1), violation(90))

	if got := actions.count("reply"); got != 1 {
		t.Fatalf("second alert within cooldown must be suppressed, got %d replies", got)
	}

	// Suppression silences the public call-out only. Both incidents are
	// still audited.
	logs, err := store.ListAuditLogs(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected both incidents audited, got %d", len(logs))
	}

	clock.Advance(15 * time.Second)
	gate.HandleGroupViolation(ctx, "u1", groupMessages("c1", "u1", 1), violation(80))
	if got := actions.count("reply"); got != 2 {
		t.Fatalf("alert should fire again after the cooldown, got %d replies", got)
	}
}

func TestGateCooldownIsPerAuthor(t *testing.T) {
	gate, actions, _, _ := newTestGate(t, defaultSettings())
	ctx := context.Background()

	gate.HandleGroupViolation(ctx, "u1", groupMessages("c1", "u1", 1), violation(80))
	gate.HandleGroupViolation(ctx, "u2", groupMessages("c1", "u2", 1), violation(80))

	if got := actions.count("reply"); got != 2 {
		t.Fatalf("different authors never share a cooldown, got %d replies", got)
	}
}

func TestGateDeleteModeRemovesFlaggedMessages(t *testing.T) {
	settings := defaultSettings()
	settings.AIAction = "delete"
	gate, actions, clock, _ := newTestGate(t, settings)
	ctx := context.Background()

	msgs := groupMessages("c1", "u1", 2)
	gate.HandleGroupViolation(ctx, "u1", msgs, violation(85))

	deleted := map[string]bool{}
	for _, c := range actions.calls {
		if c.kind == "delete" {
			deleted[c.messageID] = true
		}
	}
	if !deleted["u1-0"] || !deleted["u1-1"] {
		t.Fatalf("both flagged messages must be deleted, got %v", deleted)
	}

	// The alert reply self-destructs after its TTL.
	clock.Advance(15 * time.Second)
	last := actions.calls[len(actions.calls)-1]
	if last.kind != "delete" || last.messageID != "alert-1" {
		t.Fatalf("expected the alert to self-delete, got %+v", last)
	}
}

func TestGateIgnoresSubThresholdVerdicts(t *testing.T) {
	gate, actions, _, store := newTestGate(t, defaultSettings())
	ctx := context.Background()

	gate.HandleGroupViolation(ctx, "u1", groupMessages("c1", "u1", 1), violation(30))

	if len(actions.calls) != 0 {
		t.Fatalf("sub-threshold verdict must produce no visible action, got %v", actions.calls)
	}
	logs, err := store.ListAuditLogs(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("sub-threshold verdict must not be audited, got %d entries", len(logs))
	}
}

func TestGateSweepsStaleCooldowns(t *testing.T) {
	gate, _, clock, _ := newTestGate(t, defaultSettings())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		author := "stale-" + strconv.Itoa(i)
		gate.HandleGroupViolation(ctx, author, groupMessages("c1", author, 1), violation(80))
	}

	// Far past the sweep horizon (cooldown * 20) the old entries go away on
	// the next alert.
	clock.Advance(10 * time.Minute)
	gate.HandleGroupViolation(ctx, "fresh", groupMessages("c1", "fresh", 1), violation(80))

	gate.mu.Lock()
	size := len(gate.lastAlert)
	gate.mu.Unlock()
	if size != 1 {
		t.Fatalf("expected stale cooldown entries swept, map has %d entries", size)
	}
}
