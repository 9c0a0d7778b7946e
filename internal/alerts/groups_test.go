package alerts

import (
	"testing"
	"time"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"critical", "critical"},
		{"CRIT", "critical"},
		{"fatal", "critical"},
		{"High", "critical"},
		{"emergency", "critical"},
		{"page", "critical"},
		{"Warning", "warning"},
		{"warn", "warning"},
		{"medium", "warning"},
		{"INFO", "info"},
		{"informational", "info"},
		{"low", "info"},
		{"", "unknown"},
		{"  ", "unknown"},
		{"Custom", "custom"},
	}
	for _, tc := range tests {
		if got := NormalizeSeverity(tc.in); got != tc.want {
			t.Errorf("NormalizeSeverity(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIdentifier(t *testing.T) {
	if got := Identifier("fp-1", "A", "cam", "warning"); got != "fp-1" {
		t.Fatalf("fingerprint must win, got %q", got)
	}
	if got := Identifier("", "A", "cam", "warning"); got != "A|cam|warning" {
		t.Fatalf("unexpected fallback identifier %q", got)
	}
}

func strp(s string) *string { return &s }

func event(id int64, fp, status, severity string, at time.Time) models.AlertEvent {
	return models.AlertEvent{
		ID:          id,
		Fingerprint: strp(fp),
		AlertName:   strp("HighFlowMagnitude"),
		StreamName:  strp("bridge"),
		AlertStatus: strp(status),
		Severity:    strp(severity),
		ReceivedAt:  at,
	}
}

func TestDeriveGroupsFolding(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Store order: newest first.
	events := []models.AlertEvent{
		event(3, "fp-1", "firing", "critical", base.Add(2*time.Minute)),
		event(2, "fp-1", "firing", "warning", base.Add(time.Minute)),
		event(1, "fp-2", "resolved", "warning", base),
	}

	groups := DeriveGroups(events, nil)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	g := groups[0]
	if g.Identifier != "fp-1" {
		t.Fatalf("expected newest group first, got %q", g.Identifier)
	}
	if g.EventCount != 2 {
		t.Fatalf("expected 2 events, got %d", g.EventCount)
	}
	if g.LatestSeverity != "critical" || g.LatestStatus != "firing" {
		t.Fatalf("headline fields must come from the newest event: %+v", g)
	}
	if g.EffectiveState != "firing" {
		t.Fatalf("expected firing, got %q", g.EffectiveState)
	}
	if !g.FirstSeen.Equal(base.Add(time.Minute)) || !g.LastSeen.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("unexpected span: %v .. %v", g.FirstSeen, g.LastSeen)
	}

	if groups[1].EffectiveState != "resolved" {
		t.Fatalf("resolved group not derived: %+v", groups[1])
	}
}

func TestDeriveGroupsManualOverride(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	events := []models.AlertEvent{
		event(1, "fp-1", "firing", "warning", base),
	}
	resolvedAt := base.Add(time.Minute)
	states := []models.AlertGroupState{{
		Identifier: "fp-1",
		Resolved:   true,
		ResolvedAt: &resolvedAt,
		UpdatedAt:  base.Add(time.Minute),
	}}

	groups := DeriveGroups(events, states)
	if groups[0].EffectiveState != "resolved" {
		t.Fatalf("manual override ignored: %+v", groups[0])
	}
	if groups[0].ResolvedAt == nil || !groups[0].ResolvedAt.Equal(resolvedAt) {
		t.Fatalf("resolved_at not taken from override: %+v", groups[0])
	}
}

func TestDeriveGroupsOverrideInvalidatedByNewerFiring(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// The override was recorded, then the alert fired again.
	events := []models.AlertEvent{
		event(2, "fp-1", "firing", "warning", base.Add(2*time.Minute)),
		event(1, "fp-1", "firing", "warning", base),
	}
	states := []models.AlertGroupState{{
		Identifier: "fp-1",
		Resolved:   true,
		UpdatedAt:  base.Add(time.Minute),
	}}

	groups := DeriveGroups(events, states)
	if groups[0].EffectiveState != "firing" {
		t.Fatalf("newer firing event must reopen the group: %+v", groups[0])
	}
}

func TestDeriveGroupsOverrideInvalidatedByNewerPending(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// Pending and alerting count as live just like firing.
	for _, status := range []string{"pending", "alerting"} {
		events := []models.AlertEvent{
			event(2, "fp-1", status, "warning", base.Add(2*time.Minute)),
			event(1, "fp-1", "firing", "warning", base),
		}
		states := []models.AlertGroupState{{
			Identifier: "fp-1",
			Resolved:   true,
			UpdatedAt:  base.Add(time.Minute),
		}}

		groups := DeriveGroups(events, states)
		if groups[0].EffectiveState != "firing" {
			t.Fatalf("newer %s event must void the override: %+v", status, groups[0])
		}
	}
}
