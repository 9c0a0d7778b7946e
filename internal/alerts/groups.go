package alerts

import (
	"context"
	"sort"

	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Groups derives the current alert group views from the stored event
// history plus manual resolution overrides.
func (s *Service) Groups(ctx context.Context, limit int) ([]models.AlertGroup, error) {
	events, err := s.store.ListAlertEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	states, err := s.store.ListAlertGroupStates(ctx)
	if err != nil {
		return nil, err
	}
	return DeriveGroups(events, states), nil
}

// activeStatus reports whether an event status counts as the alert being
// live, which voids a manual resolution recorded before it.
func activeStatus(s string) bool {
	return s == "firing" || s == "alerting" || s == "pending"
}

// DeriveGroups folds events (newest first) into one group per identifier
// and applies manual overrides. A manual "resolved" only holds until a
// newer firing, alerting or pending event arrives; that event reopens
// the group.
func DeriveGroups(events []models.AlertEvent, states []models.AlertGroupState) []models.AlertGroup {
	overrides := make(map[string]models.AlertGroupState, len(states))
	for _, st := range states {
		overrides[st.Identifier] = st
	}

	order := []string{}
	groups := map[string]*models.AlertGroup{}
	lastFiring := map[string]models.AlertEvent{}
	lastActive := map[string]models.AlertEvent{}

	for _, ev := range events {
		id := Identifier(deref(ev.Fingerprint), deref(ev.AlertName), deref(ev.StreamName), deref(ev.Severity))

		g, ok := groups[id]
		if !ok {
			// First (newest) event fixes the group's headline fields.
			g = &models.AlertGroup{
				Identifier:     id,
				AlertName:      ev.AlertName,
				StreamName:     ev.StreamName,
				LatestStatus:   deref(ev.AlertStatus),
				LatestSeverity: deref(ev.Severity),
				FirstSeen:      ev.ReceivedAt,
				LastSeen:       ev.ReceivedAt,
			}
			groups[id] = g
			order = append(order, id)
		}
		g.EventCount++
		if ev.ReceivedAt.Before(g.FirstSeen) {
			g.FirstSeen = ev.ReceivedAt
		}
		if ev.ReceivedAt.After(g.LastSeen) {
			g.LastSeen = ev.ReceivedAt
		}
		status := deref(ev.AlertStatus)
		if status == "firing" {
			if cur, ok := lastFiring[id]; !ok || ev.ReceivedAt.After(cur.ReceivedAt) {
				lastFiring[id] = ev
			}
		}
		if activeStatus(status) {
			if cur, ok := lastActive[id]; !ok || ev.ReceivedAt.After(cur.ReceivedAt) {
				lastActive[id] = ev
			}
		}
	}

	out := make([]models.AlertGroup, 0, len(order))
	for _, id := range order {
		g := groups[id]

		switch {
		case g.LatestStatus == "resolved":
			g.EffectiveState = "resolved"
			if ev, ok := lastFiring[id]; ok && ev.EndsAt != nil {
				g.ResolvedAt = ev.EndsAt
			}
		default:
			g.EffectiveState = "firing"
			if st, ok := overrides[id]; ok && st.Resolved {
				fresh, hasActive := lastActive[id]
				if !hasActive || !fresh.ReceivedAt.After(st.UpdatedAt) {
					g.EffectiveState = "resolved"
					g.ResolvedAt = st.ResolvedAt
				}
			}
		}
		out = append(out, *g)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}
