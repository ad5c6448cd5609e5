package storage

import (
	"context"
	"errors"
)

type EscalationRule struct {
	ID              int64
	Name            string
	Threshold       int
	Action          string
	DurationMinutes int
}

type WarnPreset struct {
	ID     int64
	Name   string
	Points int
}

var ErrInvalidRule = errors.New("escalation rule requires threshold >= 1 and action mute, kick, or ban")

func (s *Store) ListEscalationRules(ctx context.Context) ([]EscalationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, threshold, action, duration_minutes
		FROM escalation_rules
		ORDER BY threshold
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []EscalationRule
	for rows.Next() {
		var rule EscalationRule
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Threshold, &rule.Action, &rule.DurationMinutes); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) AddEscalationRule(ctx context.Context, rule EscalationRule) (int64, error) {
	if rule.Threshold < 1 {
		return 0, ErrInvalidRule
	}
	switch rule.Action {
	case "mute", "kick", "ban":
	default:
		return 0, ErrInvalidRule
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_rules (name, threshold, action, duration_minutes)
		VALUES (?, ?, ?, ?)
	`, rule.Name, rule.Threshold, rule.Action, rule.DurationMinutes)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) DeleteEscalationRule(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM escalation_rules WHERE id = ?`, id)
	return err
}

func (s *Store) ListWarnPresets(ctx context.Context) ([]WarnPreset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, points FROM warn_presets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presets []WarnPreset
	for rows.Next() {
		var preset WarnPreset
		if err := rows.Scan(&preset.ID, &preset.Name, &preset.Points); err != nil {
			return nil, err
		}
		presets = append(presets, preset)
	}
	return presets, rows.Err()
}

func (s *Store) AddWarnPreset(ctx context.Context, name string, points int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO warn_presets (name, points) VALUES (?, ?)`, name, points)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) DeleteWarnPreset(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM warn_presets WHERE id = ?`, id)
	return err
}
