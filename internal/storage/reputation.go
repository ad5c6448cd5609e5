package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Warning struct {
	ID        int64
	UserID    string
	Moderator string
	Reason    string
	Points    int
	CreatedAt time.Time
}

type UserReputation struct {
	UserID   string
	Points   int
	Warnings []Warning
}

type UserSummary struct {
	UserID       string
	Points       int
	WarningCount int
	Monitored    bool
}

var ErrInvalidWarning = errors.New("warning requires a reason and at least one point")

// AddWarning appends a warning and bumps the user's point total in one
// transaction, returning the new total. Points and warnings cannot drift
// apart because no caller ever writes either on its own.
func (s *Store) AddWarning(ctx context.Context, userID string, w Warning) (int, error) {
	if w.Reason == "" || w.Points < 1 {
		return 0, ErrInvalidWarning
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	if w.Moderator == "" {
		w.Moderator = "System"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO users (id, points) VALUES (?, 0)`, userID); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO warnings (user_id, moderator, reason, points, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, w.Moderator, w.Reason, w.Points, w.CreatedAt.Unix()); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE users SET points = points + ? WHERE id = ?`, w.Points, userID); err != nil {
		return 0, err
	}

	var total int
	if err = tx.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, userID).Scan(&total); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (UserReputation, error) {
	rep := UserReputation{UserID: userID}

	row := s.db.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, userID)
	if err := row.Scan(&rep.Points); err != nil {
		// Unknown users read as zero points with no history.
		rep.Points = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, moderator, reason, points, created_at
		FROM warnings
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return UserReputation{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var w Warning
		var created int64
		if err := rows.Scan(&w.ID, &w.UserID, &w.Moderator, &w.Reason, &w.Points, &created); err != nil {
			return UserReputation{}, err
		}
		w.CreatedAt = time.Unix(created, 0)
		rep.Warnings = append(rep.Warnings, w)
	}
	return rep, rows.Err()
}

// ClearPunishments zeroes the point total and drops the warning history.
// Calling it on a clean or unknown user is a no-op.
func (s *Store) ClearPunishments(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE users SET points = 0 WHERE id = ?`, userID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM warnings WHERE user_id = ?`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListUserSummaries(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.points, COUNT(w.id),
			EXISTS(SELECT 1 FROM monitored_users m WHERE m.user_id = u.id)
		FROM users u
		LEFT JOIN warnings w ON w.user_id = u.id
		GROUP BY u.id
		ORDER BY u.points DESC, u.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []UserSummary
	for rows.Next() {
		var sum UserSummary
		var monitored int
		if err := rows.Scan(&sum.UserID, &sum.Points, &sum.WarningCount, &monitored); err != nil {
			return nil, err
		}
		sum.Monitored = monitored == 1
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *Store) SetMonitored(ctx context.Context, userID, addedBy string, monitored bool) error {
	if monitored {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO monitored_users (user_id, added_by, added_at) VALUES (?, ?, ?)
		`, userID, addedBy, time.Now().Unix())
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM monitored_users WHERE user_id = ?`, userID)
	return err
}

func (s *Store) IsMonitored(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM monitored_users WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListMonitored(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM monitored_users ORDER BY added_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
