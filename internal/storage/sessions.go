package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Session struct {
	ID        string
	UserID    string
	Username  string
	ExpiresAt time.Time
}

var ErrSessionNotFound = errors.New("session not found")

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, user_id, username, expires_at)
		VALUES (?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Username, sess.ExpiresAt.Unix())
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, expires_at FROM sessions WHERE id = ?
	`, id)

	var sess Session
	var expires int64
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Username, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	sess.ExpiresAt = time.Unix(expires, 0)
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *Store) PurgeExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().Unix())
	return err
}
