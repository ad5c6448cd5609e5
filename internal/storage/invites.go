package storage

import "context"

// Invite aliases are dashboard-assigned labels for invite codes, so a
// moderator sees "Partner Server" instead of "aBcD3f".

func (s *Store) SetInviteAlias(ctx context.Context, code, alias string) error {
	if alias == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM invite_aliases WHERE code = ?`, code)
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO invite_aliases (code, alias) VALUES (?, ?)`, code, alias)
	return err
}

func (s *Store) ListInviteAliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, alias FROM invite_aliases`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aliases := make(map[string]string)
	for rows.Next() {
		var code, alias string
		if err := rows.Scan(&code, &alias); err != nil {
			return nil, err
		}
		aliases[code] = alias
	}
	return aliases, rows.Err()
}
