package storage

import (
	"context"
	"strconv"
	"strings"
)

// AppSettings is the typed view of the loosely-typed settings table. Values
// arrive from the dashboard as strings ("true", "60"); they are coerced and
// defaulted here, once, instead of at every read site.
type AppSettings struct {
	LogChannelID          string
	ModLogChannelID       string
	VerificationChannelID string
	RoleUnverified        string
	RoleVerified          string
	AutoMuteThreshold     int
	AutoMuteDuration      int
	AIEnabled             bool
	AIThreshold           int
	AIAction              string
	AIPingUser            bool
	AIPrompt              string
	AIRules               string
}

func DefaultAppSettings() AppSettings {
	return AppSettings{
		RoleUnverified:    "Unverified",
		RoleVerified:      "Verified",
		AutoMuteThreshold: 20,
		AutoMuteDuration:  60,
		AIEnabled:         true,
		AIThreshold:       60,
		AIAction:          "log",
		AIPingUser:        true,
	}
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}

func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// AppSettings reads the settings table and parses it into the typed struct.
// Missing or malformed values fall back to defaults.
func (s *Store) AppSettings(ctx context.Context) (AppSettings, error) {
	raw, err := s.AllSettings(ctx)
	if err != nil {
		return DefaultAppSettings(), err
	}
	return ParseAppSettings(raw), nil
}

func ParseAppSettings(raw map[string]string) AppSettings {
	out := DefaultAppSettings()

	out.LogChannelID = stringSetting(raw, "logChannelId", out.LogChannelID)
	out.ModLogChannelID = stringSetting(raw, "modLogChannelId", out.ModLogChannelID)
	out.VerificationChannelID = stringSetting(raw, "verificationChannelId", out.VerificationChannelID)
	out.RoleUnverified = stringSetting(raw, "roleUnverified", out.RoleUnverified)
	out.RoleVerified = stringSetting(raw, "roleVerified", out.RoleVerified)
	out.AutoMuteThreshold = intSetting(raw, "autoMuteThreshold", out.AutoMuteThreshold, 0, 100000)
	out.AutoMuteDuration = intSetting(raw, "autoMuteDuration", out.AutoMuteDuration, 1, 40320)
	out.AIEnabled = boolSetting(raw, "aiEnabled", out.AIEnabled)
	out.AIThreshold = intSetting(raw, "aiThreshold", out.AIThreshold, 0, 100)
	out.AIPingUser = boolSetting(raw, "aiPingUser", out.AIPingUser)
	out.AIPrompt = stringSetting(raw, "aiPrompt", out.AIPrompt)
	out.AIRules = stringSetting(raw, "aiRules", out.AIRules)

	switch strings.ToLower(stringSetting(raw, "aiAction", out.AIAction)) {
	case "delete":
		out.AIAction = "delete"
	default:
		out.AIAction = "log"
	}

	return out
}

func stringSetting(raw map[string]string, key, fallback string) string {
	if value, ok := raw[key]; ok && value != "" {
		return value
	}
	return fallback
}

func intSetting(raw map[string]string, key string, fallback, minimum, maximum int) int {
	value, ok := raw[key]
	if !ok || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < minimum || parsed > maximum {
		return fallback
	}
	return parsed
}

func boolSetting(raw map[string]string, key string, fallback bool) bool {
	value, ok := raw[key]
	if !ok || value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}
