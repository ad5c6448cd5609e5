package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var settingKeys = map[string]bool{
	"logChannelId":          true,
	"modLogChannelId":       true,
	"verificationChannelId": true,
	"roleUnverified":        true,
	"roleVerified":          true,
	"autoMuteThreshold":     true,
	"autoMuteDuration":      true,
	"aiEnabled":             true,
	"aiThreshold":           true,
	"aiAction":              true,
	"aiPingUser":            true,
	"aiPrompt":              true,
	"aiRules":               true,
}

type settingsDTO struct {
	LogChannelID          string `json:"logChannelId"`
	ModLogChannelID       string `json:"modLogChannelId"`
	VerificationChannelID string `json:"verificationChannelId"`
	RoleUnverified        string `json:"roleUnverified"`
	RoleVerified          string `json:"roleVerified"`
	AutoMuteThreshold     int    `json:"autoMuteThreshold"`
	AutoMuteDuration      int    `json:"autoMuteDuration"`
	AIEnabled             bool   `json:"aiEnabled"`
	AIThreshold           int    `json:"aiThreshold"`
	AIAction              string `json:"aiAction"`
	AIPingUser            bool   `json:"aiPingUser"`
	AIPrompt              string `json:"aiPrompt"`
	AIRules               string `json:"aiRules"`
}

func toDTO(s storage.AppSettings) settingsDTO {
	return settingsDTO{
		LogChannelID:          s.LogChannelID,
		ModLogChannelID:       s.ModLogChannelID,
		VerificationChannelID: s.VerificationChannelID,
		RoleUnverified:        s.RoleUnverified,
		RoleVerified:          s.RoleVerified,
		AutoMuteThreshold:     s.AutoMuteThreshold,
		AutoMuteDuration:      s.AutoMuteDuration,
		AIEnabled:             s.AIEnabled,
		AIThreshold:           s.AIThreshold,
		AIAction:              s.AIAction,
		AIPingUser:            s.AIPingUser,
		AIPrompt:              s.AIPrompt,
		AIRules:               s.AIRules,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.AppSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(settings))
}

// handleUpdateSettings accepts a partial key/value map. Unknown keys are
// rejected; values are stored raw and re-read through the typed parser so
// the response reflects what the bot will actually use.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var incoming map[string]string
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	for key := range incoming {
		if !settingKeys[key] {
			writeError(w, http.StatusBadRequest, "unknown setting: "+key)
			return
		}
	}
	for key, value := range incoming {
		if err := s.store.SetSetting(r.Context(), key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "settings update failed")
			return
		}
	}

	sess, _ := SessionFromContext(r.Context())
	s.audit.Log(r.Context(), audit.LevelInfo, sess.UserID, "settings_update", "dashboard settings changed")

	settings, err := s.store.AppSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(settings))
}

type escalationDTO struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Threshold       int    `json:"threshold"`
	Action          string `json:"action"`
	DurationMinutes int    `json:"durationMinutes"`
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListEscalationRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rules unavailable")
		return
	}
	out := make([]escalationDTO, 0, len(rules))
	for _, rule := range rules {
		out = append(out, escalationDTO{
			ID:              rule.ID,
			Name:            rule.Name,
			Threshold:       rule.Threshold,
			Action:          rule.Action,
			DurationMinutes: rule.DurationMinutes,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateEscalation(w http.ResponseWriter, r *http.Request) {
	var body escalationDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.store.AddEscalationRule(r.Context(), storage.EscalationRule{
		Name:            body.Name,
		Threshold:       body.Threshold,
		Action:          body.Action,
		DurationMinutes: body.DurationMinutes,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRule) {
			writeError(w, http.StatusBadRequest, "threshold must be >= 1 and action one of mute, kick, ban")
			return
		}
		writeError(w, http.StatusInternalServerError, "rule create failed")
		return
	}

	body.ID = id
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleDeleteEscalation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteEscalationRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "rule delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type presetDTO struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.store.ListWarnPresets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "presets unavailable")
		return
	}
	out := make([]presetDTO, 0, len(presets))
	for _, preset := range presets {
		out = append(out, presetDTO{ID: preset.ID, Name: preset.Name, Points: preset.Points})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var body presetDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Name == "" || body.Points < 1 {
		writeError(w, http.StatusBadRequest, "name and positive points required")
		return
	}

	id, err := s.store.AddWarnPreset(r.Context(), body.Name, body.Points)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "preset create failed")
		return
	}
	body.ID = id
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteWarnPreset(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "preset delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type userSummaryDTO struct {
	UserID       string `json:"userId"`
	Points       int    `json:"points"`
	WarningCount int    `json:"warningCount"`
	Monitored    bool   `json:"monitored"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListUserSummaries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "users unavailable")
		return
	}
	out := make([]userSummaryDTO, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, userSummaryDTO{
			UserID:       summary.UserID,
			Points:       summary.Points,
			WarningCount: summary.WarningCount,
			Monitored:    summary.Monitored,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type warningDTO struct {
	ID        int64  `json:"id"`
	Moderator string `json:"moderator"`
	Reason    string `json:"reason"`
	Points    int    `json:"points"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	rep, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "user lookup failed")
		return
	}
	monitored, _ := s.store.IsMonitored(r.Context(), userID)

	warnings := make([]warningDTO, 0, len(rep.Warnings))
	for _, warning := range rep.Warnings {
		warnings = append(warnings, warningDTO{
			ID:        warning.ID,
			Moderator: warning.Moderator,
			Reason:    warning.Reason,
			Points:    warning.Points,
			CreatedAt: warning.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    rep.UserID,
		"points":    rep.Points,
		"monitored": monitored,
		"warnings":  warnings,
	})
}

func (s *Server) handleClearUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := s.store.ClearPunishments(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	if s.escalate != nil {
		s.escalate.Reset(userID)
	}

	sess, _ := SessionFromContext(r.Context())
	s.audit.Log(r.Context(), audit.LevelInfo, userID, "clear", "moderator="+sess.UserID+" via=dashboard")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMonitored(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	sess, _ := SessionFromContext(r.Context())
	if err := s.store.SetMonitored(r.Context(), userID, sess.UserID, true); err != nil {
		writeError(w, http.StatusInternalServerError, "watch list update failed")
		return
	}
	s.audit.Log(r.Context(), audit.LevelInfo, userID, "monitor_add", "moderator="+sess.UserID+" via=dashboard")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMonitored(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	sess, _ := SessionFromContext(r.Context())
	if err := s.store.SetMonitored(r.Context(), userID, sess.UserID, false); err != nil {
		writeError(w, http.StatusInternalServerError, "watch list update failed")
		return
	}
	s.audit.Log(r.Context(), audit.LevelInfo, userID, "monitor_remove", "moderator="+sess.UserID+" via=dashboard")
	w.WriteHeader(http.StatusNoContent)
}

type auditLogDTO struct {
	ID        int64  `json:"id"`
	UserID    string `json:"userId"`
	Level     string `json:"level"`
	Event     string `json:"event"`
	Details   string `json:"details"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	logs, err := s.store.ListAuditLogs(r.Context(), since, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "logs unavailable")
		return
	}
	out := make([]auditLogDTO, 0, len(logs))
	for _, log := range logs {
		out = append(out, auditLogDTO{
			ID:        log.ID,
			UserID:    log.UserID,
			Level:     log.Level,
			Event:     log.Event,
			Details:   log.Details,
			CreatedAt: log.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-7 * 24 * time.Hour)
	report, err := s.analytics.Report(r.Context(), since)
	if err != nil {
		s.logger.Warn("stats report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
