package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"guardian/internal/modules/audit"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Invite is the dashboard's view of a live guild invite.
type Invite struct {
	Code        string
	Uses        int
	MaxUses     int
	InviterID   string
	InviterName string
	CreatedAt   time.Time
}

// InviteSource lists the guild's current invites. The bot implements this
// over the gateway session; the API itself holds no Discord connection.
type InviteSource interface {
	ListInvites(ctx context.Context) ([]Invite, error)
}

const aliasMaxLen = 100

type inviteDTO struct {
	Code        string `json:"code"`
	Uses        int    `json:"uses"`
	MaxUses     int    `json:"maxUses"`
	InviterID   string `json:"inviterId"`
	InviterName string `json:"inviterName"`
	Alias       string `json:"alias,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	if s.invites == nil {
		writeError(w, http.StatusServiceUnavailable, "invite tracking unavailable")
		return
	}

	invites, err := s.invites.ListInvites(r.Context())
	if err != nil {
		s.logger.Warn("invite fetch failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "invite fetch failed")
		return
	}
	aliases, err := s.store.ListInviteAliases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "aliases unavailable")
		return
	}

	out := make([]inviteDTO, 0, len(invites))
	for _, invite := range invites {
		out = append(out, inviteDTO{
			Code:        invite.Code,
			Uses:        invite.Uses,
			MaxUses:     invite.MaxUses,
			InviterID:   invite.InviterID,
			InviterName: invite.InviterName,
			Alias:       aliases[invite.Code],
			CreatedAt:   invite.CreatedAt.Format(time.RFC3339),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Uses > out[j].Uses })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetInviteAlias(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var body struct {
		Alias string `json:"alias"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Alias) > aliasMaxLen {
		writeError(w, http.StatusBadRequest, "alias too long")
		return
	}

	if err := s.store.SetInviteAlias(r.Context(), code, body.Alias); err != nil {
		writeError(w, http.StatusInternalServerError, "alias update failed")
		return
	}

	sess, _ := SessionFromContext(r.Context())
	s.audit.Log(r.Context(), audit.LevelInfo, sess.UserID, "invite_alias",
		"code="+code+" alias="+body.Alias)
	w.WriteHeader(http.StatusNoContent)
}
