package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/scoring"
	"github.com/openctf/ctfcore/internal/settings"
	"github.com/openctf/ctfcore/internal/util"
)

// getStatus is the unauthenticated liveness and phase probe.
func (h *Handler) getStatus(c *gin.Context) {
	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}

	var stats scoring.RegistrationStats
	_, _ = h.store.GetJSON(c.Request.Context(), cache.RegistrationStatsKey(), &stats)

	util.Success(c, gin.H{
		"competition_name":    s.CompetitionName,
		"competition_active":  settings.CompetitionActive(s),
		"competition_started": settings.CompetitionStarted(s),
		"start_time":          s.StartTime,
		"end_time":            s.EndTime,
		"time":                time.Now(),
		"registered_users":    stats.Users,
		"registered_teams":    stats.Teams,
		"email_verification":  s.EmailVerification,
		"max_team_size":       s.MaxTeamSize,
	}, "Status retrieved")
}
