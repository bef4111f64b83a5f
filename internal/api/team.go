package api

import (
	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/membership"
	"github.com/openctf/ctfcore/internal/scoring"
	"github.com/openctf/ctfcore/internal/util"
)

func (h *Handler) createTeam(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		TeamName string `json:"team_name" binding:"required"`
		Password string `json:"team_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}

	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	team, err := membership.CreateTeam(c.Request.Context(), h.db, h.store, s, user.UID, req.TeamName, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Created(c, gin.H{"tid": team.TID, "team_name": team.TeamName}, "Team created")
}

func (h *Handler) joinTeam(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		TeamName string `json:"team_name" binding:"required"`
		Password string `json:"team_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}

	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := membership.JoinTeam(c.Request.Context(), h.db, h.store, s, user.UID, req.TeamName, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Joined team")
}

func (h *Handler) joinGroup(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		GID string `json:"gid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := membership.JoinGroup(c.Request.Context(), h.db, h.store, req.GID, user.TID); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Joined classroom")
}

func (h *Handler) getTeam(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	team, err := database.GetTeamByTID(h.db, user.TID)
	if err != nil {
		h.fail(c, err)
		return
	}
	members, err := database.GetTeamMembers(h.db, user.TID)
	if err != nil {
		h.fail(c, err)
		return
	}
	names := make([]gin.H, 0, len(members))
	for _, m := range members {
		names = append(names, gin.H{
			"uid":      m.UID,
			"username": m.Username,
			"usertype": m.Usertype,
		})
	}
	util.Success(c, gin.H{
		"tid":           team.TID,
		"team_name":     team.TeamName,
		"affiliation":   team.Affiliation,
		"size":          team.Size,
		"self_team":     team.SelfTeam,
		"server_number": team.ServerNumber,
		"eligibilities": team.Eligibilities,
		"members":       names,
	}, "Team retrieved")
}

func (h *Handler) teamScore(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	score, err := scoring.TeamScore(c.Request.Context(), h.db, h.store, user.TID, false)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, gin.H{"score": int(score)}, "Score retrieved")
}

func (h *Handler) teamScoreProgression(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	points, err := scoring.TeamScoreProgression(c.Request.Context(), h.db, h.store, user.TID, c.Query("category"))
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, points, "Score progression retrieved")
}

func (h *Handler) updateTeamPassword(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		Password string `json:"team_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := membership.UpdateTeamPassword(h.db, user.TID, req.Password); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Team password updated")
}

// removeTeamMember disables a teammate's account; admins may target
// any user. This is the only membership-shrinking operation.
func (h *Handler) removeTeamMember(c *gin.Context) {
	actor, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	uid := c.Param("uid")

	target, err := database.GetUserByUID(h.db, uid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			h.fail(c, util.Wrap(util.ErrNotFound, "user not found"))
		} else {
			h.fail(c, err)
		}
		return
	}
	if !actor.Admin && (target.TID != actor.TID || target.UID != actor.UID) {
		h.fail(c, util.Wrap(util.ErrForbidden, "you can only remove your own account"))
		return
	}
	if err := membership.DisableUser(c.Request.Context(), h.db, h.store, target.UID); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Member removed")
}
