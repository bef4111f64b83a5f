package api

import (
	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/membership"
	"github.com/openctf/ctfcore/internal/util"
)

func (h *Handler) createGroup(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
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
	group, err := membership.CreateGroup(h.db, s, user.UID, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Created(c, gin.H{"gid": group.GID, "name": group.Name}, "Classroom created")
}

// listGroups returns the groups the caller's team belongs to. Hidden
// classrooms still appear to their own members.
func (h *Handler) listGroups(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	groups, err := database.GetGroupsForTeam(h.db, user.TID)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(groups))
	for _, g := range groups {
		out = append(out, gin.H{
			"gid":    g.GID,
			"name":   g.Name,
			"role":   membership.GroupRole(&g, user.TID),
			"hidden": g.Hidden,
		})
	}
	util.Success(c, out, "Classrooms retrieved")
}

func (h *Handler) getGroup(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	group, err := database.GetGroupByGID(h.db, c.Param("gid"))
	if err != nil {
		if database.IsRecordNotFound(err) {
			h.fail(c, util.Wrap(util.ErrNotFound, "classroom not found"))
		} else {
			h.fail(c, err)
		}
		return
	}

	role := membership.GroupRole(group, user.TID)
	if role == membership.RoleNone && !user.Admin {
		h.fail(c, util.Wrap(util.ErrForbidden, "you are not in this classroom"))
		return
	}

	data := gin.H{
		"gid":    group.GID,
		"name":   group.Name,
		"role":   role,
		"hidden": group.Hidden,
	}
	// The roster and settings are teacher-facing.
	if role == membership.RoleOwner || role == membership.RoleTeacher || user.Admin {
		data["owner"] = group.Owner
		data["teachers"] = group.Teachers
		data["members"] = group.Members
		data["email_filter"] = group.EmailFilter
	}
	util.Success(c, data, "Classroom retrieved")
}

func (h *Handler) patchGroup(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		EmailFilter []string `json:"email_filter"`
		Hidden      *bool    `json:"hidden"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := membership.UpdateGroupSettings(h.db, c.Param("gid"), user.TID, req.EmailFilter, req.Hidden); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Classroom updated")
}

func (h *Handler) deleteGroup(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := membership.DeleteGroup(c.Request.Context(), h.db, h.store, c.Param("gid"), user.TID); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Classroom deleted")
}

func (h *Handler) inviteGroupTeacher(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		TID string `json:"tid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := membership.InviteTeacher(h.db, c.Param("gid"), user.TID, req.TID); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Teacher invited")
}

func (h *Handler) removeGroupTeam(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		TID string `json:"tid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := membership.RemoveTeam(c.Request.Context(), h.db, h.store, c.Param("gid"), user.TID, req.TID); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Team removed")
}

// batchRegistration imports students from a multipart CSV and admits
// them to the classroom.
func (h *Handler) batchRegistration(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	gid := c.Param("gid")
	group, err := database.GetGroupByGID(h.db, gid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			h.fail(c, util.Wrap(util.ErrNotFound, "classroom not found"))
		} else {
			h.fail(c, err)
		}
		return
	}
	role := membership.GroupRole(group, user.TID)
	if role != membership.RoleOwner && role != membership.RoleTeacher && !user.Admin {
		h.fail(c, util.Wrap(util.ErrForbidden, "only classroom teachers can batch register"))
		return
	}

	file, _, err := c.Request.FormFile("csv")
	if err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "a csv file is required"))
		return
	}
	defer file.Close()

	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	results, err := membership.BatchRegister(c.Request.Context(), h.db, h.store, s, gid, file)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, results, "Batch registration processed")
}
