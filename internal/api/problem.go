package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/assign"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/catalog"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/settings"
	"github.com/openctf/ctfcore/internal/submission"
	"github.com/openctf/ctfcore/internal/util"
)

// unlockedTTL bounds staleness of the memoized unlock set; solves
// invalidate it eagerly.
const unlockedTTL = 2 * time.Minute

func (h *Handler) unlockedSet(c *gin.Context, tid string) (map[string]bool, error) {
	return cache.Memoize(c.Request.Context(), h.store, cache.UnlockedKey(tid), unlockedTTL, false,
		func() (map[string]bool, error) {
			return catalog.UnlockedPIDs(h.db, tid)
		})
}

// problemView renders one problem for players, including the team's
// assigned instance when one is bound.
func (h *Handler) problemView(c *gin.Context, s *models.Settings, p *models.Problem, tid string, solves int64, solved bool) gin.H {
	view := gin.H{
		"pid":             p.PID,
		"name":            p.Name,
		"sanitized_name":  p.SanitizedName,
		"category":        p.Category,
		"score":           p.Score,
		"author":          p.Author,
		"organization":    p.Organization,
		"description":     p.Description,
		"hints":           p.Hints,
		"has_walkthrough": p.HasWalkthrough,
		"solves":          solves,
		"solved":          solved,
	}

	instance, err := assign.Instance(h.db, s.Shard, p.PID, tid)
	if err == nil {
		view["instance"] = gin.H{
			"iid":         instance.IID,
			"kind":        instance.Kind,
			"description": instance.Description,
			"hints":       instance.Hints,
			"server":      instance.Server,
			"port":        instance.Port,
			"files":       instance.Files,
			"port_info":   instance.PortMap,
		}
	}
	return view
}

func (h *Handler) listProblems(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	if !user.Admin && !settings.CompetitionStarted(s) {
		h.fail(c, util.Wrap(util.ErrState, "the competition has not started"))
		return
	}

	problems, err := database.GetAllProblems(h.db)
	if err != nil {
		h.fail(c, err)
		return
	}
	unlocked, err := h.unlockedSet(c, user.TID)
	if err != nil {
		h.fail(c, err)
		return
	}

	unlockedOnly := c.Query("unlocked_only") != "false"
	solvedOnly := c.Query("solved_only") == "true"
	countOnly := c.Query("count_only") == "true"
	category := c.Query("category")
	includeDisabled := user.Admin && c.Query("include_disabled") == "true"

	count := 0
	views := make([]gin.H, 0, len(problems))
	for i := range problems {
		p := &problems[i]
		if p.Disabled && !includeDisabled {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		if unlockedOnly && !unlocked[p.PID] && !includeDisabled {
			continue
		}
		solved, err := database.HasTeamSolved(h.db, user.TID, p.PID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if solvedOnly && !solved {
			continue
		}
		count++
		if countOnly {
			continue
		}

		var solves int64
		if hit, err := h.store.GetJSON(c.Request.Context(), cache.SolveCountKey(p.PID), &solves); err != nil || !hit {
			solves, _ = database.CountSolves(h.db, p.PID)
		}
		views = append(views, h.problemView(c, s, p, user.TID, solves, solved))
	}

	if countOnly {
		util.Success(c, gin.H{"count": count}, "Problem count retrieved")
		return
	}
	util.Success(c, views, "Problems retrieved")
}

func (h *Handler) submitFlag(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		PID    string `json:"pid" binding:"required"`
		Key    string `json:"key" binding:"required"`
		Method string `json:"method"`
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
	if !settings.CompetitionActive(s) && !user.Admin {
		h.fail(c, util.Wrap(util.ErrState, "the competition is not active"))
		return
	}

	result, err := submission.Submit(c.Request.Context(), h.db, h.store, s, submission.Request{
		UID:    user.UID,
		TID:    user.TID,
		PID:    req.PID,
		Key:    req.Key,
		Method: req.Method,
		IP:     c.ClientIP(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, result, result.Message())
}

// clearSubmissions wipes the submission log; only meaningful on debug
// deployments, and refused everywhere else.
func (h *Handler) clearSubmissions(c *gin.Context) {
	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	if !s.DebugMode {
		h.fail(c, util.Wrap(util.ErrForbidden, "only available in debug mode"))
		return
	}
	if err := database.ClearSubmissions(h.db); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Submissions cleared")
}

// getWalkthrough returns the walkthrough body when the caller's team
// solved the problem or the caller purchased access.
func (h *Handler) getWalkthrough(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	pid := c.Param("pid")
	problem, err := database.GetProblemByPID(h.db, pid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			h.fail(c, util.Wrap(util.ErrNotFound, "unknown problem"))
		} else {
			h.fail(c, err)
		}
		return
	}
	if !problem.HasWalkthrough {
		h.fail(c, util.Wrap(util.ErrNotFound, "problem has no walkthrough"))
		return
	}
	ok, err := catalog.WalkthroughUnlocked(h.db, user, pid)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, util.Wrap(util.ErrForbidden, "walkthrough is locked"))
		return
	}
	util.Success(c, gin.H{"walkthrough": problem.Walkthrough}, "Walkthrough retrieved")
}

func (h *Handler) purchaseWalkthrough(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := catalog.PurchaseWalkthrough(h.db, user.UID, c.Param("pid")); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, gin.H{"cost": catalog.WalkthroughCost}, "Walkthrough unlocked")
}

// reassignInstance redraws the caller's instance binding for a problem.
func (h *Handler) reassignInstance(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	instance, err := assign.Reassign(h.db, s.Shard, c.Param("pid"), user.TID)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, gin.H{
		"iid":    instance.IID,
		"server": instance.Server,
		"port":   instance.Port,
	}, "Instance reassigned")
}

func parseLimit(c *gin.Context, def, max int) int {
	limit := def
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
