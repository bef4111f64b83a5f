package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/scoring"
	"github.com/openctf/ctfcore/internal/util"
)

func (h *Handler) listScoreboards(c *gin.Context) {
	boards, err := database.GetAllScoreboards(h.db)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(boards))
	for _, b := range boards {
		out = append(out, gin.H{
			"sid":      b.SID,
			"name":     b.Name,
			"priority": b.Priority,
			"sponsor":  b.Sponsor,
			"logo":     b.Logo,
		})
	}
	util.Success(c, out, "Scoreboards retrieved")
}

// boardKey resolves a board path parameter: a scoreboard sid, or a
// group board as group:<gid> for classroom views.
func (h *Handler) boardKey(c *gin.Context, sid string) (string, error) {
	if gid, ok := cutPrefix(sid, "group:"); ok {
		group, err := database.GetGroupByGID(h.db, gid)
		if err != nil {
			if database.IsRecordNotFound(err) {
				return "", util.Wrap(util.ErrNotFound, "classroom not found")
			}
			return "", err
		}
		// Hidden classrooms have no leaderboard.
		if group.Hidden {
			return "", util.Wrap(util.ErrForbidden, "this classroom's scoreboard is hidden")
		}
		return cache.GroupBoardKey(group.GID), nil
	}

	if _, err := database.GetScoreboardBySID(h.db, sid); err != nil {
		if database.IsRecordNotFound(err) {
			return "", util.Wrap(util.ErrNotFound, "scoreboard not found")
		}
		return "", err
	}
	return cache.ScoreboardKey(sid), nil
}

func (h *Handler) getScoreboardPage(c *gin.Context) {
	key, err := h.boardKey(c, c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}

	if prefix := c.Query("search"); prefix != "" {
		rows, err := scoring.Search(c.Request.Context(), h.store, key, prefix)
		if err != nil {
			h.fail(c, err)
			return
		}
		util.Success(c, gin.H{"scoreboard": rows}, "Scoreboard search results")
		return
	}

	page := 0
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	rows, current, pages, err := scoring.Page(c.Request.Context(), h.store, key, page, c.GetString(ctxTID))
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, gin.H{
		"scoreboard":   rows,
		"current_page": current,
		"total_pages":  pages,
	}, "Scoreboard page retrieved")
}

func (h *Handler) getScoreProgressions(c *gin.Context) {
	key, err := h.boardKey(c, c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	limit := parseLimit(c, scoring.TopProgressionLimit, 25)
	progressions, err := scoring.TopProgressions(c.Request.Context(), h.db, h.store, key, limit, false)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, progressions, "Score progressions retrieved")
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return s, false
}
