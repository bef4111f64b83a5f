package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/assign"
	"github.com/openctf/ctfcore/internal/catalog"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/settings"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
)

func (h *Handler) getSettings(c *gin.Context) {
	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, s, "Settings retrieved")
}

func (h *Handler) patchSettings(c *gin.Context) {
	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}
	prevShard := s.Shard

	if err := c.ShouldBindJSON(s); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := settings.Update(h.db, s); err != nil {
		h.fail(c, err)
		return
	}

	// A sharding change re-spreads existing teams by insertion order.
	if shardChanged(prevShard, s.Shard) {
		if err := assign.ReassignServerNumbers(h.db, s.Shard); err != nil {
			h.fail(c, err)
			return
		}
		zap.S().Info("sharding settings changed; reassigned team server numbers")
	}
	util.Success(c, s, "Settings updated")
}

func shardChanged(a, b models.ShardConfig) bool {
	if a.Enable != b.Enable || a.DefaultStepping != b.DefaultStepping || a.LimitAddedRange != b.LimitAddedRange {
		return true
	}
	if len(a.Steps) != len(b.Steps) {
		return true
	}
	for i := range a.Steps {
		if a.Steps[i] != b.Steps[i] {
			return true
		}
	}
	return false
}

// Shell servers

func (h *Handler) createShellServer(c *gin.Context) {
	var req struct {
		Name         string          `json:"name" binding:"required"`
		Host         string          `json:"host" binding:"required"`
		Port         int             `json:"port" binding:"required"`
		Username     string          `json:"username"`
		Password     string          `json:"password"`
		Protocol     models.Protocol `json:"protocol"`
		ServerNumber int             `json:"server_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if req.Protocol == "" {
		req.Protocol = models.ProtocolHTTPS
	}

	server := models.ShellServer{
		SID:          uuid.NewString(),
		Name:         req.Name,
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		Password:     req.Password,
		Protocol:     req.Protocol,
		ServerNumber: req.ServerNumber,
	}
	if err := database.CreateShellServer(h.db, &server); err != nil {
		h.fail(c, util.Wrap(util.ErrConflict, "shell server conflicts with an existing one"))
		return
	}
	util.Created(c, gin.H{"sid": server.SID}, "Shell server added")
}

func (h *Handler) listShellServers(c *gin.Context) {
	servers, err := database.GetAllShellServers(h.db)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(servers))
	for i := range servers {
		status := h.shell.CheckStatus(c.Request.Context(), &servers[i])
		out = append(out, gin.H{
			"sid":           servers[i].SID,
			"name":          servers[i].Name,
			"host":          servers[i].Host,
			"port":          servers[i].Port,
			"protocol":      servers[i].Protocol,
			"server_number": servers[i].ServerNumber,
			"online":        status.Online,
			"problem_count": status.ProblemCount,
		})
	}
	util.Success(c, out, "Shell servers retrieved")
}

func (h *Handler) deleteShellServer(c *gin.Context) {
	if err := database.DeleteShellServer(h.db, c.Param("sid")); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Shell server removed")
}

// loadProblems ingests a publish manifest for a shell server. The body
// may carry the manifest directly (push from the deploy pipeline); an
// empty body makes the core pull it from the server instead.
func (h *Handler) loadProblems(c *gin.Context) {
	sid := c.Param("sid")
	server, err := database.GetShellServerBySID(h.db, sid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			h.fail(c, util.Wrap(util.ErrNotFound, "unknown shell server"))
		} else {
			h.fail(c, err)
		}
		return
	}

	var manifest *catalog.Manifest
	if c.Request.ContentLength > 0 {
		var pushed catalog.Manifest
		if err := c.ShouldBindJSON(&pushed); err != nil {
			h.fail(c, util.Wrap(util.ErrValidation, "malformed manifest: %v", err))
			return
		}
		pushed.SID = sid
		manifest = &pushed
	} else {
		manifest, err = h.shell.FetchPublished(c.Request.Context(), server)
		if err != nil {
			h.fail(c, err)
			return
		}
	}

	if err := catalog.Ingest(h.db, manifest); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, gin.H{
		"problems": len(manifest.Problems),
		"bundles":  len(manifest.Bundles),
	}, "Problems loaded")
}

// Catalog administration

func (h *Handler) setProblemDisabled(c *gin.Context) {
	var req struct {
		Disabled *bool `json:"disabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := catalog.SetProblemDisabled(h.db, c.Param("pid"), *req.Disabled); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Problem updated")
}

func (h *Handler) setBundleDependencies(c *gin.Context) {
	var req struct {
		DependenciesEnabled *bool `json:"dependencies_enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := catalog.SetBundleDependenciesEnabled(h.db, c.Param("bid"), *req.DependenciesEnabled); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Bundle updated")
}

func (h *Handler) listBundles(c *gin.Context) {
	bundles, err := database.GetAllBundles(h.db)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, bundles, "Bundles retrieved")
}

// Scoreboard administration

func (h *Handler) createScoreboard(c *gin.Context) {
	var req struct {
		Name                  string         `json:"name" binding:"required"`
		EligibilityConditions models.JSONMap `json:"eligibility_conditions"`
		Priority              int            `json:"priority"`
		Sponsor               string         `json:"sponsor"`
		Logo                  string         `json:"logo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if req.EligibilityConditions == nil {
		req.EligibilityConditions = models.JSONMap{}
	}
	board := models.Scoreboard{
		SID:                   uuid.NewString(),
		Name:                  req.Name,
		EligibilityConditions: req.EligibilityConditions,
		Priority:              req.Priority,
		Sponsor:               req.Sponsor,
		Logo:                  req.Logo,
	}
	if err := database.CreateScoreboard(h.db, &board); err != nil {
		h.fail(c, util.Wrap(util.ErrConflict, "a scoreboard with that name exists"))
		return
	}
	util.Created(c, gin.H{"sid": board.SID}, "Scoreboard created")
}

// Exception triage

func (h *Handler) listExceptions(c *gin.Context) {
	excs, err := database.GetVisibleExceptions(h.db, parseLimit(c, 50, 500))
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, excs, "Exceptions retrieved")
}

func (h *Handler) dismissException(c *gin.Context) {
	if err := database.DismissException(h.db, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Exception dismissed")
}
