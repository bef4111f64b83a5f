package api

import (
	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/config"
	"github.com/openctf/ctfcore/internal/shell"
	"gorm.io/gorm"
)

// NewRouter creates and configures the Gin engine.
func NewRouter(cfg *config.Config, db *gorm.DB, store cache.Store, shellClient *shell.Client) *gin.Engine {
	r := gin.Default()

	r.Use(CORSMiddleware(cfg.CORS))
	r.Use(SessionMiddleware(db, cfg.Session.Secret))
	r.Use(CSRFMiddleware())

	h := NewHandler(cfg, db, store, shellClient)

	v1 := r.Group("/api/v1")
	{
		// Public
		v1.GET("/status", h.getStatus)
		v1.POST("/users", h.register)
		v1.POST("/user/login", h.login)
		v1.POST("/user/logout", h.logout)
		v1.GET("/user/verify", h.verifyEmail)
		v1.POST("/user/reset_password/request", h.requestPasswordReset)
		v1.POST("/user/reset_password", h.resetPassword)
		v1.GET("/user/authorize/:role", h.authorize)

		v1.GET("/scoreboards", h.listScoreboards)
		v1.GET("/scoreboards/:sid/scoreboard", h.getScoreboardPage)
		v1.GET("/scoreboards/:sid/score_progressions", h.getScoreProgressions)
		v1.GET("/ws/scoreboards/:sid/live", h.handleScoreboardWs)

		// Authenticated
		authed := v1.Group("/")
		authed.Use(RequireAuth())
		{
			authed.GET("/user", h.getUser)
			authed.PATCH("/user", h.patchUser)
			authed.POST("/user/update_password", h.updatePassword)
			authed.POST("/user/disable_account", h.disableAccount)
			authed.POST("/user/complete_minigame", h.completeMinigame)

			authed.POST("/teams", h.createTeam)
			authed.GET("/team", h.getTeam)
			authed.POST("/team/join", h.joinTeam)
			authed.POST("/team/join_group", h.joinGroup)
			authed.GET("/team/score", h.teamScore)
			authed.GET("/team/score_progression", h.teamScoreProgression)
			authed.POST("/team/update_password", h.updateTeamPassword)
			authed.DELETE("/team/members/:uid", h.removeTeamMember)

			authed.GET("/groups", h.listGroups)
			authed.GET("/groups/:gid", h.getGroup)
			authed.POST("/groups/:gid/remove_team", h.removeGroupTeam)

			authed.GET("/problems", h.listProblems)
			authed.GET("/problems/:pid/walkthrough", h.getWalkthrough)
			authed.POST("/problems/:pid/walkthrough", h.purchaseWalkthrough)
			authed.POST("/problems/:pid/reassign", h.reassignInstance)
			authed.POST("/submissions", h.submitFlag)
			authed.DELETE("/submissions", h.clearSubmissions)
		}

		// Teacher routes
		teacher := v1.Group("/")
		teacher.Use(RequireAuth(), h.RequireTeacher())
		{
			teacher.POST("/groups", h.createGroup)
			teacher.PATCH("/groups/:gid", h.patchGroup)
			teacher.DELETE("/groups/:gid", h.deleteGroup)
			teacher.POST("/groups/:gid/invite", h.inviteGroupTeacher)
			teacher.POST("/groups/:gid/batch_registration", h.batchRegistration)
		}

		// Admin routes
		admin := v1.Group("/")
		admin.Use(RequireAuth(), h.RequireAdmin())
		{
			admin.GET("/settings", h.getSettings)
			admin.PATCH("/settings", h.patchSettings)

			admin.POST("/shell_servers", h.createShellServer)
			admin.GET("/shell_servers", h.listShellServers)
			admin.DELETE("/shell_servers/:sid", h.deleteShellServer)
			admin.POST("/shell_servers/:sid/load_problems", h.loadProblems)

			admin.PATCH("/problems/:pid", h.setProblemDisabled)
			admin.GET("/bundles", h.listBundles)
			admin.PATCH("/bundles/:bid", h.setBundleDependencies)

			admin.POST("/scoreboards", h.createScoreboard)

			admin.GET("/exceptions", h.listExceptions)
			admin.POST("/exceptions/:id/dismiss", h.dismissException)
		}
	}

	return r
}
