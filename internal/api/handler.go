package api

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/config"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/settings"
	"github.com/openctf/ctfcore/internal/shell"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler holds all dependencies for the API handlers.
type Handler struct {
	cfg   *config.Config
	db    *gorm.DB
	store cache.Store
	shell *shell.Client

	loginLimiter *rateLimiter
}

// NewHandler creates a handler with its dependencies.
func NewHandler(cfg *config.Config, db *gorm.DB, store cache.Store, shellClient *shell.Client) *Handler {
	return &Handler{
		cfg:          cfg,
		db:           db,
		store:        store,
		shell:        shellClient,
		loginLimiter: newRateLimiter(),
	}
}

// fail writes the error envelope for a domain error. Internal errors
// are additionally captured as exceptions so admins can triage them by
// id without grepping logs.
func (h *Handler) fail(c *gin.Context, err error) {
	if util.HTTPStatus(err) < 500 {
		util.Fail(c, err)
		return
	}

	exc := models.Exception{
		ID:        uuid.NewString(),
		Route:     c.FullPath(),
		UID:       c.GetString(ctxUID),
		TID:       c.GetString(ctxTID),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Message:   err.Error(),
		Trace:     string(debug.Stack()),
		Visible:   true,
	}
	if dberr := database.CreateException(h.db, &exc); dberr != nil {
		zap.S().Errorf("exception capture failed: %v (original: %v)", dberr, err)
	}
	util.Error(c, util.HTTPStatus(err), "internal error (id "+exc.ID+")")
}

// settings reloads the runtime settings row for this request.
func (h *Handler) settings() (*models.Settings, error) {
	return settings.Get(h.db)
}

// currentUser loads the authenticated user; the auth middleware
// guarantees the uid key exists on gated routes.
func (h *Handler) currentUser(c *gin.Context) (*models.User, error) {
	uid := c.GetString(ctxUID)
	if uid == "" {
		return nil, util.Wrap(util.ErrAuthRequired, "you must be logged in")
	}
	user, err := database.GetUserByUID(h.db, uid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return nil, util.Wrap(util.ErrAuthRequired, "session user no longer exists")
		}
		return nil, err
	}
	if user.Disabled {
		return nil, util.Wrap(util.ErrForbidden, "this account has been disabled")
	}
	return user, nil
}
