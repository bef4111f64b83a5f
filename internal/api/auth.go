package api

import (
	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/auth"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
)

func (h *Handler) setSessionCookies(c *gin.Context, uid string) error {
	token, err := auth.GenerateSession(uid, h.cfg.Session.Secret, h.cfg.Session.ExpireHours)
	if err != nil {
		return err
	}
	csrf, err := auth.NewCSRFToken()
	if err != nil {
		return err
	}
	maxAge := h.cfg.Session.ExpireHours * 3600
	c.SetCookie(sessionCookie, token, maxAge, "/", "", false, true)
	c.SetCookie(csrfCookie, csrf, maxAge, "/", "", false, false)
	return nil
}

func clearSessionCookies(c *gin.Context) {
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.SetCookie(csrfCookie, "", -1, "/", "", false, false)
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
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
	if s.EnableRateLimits && c.GetHeader("X-RateLimit-Bypass") != h.cfg.RateLimitBypassKey {
		if !h.loginLimiter.allow(req.Username + "|" + c.ClientIP()) {
			h.fail(c, util.Wrap(util.ErrRateLimited, "too many login attempts; slow down"))
			return
		}
	}

	user, err := database.GetUserByUsername(h.db, req.Username)
	if err != nil {
		if database.IsRecordNotFound(err) {
			h.fail(c, util.Wrap(util.ErrAuthRequired, "incorrect username"))
		} else {
			h.fail(c, err)
		}
		return
	}
	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		h.fail(c, util.Wrap(util.ErrAuthRequired, "incorrect password"))
		return
	}
	if user.Disabled {
		h.fail(c, util.Wrap(util.ErrForbidden, "this account has been deleted"))
		return
	}
	if !user.Verified {
		h.fail(c, util.Wrap(util.ErrForbidden, "your account has not been verified yet"))
		return
	}

	if err := h.setSessionCookies(c, user.UID); err != nil {
		h.fail(c, err)
		return
	}

	zap.S().Infof("user %s logged in", user.Username)
	util.Success(c, gin.H{
		"success":  true,
		"username": user.Username,
	}, "Login successful")
}

func (h *Handler) logout(c *gin.Context) {
	clearSessionCookies(c)
	util.Success(c, nil, "Logged out")
}

// authorize answers the per-role probe the frontend and the nginx
// auth_request hook use: 200 when the session holds the role, 401
// otherwise.
func (h *Handler) authorize(c *gin.Context) {
	role := c.Param("role")
	if role == "anonymous" {
		util.Success(c, nil, "Authorized")
		return
	}

	user, err := h.currentUser(c)
	if err != nil {
		util.Fail(c, util.Wrap(util.ErrAuthRequired, "not authorized"))
		return
	}

	allowed := false
	switch role {
	case "user":
		allowed = true
	case "teacher":
		allowed = user.Teacher || user.Admin
	case "admin":
		allowed = user.Admin
	}
	if !allowed {
		util.Fail(c, util.Wrap(util.ErrAuthRequired, "not authorized"))
		return
	}
	util.Success(c, nil, "Authorized")
}
