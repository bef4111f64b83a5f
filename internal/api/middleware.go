package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/auth"
	"github.com/openctf/ctfcore/internal/config"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/util"
	"gorm.io/gorm"
)

// Context keys set by the session middleware.
const (
	ctxUID = "uid"
	ctxTID = "tid"
)

// Cookie names. The session token is opaque to the client; the CSRF
// token lives in the readable "token" cookie and must be echoed in a
// header on mutating routes.
const (
	sessionCookie = "session"
	csrfCookie    = "token"
	csrfHeader    = "X-CSRF-Token"
)

// CORSMiddleware provides a configurable CORS middleware.
func CORSMiddleware(cfg config.CORS) gin.HandlerFunc {
	return func(c *gin.Context) {
		// If no origins are configured, do nothing.
		if len(cfg.AllowedOrigins) == 0 {
			c.Next()
			return
		}

		origin := c.Request.Header.Get("Origin")
		allowOrigin := ""
		for _, o := range cfg.AllowedOrigins {
			if o == "*" {
				allowOrigin = "*"
				break
			}
			if o == origin {
				allowOrigin = origin
				break
			}
		}

		if allowOrigin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}
		c.Next()
	}
}

// SessionMiddleware resolves the session cookie into a uid/tid pair on
// the context. It never rejects; gates that need authentication sit
// behind RequireAuth.
func SessionMiddleware(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookie)
		if err != nil || token == "" {
			c.Next()
			return
		}
		claims, err := auth.ValidateSession(token, secret)
		if err != nil {
			c.Next()
			return
		}
		c.Set(ctxUID, claims.Subject)
		if user, err := database.GetUserByUID(db, claims.Subject); err == nil {
			c.Set(ctxTID, user.TID)
		}
		c.Next()
	}
}

// RequireAuth aborts unauthenticated requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxUID) == "" {
			util.Fail(c, util.Wrap(util.ErrAuthRequired, "you must be logged in"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CSRFMiddleware enforces the double-submit check on mutating methods.
// The comparison is constant time; safe methods pass through.
func CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		// Only sessions are CSRF-able; anonymous routes handle their own
		// abuse controls.
		if c.GetString(ctxUID) == "" {
			c.Next()
			return
		}
		cookie, _ := c.Cookie(csrfCookie)
		if !auth.CheckCSRF(cookie, c.GetHeader(csrfHeader)) {
			util.Fail(c, util.Wrap(util.ErrForbidden, "CSRF token mismatch"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin gates admin-only routes.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.currentUser(c)
		if err != nil {
			util.Fail(c, err)
			c.Abort()
			return
		}
		if !user.Admin {
			util.Fail(c, util.Wrap(util.ErrForbidden, "admin access required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireTeacher gates teacher routes; admins pass.
func (h *Handler) RequireTeacher() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.currentUser(c)
		if err != nil {
			util.Fail(c, err)
			c.Abort()
			return
		}
		if !user.Teacher && !user.Admin {
			util.Fail(c, util.Wrap(util.ErrForbidden, "teacher access required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
