package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/gin-gonic/gin"
	"github.com/openctf/ctfcore/internal/auth"
	"github.com/openctf/ctfcore/internal/catalog"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/membership"
	"github.com/openctf/ctfcore/internal/util"
)

func (h *Handler) register(c *gin.Context) {
	var reg membership.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}

	s, err := h.settings()
	if err != nil {
		h.fail(c, err)
		return
	}

	user, err := membership.RegisterUser(c.Request.Context(), h.db, h.store, s, reg)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Created(c, gin.H{"uid": user.UID, "username": user.Username}, "User registered")
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, gin.H{
		"logged_in":   true,
		"uid":         user.UID,
		"username":    user.Username,
		"email":       user.Email,
		"usertype":    user.Usertype,
		"country":     user.Country,
		"affiliation": user.Affiliation,
		"admin":       user.Admin,
		"teacher":     user.Teacher,
		"verified":    user.Verified,
		"tid":         user.TID,
		"tokens":      user.Tokens,
		"extdata":     user.Extdata,
	}, "User retrieved")
}

// patchUser updates extdata only; identity fields are immutable after
// registration.
func (h *Handler) patchUser(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		Extdata models.JSONMap `json:"extdata" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	user.Extdata = req.Extdata
	if err := database.UpdateUser(h.db, user); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Profile updated")
}

func (h *Handler) updatePassword(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if !auth.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		h.fail(c, util.Wrap(util.ErrAuthRequired, "current password is incorrect"))
		return
	}
	if len(req.NewPassword) < 8 {
		h.fail(c, util.Wrap(util.ErrValidation, "passwords must be at least 8 characters"))
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.fail(c, err)
		return
	}
	user.PasswordHash = hash
	if err := database.UpdateUser(h.db, user); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Password updated")
}

func (h *Handler) disableAccount(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := membership.DisableUser(c.Request.Context(), h.db, h.store, user.UID); err != nil {
		h.fail(c, err)
		return
	}
	clearSessionCookies(c)
	util.Success(c, nil, "Account disabled")
}

func (h *Handler) verifyEmail(c *gin.Context) {
	uid := c.Query("uid")
	token := c.Query("token")
	if uid == "" || token == "" {
		h.fail(c, util.Wrap(util.ErrValidation, "uid and token are required"))
		return
	}
	if err := membership.VerifyEmail(h.db, uid, token); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Email verified; you may now log in")
}

func (h *Handler) requestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if _, err := membership.RequestPasswordReset(h.db, req.Email); err != nil {
		h.fail(c, err)
		return
	}
	// Identical response whether or not the account exists.
	util.Success(c, nil, "If the account exists, a reset email is on its way")
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, util.Wrap(util.ErrValidation, "%v", err))
		return
	}
	if err := membership.ResetPassword(h.db, req.Token, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, nil, "Password reset")
}

// completeMinigame credits a minigame reward. The embedded game signs
// its completion report with the shared secret; without a valid
// signature the request is worthless.
func (h *Handler) completeMinigame(c *gin.Context) {
	user, err := h.currentUser(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var req struct {
		Minigame  string `json:"minigame" binding:"required"`
		Signature string `json:"signature" binding:"required"`
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
	mac := hmac.New(sha256.New, []byte(s.MinigameSecret))
	mac.Write([]byte(user.UID + ":" + req.Minigame))
	want := hex.EncodeToString(mac.Sum(nil))
	if s.MinigameSecret == "" || !hmac.Equal([]byte(want), []byte(req.Signature)) {
		h.fail(c, util.Wrap(util.ErrForbidden, "invalid minigame signature"))
		return
	}

	reward, ok := s.MinigameTokenValues[req.Minigame]
	if !ok {
		h.fail(c, util.Wrap(util.ErrNotFound, "unknown minigame"))
		return
	}
	if err := catalog.CompleteMinigame(h.db, user.UID, req.Minigame, reward); err != nil {
		h.fail(c, err)
		return
	}
	util.Success(c, gin.H{"tokens_earned": reward}, "Minigame reward credited")
}
