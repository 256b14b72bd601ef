package handlers

import (
	"net/http"
	"time"

	"animehub-be/internal/account"
	"animehub-be/internal/apperr"
	"animehub-be/internal/http/middleware"
	"animehub-be/internal/session"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	Accounts     *account.Service
	SessionTTL   time.Duration
	CookieSecure bool
}

type signupReq struct {
	Username string `json:"username" binding:"required,username"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupReq
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.Accounts.Signup(c.Request.Context(), account.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user": u.Public()})
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginReq
	if !bindJSON(c, &req) {
		return
	}
	token, u, err := h.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	h.setCookie(c, token, int(h.SessionTTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"token":   token,
		"user":    u.Public(),
	})
}

func (h *AuthHandler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(session.CookieName, value, maxAge, "/", "", h.CookieSecure, true)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.Accounts.Logout(c.Request.Context(), middleware.SessionToken(c)); err != nil {
		fail(c, err)
		return
	}
	h.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.Accounts.Me(c.Request.Context(), middleware.MustUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type profileReq struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req profileReq
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.Accounts.UpdateProfile(c.Request.Context(), middleware.MustUserID(c), account.ProfileUpdate{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type passwordReq struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req passwordReq
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Accounts.ChangePassword(c.Request.Context(), middleware.MustUserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}

func (h *AuthHandler) UploadProfilePicture(c *gin.Context) {
	f, err := formFile(c, "profilePicture")
	if err != nil {
		fail(c, err)
		return
	}
	if f == nil {
		fail(c, apperr.Validation("no file uploaded"))
		return
	}
	u, err := h.Accounts.UploadProfilePicture(c.Request.Context(), middleware.MustUserID(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile picture updated", "profilePicture": u.ProfilePicture, "user": u})
}

func (h *AuthHandler) DeleteProfilePicture(c *gin.Context) {
	u, err := h.Accounts.DeleteProfilePicture(c.Request.Context(), middleware.MustUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile picture removed", "user": u})
}

func (h *AuthHandler) SearchUsers(c *gin.Context) {
	users, err := h.Accounts.Search(c.Request.Context(), middleware.MustUserID(c), c.Query("q"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}
