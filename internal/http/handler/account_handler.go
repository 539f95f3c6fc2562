package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/service"
)

// AccountHandler serves authentication and account endpoints.
type AccountHandler struct {
	Accounts *service.AccountService
}

// NewAccountHandler creates the handler set.
func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{Accounts: accounts}
}

type registerRequest struct {
	UserID     string `json:"user_id" binding:"required,account_id"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	University string `json:"university"`
	Faculty    string `json:"faculty"`
	Department string `json:"department"`
	OrgCode    string `json:"org_code"`
	Timezone   string `json:"timezone"`
}

// Register creates an account and starts its first session. Field checks
// beyond the id happen in the service so a taken id is reported first.
func (h *AccountHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.Accounts.Register(c.Request.Context(), service.RegisterInput{
		UserID:   req.UserID,
		Email:    req.Email,
		Password: req.Password,
		Affiliation: domain.Affiliation{
			University: req.University,
			Faculty:    req.Faculty,
			Department: req.Department,
		},
		OrgCode:  req.OrgCode,
		Timezone: req.Timezone,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	sess, err := h.Accounts.StartSession(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

type loginRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates a student.
func (h *AccountHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Accounts.Login(c.Request.Context(), req.UserID, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type orgLoginRequest struct {
	OrgCode  string `json:"org_code" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginOrganization authenticates an organization.
func (h *AccountHandler) LoginOrganization(c *gin.Context) {
	var req orgLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Accounts.LoginOrganization(c.Request.Context(), req.OrgCode, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type resetPasswordRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Email       string `json:"email" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ResetPassword sets a new password after the id and email check.
func (h *AccountHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Accounts.ResetPassword(c.Request.Context(), req.UserID, req.Email, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated."})
}

// Logout revokes the current session.
func (h *AccountHandler) Logout(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	if err := h.Accounts.Logout(c.Request.Context(), sess); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Catalog lists the universities an organization offers.
func (h *AccountHandler) Catalog(c *gin.Context) {
	catalog, err := h.Accounts.Catalog(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"universities": catalog})
}

// Me returns the current student with a fresh status.
func (h *AccountHandler) Me(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	user, err := h.Accounts.Profile(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type settingsRequest struct {
	Timezone string `json:"timezone" binding:"required"`
}

// UpdateSettings changes the student's time zone and returns a new session.
func (h *AccountHandler) UpdateSettings(c *gin.Context) {
	sess, ok := requireSession(c)
	if !ok {
		return
	}
	var req settingsRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.Accounts.UpdateSettings(c.Request.Context(), sess, req.Timezone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
