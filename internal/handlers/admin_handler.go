package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/otpgate/backend/internal/services"
)

type AdminHandler struct {
	authService   *services.AuthService
	adminService  *services.AdminService
	lockService   *services.LockService
	auditService  *services.AuditService
	backupService *services.BackupService
}

func NewAdminHandler(authService *services.AuthService, adminService *services.AdminService, lockService *services.LockService, auditService *services.AuditService, backupService *services.BackupService) *AdminHandler {
	return &AdminHandler{
		authService:   authService,
		adminService:  adminService,
		lockService:   lockService,
		auditService:  auditService,
		backupService: backupService,
	}
}

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates an operator
func (h *AdminHandler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "username and password are required"})
		return
	}

	accessToken, refreshToken, user, err := h.authService.Login(body.Username, body.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"is_admin": user.IsAdmin,
		},
	})
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken exchanges a refresh token for a new access token
func (h *AdminHandler) RefreshToken(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "refresh_token is required"})
		return
	}

	accessToken, err := h.authService.RefreshToken(body.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": accessToken})
}

// Logout revokes the current access token and all refresh tokens
func (h *AdminHandler) Logout(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)

	header := c.GetHeader("Authorization")
	if token := strings.TrimPrefix(header, "Bearer "); token != header {
		_ = h.authService.BlacklistToken(token)
	}

	if err := h.authService.Logout(userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to log out"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

type changePasswordBody struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword updates the operator's password
func (h *AdminHandler) ChangePassword(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)

	var body changePasswordBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "old_password and new_password are required"})
		return
	}

	if err := h.adminService.ChangePassword(userID, body.OldPassword, body.NewPassword); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
}

type resetLockBody struct {
	OrganizationID    string `json:"organizationId" binding:"required"`
	ChannelName       string `json:"channelName" binding:"required"`
	ChannelIdentifier string `json:"channelIdentifier" binding:"required"`
}

// ResetChannelLock clears a destination's lock and counters. The only path
// out of a permanent lock.
func (h *AdminHandler) ResetChannelLock(c *gin.Context) {
	var body resetLockBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "organizationId, channelName and channelIdentifier are required"})
		return
	}

	orgID, err := uuid.Parse(body.OrganizationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organizationId"})
		return
	}

	lock, err := h.lockService.GetLock(orgID, body.ChannelName, body.ChannelIdentifier)
	if err != nil {
		respondError(c, err)
		return
	}

	previousStatus := lock.LockStatus
	if err := h.lockService.ResetLock(lock); err != nil {
		respondError(c, err)
		return
	}

	adminID := c.MustGet("userID").(uuid.UUID)
	_ = h.auditService.LogAction(adminID, "reset_channel_lock", "channel_lock",
		body.ChannelIdentifier, map[string]interface{}{
			"organization_id": orgID.String(),
			"channel_name":    body.ChannelName,
			"previous_status": previousStatus,
		}, c.ClientIP(), c.Request.UserAgent())

	c.JSON(http.StatusOK, gin.H{"message": "Channel lock reset"})
}

// GetAuditLogs lists recent admin actions
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	action := c.Query("action")

	var adminID *uuid.UUID
	if raw := c.Query("adminId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid adminId"})
			return
		}
		adminID = &id
	}

	logs, total, err := h.auditService.GetRecentActions(page, limit, adminID, action)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to load audit logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": logs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetAuditStats returns aggregate audit log statistics
func (h *AdminHandler) GetAuditStats(c *gin.Context) {
	stats, err := h.auditService.GetStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to load audit stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ListBackups lists database backups
func (h *AdminHandler) ListBackups(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	backups, total, err := h.backupService.ListBackups((page-1)*limit, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to list backups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backups": backups,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// RunBackup triggers a manual database backup
func (h *AdminHandler) RunBackup(c *gin.Context) {
	userID := c.MustGet("userID").(uuid.UUID)

	backup, err := h.backupService.RunBackup(c.Request.Context(), &userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"backup": backup})
}

// DownloadBackup returns a presigned URL for a completed backup archive
func (h *AdminHandler) DownloadBackup(c *gin.Context) {
	backupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid backup id"})
		return
	}

	url, err := h.backupService.PresignDownload(c.Request.Context(), backupID, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in_seconds": 900})
}

// SyncBackups imports backup records found in the bucket
func (h *AdminHandler) SyncBackups(c *gin.Context) {
	synced, err := h.backupService.SyncBackupsFromS3()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"synced": synced})
}

// GetBackupStats returns backup statistics
func (h *AdminHandler) GetBackupStats(c *gin.Context) {
	stats, err := h.backupService.GetBackupStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to load backup stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
