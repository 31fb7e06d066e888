package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/otpgate/backend/internal/services"
)

type CredentialHandler struct {
	credentialService *services.CredentialService
	auditService      *services.AuditService
}

func NewCredentialHandler(credentialService *services.CredentialService, auditService *services.AuditService) *CredentialHandler {
	return &CredentialHandler{
		credentialService: credentialService,
		auditService:      auditService,
	}
}

func (h *CredentialHandler) audit(c *gin.Context, action, targetID string) {
	if adminID, exists := c.Get("userID"); exists {
		_ = h.auditService.LogAction(adminID.(uuid.UUID), action, "email_credential",
			targetID, nil, c.ClientIP(), c.Request.UserAgent())
	}
}

// Upsert creates or replaces the organization's SMTP credential
// PUT /api/v1/admin/organizations/:id/email-credential
func (h *CredentialHandler) Upsert(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	var input services.CredentialInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "email_host, email_port, email_user and email_password are required"})
		return
	}

	cred, err := h.credentialService.Upsert(orgID, &input)
	if err != nil {
		respondError(c, err)
		return
	}

	h.audit(c, "upsert_email_credential", orgID.String())
	c.JSON(http.StatusOK, gin.H{"credential": cred})
}

// Get returns the stored credential (password stays encrypted)
func (h *CredentialHandler) Get(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	cred, err := h.credentialService.Get(orgID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"credential": cred})
}

// Delete removes the credential; sends fall back to the global SMTP account
func (h *CredentialHandler) Delete(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	if err := h.credentialService.Delete(orgID); err != nil {
		respondError(c, err)
		return
	}

	h.audit(c, "delete_email_credential", orgID.String())
	c.JSON(http.StatusOK, gin.H{"message": "Email credential deleted"})
}
