package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/otpgate/backend/internal/services"
)

type OrganizationHandler struct {
	orgService      *services.OrganizationService
	whatsappService *services.WhatsAppService
	qrService       *services.QRService
	auditService    *services.AuditService
}

func NewOrganizationHandler(orgService *services.OrganizationService, whatsappService *services.WhatsAppService, qrService *services.QRService, auditService *services.AuditService) *OrganizationHandler {
	return &OrganizationHandler{
		orgService:      orgService,
		whatsappService: whatsappService,
		qrService:       qrService,
		auditService:    auditService,
	}
}

type organizationBody struct {
	Name string `json:"name" binding:"required"`
}

// Create registers a new organization
func (h *OrganizationHandler) Create(c *gin.Context) {
	var body organizationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "name is required"})
		return
	}

	org, err := h.orgService.Create(body.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"organization": org})
}

// List returns all organizations with pagination
func (h *OrganizationHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	orgs, total, err := h.orgService.List(page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organizations": orgs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// Get returns one organization
func (h *OrganizationHandler) Get(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	org, err := h.orgService.GetByID(orgID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"organization": org})
}

// Update renames an organization
func (h *OrganizationHandler) Update(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	var body organizationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "name is required"})
		return
	}

	org, err := h.orgService.Rename(orgID, body.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"organization": org})
}

// Delete removes an organization and its data
func (h *OrganizationHandler) Delete(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	if err := h.orgService.Delete(orgID); err != nil {
		respondError(c, err)
		return
	}

	if adminID, exists := c.Get("userID"); exists {
		_ = h.auditService.LogAction(adminID.(uuid.UUID), "delete_organization", "organization",
			orgID.String(), nil, c.ClientIP(), c.Request.UserAgent())
	}

	c.JSON(http.StatusOK, gin.H{"message": "Organization deleted"})
}

// StartWhatsAppPairing opens a gateway session and returns the QR payload.
// Append ?format=png or ?format=pdf for a scannable rendering.
func (h *OrganizationHandler) StartWhatsAppPairing(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	org, err := h.orgService.GetByID(orgID)
	if err != nil {
		respondError(c, err)
		return
	}

	qrPayload, err := h.whatsappService.StartPairing(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transport_unavailable", "message": err.Error()})
		return
	}

	if qrPayload == "" {
		c.JSON(http.StatusOK, gin.H{"message": "WhatsApp session already connected", "ready": true})
		return
	}

	switch c.Query("format") {
	case "png":
		png, err := h.qrService.GeneratePairingQRPNG(qrPayload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to render QR code"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	case "pdf":
		pdf, err := h.qrService.GeneratePairingQRPDF(org, qrPayload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to render QR PDF"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=whatsapp_pairing.pdf")
		c.Data(http.StatusOK, "application/pdf", pdf)
	default:
		c.JSON(http.StatusOK, gin.H{"qr": qrPayload, "ready": false})
	}
}

// WhatsAppStatus reports the gateway session state
func (h *OrganizationHandler) WhatsAppStatus(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	ready, err := h.whatsappService.RefreshStatus(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transport_unavailable", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ready": ready})
}

// DisconnectWhatsApp tears down the gateway session
func (h *OrganizationHandler) DisconnectWhatsApp(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	if err := h.whatsappService.Disconnect(c.Request.Context(), orgID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transport_unavailable", "message": err.Error()})
		return
	}

	if adminID, exists := c.Get("userID"); exists {
		_ = h.auditService.LogAction(adminID.(uuid.UUID), "disconnect_whatsapp", "organization",
			orgID.String(), nil, c.ClientIP(), c.Request.UserAgent())
	}

	c.JSON(http.StatusOK, gin.H{"message": "WhatsApp session disconnected"})
}
