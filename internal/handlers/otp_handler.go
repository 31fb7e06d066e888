package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/internal/services"
)

type OtpHandler struct {
	otpService  *services.OtpService
	lockService *services.LockService
}

func NewOtpHandler(otpService *services.OtpService, lockService *services.LockService) *OtpHandler {
	return &OtpHandler{
		otpService:  otpService,
		lockService: lockService,
	}
}

// statusFor maps a failure kind to an HTTP status code.
func statusFor(se *services.ServiceError) int {
	switch se.Kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindChannelLocked, services.KindRateLimited:
		return http.StatusTooManyRequests
	case services.KindTransportUnavailable:
		return http.StatusServiceUnavailable
	case services.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func respondError(c *gin.Context, err error) {
	se := services.AsServiceError(err)
	body := gin.H{
		"error":   string(se.Kind),
		"message": se.Reason,
	}
	if se.RemainingLockMinutes > 0 {
		body["remaining_lock_minutes"] = se.RemainingLockMinutes
	}
	c.JSON(statusFor(se), body)
}

func orgIDFromQuery(c *gin.Context) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.Query("organizationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "organizationId query parameter is required"})
		return uuid.Nil, false
	}
	return orgID, true
}

type requestOtpBody struct {
	Number string `json:"number"`
	Email  string `json:"email"`
}

// RequestOtp sends an OTP over the channel named in the URL.
// POST /api/v1/otp/request_otp/:channel?organizationId=...
func (h *OtpHandler) RequestOtp(c *gin.Context) {
	orgID, ok := orgIDFromQuery(c)
	if !ok {
		return
	}

	channel := c.Param("channel")

	var body requestOtpBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid request body"})
		return
	}

	destination := body.Number
	if channel == models.ChannelEmail {
		destination = body.Email
	}
	if destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "destination is required"})
		return
	}

	result, err := h.otpService.RequestOtp(c.Request.Context(), orgID, channel, destination)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "OTP sent successfully",
		"data": gin.H{
			"otpId":             result.OtpID,
			"expiresAt":         result.ExpiresAt,
			"remainingAttempts": result.RemainingAttempts,
			"sentToday":         result.SentToday,
		},
	})
}

type verifyOtpBody struct {
	OtpID string `json:"otpId" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// VerifyOtp checks a submitted code.
// POST /api/v1/otp/verify?organizationId=...
func (h *OtpHandler) VerifyOtp(c *gin.Context) {
	orgID, ok := orgIDFromQuery(c)
	if !ok {
		return
	}

	var body verifyOtpBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "otpId and value are required"})
		return
	}

	otpID, err := uuid.Parse(body.OtpID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid otpId"})
		return
	}

	result, err := h.otpService.VerifyOtp(orgID, otpID, body.Value)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "OTP verified successfully",
		"data":    result,
	})
}

// GetOtpStatus returns the state of an OTP without consuming an attempt.
// GET /api/v1/otp/:id/status?organizationId=...
func (h *OtpHandler) GetOtpStatus(c *gin.Context) {
	orgID, ok := orgIDFromQuery(c)
	if !ok {
		return
	}

	otpID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid OTP id"})
		return
	}

	status, err := h.otpService.OtpStatus(orgID, otpID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

// GetChannelLockStatus returns the lock state for one destination.
// GET /api/v1/otp/channel/status?organizationId=...&channelName=...&channelIdentifier=...
func (h *OtpHandler) GetChannelLockStatus(c *gin.Context) {
	orgID, ok := orgIDFromQuery(c)
	if !ok {
		return
	}

	channelName := c.Query("channelName")
	identifier := c.Query("channelIdentifier")
	if channelName == "" || identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "channelName and channelIdentifier are required"})
		return
	}

	// A destination nobody has failed against yet has no lock row; create one
	// so the query reports an unlocked, requestable state instead of 404.
	lock, err := h.lockService.FindOrCreateLock(orgID, channelName, identifier)
	if err != nil {
		respondError(c, err)
		return
	}

	decision, err := h.lockService.CanRequest(lock)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"channelName":          lock.ChannelName,
			"channelIdentifier":    lock.ChannelIdentifier,
			"lockStatus":           lock.LockStatus,
			"failedAttempts":       lock.FailedAttempts,
			"canRequest":           decision.Allowed,
			"reason":               decision.Reason,
			"remainingAttempts":    decision.RemainingAttempts,
			"remainingLockMinutes": decision.RemainingLockMinutes,
		},
	})
}

// ListOtps returns an organization's OTP history. Admin only.
// GET /api/v1/admin/organizations/:id/otps
func (h *OtpHandler) ListOtps(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid organization id"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	otps, total, err := h.otpService.ListByOrganization(orgID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"otps": otps,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}
