package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/internal/services"
)

type lockStatusFixture struct {
	router *gin.Engine
	locks  *services.LockService
	org    *models.Organization
}

func newLockStatusFixture(t *testing.T) *lockStatusFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Organization{}, &models.ChannelLock{}))

	org := &models.Organization{Name: "acme"}
	require.NoError(t, db.Create(org).Error)

	cfg := &config.Config{
		LockTempThreshold:      7,
		LockPermThreshold:      15,
		LockDurationMinutes:    20,
		LockMaxRequestAttempts: 7,
	}
	locks := services.NewLockService(db, cfg)

	handler := NewOtpHandler(nil, locks)
	router := gin.New()
	router.GET("/api/v1/otp/channel/status", handler.GetChannelLockStatus)

	return &lockStatusFixture{router: router, locks: locks, org: org}
}

func (f *lockStatusFixture) query(t *testing.T, channelName, identifier string) (int, map[string]interface{}) {
	t.Helper()
	url := fmt.Sprintf("/api/v1/otp/channel/status?organizationId=%s&channelName=%s&channelIdentifier=%s",
		f.org.ID, channelName, neturl.QueryEscape(identifier))
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestGetChannelLockStatusFirstQueryIsRequestable(t *testing.T) {
	f := newLockStatusFixture(t)

	code, body := f.query(t, "email", "nobody@example.com")
	require.Equal(t, http.StatusOK, code, "identifier without history must not 404")

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "email", data["channelName"])
	assert.Equal(t, "nobody@example.com", data["channelIdentifier"])
	assert.Equal(t, models.LockStatusNone, data["lockStatus"])
	assert.Equal(t, float64(0), data["failedAttempts"])
	assert.Equal(t, true, data["canRequest"])
	assert.Equal(t, float64(7), data["remainingAttempts"])
}

func TestGetChannelLockStatusReportsTemporaryLock(t *testing.T) {
	f := newLockStatusFixture(t)

	lock, err := f.locks.FindOrCreateLock(f.org.ID, "sms", "+4915112345678")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, f.locks.IncrementFailedAttempts(lock))
	}

	code, body := f.query(t, "sms", "+4915112345678")
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, models.LockStatusTemporary, data["lockStatus"])
	assert.Equal(t, false, data["canRequest"])
	assert.Contains(t, data["reason"], "temporarily locked")
	assert.InDelta(t, 20, data["remainingLockMinutes"].(float64), 1)
}

func TestGetChannelLockStatusRequiresQueryParams(t *testing.T) {
	f := newLockStatusFixture(t)

	url := fmt.Sprintf("/api/v1/otp/channel/status?organizationId=%s&channelName=email", f.org.ID)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
