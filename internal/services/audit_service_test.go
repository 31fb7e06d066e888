package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpgate/backend/internal/models"
)

func TestAuditStatsCountActions(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuditService(db, nil, newTestConfig())

	adminID := uuid.New()
	require.NoError(t, svc.LogAction(adminID, "reset_channel_lock", "channel_lock", "abc", map[string]interface{}{"reason": "support ticket"}, "127.0.0.1", "curl/8.0"))
	require.NoError(t, svc.LogAction(adminID, "reset_channel_lock", "channel_lock", "def", nil, "127.0.0.1", "curl/8.0"))
	require.NoError(t, svc.LogAction(adminID, "create_backup", "backup", "", nil, "127.0.0.1", "curl/8.0"))

	stats, err := svc.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["total_actions"])
	assert.Equal(t, int64(3), stats["actions_last_24h"])

	count, err := svc.GetActionCount(adminID, "reset_channel_lock", time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	logs, total, err := svc.GetRecentActions(1, 10, &adminID, "create_backup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	assert.Equal(t, "backup", logs[0].TargetType)
}

func TestAuditLogPersistsDetails(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuditService(db, nil, newTestConfig())

	adminID := uuid.New()
	require.NoError(t, svc.LogAction(adminID, "delete_organization", "organization", "org-1", map[string]interface{}{"name": "acme"}, "10.0.0.1", "test-agent"))

	var log models.AuditLog
	require.NoError(t, db.Where("admin_id = ?", adminID).First(&log).Error)
	assert.Contains(t, log.Details, `"name":"acme"`)
	assert.Equal(t, "10.0.0.1", log.IPAddress)
}
