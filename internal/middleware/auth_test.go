package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/internal/services"
	"github.com/otpgate/backend/pkg/crypto"
	jwtpkg "github.com/otpgate/backend/pkg/jwt"
)

type authFixture struct {
	router *gin.Engine
	auth   *services.AuthService
	db     *gorm.DB
	cfg    *config.Config
	admin  *models.User
	viewer *models.User
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		JWTSecret:              "test-secret",
		JWTAccessTokenDuration: time.Hour,
		BcryptCost:             4,
	}
	auth := services.NewAuthService(db, client, cfg)

	hash, err := crypto.HashPassword("password123", cfg.BcryptCost)
	require.NoError(t, err)
	admin := &models.User{Username: "admin", Email: "admin@test.io", Password: hash, IsAdmin: true, IsActive: true}
	require.NoError(t, db.Create(admin).Error)
	viewer := &models.User{Username: "viewer", Email: "viewer@test.io", Password: hash, IsActive: true}
	require.NoError(t, db.Create(viewer).Error)

	router := gin.New()
	protected := router.Group("/admin", Auth(auth), AdminOnly())
	protected.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userID": c.MustGet("userID").(uuid.UUID).String()})
	})

	return &authFixture{router: router, auth: auth, db: db, cfg: cfg, admin: admin, viewer: viewer}
}

func (f *authFixture) get(t *testing.T, token string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func (f *authFixture) tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken(user.ID.String(), jwtpkg.AccessToken, f.cfg.JWTSecret, f.cfg.JWTAccessTokenDuration)
	require.NoError(t, err)
	return token
}

func TestAuthAcceptsValidAdminToken(t *testing.T) {
	f := newAuthFixture(t)

	w := f.get(t, f.tokenFor(t, f.admin))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), f.admin.ID.String())
}

func TestAuthRejectsMissingAndMalformedHeaders(t *testing.T) {
	f := newAuthFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.get(t, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get(t, "not-a-jwt").Code)
}

func TestAuthRejectsRefreshTokenAsAccessToken(t *testing.T) {
	f := newAuthFixture(t)

	token, err := jwtpkg.GenerateToken(f.admin.ID.String(), jwtpkg.RefreshToken, f.cfg.JWTSecret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.get(t, token).Code)
}

func TestAuthRejectsBlacklistedToken(t *testing.T) {
	f := newAuthFixture(t)
	token := f.tokenFor(t, f.admin)

	require.Equal(t, http.StatusOK, f.get(t, token).Code)
	require.NoError(t, f.auth.BlacklistToken(token))
	assert.Equal(t, http.StatusUnauthorized, f.get(t, token).Code)
}

func TestAuthRejectsDeactivatedAccount(t *testing.T) {
	f := newAuthFixture(t)
	token := f.tokenFor(t, f.admin)

	require.Equal(t, http.StatusOK, f.get(t, token).Code)
	require.NoError(t, f.db.Model(f.admin).Update("is_active", false).Error)
	assert.Equal(t, http.StatusUnauthorized, f.get(t, token).Code)
}

func TestAdminOnlyRejectsNonAdmin(t *testing.T) {
	f := newAuthFixture(t)

	w := f.get(t, f.tokenFor(t, f.viewer))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
