package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/dispatch"
	"github.com/otpgate/backend/internal/handlers"
	"github.com/otpgate/backend/internal/middleware"
	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
	authService := services.NewAuthService(db, redisClient, cfg)
	adminService := services.NewAdminService(db, cfg)
	lockService := services.NewLockService(db, cfg)
	orgService := services.NewOrganizationService(db)
	credentialService := services.NewCredentialService(db, cfg)
	emailService := services.NewEmailService(db, cfg)
	whatsappService := services.NewWhatsAppService(db, cfg)
	qrService := services.NewQRService()
	auditService := services.NewAuditService(db, emailService, cfg)

	s3Service, err := services.NewS3Service(cfg)
	if err != nil {
		log.Fatalf("Failed to init S3 service: %v", err)
	}
	backupService := services.NewBackupService(db, cfg, s3Service)

	if err := adminService.EnsureDefaultAdmin(); err != nil {
		log.Fatalf("Failed to ensure default admin account: %v", err)
	}

	// Dispatch queues: one single-threaded worker per channel, shared
	// in-memory limiter so a destination's budget spans channels of the
	// same transport class.
	humanizer := dispatch.NewHumanizer(cfg.DispatchMinDelay, cfg.DispatchMaxDelay, cfg.DispatchVariation)
	limiter := dispatch.NewLimiter(cfg.SendHourlyCap, cfg.SendDailyCap)

	// OtpService doubles as the queues' durable send counter, so it is
	// built first and the dispatcher attached afterwards.
	otpService := services.NewOtpService(db, cfg, lockService, whatsappService)

	queues := map[string]*dispatch.Queue{}
	smsService, smsErr := services.NewSMSService(cfg)
	if smsErr != nil {
		log.Printf("SMS channel disabled: %v", smsErr)
	} else {
		queues[models.ChannelSMS] = dispatch.NewQueue(models.ChannelSMS, cfg.MessagingDailyCap, cfg.DispatchQueueSize, smsService, otpService, limiter, humanizer)
	}
	queues[models.ChannelWhatsApp] = dispatch.NewQueue(models.ChannelWhatsApp, cfg.MessagingDailyCap, cfg.DispatchQueueSize, whatsappService, otpService, limiter, humanizer)
	queues[models.ChannelEmail] = dispatch.NewQueue(models.ChannelEmail, cfg.EmailDailyCap, cfg.DispatchQueueSize, emailService, otpService, limiter, humanizer)

	dispatcher := dispatch.NewDispatcher(queues)
	defer dispatcher.Stop()
	otpService.AttachDispatcher(dispatcher)

	// Restore WhatsApp sessions paired before the last shutdown
	go whatsappService.RestoreSessions(context.Background())

	// Reapers
	go runReaper("otp", cfg.OtpReaperInterval, otpService.ReapExpired)
	go runReaper("channel lock", cfg.LockReaperInterval, lockService.ReapExpired)
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := authService.CleanupExpiredTokens(); err != nil {
				log.Printf("Refresh token cleanup error: %v", err)
			}
		}
	}()

	// Scheduled database backups
	if cfg.BackupEnabled {
		go func() {
			ticker := time.NewTicker(cfg.BackupInterval)
			defer ticker.Stop()
			for range ticker.C {
				if _, err := backupService.RunBackup(context.Background(), nil); err != nil {
					log.Printf("Scheduled backup failed: %v", err)
				}
			}
		}()
	}

	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Initialize handlers
	otpHandler := handlers.NewOtpHandler(otpService, lockService)
	orgHandler := handlers.NewOrganizationHandler(orgService, whatsappService, qrService, auditService)
	credentialHandler := handlers.NewCredentialHandler(credentialService, auditService)
	adminHandler := handlers.NewAdminHandler(authService, adminService, lockService, auditService, backupService)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	{
		// Public OTP routes
		otp := api.Group("/otp")
		{
			otp.POST("/request_otp/:channel", otpHandler.RequestOtp)
			otp.POST("/verify", otpHandler.VerifyOtp)
			otp.GET("/:id/status", otpHandler.GetOtpStatus)
			otp.GET("/channel/status", otpHandler.GetChannelLockStatus)
		}

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", adminHandler.Login)
			auth.POST("/refresh", adminHandler.RefreshToken)
			auth.POST("/logout", middleware.Auth(authService), adminHandler.Logout)
			auth.POST("/change-password", middleware.Auth(authService), adminHandler.ChangePassword)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.Auth(authService))
		admin.Use(middleware.AdminOnly())
		{
			orgs := admin.Group("/organizations")
			{
				orgs.POST("", orgHandler.Create)
				orgs.GET("", orgHandler.List)
				orgs.GET("/:id", orgHandler.Get)
				orgs.PUT("/:id", orgHandler.Update)
				orgs.DELETE("/:id", orgHandler.Delete)

				orgs.GET("/:id/otps", otpHandler.ListOtps)

				orgs.POST("/:id/whatsapp/pair", orgHandler.StartWhatsAppPairing)
				orgs.GET("/:id/whatsapp/status", orgHandler.WhatsAppStatus)
				orgs.DELETE("/:id/whatsapp", orgHandler.DisconnectWhatsApp)

				orgs.PUT("/:id/email-credential", credentialHandler.Upsert)
				orgs.GET("/:id/email-credential", credentialHandler.Get)
				orgs.DELETE("/:id/email-credential", credentialHandler.Delete)
			}

			lockResetGroup := admin.Group("/channel-locks")
			lockResetGroup.Use(middleware.AuditAction("reset_channel_lock"))
			lockResetGroup.Use(middleware.AdminActionRateLimit(auditService, redisClient, cfg.AdminRateLimitActions, cfg.AdminRateLimitWindowMinutes))
			{
				lockResetGroup.POST("/reset", adminHandler.ResetChannelLock)
			}

			admin.GET("/audit-logs", adminHandler.GetAuditLogs)
			admin.GET("/audit-logs/stats", adminHandler.GetAuditStats)

			backups := admin.Group("/backups")
			{
				backups.GET("", adminHandler.ListBackups)
				backups.POST("", adminHandler.RunBackup)
				backups.POST("/sync", adminHandler.SyncBackups)
				backups.GET("/stats", adminHandler.GetBackupStats)
				backups.GET("/:id/download", adminHandler.DownloadBackup)
			}
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	dispatcher.Stop()
	log.Println("Server exited")
}

func runReaper(name string, interval time.Duration, reap func() (int64, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		n, err := reap()
		if err != nil {
			log.Printf("%s reaper error: %v", name, err)
			continue
		}
		if n > 0 {
			log.Printf("%s reaper removed %d records", name, n)
		}
	}
}
