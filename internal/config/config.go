package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port   string
	Env    string
	APIUrl string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret               string
	JWTAccessTokenDuration  time.Duration
	JWTRefreshTokenDuration time.Duration

	// Admin
	AdminUsername string
	AdminPassword string
	AdminEmail    string

	// OTP
	OtpTTL         time.Duration
	OtpLength      int
	OtpAlphabet    string // "numeric" | "alphanumeric"
	OtpMaxAttempts int
	// Reaped rows must outlive the daily dispatch cap window.
	OtpRetention      time.Duration
	OtpReaperInterval time.Duration

	// Channel lock escalation
	LockTempThreshold      int
	LockPermThreshold      int
	LockDurationMinutes    int
	LockMaxRequestAttempts int
	LockReaperInterval     time.Duration

	// Dispatch
	EmailDailyCap     int
	MessagingDailyCap int
	DispatchMinDelay  time.Duration
	DispatchMaxDelay  time.Duration
	DispatchQueueSize int
	DispatchVariation bool

	// Per-destination send limiter (in-memory, advisory)
	SendHourlyCap int
	SendDailyCap  int

	// SMTP (global fallback when an organization has no own credentials)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Twilio (SMS channel)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioSMSFrom    string

	// WhatsApp session gateway
	WhatsAppGatewayURL    string
	WhatsAppGatewayAPIKey string

	// Backup S3 - daily DB dumps
	BackupEnabled           bool
	BackupInterval          time.Duration
	BackupS3Endpoint        string
	BackupS3Region          string
	BackupS3AccessKeyID     string
	BackupS3SecretAccessKey string
	BackupS3UsePathStyle    bool
	BackupBucket            string

	// Security
	BcryptCost        int
	EncryptionKey     string // 32 bytes, AES-256-GCM for stored SMTP passwords
	RateLimitRequests int
	RateLimitDuration time.Duration

	// Admin action throttle
	AdminRateLimitActions       int
	AdminRateLimitWindowMinutes int

	// CORS
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func New() *Config {
	return &Config{
		// Server
		Port:   getEnv("PORT", "8080"),
		Env:    getEnv("ENV", "development"),
		APIUrl: getEnv("API_URL", "http://localhost:8080"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "otpgate"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "otpgate_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),
		DBTimeZone: getEnv("DB_TIMEZONE", "UTC"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret:               getEnv("JWT_SECRET", "your-secret-key"),
		JWTAccessTokenDuration:  getEnvAsDuration("JWT_ACCESS_TOKEN_DURATION", "1h"),
		JWTRefreshTokenDuration: getEnvAsDuration("JWT_REFRESH_TOKEN_DURATION", "168h"),

		// Admin
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@otpgate.io"),

		// OTP
		OtpTTL:            getEnvAsDuration("OTP_TTL", "90s"),
		OtpLength:         getEnvAsInt("OTP_LENGTH", 6),
		OtpAlphabet:       getEnv("OTP_ALPHABET", "numeric"),
		OtpMaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 4),
		OtpRetention:      getEnvAsDuration("OTP_RETENTION", "24h"),
		OtpReaperInterval: getEnvAsDuration("OTP_REAPER_INTERVAL", "5m"),

		// Channel lock escalation
		LockTempThreshold:      getEnvAsInt("LOCK_TEMP_THRESHOLD", 7),
		LockPermThreshold:      getEnvAsInt("LOCK_PERM_THRESHOLD", 15),
		LockDurationMinutes:    getEnvAsInt("LOCK_DURATION_MINUTES", 20),
		LockMaxRequestAttempts: getEnvAsInt("LOCK_MAX_REQUEST_ATTEMPTS", 7),
		LockReaperInterval:     getEnvAsDuration("LOCK_REAPER_INTERVAL", "10m"),

		// Dispatch
		EmailDailyCap:     getEnvAsInt("EMAIL_DAILY_CAP", 450),
		MessagingDailyCap: getEnvAsInt("MESSAGING_DAILY_CAP", 197),
		DispatchMinDelay:  getEnvAsDuration("DISPATCH_MIN_DELAY", "2s"),
		DispatchMaxDelay:  getEnvAsDuration("DISPATCH_MAX_DELAY", "6s"),
		DispatchQueueSize: getEnvAsInt("DISPATCH_QUEUE_SIZE", 512),
		DispatchVariation: getEnv("DISPATCH_VARIATION", "true") == "true",

		// Per-destination send limiter
		SendHourlyCap: getEnvAsInt("SEND_HOURLY_CAP", 10),
		SendDailyCap:  getEnvAsInt("SEND_DAILY_CAP", 50),

		// SMTP
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 465),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@otpgate.io"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "OTPGate"),

		// Twilio
		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioSMSFrom:    getEnv("TWILIO_SMS_FROM", ""),

		// WhatsApp session gateway
		WhatsAppGatewayURL:    getEnv("WHATSAPP_GATEWAY_URL", "http://localhost:3333"),
		WhatsAppGatewayAPIKey: getEnv("WHATSAPP_GATEWAY_API_KEY", ""),

		// Backup S3
		BackupEnabled:           getEnv("BACKUP_ENABLED", "false") == "true",
		BackupInterval:          getEnvAsDuration("BACKUP_INTERVAL", "24h"),
		BackupS3Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupS3AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupS3SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		BackupS3UsePathStyle:    getEnv("BACKUP_S3_USE_PATH_STYLE", "true") == "true",
		BackupBucket:            getEnv("BACKUP_BUCKET", "otpgate-backups"),

		// Security
		BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
		EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),

		// Admin action throttle
		AdminRateLimitActions:       getEnvAsInt("ADMIN_RATE_LIMIT_ACTIONS", 5),
		AdminRateLimitWindowMinutes: getEnvAsInt("ADMIN_RATE_LIMIT_WINDOW_MINUTES", 60),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AllowedMethods: getEnvAsSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvAsSlice("ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Hour
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
