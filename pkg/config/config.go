package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Extraction ExtractionConfig
	Compliance ComplianceConfig
	Scheduler  SchedulerConfig
	Email      EmailConfig
	LogLevel   string
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	BodyLimit    int64
	CORSOrigins  []string

	// Extraction runs per client IP per minute.
	RunRateLimit   int
	IdempotencyTTL time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type StorageConfig struct {
	BasePath    string
	MaxFileSize int64
}

// ExtractionConfig drives the document pipeline and its external tools.
type ExtractionConfig struct {
	Provider            string // openai | gemini
	Model               string
	OpenAIKey           string
	OpenAIBaseURL       string
	GeminiKey           string
	OracleTimeout       time.Duration
	RasterTimeout       time.Duration
	RasterDPI           int
	RasterWorkers       int
	PdftotextBin        string
	PdftoppmBin         string
	PdfimagesBin        string
	ConfidenceThreshold float64
	RunTimeout          time.Duration
	QueueWorkers        int
	QueueSize           int
}

// ComplianceConfig overrides the compliance policy windows.
type ComplianceConfig struct {
	VATFilingWindow     time.Duration
	IDExpiryHorizon     time.Duration
	LicenseHighHorizon  time.Duration
	LicenseMedHorizon   time.Duration
	OverdueWindow       time.Duration
	UpcomingWindow      time.Duration
	CriticalWithin      time.Duration
	HighWithin          time.Duration
	ReportCacheTTL      time.Duration
	ReportCacheDisabled bool
}

type SchedulerConfig struct {
	Enabled         bool
	Interval        time.Duration
	DigestRecipient string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPUseTLS   bool
}

const day = 24 * time.Hour

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			BodyLimit:    int64(getIntEnv("SERVER_BODY_LIMIT", 25<<20)),
			CORSOrigins:  strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ","),

			RunRateLimit:   getIntEnv("RATE_LIMIT_RUNS_PER_MINUTE", 30),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Storage: StorageConfig{
			BasePath:    getEnv("STORAGE_BASE_PATH", "./data/documents"),
			MaxFileSize: int64(getIntEnv("STORAGE_MAX_FILE_SIZE", 20<<20)),
		},
		Extraction: ExtractionConfig{
			Provider:            strings.ToLower(getEnv("EXTRACTION_PROVIDER", "openai")),
			Model:               getEnv("EXTRACTION_MODEL", ""),
			OpenAIKey:           getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			GeminiKey:           getEnv("GEMINI_API_KEY", ""),
			OracleTimeout:       getDurationEnv("EXTRACTION_ORACLE_TIMEOUT", 90*time.Second),
			RasterTimeout:       getDurationEnv("EXTRACTION_RASTER_TIMEOUT", 45*time.Second),
			RasterDPI:           getIntEnv("EXTRACTION_RASTER_DPI", 144),
			RasterWorkers:       getIntEnv("EXTRACTION_RASTER_WORKERS", 2),
			PdftotextBin:        getEnv("PDFTOTEXT_BIN", "pdftotext"),
			PdftoppmBin:         getEnv("PDFTOPPM_BIN", "pdftoppm"),
			PdfimagesBin:        getEnv("PDFIMAGES_BIN", "pdfimages"),
			ConfidenceThreshold: getFloatEnv("EXTRACTION_CONFIDENCE_THRESHOLD", 0.7),
			RunTimeout:          getDurationEnv("EXTRACTION_RUN_TIMEOUT", 4*time.Minute),
			QueueWorkers:        getIntEnv("EXTRACTION_QUEUE_WORKERS", 4),
			QueueSize:           getIntEnv("EXTRACTION_QUEUE_SIZE", 64),
		},
		Compliance: ComplianceConfig{
			VATFilingWindow:     getDurationEnv("COMPLIANCE_VAT_FILING_WINDOW", 28*day),
			IDExpiryHorizon:     getDurationEnv("COMPLIANCE_ID_EXPIRY_HORIZON", 90*day),
			LicenseHighHorizon:  getDurationEnv("COMPLIANCE_LICENSE_HIGH_HORIZON", 30*day),
			LicenseMedHorizon:   getDurationEnv("COMPLIANCE_LICENSE_MEDIUM_HORIZON", 60*day),
			OverdueWindow:       getDurationEnv("COMPLIANCE_OVERDUE_WINDOW", 7*day),
			UpcomingWindow:      getDurationEnv("COMPLIANCE_UPCOMING_WINDOW", 30*day),
			CriticalWithin:      getDurationEnv("COMPLIANCE_CRITICAL_WITHIN", 7*day),
			HighWithin:          getDurationEnv("COMPLIANCE_HIGH_WITHIN", 14*day),
			ReportCacheTTL:      getDurationEnv("COMPLIANCE_REPORT_CACHE_TTL", 10*time.Minute),
			ReportCacheDisabled: getBoolEnv("COMPLIANCE_REPORT_CACHE_DISABLED", false),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getBoolEnv("SCHEDULER_ENABLED", false),
			Interval:        getDurationEnv("SCHEDULER_INTERVAL", 24*time.Hour),
			DigestRecipient: getEnv("DIGEST_RECIPIENT", ""),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getIntEnv("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:     getEnv("SMTP_FROM", ""),
			SMTPUseTLS:   getBoolEnv("SMTP_USE_TLS", true),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	for _, scheme := range []string{"redis+tls://", "redis://"} {
		if strings.HasPrefix(url, scheme) {
			return url[len(scheme):]
		}
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
