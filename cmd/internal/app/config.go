package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// PublicBaseURL is the origin used in invitation links.
	// Empty derives it from HTTPAddr.
	PublicBaseURL string

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, PORTAL_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and invitation
	// token hashing must be HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Bootstrap admin for in-memory runs. Ignored with a database, where
	// `portal admin create` is the only way to grant admin.
	SeedAdminEmail    string
	SeedAdminName     string
	SeedAdminPassword string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("PORTAL_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("PORTAL_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("PORTAL_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PORTAL_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PORTAL_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PORTAL_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PORTAL_HTTP_MAX_HEADER_BYTES", 1<<20),

		PublicBaseURL: EnvString("PORTAL_PUBLIC_BASE_URL", ""),

		DatabaseURL: EnvString("PORTAL_DATABASE_URL", ""),
		DBSchema:    EnvString("PORTAL_DB_SCHEMA", "portal"),
		DBMaxConns:  EnvInt32("PORTAL_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PORTAL_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PORTAL_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("PORTAL_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("PORTAL_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("PORTAL_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("PORTAL_CORS_MAX_AGE_SECONDS", 600),

		SeedAdminEmail:    EnvString("PORTAL_ADMIN_EMAIL", ""),
		SeedAdminName:     EnvString("PORTAL_ADMIN_NAME", ""),
		SeedAdminPassword: EnvString("PORTAL_ADMIN_PASSWORD", ""),
	}
}
