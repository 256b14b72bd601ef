package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	Env      string
	LogLevel string

	DBDriver string
	DBDSN    string

	SessionSecret       string
	SessionTTL          time.Duration
	SessionCookieSecure bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	UploadBackend string
	UploadDir     string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3UseSSL      bool

	WSInsecureSkipVerify bool
	WSOriginPatterns     []string
	WSMessageRPS         float64
	WSMessageBurst       int

	CORSOrigin string

	OTLPEndpoint    string
	OTELServiceName string
}

func (c Config) Development() bool { return c.Env == "development" }

func Load() Config {
	return Config{
		Port:     envInt("APP_PORT", 8084),
		Env:      envOr("APP_ENV", "production"),
		LogLevel: envOr("LOG_LEVEL", "info"),

		DBDriver: strings.ToLower(envOr("DB_DRIVER", "mysql")),
		DBDSN:    os.Getenv("DB_DSN"),

		SessionSecret:       os.Getenv("SESSION_SECRET"),
		SessionTTL:          envDuration("SESSION_TTL", time.Hour),
		SessionCookieSecure: envBool("SESSION_COOKIE_SECURE", false),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		UploadBackend: strings.ToLower(envOr("UPLOAD_BACKEND", "disk")),
		UploadDir:     envOr("UPLOAD_DIR", "public"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3AccessKey:   os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("S3_SECRET_KEY"),
		S3Bucket:      envOr("S3_BUCKET", "animehub"),
		S3UseSSL:      envBool("S3_USE_SSL", false),

		WSInsecureSkipVerify: envBool("WS_INSECURE_SKIP_VERIFY", false),
		WSOriginPatterns:     envList("WS_ORIGIN_PATTERNS"),
		WSMessageRPS:         envFloat("WS_MESSAGE_RPS", 5),
		WSMessageBurst:       envInt("WS_MESSAGE_BURST", 10),

		CORSOrigin: envOr("CORS_ORIGIN", "http://localhost:5500"),

		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELServiceName: envOr("OTEL_SERVICE_NAME", "animehub-be"),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
		if c.DBDSN == "" {
			errs = append(errs, errors.New("DB_DSN is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver))
	}
	if c.SessionSecret == "" && !(c.DBDriver == "memory" && c.Development()) {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	}
	switch c.UploadBackend {
	case "disk":
	case "minio":
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for UPLOAD_BACKEND=minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("UPLOAD_BACKEND %q is not supported", c.UploadBackend))
	}
	if c.WSMessageRPS <= 0 || c.WSMessageBurst < 1 {
		errs = append(errs, errors.New("WS_MESSAGE_RPS and WS_MESSAGE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envDuration accepts Go durations ("90m") or a plain number of seconds.
func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func envList(k string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(k), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
