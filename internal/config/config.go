// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

const (
	DefaultStateDir     = ".pitch"
	DefaultAddr         = ":8080"
	DefaultWakeSchedule = "@every 1m"
	DefaultWakeBatch    = 100
	DefaultRegion       = "US"
	DefaultLockTTL      = 30 * time.Second
)

// Config holds every setting of the pitch binary.
type Config struct {
	Script   string
	Store    string
	StateDir string
	DSN      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	Addr      string
	PublicURL string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	Region           string

	WakeSchedule string
	WakeBatch    int

	LogLevel      string
	EncryptionKey string
	PIIPatterns   []string
	MaxChainDepth int
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	c := Config{
		Script:           os.Getenv("PITCH_SCRIPT"),
		Store:            strings.ToLower(os.Getenv("PITCH_STORE")),
		StateDir:         os.Getenv("PITCH_STATE_DIR"),
		DSN:              firstNonEmpty(os.Getenv("PITCH_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:        os.Getenv("PITCH_REDIS_ADDR"),
		RedisPassword:    os.Getenv("PITCH_REDIS_PASSWORD"),
		RedisDB:          envInt("PITCH_REDIS_DB", 0),
		LockTTL:          envDuration("PITCH_LOCK_TTL", DefaultLockTTL),
		Addr:             firstNonEmpty(os.Getenv("PITCH_ADDR"), DefaultAddr),
		PublicURL:        strings.TrimSuffix(os.Getenv("PITCH_PUBLIC_URL"), "/"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		Region:           firstNonEmpty(os.Getenv("PITCH_REGION"), DefaultRegion),
		WakeSchedule:     firstNonEmpty(os.Getenv("PITCH_WAKE_SCHEDULE"), DefaultWakeSchedule),
		WakeBatch:        envInt("PITCH_WAKE_BATCH", DefaultWakeBatch),
		LogLevel:         firstNonEmpty(os.Getenv("PITCH_LOG_LEVEL"), "info"),
		EncryptionKey:    os.Getenv("PITCH_ENCRYPTION_KEY"),
		PIIPatterns:      splitList(os.Getenv("PITCH_PII_PATTERNS")),
		MaxChainDepth:    envInt("PITCH_MAX_CHAIN_DEPTH", 0),
	}

	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.Store == "" {
		c.Store = DetectStore(c.DSN, c.RedisAddr)
	}
	if c.Store == StoreSQLite && c.DSN == "" {
		c.DSN = filepath.Join(c.StateDir, "pitch.db")
	}
	if c.Store == StoreRedis && c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	return c
}

// DetectStore guesses the backend from what is configured.
func DetectStore(dsn, redisAddr string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return StorePostgres
	case dsn != "":
		return StoreSQLite
	case redisAddr != "":
		return StoreRedis
	default:
		return StoreFile
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Script == "" {
		errs = append(errs, errors.New("script path is required (PITCH_SCRIPT or --script)"))
	}
	switch c.Store {
	case StoreMemory, StoreFile, StoreSQLite, StoreRedis:
	case StorePostgres:
		if c.DSN == "" {
			errs = append(errs, errors.New("postgres store needs PITCH_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.WakeSchedule != "" {
		if _, err := cron.ParseStandard(c.WakeSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid wake schedule %q: %w", c.WakeSchedule, err))
		}
	}
	if c.WakeBatch < 0 {
		errs = append(errs, errors.New("wake batch must not be negative"))
	}
	if c.EncryptionKey != "" {
		if _, err := c.EncryptionKeyBytes(); err != nil {
			errs = append(errs, err)
		}
	}
	if (c.TwilioAccountSID == "") != (c.TwilioAuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together"))
	}
	return errors.Join(errs...)
}

// TwilioEnabled reports whether outbound SMS can be sent through Twilio.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// EncryptionKeyBytes decodes the 32-byte key, given as hex or base64.
func (c Config) EncryptionKeyBytes() ([]byte, error) {
	raw := strings.TrimSpace(c.EncryptionKey)
	if key, err := hex.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(raw); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, errors.New("encryption key must be 32 bytes, hex or base64 encoded")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "name", name, "value", v)
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration setting", "name", name, "value", v)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
