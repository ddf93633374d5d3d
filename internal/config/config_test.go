package config_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/pitch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env
	for _, name := range []string{"PITCH_SCRIPT", "PITCH_STORE", "PITCH_DSN", "DATABASE_URL", "PITCH_REDIS_ADDR", "PITCH_ADDR", "PITCH_WAKE_SCHEDULE", "PITCH_WAKE_BATCH", "PITCH_LOCK_TTL", "PITCH_REGION"} {
		t.Setenv(name, "")
	}

	c := config.Load()
	assert.Equal(t, config.StoreFile, c.Store)
	assert.Equal(t, config.DefaultAddr, c.Addr)
	assert.Equal(t, config.DefaultWakeSchedule, c.WakeSchedule)
	assert.Equal(t, config.DefaultWakeBatch, c.WakeBatch)
	assert.Equal(t, config.DefaultLockTTL, c.LockTTL)
	assert.Equal(t, "US", c.Region)
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PITCH_SCRIPT", "story.yaml")
	t.Setenv("PITCH_STORE", "")
	t.Setenv("PITCH_DSN", "postgres://u:p@localhost/pitch")
	t.Setenv("PITCH_PII_PATTERNS", "password, \\d{4} ,")
	t.Setenv("PITCH_LOCK_TTL", "10s")
	t.Setenv("PITCH_MAX_CHAIN_DEPTH", "12")
	t.Setenv("PITCH_PUBLIC_URL", "https://example.com/")

	c := config.Load()
	assert.Equal(t, "story.yaml", c.Script)
	assert.Equal(t, config.StorePostgres, c.Store)
	assert.Equal(t, []string{"password", `\d{4}`}, c.PIIPatterns)
	assert.Equal(t, 10*time.Second, c.LockTTL)
	assert.Equal(t, 12, c.MaxChainDepth)
	assert.Equal(t, "https://example.com", c.PublicURL)
	assert.NoError(t, c.Validate())
}

func TestDetectStore(t *testing.T) {
	assert.Equal(t, config.StorePostgres, config.DetectStore("postgresql://x", ""))
	assert.Equal(t, config.StorePostgres, config.DetectStore("host=db user=pitch", ""))
	assert.Equal(t, config.StoreSQLite, config.DetectStore("/var/lib/pitch.db", ""))
	assert.Equal(t, config.StoreRedis, config.DetectStore("", "localhost:6379"))
	assert.Equal(t, config.StoreFile, config.DetectStore("", ""))
}

func TestValidate(t *testing.T) {
	c := config.Config{
		Store:            "mongo",
		WakeSchedule:     "every so often",
		EncryptionKey:    "short",
		TwilioAccountSID: "AC123",
	}
	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"script path", "unknown store", "wake schedule", "encryption key", "TWILIO_AUTH_TOKEN"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}

func TestEncryptionKeyBytes(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	c := config.Config{EncryptionKey: base64.StdEncoding.EncodeToString(key)}
	got, err := c.EncryptionKeyBytes()
	require.NoError(t, err)
	assert.Equal(t, key, got)

	c.EncryptionKey = strings.Repeat("ab", 32)
	got, err = c.EncryptionKeyBytes()
	require.NoError(t, err)
	assert.Len(t, got, 32)
}
