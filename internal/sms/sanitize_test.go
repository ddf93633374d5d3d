package sms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_SizeLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"Under Limit", DefaultMaxInputSize - 1, false},
		{"Exact Limit", DefaultMaxInputSize, false},
		{"Over Limit", DefaultMaxInputSize + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sanitize(strings.Repeat("a", tt.size))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInputTooLarge)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitize_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "4")
	_, err := Sanitize("open")
	require.NoError(t, err)
	_, err = Sanitize("xyzzy")
	assert.ErrorIs(t, err, ErrInputTooLarge)
}

func TestSanitize_ControlChars(t *testing.T) {
	tests := []struct {
		name, input, want string
	}{
		{"Normal Text", "open door", "open door"},
		{"Safe Controls", "open\r\n", "open\r\n"},
		{"ANSI Code", "\x1b[31mopen", "[31mopen"},
		{"Null Byte", "op\x00en", "open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize_InvalidUTF8(t *testing.T) {
	_, err := Sanitize("\xff\xfe")
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}
