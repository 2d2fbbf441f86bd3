package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phuongtg/spark-cloud-go/pkg/connection"
	"github.com/phuongtg/spark-cloud-go/pkg/log"
	"github.com/phuongtg/spark-cloud-go/pkg/persistence"
	"github.com/phuongtg/spark-cloud-go/pkg/session"
	"github.com/phuongtg/spark-cloud-go/pkg/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]string{"-token", "abc", "-scope", "public"}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, transport.DefaultBaseURL, cfg.APIURL)
	assert.Equal(t, "abc", cfg.Token)
	assert.Equal(t, "public", cfg.Scope)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, transport.DefaultIdleTimeout, cfg.IdleTimeout)
	assert.False(t, cfg.Interactive)
}

func TestParseConfigFile(t *testing.T) {
	path := writeConfig(t, `
api_url: http://localhost:8080
token: from-file
scope: mine
prefix: temp/
log_level: debug
idle_timeout: 45s
backoff:
  initial: 500ms
  max: 30s
  multiplier: 1.5
`)

	cfg, err := parseConfig([]string{"-config", path}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, "from-file", cfg.Token)
	assert.Equal(t, "mine", cfg.Scope)
	assert.Equal(t, "temp/", cfg.Prefix)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)

	bc := cfg.Backoff.connectionConfig()
	assert.Equal(t, 500*time.Millisecond, bc.Initial)
	assert.Equal(t, 30*time.Second, bc.Max)
	assert.Equal(t, 1.5, bc.Multiplier)
	assert.Equal(t, connection.JitterFactor, bc.Jitter, "unset fields keep defaults")
}

func TestParseConfigFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
token: from-file
scope: mine
log_level: debug
`)

	cfg, err := parseConfig([]string{"-config", path, "-scope", "device:abc", "-log-level", "warn"}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Token, "file value kept when flag not given")
	assert.Equal(t, "device:abc", cfg.Scope)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no credentials", []string{"-scope", "public"}},
		{"bad scope", []string{"-token", "x", "-scope", "everywhere"}},
		{"prefix without scope", []string{"-token", "x", "-interactive", "-prefix", "temp"}},
		{"bad log level", []string{"-token", "x", "-scope", "public", "-log-level", "loud"}},
		{"nothing to watch", []string{"-token", "x"}},
		{"unknown flag", []string{"-verbose"}},
		{"extra args", []string{"-token", "x", "-scope", "public", "extra"}},
		{"missing config file", []string{"-config", "/nonexistent/spark.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestParseConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "token: [unterminated\n")
	_, err := parseConfig([]string{"-config", path}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestParseConfigHelp(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseConfig([]string{"-h"}, &stderr)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, stderr.String(), "spark-events - subscribe to and publish cloud events")
	assert.Contains(t, stderr.String(), "-protocol-log")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("token", func(t *testing.T) {
		creds, err := newCredentials(Config{Token: "abc"}, logger, log.NoopLogger{})
		require.NoError(t, err)
		cred, err := creds.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", cred.AccessToken)
	})

	t.Run("saved session", func(t *testing.T) {
		dir := t.TempDir()
		store := persistence.NewSessionStore(filepath.Join(dir, sessionFile))
		require.NoError(t, store.Save(&persistence.SessionState{
			AccessToken:  "saved",
			RefreshToken: "refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		}))

		creds, err := newCredentials(Config{StateDir: dir, APIURL: "http://localhost"}, logger, log.NoopLogger{})
		require.NoError(t, err)
		require.IsType(t, &session.Manager{}, creds)
		cred, err := creds.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "saved", cred.AccessToken)
	})

	t.Run("no session", func(t *testing.T) {
		_, err := newCredentials(Config{StateDir: t.TempDir()}, logger, log.NoopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no saved session")
	})
}

func TestSetupProtocolLog(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo}))
	debug := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pl, closeFn, err := setupProtocolLog(Config{}, quiet)
	require.NoError(t, err)
	assert.IsType(t, log.NoopLogger{}, pl)
	closeFn()

	pl, closeFn, err = setupProtocolLog(Config{}, debug)
	require.NoError(t, err)
	assert.IsType(t, &log.SlogAdapter{}, pl)
	closeFn()

	path := filepath.Join(t.TempDir(), "capture.elog")
	pl, closeFn, err = setupProtocolLog(Config{ProtocolLog: path}, debug)
	require.NoError(t, err)
	assert.IsType(t, &log.MultiLogger{}, pl)
	pl.Log(log.Event{Timestamp: time.Now(), Scope: "public"})
	closeFn()

	reader, err := log.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "public", ev.Scope)
}
