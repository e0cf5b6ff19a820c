package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNewProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, true, "info").Info("login", "user_id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "login", line["msg"])
	assert.EqualValues(t, 7, line["user_id"])
}

func TestPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false, "warn")

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.With("request_id", "abc").WithGroup("db").Warn("slow query", "error", errors.New("timeout"))
	out := buf.String()
	assert.Contains(t, out, "slow query")
	assert.Contains(t, out, "request_id")
	assert.Contains(t, out, "db.error")
	assert.Contains(t, out, "timeout")
}

func TestRedactsCredentials(t *testing.T) {
	var pretty bytes.Buffer
	New(&pretty, false, "info").Info("refresh", "refresh_token", "abc.def.ghi", slog.Group("req", "Authorization", "Bearer xyz"), "user_id", 3)

	out := pretty.String()
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "Bearer xyz")
	assert.Contains(t, out, "req.Authorization")
	assert.Contains(t, out, redacted)

	var structured bytes.Buffer
	New(&structured, true, "info").Info("reset", "newPassword", "hunter22")

	var line map[string]any
	require.NoError(t, json.Unmarshal(structured.Bytes(), &line))
	assert.Equal(t, redacted, line["newPassword"])
}
