package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainquiz/apiserver/pkg/errutil"
)

func TestLogErrorWithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("AUTH_INVALID_COST").
		With("cost", 99).
		Errorf("invalid cost")

	errutil.LogError(logger, "hash password", err, "route", "/user/signup")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "hash password", entry["msg"])
	assert.Equal(t, "AUTH_INVALID_COST", entry["code"])
	assert.Equal(t, "/user/signup", entry["route"])
	assert.Equal(t, "invalid cost", entry["error"])

	ctx, ok := entry["context"].(map[string]any)
	require.True(t, ok, "oops context is logged as a group: %v", entry["context"])
	assert.EqualValues(t, 99, ctx["cost"])
}

func TestLogErrorWithoutCodeOrContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "sign token", oops.Errorf("signing failed"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "signing failed", entry["error"])
	assert.NotContains(t, entry, "code")
	assert.NotContains(t, entry, "context")
}

func TestLogErrorKeepsCallerArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	args := []any{"path", "/user/login", "request_id", "req-1"}
	errutil.LogError(logger, "authenticate", errors.New("timeout"), args...)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/user/login", entry["path"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "timeout", entry["error"])
	assert.Len(t, args, 4, "caller args are not appended to")
}

func TestLogErrorWithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "load user", errors.New("connection refused"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry["error"], "connection refused")
	assert.NotContains(t, entry, "code")
}
