package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", *NewDefaultConfig(), false},
		{"json debug", Config{Level: "debug", Format: "json"}, false},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLoggerTo(&Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	ctx := WithFileIdentity(WithRunID(context.Background(), "run-1"), "app.py-abc")
	l.Debug(ctx, "hidden")
	l.Info(ctx, "visible", zap.Int("n", 3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "run-1", entry["run.id"])
	assert.Equal(t, "app.py-abc", entry["file.identity"])
	assert.EqualValues(t, 3, entry["n"])
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunIDFromContext(ctx))
	assert.Empty(t, ContextFields(ctx))

	tl := NewTestLogger()
	ctx = WithLogger(ctx, tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "r-9")
	tl.Named("refine").Warn(ctx, "scoring failed", zap.String("reason", "timeout"))

	tl.AssertLogged(t, zapcore.WarnLevel, "scoring failed")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "scoring failed")
	tl.AssertField(t, "scoring failed", "run.id", "r-9")
	tl.AssertField(t, "scoring", "reason", "timeout")
	assert.Len(t, tl.All(), 1)
}
