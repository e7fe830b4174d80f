package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestZapConfig(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, zapConfig(true).Level.Level())
	assert.Equal(t, zapcore.InfoLevel, zapConfig(false).Level.Level())
}

func TestInitialize_WithoutSentry(t *testing.T) {
	require.NoError(t, Initialize(Config{Debug: true}))
	assert.NotNil(t, Default())
	assert.Nil(t, sentryClient)

	// None of these may panic
	Info("info", zap.String("k", "v"))
	Debug("debug")
	Warn("warn")
	Error(nil)
	Error(errors.New("boom"))
	InfoCtx(context.Background(), "info ctx")
	ErrorCtx(context.Background(), errors.New("boom"))
	Named("component").Info("named")
	Flush(time.Millisecond)
}

func TestInitialize_InvalidDSN(t *testing.T) {
	err := Initialize(Config{SentryDSN: "not a dsn"})
	assert.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "error occurred", errorMessage(nil))
	assert.Equal(t, "boom", errorMessage(errors.New("boom")))
}
