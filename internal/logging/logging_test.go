package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn", "chat-realtime", "production")
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	dev, err := NewLogger("debug", "chat-realtime", "development")
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger("loud", "chat-realtime", "production")
	require.Error(t, err)
}
