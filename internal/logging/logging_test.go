package logging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabiocdo/hb-store-cdn/internal/config"
)

func TestNewBuildsLoggerForEveryValidLevel(t *testing.T) {
	for _, level := range []config.LogLevel{
		config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarning, config.LogLevelError,
	} {
		log, err := New(level)
		require.NoError(t, err)
		require.NotNil(t, log.GetSink())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("verbose")
	require.Error(t, err)
}
