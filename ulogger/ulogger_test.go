package ulogger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToZerolog(t *testing.T) {
	logger := New("test")

	_, ok := logger.(*ZLoggerWrapper)
	assert.True(t, ok)
}

func TestZeroLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := NewZeroLogger("test", WithWriter(&buf), WithLevel("WARN"))
	require.NotNil(t, logger)

	logger.SetLogLevel("WARN")
	logger.Debugf("hidden %d", 1)
	logger.Infof("hidden %d", 2)

	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	assert.Empty(t, buf.String())
}

func TestDuplicateKeepsService(t *testing.T) {
	logger := NewZeroLogger("svc", WithLevel("ERROR"))

	dup := logger.Duplicate(WithLevel("DEBUG"))
	require.NotNil(t, dup)
	assert.Equal(t, "svc", dup.(*ZLoggerWrapper).service)

	child := logger.New("child")
	require.NotNil(t, child)
}
