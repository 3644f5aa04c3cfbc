package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Level(t *testing.T) {
	t.Cleanup(func() { _ = Init(nil) })

	require.NoError(t, Init(&Config{Level: "debug"}))
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())

	assert.Error(t, Init(&Config{Level: "chatty"}))
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel(), "unknown level falls back to info")
}

func TestComponent(t *testing.T) {
	e := Component("ENGINE")
	assert.Equal(t, "ENGINE", e.Data["component"])
}
