package main

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"import-tracker/internal/config"
)

func TestNewLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, newLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, newLogger("chatty").GetLevel())
}

func TestAppInMemoryOnly(t *testing.T) {
	cfg, err := config.Parse([]byte("registry:\n  id_prefix: ui-\n"))
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	app, err := NewApp(cfg, logger)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "ui-0", app.registry.NewImport("db1").ID)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, app.Run(ctx))
}
