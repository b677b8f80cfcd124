package cmd

import (
	"testing"

	cliffCfg "github.com/futurehomeno/cliffhanger/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/config"
)

func seedConfig(t *testing.T) {
	t.Helper()

	resetContainer()
	t.Cleanup(resetContainer)

	workDir := t.TempDir()
	cfg := config.New(workDir)
	services.configService = config.NewService(cliffCfg.NewStorage(cfg, workDir))
}

func TestBuild(t *testing.T) { //nolint:paralleltest
	seedConfig(t)

	agent := Build()

	require.NotNil(t, agent)
	assert.NotNil(t, services.mqttClient)
	assert.NotNil(t, services.store)
	assert.NotNil(t, services.serialManager)
	assert.NotNil(t, services.dispatcher)
	assert.NotNil(t, services.supervisor)
	assert.NotNil(t, services.router)
	assert.NotNil(t, services.meterPoller)
	assert.NotNil(t, services.httpServer)
}

func TestRelays(t *testing.T) { //nolint:paralleltest
	seedConfig(t)

	Build()

	// Frames with commands the dispatch table does not know are dropped.
	assert.NoError(t, frameRelay{}.HandleFrame(acpw.Frame{Command: acpw.CommandID(0xFE)}))

	// Events queue on the supervisor loop even before it runs.
	assert.NoError(t, boardEvents{}.HandleEnergy(1500))
}
