package cmd

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/futurehomeno/cliffhanger/bootstrap"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/httpapi"
	"github.com/enervia/edge-acpw-agent/internal/meter"
	"github.com/enervia/edge-acpw-agent/internal/routing"
	"github.com/enervia/edge-acpw-agent/internal/serial"
	"github.com/enervia/edge-acpw-agent/internal/station"
	"github.com/enervia/edge-acpw-agent/internal/storage"
)

const mqttDisconnectQuiesceMs = 250

// Execute is an entry point to the charge point agent.
func Execute() {
	cfg := getConfigService().Model()

	bootstrap.InitializeLogger(cfg.LogFile, cfg.LogLevel, cfg.LogFormat)

	agent := Build()

	if err := agent.Start(); err != nil {
		log.WithError(err).Fatalf("failed to start the agent")
	}

	bootstrap.WaitForShutdown()

	if err := agent.Stop(); err != nil {
		log.WithError(err).Fatalf("failed to stop the agent")
	}
}

// Build assembles the agent from the service container.
func Build() *Agent {
	return &Agent{
		cfg:           getConfigService(),
		mqttClient:    getMQTTClient(),
		store:         getStore(),
		serialManager: getSerialManager(),
		supervisor:    getSupervisor(),
		meterPoller:   getMeterPoller(),
		httpServer:    getHTTPServer(),
	}
}

// Agent owns the service start and stop order. Services start from the
// persistence layer outwards, so every consumer finds its dependencies
// running, and stop in reverse.
type Agent struct {
	cfg           *config.Service
	mqttClient    mqtt.Client
	store         storage.Store
	serialManager serial.Manager
	supervisor    *station.Supervisor
	meterPoller   meter.Poller
	httpServer    httpapi.Server
}

func (a *Agent) Start() error {
	if token := a.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "failed to connect to the MQTT broker")
	}

	if err := a.store.Start(); err != nil {
		return errors.Wrap(err, "failed to start the store")
	}

	if err := a.serialManager.Start(); err != nil {
		return errors.Wrap(err, "failed to start the serial link")
	}

	if err := a.supervisor.Start(); err != nil {
		return errors.Wrap(err, "failed to start the supervisor")
	}

	if err := a.meterPoller.Start(); err != nil {
		return errors.Wrap(err, "failed to start the meter poller")
	}

	if err := a.httpServer.Start(); err != nil {
		return errors.Wrap(err, "failed to start the HTTP API")
	}

	err := routing.SubscribeCommands(a.mqttClient, a.cfg.GetChargePointID(), a.supervisor.HandleMessage)

	return errors.Wrap(err, "failed to subscribe to inbound commands")
}

func (a *Agent) Stop() error {
	if err := a.httpServer.Stop(); err != nil {
		log.WithError(err).Error("failed to stop the HTTP API")
	}

	if err := a.meterPoller.Stop(); err != nil {
		log.WithError(err).Error("failed to stop the meter poller")
	}

	if err := a.supervisor.Stop(); err != nil {
		log.WithError(err).Error("failed to stop the supervisor")
	}

	if err := a.serialManager.Stop(); err != nil {
		log.WithError(err).Error("failed to stop the serial link")
	}

	if err := a.store.Stop(); err != nil {
		log.WithError(err).Error("failed to stop the store")
	}

	a.mqttClient.Disconnect(mqttDisconnectQuiesceMs)

	return nil
}
