package cmd

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/futurehomeno/cliffhanger/bootstrap"
	cliffCfg "github.com/futurehomeno/cliffhanger/config"
	"github.com/futurehomeno/cliffhanger/database"
	"github.com/futurehomeno/cliffhanger/event"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/httpapi"
	"github.com/enervia/edge-acpw-agent/internal/meter"
	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/routing"
	"github.com/enervia/edge-acpw-agent/internal/serial"
	"github.com/enervia/edge-acpw-agent/internal/station"
	"github.com/enervia/edge-acpw-agent/internal/storage"
)

// services is a container for services that are common dependencies.
var services = &serviceContainer{}

// serviceContainer is a type representing a dependency injection container to be used during bootstrap of the application.
type serviceContainer struct {
	configService *config.Service
	mqttClient    mqtt.Client
	eventManager  event.Manager

	db            database.Database
	store         storage.Store
	serialManager serial.Manager
	dispatcher    acpw.Dispatcher
	supervisor    *station.Supervisor
	router        routing.Router
	meterPoller   meter.Poller
	httpServer    httpapi.Server
}

func resetContainer() {
	services = &serviceContainer{}
}

// getConfigService initiates a configuration service and loads the config.
func getConfigService() *config.Service {
	if services.configService == nil {
		workDir := bootstrap.GetConfigurationDirectory()
		cfg := config.New(workDir)
		services.configService = config.NewService(cliffCfg.NewStorage(cfg, workDir))

		err := services.configService.Load()
		if err != nil {
			log.WithError(err).Fatal("failed to load configuration")
		}
	}

	return services.configService
}

// getEventManager creates or returns existing event manager service.
func getEventManager() event.Manager {
	if services.eventManager == nil {
		services.eventManager = event.NewManager()
	}

	return services.eventManager
}

// getMQTTClient creates or returns existing MQTT client. The client does not
// connect until Start.
func getMQTTClient() mqtt.Client {
	if services.mqttClient == nil {
		cfg := getConfigService()

		opts := mqtt.NewClientOptions()
		opts.AddBroker(cfg.GetMQTTServerURI())
		opts.SetClientID(cfg.GetMQTTClientIDPrefix() + "-" + cfg.GetChargePointID())
		opts.SetUsername(cfg.GetMQTTUsername())
		opts.SetPassword(cfg.GetMQTTPassword())
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)

		services.mqttClient = mqtt.NewClient(opts)
	}

	return services.mqttClient
}

// getStore creates or returns existing persistence store.
func getStore() storage.Store {
	if services.store == nil {
		db, err := database.NewDatabase(getConfigService().Model().WorkDir)
		if err != nil {
			log.WithError(err).Fatal("failed to open database")
		}

		services.db = db
		services.store = storage.NewStore(db)
	}

	return services.store
}

// getSerialManager creates or returns existing serial link manager. Inbound
// frames are relayed to the dispatcher lazily to break the construction
// cycle between the link and the dispatcher.
func getSerialManager() serial.Manager {
	if services.serialManager == nil {
		cfg := getConfigService()

		services.serialManager = serial.NewManager(
			cfg,
			serial.NewOpener(cfg.GetSerialPort(), cfg.GetSerialBaudRate()),
			frameRelay{},
		)
	}

	return services.serialManager
}

// getDispatcher creates or returns existing protocol dispatcher.
func getDispatcher() acpw.Dispatcher {
	if services.dispatcher == nil {
		services.dispatcher = acpw.NewDispatcher(getSerialManager(), boardEvents{})
	}

	return services.dispatcher
}

// getSupervisor creates or returns existing station supervisor.
func getSupervisor() *station.Supervisor {
	if services.supervisor == nil {
		services.supervisor = station.New(
			getConfigService(),
			getDispatcher(),
			getRouter(),
			getStore(),
		)
	}

	return services.supervisor
}

// getRouter creates or returns existing outbound message router with all
// sinks registered.
func getRouter() routing.Router {
	if services.router == nil {
		router := routing.New(getConfigService().GetChargePointID())

		router.RegisterSink(routing.NewMQTTSink(routing.SinkCloud, routing.TopicPrefixCloud, getMQTTClient()))
		router.RegisterSink(routing.NewMQTTSink(routing.SinkOCPP, routing.TopicPrefixOCPP, getMQTTClient()))
		router.RegisterSink(routing.NewMQTTSink(routing.SinkModbusTCP, routing.TopicPrefixModbusTCP, getMQTTClient()))
		router.RegisterSink(routing.NewEventSink(routing.SinkUI, getEventManager()))

		services.router = router
	}

	return services.router
}

// getMeterPoller creates or returns existing meter poller.
func getMeterPoller() meter.Poller {
	if services.meterPoller == nil {
		services.meterPoller = meter.NewPoller(getConfigService(), getDispatcher())
	}

	return services.meterPoller
}

// getHTTPServer creates or returns existing local HTTP API server.
func getHTTPServer() httpapi.Server {
	if services.httpServer == nil {
		services.httpServer = httpapi.NewServer(
			getConfigService().GetHTTPBindAddress(),
			getSupervisor(),
			getEventManager(),
		)
	}

	return services.httpServer
}

// frameRelay forwards decoded inbound frames to the dispatcher. The serial
// manager is constructed before the dispatcher, so the lookup is deferred to
// call time.
type frameRelay struct{}

func (frameRelay) HandleFrame(frame acpw.Frame) error {
	return getDispatcher().HandleFrame(frame)
}

// boardEvents forwards decoded board events to the supervisor, deferring the
// lookup to call time for the same reason.
type boardEvents struct{}

func (boardEvents) HandlePilotState(state model.ControlPilotState) error {
	return getSupervisor().HandlePilotState(state)
}

func (boardEvents) HandleProximityState(state model.ProximityPilotState) error {
	return getSupervisor().HandleProximityState(state)
}

func (boardEvents) HandleVoltage(values model.PhaseValues) error {
	return getSupervisor().HandleVoltage(values)
}

func (boardEvents) HandleCurrent(values model.PhaseValues) error {
	return getSupervisor().HandleCurrent(values)
}

func (boardEvents) HandlePower(values model.PhaseValues) error {
	return getSupervisor().HandlePower(values)
}

func (boardEvents) HandleEnergy(wh int64) error {
	return getSupervisor().HandleEnergy(wh)
}

func (boardEvents) HandleFaultMask(mask uint32) error {
	return getSupervisor().HandleFaultMask(mask)
}
