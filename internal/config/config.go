package config

import (
	"strings"
	"sync"
	"time"

	"github.com/futurehomeno/cliffhanger/config"
	"github.com/futurehomeno/cliffhanger/storage"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// Config is a model containing all application configuration settings.
type Config struct {
	config.Default

	ChargePointID      string                  `json:"chargePointId"`
	SerialPort         string                  `json:"serialPort"`
	SerialBaudRate     int                     `json:"serialBaudRate"`
	SerialWritePacing  string                  `json:"serialWritePacing"`
	SerialWatchdog     string                  `json:"serialWatchdog"`
	AuthorizationMode  model.AuthorizationMode `json:"authorizationMode"`
	AuthorizationTime  string                  `json:"authorizationTimeout"`
	LocalAuthList      []string                `json:"localAuthList"`
	MasterCardUID      string                  `json:"masterCardUid"`
	OcppFreeMode       bool                    `json:"ocppFreeMode"`
	MinCurrent         uint8                   `json:"minCurrent"`
	MaxCurrent         uint8                   `json:"maxCurrent"`
	MeterPollInterval  string                  `json:"meterPollInterval"`
	SessionMirror      string                  `json:"sessionMirrorInterval"`
	MQTTServerURI      string                  `json:"mqttServerUri"`
	MQTTClientIDPrefix string                  `json:"mqttClientIdPrefix"`
	MQTTUsername       string                  `json:"mqttUsername"`
	MQTTPassword       string                  `json:"mqttPassword"`
	HTTPBindAddress    string                  `json:"httpBindAddress"`
	EcoCharge          model.EcoChargeConfig   `json:"ecoCharge"`
	DelayCharge        model.DelayChargeConfig `json:"delayCharge"`
}

// New creates new instance of a configuration object.
func New(workDir string) *Config {
	return &Config{
		Default:           config.NewDefault(workDir),
		ChargePointID:     "1",
		SerialPort:        "/dev/ttymxc2",
		SerialBaudRate:    115200,
		AuthorizationMode: model.ModeNoAuthorization,
		MinCurrent:        6,
		MaxCurrent:        32,
		HTTPBindAddress:   ":8090",
	}
}

// Service is a configuration service responsible for:
// - providing concurrency safe access to settings
// - persistence of settings
type Service struct {
	storage.Storage[*Config]
	lock *sync.RWMutex
}

// NewService creates a new configuration service.
func NewService(storage storage.Storage[*Config]) *Service {
	return &Service{
		Storage: storage,
		lock:    &sync.RWMutex{},
	}
}

// GetChargePointID allows to safely access a configuration setting.
func (cs *Service) GetChargePointID() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().ChargePointID
}

// GetSerialPort allows to safely access a configuration setting.
func (cs *Service) GetSerialPort() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().SerialPort
}

// GetSerialBaudRate allows to safely access a configuration setting.
func (cs *Service) GetSerialBaudRate() int {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	if rate := cs.Storage.Model().SerialBaudRate; rate > 0 {
		return rate
	}

	return 115200
}

// GetSerialWritePacing returns the minimum spacing between serial writes.
func (cs *Service) GetSerialWritePacing() time.Duration {
	return cs.duration(func(c *Config) string { return c.SerialWritePacing }, 100*time.Millisecond)
}

// GetSerialWatchdog returns the link staleness threshold.
func (cs *Service) GetSerialWatchdog() time.Duration {
	return cs.duration(func(c *Config) string { return c.SerialWatchdog }, 120*time.Second)
}

// GetAuthorizationMode allows to safely access a configuration setting.
func (cs *Service) GetAuthorizationMode() model.AuthorizationMode {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().AuthorizationMode
}

// SetAuthorizationMode allows to safely set and persist configuration settings.
func (cs *Service) SetAuthorizationMode(mode model.AuthorizationMode) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.Storage.Model().ConfiguredAt = time.Now().Format(time.RFC3339)
	cs.Storage.Model().AuthorizationMode = mode

	return cs.Storage.Save()
}

// GetAuthorizationTimeout returns the single-shot authorization window.
func (cs *Service) GetAuthorizationTimeout() time.Duration {
	return cs.duration(func(c *Config) string { return c.AuthorizationTime }, 60*time.Second)
}

// GetLocalAuthList allows to safely access a configuration setting.
func (cs *Service) GetLocalAuthList() []string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	list := cs.Storage.Model().LocalAuthList

	return append([]string(nil), list...)
}

// AddLocalAuthUID adds a credential to the local authorization list.
func (cs *Service) AddLocalAuthUID(uid string) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cfg := cs.Storage.Model()

	for _, known := range cfg.LocalAuthList {
		if strings.EqualFold(known, uid) {
			return nil
		}
	}

	cfg.LocalAuthList = append(cfg.LocalAuthList, uid)
	cfg.ConfiguredAt = time.Now().Format(time.RFC3339)

	return cs.Storage.Save()
}

// RemoveLocalAuthUID removes a credential from the local authorization list.
func (cs *Service) RemoveLocalAuthUID(uid string) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cfg := cs.Storage.Model()

	filtered := cfg.LocalAuthList[:0]
	for _, known := range cfg.LocalAuthList {
		if !strings.EqualFold(known, uid) {
			filtered = append(filtered, known)
		}
	}

	cfg.LocalAuthList = filtered
	cfg.ConfiguredAt = time.Now().Format(time.RFC3339)

	return cs.Storage.Save()
}

// GetMasterCardUID allows to safely access a configuration setting.
func (cs *Service) GetMasterCardUID() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().MasterCardUID
}

// SetMasterCardUID allows to safely set and persist configuration settings.
func (cs *Service) SetMasterCardUID(uid string) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.Storage.Model().ConfiguredAt = time.Now().Format(time.RFC3339)
	cs.Storage.Model().MasterCardUID = uid

	return cs.Storage.Save()
}

// GetOcppFreeMode allows to safely access a configuration setting.
func (cs *Service) GetOcppFreeMode() bool {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().OcppFreeMode
}

// SetOcppFreeMode allows to safely set and persist configuration settings.
func (cs *Service) SetOcppFreeMode(enabled bool) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.Storage.Model().ConfiguredAt = time.Now().Format(time.RFC3339)
	cs.Storage.Model().OcppFreeMode = enabled

	return cs.Storage.Save()
}

// GetMinCurrent allows to safely access a configuration setting.
func (cs *Service) GetMinCurrent() uint8 {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	if c := cs.Storage.Model().MinCurrent; c > 0 {
		return c
	}

	return 6
}

// GetMaxCurrent allows to safely access a configuration setting.
func (cs *Service) GetMaxCurrent() uint8 {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	if c := cs.Storage.Model().MaxCurrent; c > 0 {
		return c
	}

	return 32
}

// GetMeterPollInterval returns the telemetry polling period.
func (cs *Service) GetMeterPollInterval() time.Duration {
	return cs.duration(func(c *Config) string { return c.MeterPollInterval }, 20*time.Second)
}

// GetSessionMirrorInterval returns the session persistence mirror period.
func (cs *Service) GetSessionMirrorInterval() time.Duration {
	return cs.duration(func(c *Config) string { return c.SessionMirror }, 10*time.Second)
}

// GetMQTTServerURI allows to safely access a configuration setting.
func (cs *Service) GetMQTTServerURI() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().MQTTServerURI
}

// GetMQTTClientIDPrefix allows to safely access a configuration setting.
func (cs *Service) GetMQTTClientIDPrefix() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().MQTTClientIDPrefix
}

// GetMQTTUsername allows to safely access a configuration setting.
func (cs *Service) GetMQTTUsername() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().MQTTUsername
}

// GetMQTTPassword allows to safely access a configuration setting.
func (cs *Service) GetMQTTPassword() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().MQTTPassword
}

// GetHTTPBindAddress allows to safely access a configuration setting.
func (cs *Service) GetHTTPBindAddress() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	if addr := cs.Storage.Model().HTTPBindAddress; addr != "" {
		return addr
	}

	return ":8090"
}

// GetEcoCharge allows to safely access a configuration setting.
func (cs *Service) GetEcoCharge() model.EcoChargeConfig {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().EcoCharge
}

// SetEcoCharge allows to safely set and persist configuration settings.
func (cs *Service) SetEcoCharge(eco model.EcoChargeConfig) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.Storage.Model().ConfiguredAt = time.Now().Format(time.RFC3339)
	cs.Storage.Model().EcoCharge = eco

	return cs.Storage.Save()
}

// GetDelayCharge allows to safely access a configuration setting.
func (cs *Service) GetDelayCharge() model.DelayChargeConfig {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	return cs.Storage.Model().DelayCharge
}

// SetDelayCharge allows to safely set and persist configuration settings.
func (cs *Service) SetDelayCharge(delay model.DelayChargeConfig) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.Storage.Model().ConfiguredAt = time.Now().Format(time.RFC3339)
	cs.Storage.Model().DelayCharge = delay

	return cs.Storage.Save()
}

// SetLogLevel allows to safely set and persist configuration settings.
func (cs *Service) SetLogLevel(logLevel string) error {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	cs.Storage.Model().ConfiguredAt = time.Now().Format(time.RFC3339)
	cs.Storage.Model().LogLevel = logLevel

	return cs.Storage.Save()
}

func (cs *Service) duration(get func(*Config) string, fallback time.Duration) time.Duration {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	duration, err := time.ParseDuration(get(cs.Storage.Model()))
	if err != nil || duration <= 0 {
		return fallback
	}

	return duration
}
