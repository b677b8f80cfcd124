// Package station runs the per-station supervisor: the single dispatch loop
// every state mutation goes through, the top-level station state, RFID based
// credential provisioning and the eco/delay charge gates.
package station

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/auth"
	"github.com/enervia/edge-acpw-agent/internal/chargepoint"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/routing"
	"github.com/enervia/edge-acpw-agent/internal/storage"
)

const queueSize = 128

// Supervisor owns the charge point and serializes all work onto one loop.
// Board events, inbound commands and timer callbacks are all posted through
// Do, so the charge point itself needs no locking.
type Supervisor struct {
	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	cfg       *config.Service
	commander acpw.Dispatcher
	publisher routing.Publisher
	store     storage.Store
	cp        *chargepoint.ChargePoint

	queue chan func()
	state model.StationState

	// provisioning is set between two master card swipes; cards presented in
	// between are added to or removed from the local list.
	provisioning bool

	eco   ecoGate
	delay delayGate
}

// New wires a supervisor with its charge point. Start must be called before
// any events flow.
func New(cfg *config.Service, commander acpw.Dispatcher, publisher routing.Publisher, store storage.Store) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		commander: commander,
		publisher: publisher,
		store:     store,
		queue:     make(chan func(), queueSize),
		state:     model.StationInitializing,
	}

	s.cp = chargepoint.New(cfg, commander, publisher, store, s.Do)
	s.cp.SetHooks(chargepoint.Hooks{
		EcoChargeEnabled:   func() bool { return s.cfg.GetEcoCharge().Enabled },
		DelayChargeEnabled: func() bool { return s.cfg.GetDelayCharge().Enabled },
		OnReturnToIdle:     s.onReturnToIdle,
		OnPlugIn:           s.onPlugIn,
	})

	return s
}

// ChargePoint exposes the owned charge point. Outside the dispatch loop it
// must only be read through a synchronization probe.
func (s *Supervisor) ChargePoint() *chargepoint.ChargePoint {
	return s.cp
}

// State returns the current station state.
func (s *Supervisor) State() model.StationState {
	return s.state
}

// Snapshot is a consistent point-in-time view of the station.
type Snapshot struct {
	State             model.StationState        `json:"state"`
	AuthorizationMode model.AuthorizationMode   `json:"authorizationMode"`
	ChargePoint       storage.ChargePointRecord `json:"chargePoint"`
	Session           *storage.SessionRecord    `json:"session,omitempty"`
	EcoCharge         model.EcoChargeConfig     `json:"ecoCharge"`
	DelayCharge       model.DelayChargeConfig   `json:"delayCharge"`
}

// Snapshot captures the station through the dispatch loop, so readers never
// observe a half-applied transition. It blocks until the loop reaches the
// probe.
func (s *Supervisor) Snapshot() Snapshot {
	result := make(chan Snapshot, 1)

	s.Do(func() {
		snapshot := Snapshot{
			State:       s.state,
			ChargePoint: s.cp.Record(),
			EcoCharge:   s.cfg.GetEcoCharge(),
			DelayCharge: s.cfg.GetDelayCharge(),
		}

		if policy := s.cp.Policy(); policy != nil {
			snapshot.AuthorizationMode = policy.Mode()
		}

		if session := s.cp.CurrentSession(); session != nil {
			record := session.Record()
			snapshot.Session = &record
		}

		result <- snapshot
	})

	return <-result
}

// Do posts work onto the dispatch loop.
func (s *Supervisor) Do(fn func()) {
	s.queue <- fn
}

// Start restores persisted state, attaches the configured authorization
// policy, queries the board and launches the dispatch loop.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	record, err := s.store.LoadStation()
	if err != nil {
		return errors.Wrap(err, "station: failed to load persisted state")
	}

	if record != nil {
		s.state = record.State
	} else {
		s.state = model.StationOnboarding
	}

	if err := s.cp.Restore(); err != nil {
		return err
	}

	if err := s.attachPolicy(s.cfg.GetAuthorizationMode()); err != nil {
		return err
	}

	s.queryBoard()
	s.cp.SetInitialized()

	s.done = make(chan struct{})
	s.running = true

	s.wg.Add(2)

	go s.run()
	go s.ecoLoop()

	return nil
}

// Stop halts the dispatch loop. Queued work is dropped.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	close(s.done)
	s.wg.Wait()

	s.delay.stop()
	s.running = false

	return nil
}

func (s *Supervisor) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

// SwitchAuthorizationMode swaps the active policy and persists the choice. A
// running session is left alone.
func (s *Supervisor) SwitchAuthorizationMode(mode model.AuthorizationMode) error {
	if err := s.attachPolicy(mode); err != nil {
		return err
	}

	if err := s.cfg.SetAuthorizationMode(mode); err != nil {
		return errors.Wrap(err, "station: failed to persist authorization mode")
	}

	s.publishMessage(model.MessageTypeOperationMode, operationModePayload{Mode: mode})

	return nil
}

func (s *Supervisor) attachPolicy(mode model.AuthorizationMode) error {
	policy, err := auth.NewPolicy(mode, auth.Dependencies{
		Controller: s.cp,
		Commander:  s.commander,
		Config:     s.cfg,
		Publisher:  s.publisher,
		Dispatch:   s.Do,
	})
	if err != nil {
		return err
	}

	s.cp.SetPolicy(policy)

	return nil
}

// handleRFID routes one card swipe by station state: provisioning flows trump
// regular authorization.
func (s *Supervisor) handleRFID(uid string) {
	if uid == "" {
		return
	}

	master := s.cfg.GetMasterCardUID()

	switch {
	case s.state == model.StationWaitingForMasterAddition:
		s.registerMasterCard(uid)
	case s.provisioning:
		s.provisionCard(uid, master)
	case master != "" && strings.EqualFold(uid, master):
		log.Info("station: master card presented, entering provisioning")

		s.provisioning = true
	default:
		s.cp.Authorize(uid)
	}
}

func (s *Supervisor) registerMasterCard(uid string) {
	if err := s.cfg.SetMasterCardUID(uid); err != nil {
		log.WithError(err).Error("station: failed to persist master card")

		return
	}

	s.setState(model.StationNormal)
}

// provisionCard toggles a card's local list membership. The master card ends
// provisioning.
func (s *Supervisor) provisionCard(uid, master string) {
	if strings.EqualFold(uid, master) {
		s.provisioning = false

		return
	}

	if s.inLocalList(uid) {
		if err := s.cfg.RemoveLocalAuthUID(uid); err != nil {
			log.WithError(err).Error("station: failed to remove credential")

			return
		}

		s.setState(model.StationRemovedUserCard)
	} else {
		if err := s.cfg.AddLocalAuthUID(uid); err != nil {
			log.WithError(err).Error("station: failed to add credential")

			return
		}

		s.setState(model.StationAddedUserCard)
	}

	s.provisioning = false
	s.setState(model.StationNormal)
}

func (s *Supervisor) inLocalList(uid string) bool {
	for _, known := range s.cfg.GetLocalAuthList() {
		if strings.EqualFold(known, uid) {
			return true
		}
	}

	return false
}

// onPlugIn runs on B1/C1 edges without a session. An out-of-the-box station
// starts charging on plug-in until it gets configured.
func (s *Supervisor) onPlugIn() {
	if s.state != model.StationOnboarding {
		return
	}

	if err := s.SwitchAuthorizationMode(model.ModeNoAuthorization); err != nil {
		log.WithError(err).Error("station: failed to enable auto start for onboarding")
	}
}

// onReturnToIdle runs on the A1 edge: a one-shot delay countdown does not
// survive an unplug.
func (s *Supervisor) onReturnToIdle() {
	delay := s.cfg.GetDelayCharge()
	if !delay.Enabled {
		return
	}

	delay.Enabled = false

	if err := s.applyDelayCharge(delay); err != nil {
		log.WithError(err).Error("station: failed to disarm delay charge")
	}
}

// requestState applies an externally requested station state. Only the
// provisioning entry points are accepted; everything else is driven
// internally.
func (s *Supervisor) requestState(state model.StationState) {
	switch state {
	case model.StationWaitingForMasterAddition, model.StationNormal:
		s.setState(state)
	default:
		log.WithField("state", state).Warn("station: rejected requested state")
	}
}

func (s *Supervisor) setState(state model.StationState) {
	if state == s.state {
		return
	}

	s.state = state

	if err := s.store.SaveStation(storage.StationRecord{State: state}); err != nil {
		log.WithError(err).Warn("station: failed to persist state")
	}

	s.publishMessage(model.MessageTypeStationState, stationStatePayload{State: state})
}

// queryBoard requests the registers that seed the state machine after boot
// and pushes the configured current limits down.
func (s *Supervisor) queryBoard() {
	queries := []acpw.CommandID{
		acpw.CmdFaults,
		acpw.CmdProximityState,
		acpw.CmdPilotState,
		acpw.CmdEnergy,
		acpw.CmdVoltage,
		acpw.CmdCurrent,
		acpw.CmdPower,
	}

	for _, cmd := range queries {
		if err := s.commander.Query(cmd); err != nil {
			log.WithError(err).WithField("command", cmd).Warn("station: boot query failed")
		}
	}

	if err := s.commander.SendModbusTCPCurrent(s.cfg.GetMaxCurrent()); err != nil {
		log.WithError(err).Warn("station: failed to push current ceiling")
	}
}

func (s *Supervisor) publishMessage(t model.MessageType, data any) {
	msg, err := model.NewMessage(t, data)
	if err != nil {
		log.WithError(err).WithField("type", t).Error("station: failed to build message")

		return
	}

	s.publisher.Publish(msg)
}

type stationStatePayload struct {
	State model.StationState `json:"state"`
}

type operationModePayload struct {
	Mode model.AuthorizationMode `json:"mode"`
}
