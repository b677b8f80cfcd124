package station

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/model"
)

var _ acpw.Events = (*Supervisor)(nil)

// HandlePilotState posts a pilot edge onto the dispatch loop.
func (s *Supervisor) HandlePilotState(state model.ControlPilotState) error {
	s.Do(func() { s.cp.OnPilotState(state) })

	return nil
}

func (s *Supervisor) HandleProximityState(state model.ProximityPilotState) error {
	s.Do(func() { s.cp.OnProximityState(state) })

	return nil
}

func (s *Supervisor) HandleVoltage(values model.PhaseValues) error {
	s.Do(func() { s.cp.SetVoltage(values) })

	return nil
}

func (s *Supervisor) HandleCurrent(values model.PhaseValues) error {
	s.Do(func() { s.cp.SetCurrent(values) })

	return nil
}

func (s *Supervisor) HandlePower(values model.PhaseValues) error {
	s.Do(func() { s.cp.SetPower(values) })

	return nil
}

func (s *Supervisor) HandleEnergy(wh int64) error {
	s.Do(func() { s.cp.SetEnergy(wh) })

	return nil
}

func (s *Supervisor) HandleFaultMask(mask uint32) error {
	s.Do(func() { s.cp.SetFaultMask(mask) })

	return nil
}

type pilotStatePayload struct {
	State uint8 `json:"state"`
}

type energyPayload struct {
	EnergyWh int64 `json:"energyWh"`
}

type faultStatePayload struct {
	Mask uint32 `json:"mask"`
}

type rfidPayload struct {
	UID string `json:"uid"`
}

type reservationRequest struct {
	ReservationID int       `json:"reservationId"`
	IDTag         string    `json:"idTag"`
	ExpiryTime    time.Time `json:"expiryTime"`
}

type cancelReservationPayload struct {
	ReservationID int `json:"reservationId"`
}

type availabilityPayload struct {
	Availability model.Availability `json:"availability"`
}

type currentLimitPayload struct {
	Amps uint8 `json:"amps"`
}

type delayChargePayload struct {
	Enabled      bool `json:"enabled"`
	DelaySeconds int  `json:"delaySeconds"`
}

type authResponsePayload struct {
	Response model.AuthorizationResponse `json:"response"`
	IDTag    string                      `json:"idTag"`
}

// HandleMessage dispatches one inbound envelope from a collaborator (UI,
// central system, local API, hardware bridge). Payload decoding happens on the caller's
// goroutine; the effect runs on the dispatch loop.
func (s *Supervisor) HandleMessage(msg model.Message) error {
	switch msg.Type {
	case model.MessageTypePilotState:
		var payload pilotStatePayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		state := model.ControlPilotState(payload.State)
		if !state.Valid() {
			return errors.Errorf("station: pilot state out of range: %d", payload.State)
		}

		return s.HandlePilotState(state)
	case model.MessageTypeProximityState:
		var payload pilotStatePayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		state := model.ProximityPilotState(payload.State)
		if state < model.ProximityPlugged || state > model.ProximityCableModel {
			return errors.Errorf("station: proximity state out of range: %d", payload.State)
		}

		return s.HandleProximityState(state)
	case model.MessageTypeVoltage:
		return s.handlePhaseValues(msg, s.HandleVoltage)
	case model.MessageTypeCurrent:
		return s.handlePhaseValues(msg, s.HandleCurrent)
	case model.MessageTypePower:
		return s.handlePhaseValues(msg, s.HandlePower)
	case model.MessageTypeEnergy:
		var payload energyPayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		return s.HandleEnergy(payload.EnergyWh)
	case model.MessageTypeFaultState:
		var payload faultStatePayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		return s.HandleFaultMask(payload.Mask)
	case model.MessageTypeRFID:
		var payload rfidPayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() { s.handleRFID(payload.UID) })
	case model.MessageTypeStartCharging:
		s.Do(s.handleMobileStart)
	case model.MessageTypeStopCharging:
		s.Do(func() {
			if err := s.cp.StopCharging(true); err != nil {
				log.WithError(err).Error("station: failed to stop charging")
			}
		})
	case model.MessageTypePauseCharging:
		s.Do(func() {
			if err := s.cp.PauseCharging(); err != nil {
				log.WithError(err).Error("station: failed to pause charging")
			}
		})
	case model.MessageTypeMakeReservation:
		var payload reservationRequest
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() { s.cp.MakeReservation(payload.ReservationID, payload.IDTag, payload.ExpiryTime) })
	case model.MessageTypeCancelReserve:
		var payload cancelReservationPayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() { s.cp.CancelReservation(payload.ReservationID) })
	case model.MessageTypeAvailability:
		var payload availabilityPayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() {
			if err := s.cp.SetAvailability(payload.Availability); err != nil {
				log.WithError(err).Error("station: failed to set availability")
			}
		})
	case model.MessageTypeCurrentLimit:
		var payload currentLimitPayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() {
			if err := s.cp.SetCurrentLimit(payload.Amps); err != nil {
				log.WithError(err).Error("station: failed to set current limit")
			}
		})
	case model.MessageTypeEcoCharge:
		var payload model.EcoChargeConfig
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() {
			if err := s.SetEcoCharge(payload); err != nil {
				log.WithError(err).Error("station: failed to apply eco charge")
			}
		})
	case model.MessageTypeDelayCharge:
		var payload delayChargePayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() {
			cfg := model.DelayChargeConfig{
				Enabled: payload.Enabled,
				Delay:   time.Duration(payload.DelaySeconds) * time.Second,
			}

			if err := s.SetDelayCharge(cfg); err != nil {
				log.WithError(err).Error("station: failed to apply delay charge")
			}
		})
	case model.MessageTypeOperationMode:
		var payload operationModePayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() {
			if err := s.SwitchAuthorizationMode(payload.Mode); err != nil {
				log.WithError(err).Error("station: failed to switch authorization mode")
			}
		})
	case model.MessageTypeStationState:
		var payload stationStatePayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() { s.requestState(payload.State) })
	case model.MessageTypeAuthResponse:
		var payload authResponsePayload
		if err := decode(msg, &payload); err != nil {
			return err
		}

		s.Do(func() { s.cp.OnAuthorizationResponse(payload.Response, payload.IDTag) })
	default:
		return errors.Errorf("station: unsupported inbound message type: %s", msg.Type)
	}

	return nil
}

func (s *Supervisor) handlePhaseValues(msg model.Message, apply func(model.PhaseValues) error) error {
	var payload model.PhaseValues
	if err := decode(msg, &payload); err != nil {
		return err
	}

	return apply(payload)
}

// handleMobileStart is the companion app's "charge now": it grants on the
// spot and bypasses the eco and delay gates.
func (s *Supervisor) handleMobileStart() {
	s.cp.SetImmediateCharge(true)

	if !s.cp.AuthorizationOpen() {
		s.cp.SetAuthorizationResponse(model.ResponseAccepted)
		s.cp.GrantAuthorization(model.MobileAppUID)
	}

	if err := s.cp.StartCharging(); err != nil {
		log.WithError(err).Error("station: failed to start charging")
	}
}

func decode(msg model.Message, target any) error {
	if err := json.Unmarshal(msg.Data, target); err != nil {
		return errors.Wrapf(err, "station: malformed %s payload", msg.Type)
	}

	return nil
}
