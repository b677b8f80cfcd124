package chargepoint

import (
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// OnPilotState applies one control pilot edge. Repeated reports of the same
// level are idempotent.
func (c *ChargePoint) OnPilotState(state model.ControlPilotState) {
	if !state.Valid() {
		log.WithField("state", int(state)).Warn("chargepoint: invalid pilot state dropped")

		return
	}

	if state == c.pilot {
		return
	}

	log.WithField("from", c.pilot.String()).WithField("to", state.String()).Debug("chargepoint: pilot transition")

	c.pilot = state
	c.publish(model.MessageTypePilotState, pilotNotification{State: state.String()})

	switch state {
	case model.ControlPilotA1, model.ControlPilotA2:
		c.onPilotIdle()
	case model.ControlPilotB1:
		c.onPilotPluggedIdle()
	case model.ControlPilotB2:
		c.onPilotPluggedReady()
	case model.ControlPilotC1:
		c.onPilotChargeHeld()
	case model.ControlPilotC2:
		c.onPilotCharging()
	default:
		c.setTransient(model.StatusFaulted)
	}

	c.persist()
}

// OnProximityState applies a connector presence change.
func (c *ChargePoint) OnProximityState(state model.ProximityPilotState) {
	if state == c.proximity {
		return
	}

	c.proximity = state
	c.publish(model.MessageTypeProximityState, pilotNotification{State: state.String()})

	if state == model.ProximityNoCable && (c.pilot == model.ControlPilotA1 || c.pilot == model.ControlPilotA2) {
		c.setTransient(model.StatusAvailable)
	}

	c.persist()
}

// onPilotIdle handles the unplug: any transaction ends, any grant that was
// pending is closed.
func (c *ChargePoint) onPilotIdle() {
	switch {
	case c.session != nil:
		c.finishSession()
		c.setAuthorizationStatus(model.AuthorizationFinish)

		if c.proximity == model.ProximityCableModel || c.proximity == model.ProximityNoCable {
			c.setTransient(model.StatusAvailable)
		}
	case c.authStatus == model.AuthorizationStart:
		c.setAuthorizationStatus(model.AuthorizationFinish)
		c.setTransient(model.StatusAvailable)
		c.immediateCharge = false
	default:
		c.setTransient(model.StatusAvailable)
		c.immediateCharge = false
	}

	c.stopRequested = false
	c.notifyIdle()
}

// onPilotPluggedIdle handles B1: cable plugged, EV not requesting current.
func (c *ChargePoint) onPilotPluggedIdle() {
	if c.session != nil {
		if c.sessionSurvivesIdle() {
			return
		}

		if c.authStatus != model.AuthorizationFinish {
			c.setAuthorizationStatus(model.AuthorizationFinish)
		}

		c.finishSession()

		return
	}

	c.autostartOrPrepare()
	c.notifyPlugIn()

	if c.ecoChargeEnabled() && c.authStatus == model.AuthorizationStart {
		if err := c.Interlock(true); err != nil {
			log.WithError(err).Error("chargepoint: failed to hold charge for eco window")
		}
	}
}

// sessionSurvivesIdle reports whether a live session rides through a B1 dip,
// which the EV produces between charge phases.
func (c *ChargePoint) sessionSurvivesIdle() bool {
	if c.stopRequested {
		return false
	}

	switch c.session.Status() {
	case model.SessionStarted, model.SessionPaused, model.SessionSuspended:
		return true
	default:
		return false
	}
}

// onPilotPluggedReady handles B2: EV ready but contactor open.
func (c *ChargePoint) onPilotPluggedReady() {
	if c.session != nil {
		if c.authStatus == model.AuthorizationFinish {
			c.setTransient(model.StatusFinishing)
			c.immediateCharge = false

			return
		}

		c.session.Suspend()
		c.setTransient(model.StatusSuspendedEV)

		return
	}

	c.setTransient(model.StatusSuspendedEV)

	if c.initialized {
		c.resetAuthorizationTimer()
		c.newSession()
		c.session.Start()
	}
}

// onPilotChargeHeld handles C1: EV requests current but the board is not
// delivering.
func (c *ChargePoint) onPilotChargeHeld() {
	if c.session != nil {
		if c.authStatus == model.AuthorizationFinish || c.stopRequested {
			c.session.SetLastEnergy(c.telemetry.EnergyWh)
			c.setTransient(model.StatusFinishing)
			c.immediateCharge = false

			return
		}

		c.session.Pause()
		c.setTransient(model.StatusSuspendedEVSE)

		return
	}

	c.autostartOrPrepare()
	c.notifyPlugIn()
}

// onPilotCharging handles C2: current is flowing. The transaction is created
// here, not at authorization time.
func (c *ChargePoint) onPilotCharging() {
	if c.session != nil {
		c.setTransient(model.StatusCharging)
		c.session.Resume()

		return
	}

	c.setTransient(model.StatusCharging)

	if c.initialized {
		c.resetAuthorizationTimer()
		c.newSession()
		c.session.Start()
	}
}

// autostartOrPrepare opens the authorization window on plug-in when the
// active policy allows charging without a credential, and otherwise just
// reports Preparing.
func (c *ChargePoint) autostartOrPrepare() {
	autostart := c.policy != nil && c.policy.AutostartActive()

	switch {
	case autostart && !c.stopRequested && !c.IsAuthorized():
		c.SetAuthorizationResponse(model.ResponseAccepted)
		c.setAuthorizationStatus(model.AuthorizationStart)
		c.authUID = model.AutoStartUID
		c.setTransient(model.StatusPreparing)

		if c.startGateOpen() {
			if err := c.StartCharging(); err != nil {
				log.WithError(err).Error("chargepoint: failed to auto-start charge")
			}
		}
	case autostart && c.stopRequested:
		c.setTransient(model.StatusPreparing)
		c.authUID = ""
	default:
		c.setTransient(model.StatusPreparing)
	}
}

// startGateOpen reports whether an authorized charge may start right away,
// or has to wait for the eco window or delay countdown.
func (c *ChargePoint) startGateOpen() bool {
	if c.immediateCharge {
		return true
	}

	return !c.ecoChargeEnabled() && !c.delayChargeEnabled()
}
