// Package chargepoint holds the charge point state machine: pilot driven
// status, authorization window, session lifecycle and the single reservation
// slot. The type is not safe for concurrent use; all calls must come from one
// dispatch loop.
package chargepoint

import (
	bclock "github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/auth"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/routing"
	"github.com/enervia/edge-acpw-agent/internal/session"
	"github.com/enervia/edge-acpw-agent/internal/storage"
)

// Commander is the subset of board commands the charge point issues.
type Commander interface {
	SendStartCharging() error
	SendStopCharging() error
	SendPauseCharge() error
	SendCurrentLimit(amps uint8) error
	SendAvailability(operative bool) error
	SendPeripheralRequest(req acpw.PeripheralRequest) error
}

// Hooks let the station supervisor participate in pilot transitions without a
// package cycle. All fields are optional.
type Hooks struct {
	// EcoChargeEnabled reports whether the daily charge window is armed.
	EcoChargeEnabled func() bool
	// DelayChargeEnabled reports whether a start countdown is armed.
	DelayChargeEnabled func() bool
	// OnReturnToIdle runs when the pilot falls back to the idle level.
	OnReturnToIdle func()
	// OnPlugIn runs when a cable is plugged in with no session active.
	OnPlugIn func()
}

// ChargePoint is the single connector controlled by this agent.
type ChargePoint struct {
	id  string
	cfg *config.Service

	commander Commander
	publisher routing.Publisher
	store     storage.Store
	dispatch  func(func())
	hooks     Hooks
	policy    auth.Policy

	// initialized flips once the boot-time register query has completed;
	// sessions are not created from pilot edges before that.
	initialized bool

	pilot          model.ControlPilotState
	proximity      model.ProximityPilotState
	transient      model.ChargePointStatus
	status         model.ChargePointStatus
	errorCode      model.ErrorCode
	faultMask      uint32
	availability   model.Availability
	cableConnected bool
	telemetry      model.Telemetry
	currentLimit   uint8

	authStatus      model.AuthorizationStatus
	authUID         string
	authResponse    model.AuthorizationResponse
	stopRequested   bool
	immediateCharge bool

	session          *session.Session
	reservation      *model.Reservation
	reservationTimer *bclock.Timer
}

// New creates a charge point in the Available state. A policy must be
// attached with SetPolicy before credentials can be processed; dispatch is
// the loop timer callbacks are marshalled onto.
func New(cfg *config.Service, commander Commander, publisher routing.Publisher, store storage.Store, dispatch func(func())) *ChargePoint {
	return &ChargePoint{
		id:           cfg.GetChargePointID(),
		cfg:          cfg,
		commander:    commander,
		publisher:    publisher,
		store:        store,
		dispatch:     dispatch,
		pilot:        model.ControlPilotA1,
		proximity:    model.ProximityNoCable,
		transient:    model.StatusAvailable,
		status:       model.StatusAvailable,
		errorCode:    model.ErrorNone,
		availability: model.Operative,
		authStatus:   model.AuthorizationFinish,
		currentLimit: cfg.GetMaxCurrent(),
	}
}

// SetPolicy swaps the active authorization policy. The previous policy is
// closed; a running session is deliberately left alone.
func (c *ChargePoint) SetPolicy(policy auth.Policy) {
	if c.policy != nil {
		c.policy.Close()
	}

	c.policy = policy
}

// Policy returns the active authorization policy.
func (c *ChargePoint) Policy() auth.Policy {
	return c.policy
}

// SetHooks attaches the supervisor callbacks.
func (c *ChargePoint) SetHooks(hooks Hooks) {
	c.hooks = hooks
}

// SetInitialized marks the boot-time register query as completed.
func (c *ChargePoint) SetInitialized() {
	c.initialized = true
}

func (c *ChargePoint) ID() string                                { return c.id }
func (c *ChargePoint) PilotState() model.ControlPilotState       { return c.pilot }
func (c *ChargePoint) ProximityState() model.ProximityPilotState { return c.proximity }
func (c *ChargePoint) Status() model.ChargePointStatus           { return c.status }
func (c *ChargePoint) ErrorCode() model.ErrorCode                { return c.errorCode }
func (c *ChargePoint) Availability() model.Availability          { return c.availability }
func (c *ChargePoint) CableConnected() bool                      { return c.cableConnected }
func (c *ChargePoint) Telemetry() model.Telemetry                { return c.telemetry }
func (c *ChargePoint) CurrentLimit() uint8                       { return c.currentLimit }
func (c *ChargePoint) StopRequested() bool                       { return c.stopRequested }

// CurrentSession returns the live session, or nil outside a transaction.
func (c *ChargePoint) CurrentSession() *session.Session {
	return c.session
}

// Reservation returns a copy of the reservation slot, or nil when it was
// never used.
func (c *ChargePoint) Reservation() *model.Reservation {
	if c.reservation == nil {
		return nil
	}

	reservation := *c.reservation

	return &reservation
}

// ImmediateCharge reports whether an app-side "charge now" override is set.
func (c *ChargePoint) ImmediateCharge() bool {
	return c.immediateCharge
}

// SetImmediateCharge arms or clears the "charge now" override that bypasses
// eco and delay gating on the next plug-in.
func (c *ChargePoint) SetImmediateCharge(enabled bool) {
	c.immediateCharge = enabled
}

// Restore loads the persisted charge point and session rows after a restart.
func (c *ChargePoint) Restore() error {
	record, err := c.store.LoadChargePoint(c.id)
	if err != nil {
		return errors.Wrap(err, "chargepoint: failed to load persisted state")
	}

	if record != nil {
		c.status = record.Status
		c.pilot = record.PilotState
		c.proximity = record.ProximityState
		c.errorCode = record.ErrorCode
		c.availability = record.Availability
		c.telemetry = record.Telemetry
		c.reservation = record.Reservation
		c.currentLimit = record.CurrentLimit
		c.transient = transientFrom(record.Status)
	}

	row, err := c.store.LoadActiveSession(c.id)
	if err != nil {
		return errors.Wrap(err, "chargepoint: failed to load persisted session")
	}

	if row != nil {
		c.session = session.Restore(*row, c.publisher, c.store, c.cfg.GetSessionMirrorInterval())
		c.session.StartMirror()
		c.authUID = row.AuthorizationUID
		c.authStatus = model.AuthorizationStart
	}

	if c.reservation.Active() {
		c.CheckReservation()
	}

	return nil
}

// transientFrom recovers the underlying transient status from a persisted
// derived one. Derived overlays fall back to Available.
func transientFrom(status model.ChargePointStatus) model.ChargePointStatus {
	switch status {
	case model.StatusFaulted, model.StatusUnavailable, model.StatusReserved:
		return model.StatusAvailable
	default:
		return status
	}
}

// StartCharging commands the board to close the contactor. A leftover
// session is discarded first; the new one is created on the pilot's C2 edge.
func (c *ChargePoint) StartCharging() error {
	if c.session != nil {
		c.session.Stop()
		c.session = nil
	}

	return errors.Wrap(c.commander.SendStartCharging(), "chargepoint: failed to send start command")
}

// StopCharging commands the board to open the contactor. With
// finishAuthorization the authorization window is closed as well, so the
// follow-up pilot edges tear the session down instead of keeping it.
func (c *ChargePoint) StopCharging(finishAuthorization bool) error {
	if finishAuthorization {
		c.setAuthorizationStatus(model.AuthorizationFinish)
		c.stopRequested = true
	}

	err := c.commander.SendStopCharging()

	if c.session != nil {
		switch c.session.Status() {
		case model.SessionPaused, model.SessionSuspended:
			c.finishSession()
		default:
		}
	}

	return errors.Wrap(err, "chargepoint: failed to send stop command")
}

// PauseCharging suspends current delivery without ending the transaction.
func (c *ChargePoint) PauseCharging() error {
	if c.session == nil {
		return nil
	}

	return errors.Wrap(c.commander.SendPauseCharge(), "chargepoint: failed to send pause command")
}

// Interlock holds back (or releases) a started charge, used to gate delivery
// on the eco window.
func (c *ChargePoint) Interlock(engaged bool) error {
	if engaged {
		return errors.Wrap(c.commander.SendPauseCharge(), "chargepoint: failed to engage interlock")
	}

	return errors.Wrap(c.commander.SendStartCharging(), "chargepoint: failed to release interlock")
}

// SetAvailability applies an operative state change and forwards it to the
// board.
func (c *ChargePoint) SetAvailability(availability model.Availability) error {
	c.availability = availability

	err := c.commander.SendAvailability(availability == model.Operative)

	c.applyStatus()
	c.publish(model.MessageTypeAvailability, availabilityNotification{Availability: availability})
	c.persist()

	return errors.Wrap(err, "chargepoint: failed to send availability command")
}

// SetCurrentLimit applies a charge current limit, clamped to the configured
// hardware range.
func (c *ChargePoint) SetCurrentLimit(amps uint8) error {
	if min := c.cfg.GetMinCurrent(); amps < min {
		amps = min
	}

	if max := c.cfg.GetMaxCurrent(); amps > max {
		amps = max
	}

	err := c.commander.SendCurrentLimit(amps)

	c.currentLimit = amps
	c.publish(model.MessageTypeCurrentLimit, currentLimitNotification{Amps: amps})
	c.persist()

	return errors.Wrap(err, "chargepoint: failed to send current limit command")
}

// finishSession closes the live transaction and removes its row.
func (c *ChargePoint) finishSession() {
	if c.session == nil {
		return
	}

	c.session.SetLastEnergy(c.telemetry.EnergyWh)
	c.session.Stop()
	c.session = nil
	c.setTransient(model.StatusFinishing)
	c.immediateCharge = false
}

// newSession opens a fresh transaction. A stop request belongs to the
// previous transaction, so the flag is cleared here.
func (c *ChargePoint) newSession() {
	c.stopRequested = false
	c.session = session.New(c.id, c.authUID, c.telemetry.EnergyWh, c.publisher, c.store, c.cfg.GetSessionMirrorInterval())
}

func (c *ChargePoint) resetAuthorizationTimer() {
	if c.policy != nil {
		c.policy.ResetTimer()
	}
}

// setTransient records the pilot-implied status and re-derives the visible
// one.
func (c *ChargePoint) setTransient(status model.ChargePointStatus) {
	c.transient = status
	c.applyStatus()
}

// applyStatus derives the visible status from the overlay priorities: a
// fault beats unavailability beats a reservation beats the transient status.
// The status notification goes out only on actual change.
func (c *ChargePoint) applyStatus() {
	derived := c.deriveStatus()
	c.cableConnected = cableConnectedFor(c.transient)

	if derived == c.status {
		return
	}

	c.status = derived
	c.publish(model.MessageTypeStatus, statusNotification{
		Status:    c.status,
		ErrorCode: c.errorCode,
	})
	c.persist()
}

func (c *ChargePoint) deriveStatus() model.ChargePointStatus {
	switch {
	case c.errorCode != model.ErrorNone:
		return model.StatusFaulted
	case c.availability == model.Inoperative:
		return model.StatusUnavailable
	case c.reservation.Active():
		return model.StatusReserved
	default:
		return c.transient
	}
}

func cableConnectedFor(transient model.ChargePointStatus) bool {
	switch transient {
	case model.StatusPreparing, model.StatusCharging, model.StatusSuspendedEVSE, model.StatusSuspendedEV, model.StatusFinishing:
		return true
	default:
		return false
	}
}

// Record snapshots the charge point for persistence and the status API.
func (c *ChargePoint) Record() storage.ChargePointRecord {
	return storage.ChargePointRecord{
		ID:             c.id,
		Status:         c.status,
		PilotState:     c.pilot,
		ProximityState: c.proximity,
		ErrorCode:      c.errorCode,
		Availability:   c.availability,
		Telemetry:      c.telemetry,
		Reservation:    c.Reservation(),
		CurrentLimit:   c.currentLimit,
	}
}

func (c *ChargePoint) persist() {
	if err := c.store.SaveChargePoint(c.Record()); err != nil {
		log.WithError(err).Warn("chargepoint: failed to persist state")
	}
}

func (c *ChargePoint) publish(t model.MessageType, data any) {
	msg, err := model.NewMessage(t, data)
	if err != nil {
		log.WithError(err).WithField("type", t).Error("chargepoint: failed to build notification")

		return
	}

	c.publisher.Publish(msg)
}

func (c *ChargePoint) sendPeripheral(req acpw.PeripheralRequest) {
	if err := c.commander.SendPeripheralRequest(req); err != nil {
		log.WithError(err).Error("chargepoint: failed to send peripheral request")
	}
}

func (c *ChargePoint) ecoChargeEnabled() bool {
	return c.hooks.EcoChargeEnabled != nil && c.hooks.EcoChargeEnabled()
}

func (c *ChargePoint) delayChargeEnabled() bool {
	return c.hooks.DelayChargeEnabled != nil && c.hooks.DelayChargeEnabled()
}

func (c *ChargePoint) notifyIdle() {
	if c.hooks.OnReturnToIdle != nil {
		c.hooks.OnReturnToIdle()
	}
}

func (c *ChargePoint) notifyPlugIn() {
	if c.hooks.OnPlugIn != nil {
		c.hooks.OnPlugIn()
	}
}

type statusNotification struct {
	Status          model.ChargePointStatus `json:"status"`
	ErrorCode       model.ErrorCode         `json:"errorCode"`
	VendorErrorCode string                  `json:"vendorErrorCode,omitempty"`
}

type availabilityNotification struct {
	Availability model.Availability `json:"availability"`
}

type currentLimitNotification struct {
	Amps uint8 `json:"amps"`
}

type pilotNotification struct {
	State string `json:"state"`
}

type authorizationNotification struct {
	Status string `json:"status"`
	UID    string `json:"uid,omitempty"`
}

type responseNotification struct {
	Response model.AuthorizationResponse `json:"response"`
}

type energyNotification struct {
	EnergyWh int64 `json:"energyWh"`
}
