// Package auth implements the pluggable authorization policies deciding when
// a charge point may deliver energy.
package auth

import (
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/michalkurzeja/go-clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/config"
	"github.com/enervia/edge-acpw-agent/internal/model"
	"github.com/enervia/edge-acpw-agent/internal/routing"
)

// Commander is the board command surface policies need.
type Commander interface {
	SendOperationMode(mode acpw.OperationMode) error
}

// Controller is the charge point surface policies drive. Calls are expected
// to come from the charge point's dispatch loop; implementations need not be
// safe for concurrent use.
type Controller interface {
	PilotState() model.ControlPilotState
	Status() model.ChargePointStatus
	Availability() model.Availability
	IsAuthorized() bool
	AuthorizationOpen() bool
	AuthorizationUID() string
	SessionActive() bool
	SessionAuthorizationUID() string

	GrantAuthorization(uid string)
	SetAuthorizationResponse(response model.AuthorizationResponse)
	TimeoutAuthorization()
	ClearAuthorization()
	StartCharging() error
	StopCharging(finishAuthorization bool) error
	FinishDanglingSession()
	CancelActiveReservation()
	IndicateAuthorizationPending()
	IndicateAuthorizationGranted()
	IndicateAuthorizationFailed()
}

// Policy decides how credential presentations translate into charge
// authorization.
type Policy interface {
	// Mode identifies the policy.
	Mode() model.AuthorizationMode
	// ShouldAuthorize reports whether a credential presentation should be
	// processed at all in the current charge point state.
	ShouldAuthorize() bool
	// Authorize processes a presented credential.
	Authorize(uid string)
	// OnAuthorizationResponse processes a deferred verdict from a remote
	// authority. Only meaningful for delegated policies.
	OnAuthorizationResponse(response model.AuthorizationResponse, idTag string)
	// AutostartActive reports whether plugging in alone starts a charge.
	AutostartActive() bool
	// ResetTimer cancels a pending authorization expiry.
	ResetTimer()
	// CancelAuthorization rolls back a granted authorization.
	CancelAuthorization()
	// Close releases the policy's resources on a mode switch.
	Close()
}

// Dependencies carries everything a policy needs.
type Dependencies struct {
	Controller Controller
	Commander  Commander
	Config     *config.Service
	Publisher  routing.Publisher
	// Dispatch posts a closure onto the charge point's dispatch loop. Timer
	// callbacks must go through it.
	Dispatch func(func())
}

// NewPolicy builds the policy for the given mode.
func NewPolicy(mode model.AuthorizationMode, deps Dependencies) (Policy, error) {
	b := base{
		controller: deps.Controller,
		publisher:  deps.Publisher,
		dispatch:   deps.Dispatch,
		timeout:    deps.Config.GetAuthorizationTimeout(),
	}

	switch mode {
	case model.ModeNoAuthorization:
		return newNoAuthorization(b, deps.Commander), nil
	case model.ModeLocalList:
		return newLocalList(b, deps.Commander, deps.Config), nil
	case model.ModeAcceptAll:
		return newAcceptAll(b, deps.Commander), nil
	case model.ModeOcppDelegated:
		return newOCPPDelegated(b, deps.Commander, deps.Config), nil
	default:
		return nil, errors.Errorf("auth: unknown authorization mode: %s", mode)
	}
}

// authorizeRequest is the payload forwarded to a remote authority.
type authorizeRequest struct {
	IDTag string `json:"idTag"`
}

type base struct {
	controller Controller
	publisher  routing.Publisher
	dispatch   func(func())
	timeout    time.Duration
	timer      *bclock.Timer
}

func (b *base) ShouldAuthorize() bool {
	if b.controller.IsAuthorized() {
		return true
	}

	return b.controller.Status() != model.StatusFaulted && b.controller.Availability() != model.Inoperative
}

func (b *base) OnAuthorizationResponse(model.AuthorizationResponse, string) {}

func (b *base) AutostartActive() bool { return false }

func (b *base) ResetTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// CancelAuthorization rolls back a grant that never turned into a charge.
func (b *base) CancelAuthorization() {
	b.ResetTimer()
	b.controller.ClearAuthorization()

	if err := b.controller.StopCharging(true); err != nil {
		log.WithError(err).Error("auth: failed to stop charging on cancellation")
	}
}

func (b *base) Close() {
	b.ResetTimer()
}

// armTimer starts the single expiry timer for a fresh grant. The callback is
// marshalled onto the dispatch loop.
func (b *base) armTimer() {
	b.ResetTimer()

	b.timer = clock.AfterFunc(b.timeout, func() {
		b.dispatch(b.authorizationTimeout)
	})
}

// authorizationTimeout expires a grant that was never followed by a plug-in.
func (b *base) authorizationTimeout() {
	if b.controller.SessionActive() || b.controller.PilotState() != model.ControlPilotA1 {
		return
	}

	b.controller.SetAuthorizationResponse(model.ResponseTimeout)
	b.controller.TimeoutAuthorization()
	b.CancelAuthorization()
}

// grant is the shared accept path: open the authorization window, arm its
// expiry and command the board to start.
func (b *base) grant(uid string) {
	b.controller.FinishDanglingSession()
	b.controller.IndicateAuthorizationGranted()
	b.controller.SetAuthorizationResponse(model.ResponseAccepted)
	b.controller.GrantAuthorization(uid)
	b.armTimer()

	if err := b.controller.StartCharging(); err != nil {
		log.WithError(err).Error("auth: failed to start charging after grant")
	}
}

func (b *base) reject() {
	b.controller.SetAuthorizationResponse(model.ResponseInvalid)
	b.controller.IndicateAuthorizationFailed()
}

// handleOpenAuthorization handles a credential presented while an
// authorization window is already open: the matching credential ends the
// transaction, any other is rejected.
func (b *base) handleOpenAuthorization(match bool) {
	if !match {
		b.reject()

		return
	}

	b.controller.IndicateAuthorizationGranted()
	b.controller.SetAuthorizationResponse(model.ResponseAccepted)

	if err := b.controller.StopCharging(true); err != nil {
		log.WithError(err).Error("auth: failed to stop charging on deauthorization")
	}
}

func (b *base) publishAuthorizeRequest(uid string) {
	msg, err := model.NewMessage(model.MessageTypeAuthorizeRequest, authorizeRequest{IDTag: uid})
	if err != nil {
		log.WithError(err).Error("auth: failed to build authorize request")

		return
	}

	b.publisher.Publish(msg)
}

func switchBoardMode(commander Commander, mode acpw.OperationMode) {
	if err := commander.SendOperationMode(mode); err != nil {
		log.WithError(err).Error("auth: failed to switch board operation mode")
	}
}
