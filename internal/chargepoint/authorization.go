package chargepoint

import (
	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/model"
)

// Authorize forwards a presented credential to the active policy.
func (c *ChargePoint) Authorize(uid string) {
	if c.policy == nil {
		return
	}

	c.policy.Authorize(uid)
}

// OnAuthorizationResponse forwards a deferred verdict to the active policy.
func (c *ChargePoint) OnAuthorizationResponse(response model.AuthorizationResponse, idTag string) {
	if c.policy == nil {
		return
	}

	c.policy.OnAuthorizationResponse(response, idTag)
}

// IsAuthorized reports whether a credential currently holds an open
// authorization window.
func (c *ChargePoint) IsAuthorized() bool {
	return c.authUID != "" && c.authStatus == model.AuthorizationStart
}

// AuthorizationOpen reports whether the authorization window is open,
// regardless of the credential.
func (c *ChargePoint) AuthorizationOpen() bool {
	return c.authStatus == model.AuthorizationStart
}

// AuthorizationUID returns the credential holding the window, or empty.
func (c *ChargePoint) AuthorizationUID() string {
	return c.authUID
}

// AuthorizationStatus returns the current window state.
func (c *ChargePoint) AuthorizationStatus() model.AuthorizationStatus {
	return c.authStatus
}

// SessionActive reports whether a transaction is running.
func (c *ChargePoint) SessionActive() bool {
	return c.session != nil
}

// SessionAuthorizationUID returns the credential the running transaction was
// started with, or empty outside a transaction.
func (c *ChargePoint) SessionAuthorizationUID() string {
	if c.session == nil {
		return ""
	}

	return c.session.AuthorizationUID()
}

// GrantAuthorization opens the authorization window for a credential. With
// the cable still unplugged the board blinks a plug-in prompt.
func (c *ChargePoint) GrantAuthorization(uid string) {
	if c.pilot == model.ControlPilotA1 {
		c.sendPeripheral(acpw.PeripheralStartBlinkAuth)
	}

	c.setAuthorizationStatus(model.AuthorizationStart)
	c.authUID = uid
}

// ClearAuthorization rolls the window back without a verdict, used when a
// grant is cancelled or expires.
func (c *ChargePoint) ClearAuthorization() {
	if c.pilot == model.ControlPilotA1 {
		c.sendPeripheral(acpw.PeripheralStopBlinkAuth)
	}

	c.authResponse = ""
	c.setAuthorizationStatus(model.AuthorizationFinish)
}

// TimeoutAuthorization expires the window.
func (c *ChargePoint) TimeoutAuthorization() {
	c.setAuthorizationStatus(model.AuthorizationTimeout)
}

// SetAuthorizationResponse records and reports an authorize verdict.
func (c *ChargePoint) SetAuthorizationResponse(response model.AuthorizationResponse) {
	c.authResponse = response
	c.publish(model.MessageTypeAuthResponse, responseNotification{Response: response})
}

// AuthorizationResponse returns the last reported verdict.
func (c *ChargePoint) AuthorizationResponse() model.AuthorizationResponse {
	return c.authResponse
}

// FinishDanglingSession closes a transaction lingering in Finishing before a
// fresh grant takes over.
func (c *ChargePoint) FinishDanglingSession() {
	if c.status == model.StatusFinishing && c.session != nil {
		c.finishSession()
	}
}

func (c *ChargePoint) IndicateAuthorizationPending() {
	c.sendPeripheral(acpw.PeripheralStartBlinkAuth)
}

func (c *ChargePoint) IndicateAuthorizationGranted() {
	c.sendPeripheral(acpw.PeripheralStopBlinkAuth)
}

func (c *ChargePoint) IndicateAuthorizationFailed() {
	c.sendPeripheral(acpw.PeripheralInvalidCardBlink)
}

// setAuthorizationStatus changes the window state, clears the credential on
// closure and reports the change.
func (c *ChargePoint) setAuthorizationStatus(status model.AuthorizationStatus) {
	if status == model.AuthorizationFinish {
		c.resetAuthorizationTimer()
	}

	c.authStatus = status

	if status == model.AuthorizationTimeout || status == model.AuthorizationFinish {
		c.authUID = ""
	}

	c.publish(model.MessageTypeAuthorization, authorizationNotification{
		Status: status.String(),
		UID:    c.authUID,
	})
}
