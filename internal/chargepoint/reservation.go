package chargepoint

import (
	"time"

	"github.com/michalkurzeja/go-clock"

	"github.com/enervia/edge-acpw-agent/internal/acpw"
	"github.com/enervia/edge-acpw-agent/internal/model"
)

// MakeReservation takes the single reservation slot. An already held slot is
// cancelled first, so the latest reservation always wins.
func (c *ChargePoint) MakeReservation(id int, idTag string, expiry time.Time) {
	if c.reservation.Active() {
		c.CancelReservation(c.reservation.ReservationID)
	}

	c.reservation = &model.Reservation{
		Status:        model.ReservationEnabled,
		ExpiryTime:    expiry,
		IDTag:         idTag,
		ReservationID: id,
	}

	c.sendPeripheral(acpw.PeripheralStartBlinkReserve)
	c.publish(model.MessageTypeReservation, c.reservation)
	c.applyStatus()
	c.persist()
	c.armReservationTimer()
}

// CancelReservation releases the slot if it is held under the given id.
// Cancelling an unknown or already released reservation is a no-op.
func (c *ChargePoint) CancelReservation(id int) {
	if !c.reservation.Active() || c.reservation.ReservationID != id {
		return
	}

	c.stopReservationTimer()
	c.reservation.Status = model.ReservationDisabled

	c.sendPeripheral(acpw.PeripheralStopBlinkReserve)
	c.publish(model.MessageTypeReservation, c.reservation)
	c.applyStatus()
	c.persist()
}

// CancelActiveReservation releases the slot whatever id holds it.
func (c *ChargePoint) CancelActiveReservation() {
	if c.reservation.Active() {
		c.CancelReservation(c.reservation.ReservationID)
	}
}

// CheckReservation re-validates the slot against the wall clock: an expired
// reservation is released, a live one re-announced with a rearmed expiry
// timer. Called on restore and when the timer fires.
func (c *ChargePoint) CheckReservation() {
	if !c.reservation.Active() {
		return
	}

	if !c.reservation.ExpiryTime.After(clock.Now()) {
		c.CancelReservation(c.reservation.ReservationID)

		return
	}

	c.publish(model.MessageTypeReservation, c.reservation)
	c.armReservationTimer()
}

func (c *ChargePoint) armReservationTimer() {
	c.stopReservationTimer()

	remaining := c.reservation.ExpiryTime.Sub(clock.Now())
	if remaining < 0 {
		remaining = 0
	}

	c.reservationTimer = clock.AfterFunc(remaining, func() {
		c.dispatch(c.CheckReservation)
	})
}

func (c *ChargePoint) stopReservationTimer() {
	if c.reservationTimer != nil {
		c.reservationTimer.Stop()
		c.reservationTimer = nil
	}
}
