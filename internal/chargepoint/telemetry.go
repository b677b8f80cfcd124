package chargepoint

import (
	"fmt"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// SetVoltage records a per-phase voltage reading.
func (c *ChargePoint) SetVoltage(values model.PhaseValues) {
	c.telemetry.Voltage = values
	c.publish(model.MessageTypeVoltage, values)
	c.persist()
}

// SetCurrent records a per-phase current reading.
func (c *ChargePoint) SetCurrent(values model.PhaseValues) {
	c.telemetry.Current = values
	c.publish(model.MessageTypeCurrent, values)
	c.persist()
}

// SetPower records a per-phase power reading.
func (c *ChargePoint) SetPower(values model.PhaseValues) {
	c.telemetry.Power = values
	c.publish(model.MessageTypePower, values)
	c.persist()
}

// SetEnergy records the accumulated energy register and keeps the running
// transaction's meter in step.
func (c *ChargePoint) SetEnergy(wh int64) {
	c.telemetry.EnergyWh = wh

	if c.session != nil {
		c.session.SetLastEnergy(wh)
	}

	c.publish(model.MessageTypeEnergy, energyNotification{EnergyWh: wh})
	c.persist()
}

// SetFaultMask applies the board's fault bitmask. A non-zero mask forces the
// Faulted status; clearing it restores the pilot-implied one. The raw mask
// goes out as the vendor error code.
func (c *ChargePoint) SetFaultMask(mask uint32) {
	c.faultMask = mask
	c.errorCode = classifyFaultMask(mask)
	c.applyStatus()

	notification := statusNotification{
		Status:    c.status,
		ErrorCode: c.errorCode,
	}
	if mask != 0 {
		notification.VendorErrorCode = fmt.Sprintf("0x%06X", mask)
	}

	c.publish(model.MessageTypeFaultState, notification)
	c.persist()
}

// FaultMask returns the last reported raw bitmask.
func (c *ChargePoint) FaultMask() uint32 {
	return c.faultMask
}

// classifyFaultMask maps the board's fault bits onto the coarse error code.
// The first matching group wins.
func classifyFaultMask(mask uint32) model.ErrorCode {
	if mask == 0 {
		return model.ErrorNone
	}

	bit := func(n uint) bool { return mask&(1<<n) != 0 }

	switch {
	case bit(0) || bit(1) || bit(2) || bit(19):
		return model.ErrorConnectorLock
	case bit(17):
		return model.ErrorGroundFailure
	case bit(13) || bit(14) || bit(15):
		return model.ErrorOverCurrent
	case bit(10) || bit(11) || bit(12):
		return model.ErrorUnderVoltage
	case bit(7) || bit(8) || bit(9):
		return model.ErrorOverVoltage
	default:
		return model.ErrorOther
	}
}
