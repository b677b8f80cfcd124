package acpw

import (
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// Events receives typed domain events decoded from inbound board frames.
// Implementations serialize delivery into a single dispatch loop.
type Events interface {
	HandlePilotState(state model.ControlPilotState) error
	HandleProximityState(state model.ProximityPilotState) error
	HandleVoltage(values model.PhaseValues) error
	HandleCurrent(values model.PhaseValues) error
	HandlePower(values model.PhaseValues) error
	HandleEnergy(wh int64) error
	HandleFaultMask(mask uint32) error
}

// Writer queues one encoded frame for delivery to the board.
type Writer interface {
	Write(frame []byte) error
}

// Dispatcher is the bidirectional translation table between protocol frames
// and domain events/commands. Adding a command is a table entry.
type Dispatcher interface {
	// HandleFrame dispatches one decoded inbound frame. Unknown command ids
	// are dropped without error.
	HandleFrame(frame Frame) error

	SendStartCharging() error
	SendStopCharging() error
	SendPauseCharge() error
	SendUnlock() error
	SendCurrentLimit(amps uint8) error
	SendModbusTCPCurrent(amps uint8) error
	SendOperationMode(mode OperationMode) error
	SendPeripheralRequest(req PeripheralRequest) error
	SendAvailability(operative bool) error
	// Query requests the current value of a readable register, such as
	// CmdEnergy or CmdPilotState.
	Query(cmd CommandID) error
}

type dispatcher struct {
	encoder   *Encoder
	writer    Writer
	events    Events
	callbacks map[CommandID]func(Frame) error
}

// NewDispatcher creates the dispatch tables around a frame writer and an
// event receiver.
func NewDispatcher(writer Writer, events Events) Dispatcher {
	d := dispatcher{
		encoder: NewEncoder(),
		writer:  writer,
		events:  events,
	}

	d.callbacks = map[CommandID]func(Frame) error{
		CmdAck:            d.handleAck,
		CmdNack:           d.handleNack,
		CmdPilotState:     d.handlePilotState,
		CmdProximityState: d.handleProximityState,
		CmdVoltage:        d.handleVoltage,
		CmdCurrent:        d.handleCurrent,
		CmdPower:          d.handlePower,
		CmdEnergy:         d.handleEnergy,
		CmdFaults:         d.handleFaults,
	}

	return &d
}

func (d *dispatcher) HandleFrame(frame Frame) error {
	callback, ok := d.callbacks[frame.Command]
	if !ok {
		log.WithField("command", frame.Command).Debug("acpw: unsupported command, frame dropped")

		return nil
	}

	return callback(frame)
}

func (d *dispatcher) handleAck(frame Frame) error {
	log.WithField("messageID", frame.MessageID).Trace("acpw: command acknowledged")

	return nil
}

func (d *dispatcher) handleNack(frame Frame) error {
	log.WithField("messageID", frame.MessageID).Warn("acpw: command rejected by the board")

	return nil
}

func (d *dispatcher) handlePilotState(frame Frame) error {
	state, err := ParsePilotState(frame.Payload)
	if err != nil {
		return err
	}

	return d.events.HandlePilotState(state)
}

func (d *dispatcher) handleProximityState(frame Frame) error {
	state, err := ParseProximityState(frame.Payload)
	if err != nil {
		return err
	}

	return d.events.HandleProximityState(state)
}

func (d *dispatcher) handleVoltage(frame Frame) error {
	values, err := ParsePhaseValues(frame.Payload)
	if err != nil {
		return err
	}

	return d.events.HandleVoltage(values)
}

func (d *dispatcher) handleCurrent(frame Frame) error {
	values, err := ParsePhaseValues(frame.Payload)
	if err != nil {
		return err
	}

	return d.events.HandleCurrent(values)
}

func (d *dispatcher) handlePower(frame Frame) error {
	values, err := ParsePhaseValues(frame.Payload)
	if err != nil {
		return err
	}

	return d.events.HandlePower(values)
}

func (d *dispatcher) handleEnergy(frame Frame) error {
	wh, err := ParseEnergy(frame.Payload)
	if err != nil {
		return err
	}

	return d.events.HandleEnergy(wh)
}

func (d *dispatcher) handleFaults(frame Frame) error {
	mask, err := ParseFaultMask(frame.Payload)
	if err != nil {
		return err
	}

	return d.events.HandleFaultMask(mask)
}

func (d *dispatcher) send(cmd CommandID, payload []byte) error {
	frame, err := d.encoder.Encode(cmd, payload)
	if err != nil {
		return err
	}

	return d.writer.Write(frame)
}

func (d *dispatcher) SendStartCharging() error {
	return d.send(CmdStartCharging, nil)
}

func (d *dispatcher) SendStopCharging() error {
	return d.send(CmdStopCharging, nil)
}

func (d *dispatcher) SendPauseCharge() error {
	return d.send(CmdPauseCharge, nil)
}

func (d *dispatcher) SendUnlock() error {
	return d.send(CmdUnlock, nil)
}

func (d *dispatcher) SendCurrentLimit(amps uint8) error {
	return d.send(CmdSetCurrentLimit, CurrentLimitPayload(amps))
}

func (d *dispatcher) SendModbusTCPCurrent(amps uint8) error {
	return d.send(CmdSetModbusTCPCurrent, CurrentLimitPayload(amps))
}

func (d *dispatcher) SendOperationMode(mode OperationMode) error {
	return d.send(CmdModeSelect, []byte{byte(mode)})
}

func (d *dispatcher) SendPeripheralRequest(req PeripheralRequest) error {
	return d.send(CmdPeripheralRequest, []byte{byte(req)})
}

func (d *dispatcher) SendAvailability(operative bool) error {
	payload := []byte{0}
	if operative {
		payload[0] = 1
	}

	return d.send(CmdExternalCharge, payload)
}

func (d *dispatcher) Query(cmd CommandID) error {
	return d.send(cmd, nil)
}
