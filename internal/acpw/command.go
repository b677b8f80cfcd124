// Package acpw implements the framed binary protocol spoken with the ACPW
// power-control board: the frame codec, the stream splitter and the
// bidirectional command dispatch tables.
package acpw

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// CommandID identifies one ACPW protocol command.
type CommandID uint8

const (
	CmdAck                 CommandID = 1
	CmdNack                CommandID = 2
	CmdPilotState          CommandID = 3
	CmdVoltage             CommandID = 4
	CmdCurrent             CommandID = 5
	CmdEnergy              CommandID = 6
	CmdPower               CommandID = 7
	CmdStartCharging       CommandID = 8
	CmdStopCharging        CommandID = 9
	CmdSetCurrentLimit     CommandID = 10
	CmdUnlock              CommandID = 11
	CmdPauseCharge         CommandID = 12
	CmdFaults              CommandID = 13
	CmdLogDump             CommandID = 14
	CmdTemperature         CommandID = 15
	CmdOtaStart            CommandID = 16
	CmdOtaStatus           CommandID = 17
	CmdOtaData             CommandID = 18
	CmdPeripheralRequest   CommandID = 19
	CmdProximityState      CommandID = 20
	CmdModeSelect          CommandID = 21
	CmdHmiBoardErr         CommandID = 22
	CmdReboot              CommandID = 23
	CmdMaxCurrent          CommandID = 24
	CmdReset               CommandID = 25
	CmdVersion             CommandID = 26
	CmdSerialNumber        CommandID = 27
	CmdExternalCharge      CommandID = 28
	CmdInterlock           CommandID = 29
	CmdMinCurrent          CommandID = 30
	CmdAppAvailableCurrent CommandID = 31
	CmdDeviceCPHomeCurrent CommandID = 32
	CmdAppCPHomeCurrent    CommandID = 33
	CmdLockableCable       CommandID = 34
	CmdPeakOffpeakInfo     CommandID = 35
	CmdCurrentOfferedToEV  CommandID = 36
	CmdNumberOfPhase       CommandID = 37
	CmdChangeAvailability  CommandID = 47
	CmdProximityCurrent    CommandID = 48
	CmdSetModbusTCPCurrent CommandID = 49
)

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return "unknown"
}

var commandNames = map[CommandID]string{
	CmdAck:                 "ack",
	CmdNack:                "nack",
	CmdPilotState:          "pilotState",
	CmdVoltage:             "voltage",
	CmdCurrent:             "current",
	CmdEnergy:              "energy",
	CmdPower:               "power",
	CmdStartCharging:       "startCharging",
	CmdStopCharging:        "stopCharging",
	CmdSetCurrentLimit:     "setCurrentLimit",
	CmdUnlock:              "unlock",
	CmdPauseCharge:         "pauseCharge",
	CmdFaults:              "faults",
	CmdLogDump:             "logDump",
	CmdTemperature:         "temperature",
	CmdOtaStart:            "otaStart",
	CmdOtaStatus:           "otaStatus",
	CmdOtaData:             "otaData",
	CmdPeripheralRequest:   "peripheralRequest",
	CmdProximityState:      "proximityState",
	CmdModeSelect:          "modeSelect",
	CmdHmiBoardErr:         "hmiBoardErr",
	CmdReboot:              "reboot",
	CmdMaxCurrent:          "maxCurrent",
	CmdReset:               "reset",
	CmdVersion:             "version",
	CmdSerialNumber:        "serialNumber",
	CmdExternalCharge:      "externalCharge",
	CmdInterlock:           "interlock",
	CmdMinCurrent:          "minCurrent",
	CmdAppAvailableCurrent: "appAvailableCurrent",
	CmdDeviceCPHomeCurrent: "deviceCPHomeCurrent",
	CmdAppCPHomeCurrent:    "appCPHomeCurrent",
	CmdLockableCable:       "lockableCable",
	CmdPeakOffpeakInfo:     "peakOffpeakInfo",
	CmdCurrentOfferedToEV:  "currentOfferedToEV",
	CmdNumberOfPhase:       "numberOfPhase",
	CmdChangeAvailability:  "changeAvailability",
	CmdProximityCurrent:    "proximityPilotCurrent",
	CmdSetModbusTCPCurrent: "setModbusTCPCurrent",
}

// PeripheralRequest selects an HMI indication pattern on the board.
type PeripheralRequest uint8

const (
	PeripheralStartBlinkAuth     PeripheralRequest = 0
	PeripheralStopBlinkAuth      PeripheralRequest = 1
	PeripheralStartBlinkReserve  PeripheralRequest = 2
	PeripheralStopBlinkReserve   PeripheralRequest = 3
	PeripheralInvalidCardBlink   PeripheralRequest = 4
	PeripheralStartBlinkFirmware PeripheralRequest = 5
	PeripheralStopBlinkFirmware  PeripheralRequest = 6
	PeripheralStartBlinkEco      PeripheralRequest = 7
)

// OperationMode is the board-side authorization mode selector.
type OperationMode uint8

const (
	OperationModeAuto       OperationMode = 0
	OperationModeAuthorized OperationMode = 1
)

// ParsePhaseValues decodes three 4-byte big-endian integers, one per phase.
func ParsePhaseValues(payload []byte) (model.PhaseValues, error) {
	if len(payload) < 12 {
		return model.PhaseValues{}, errors.Errorf("phase payload too short: %d bytes", len(payload))
	}

	return model.PhaseValues{
		L1: int64(int32(binary.BigEndian.Uint32(payload[0:4]))),
		L2: int64(int32(binary.BigEndian.Uint32(payload[4:8]))),
		L3: int64(int32(binary.BigEndian.Uint32(payload[8:12]))),
	}, nil
}

// ParseEnergy decodes the 8-byte big-endian accumulated energy register.
func ParseEnergy(payload []byte) (int64, error) {
	if len(payload) < 8 {
		return 0, errors.Errorf("energy payload too short: %d bytes", len(payload))
	}

	return int64(binary.BigEndian.Uint64(payload[0:8])), nil
}

// ParseFaultMask decodes the 3-byte big-endian fault bitmask.
func ParseFaultMask(payload []byte) (uint32, error) {
	if len(payload) < 3 {
		return 0, errors.Errorf("fault payload too short: %d bytes", len(payload))
	}

	return uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2]), nil
}

// ParsePilotState decodes the single-byte control pilot state.
func ParsePilotState(payload []byte) (model.ControlPilotState, error) {
	if len(payload) < 1 {
		return 0, errors.New("pilot state payload empty")
	}

	state := model.ControlPilotState(payload[0])
	if !state.Valid() {
		return 0, errors.Errorf("pilot state out of range: %d", payload[0])
	}

	return state, nil
}

// ParseProximityState decodes the single-byte proximity pilot state.
func ParseProximityState(payload []byte) (model.ProximityPilotState, error) {
	if len(payload) < 1 {
		return 0, errors.New("proximity state payload empty")
	}

	state := model.ProximityPilotState(payload[0])
	if state < model.ProximityPlugged || state > model.ProximityCableModel {
		return 0, errors.Errorf("proximity state out of range: %d", payload[0])
	}

	return state, nil
}

// CurrentLimitPayload encodes a current limit in amperes as a single byte.
func CurrentLimitPayload(amps uint8) []byte {
	return []byte{amps}
}
