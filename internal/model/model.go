package model

import (
	"time"
)

// AutoStartUID is the credential recorded for sessions started without a
// presented credential (auto mode).
const AutoStartUID = "autoStart"

// MobileAppUID is the credential recorded for sessions started from the
// companion application.
const MobileAppUID = "mobileApplication"

// ControlPilotState represents the control pilot signaling level reported by
// the power board. Values match the wire encoding.
type ControlPilotState int

const (
	ControlPilotA1 ControlPilotState = iota
	ControlPilotA2
	ControlPilotB1
	ControlPilotB2
	ControlPilotC1
	ControlPilotC2
	ControlPilotD1
	ControlPilotD2
	ControlPilotE
	ControlPilotF
)

func (s ControlPilotState) String() string {
	switch s {
	case ControlPilotA1:
		return "A1"
	case ControlPilotA2:
		return "A2"
	case ControlPilotB1:
		return "B1"
	case ControlPilotB2:
		return "B2"
	case ControlPilotC1:
		return "C1"
	case ControlPilotC2:
		return "C2"
	case ControlPilotD1:
		return "D1"
	case ControlPilotD2:
		return "D2"
	case ControlPilotE:
		return "E"
	case ControlPilotF:
		return "F"
	default:
		return "unknown"
	}
}

// Valid returns true if the state is within the range the board can report.
func (s ControlPilotState) Valid() bool {
	return s >= ControlPilotA1 && s <= ControlPilotF
}

// Faulted returns true for pilot levels that indicate a hardware fault.
func (s ControlPilotState) Faulted() bool {
	switch s {
	case ControlPilotD1, ControlPilotD2, ControlPilotE, ControlPilotF:
		return true
	default:
		return false
	}
}

// ProximityPilotState represents connector presence reported by the board.
type ProximityPilotState int

const (
	ProximityPlugged ProximityPilotState = iota
	ProximityNoCable
	ProximityCableModel
)

func (s ProximityPilotState) String() string {
	switch s {
	case ProximityPlugged:
		return "plugged"
	case ProximityNoCable:
		return "noCable"
	case ProximityCableModel:
		return "cableModel"
	default:
		return "unknown"
	}
}

// ChargePointStatus is the OCPP-flavored status derived from pilot state,
// error code, availability and reservation.
type ChargePointStatus string

const (
	StatusAvailable     ChargePointStatus = "Available"
	StatusPreparing     ChargePointStatus = "Preparing"
	StatusCharging      ChargePointStatus = "Charging"
	StatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	StatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	StatusFinishing     ChargePointStatus = "Finishing"
	StatusReserved      ChargePointStatus = "Reserved"
	StatusUnavailable   ChargePointStatus = "Unavailable"
	StatusFaulted       ChargePointStatus = "Faulted"
)

// AuthorizationStatus tells whether a credential's authorization window is
// currently open.
type AuthorizationStatus int

const (
	AuthorizationTimeout AuthorizationStatus = iota
	AuthorizationStart
	AuthorizationFinish
)

func (s AuthorizationStatus) String() string {
	switch s {
	case AuthorizationStart:
		return "start"
	case AuthorizationFinish:
		return "finish"
	case AuthorizationTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// AuthorizationResponse is the outcome reported after an authorize attempt.
type AuthorizationResponse string

const (
	ResponseAccepted     AuthorizationResponse = "Accepted"
	ResponseBlocked      AuthorizationResponse = "Blocked"
	ResponseExpired      AuthorizationResponse = "Expired"
	ResponseInvalid      AuthorizationResponse = "Invalid"
	ResponseConcurrentTx AuthorizationResponse = "ConcurrentTx"
	ResponseTimeout      AuthorizationResponse = "Timeout"
)

// SessionStatus is the lifecycle state of a charge session.
type SessionStatus string

const (
	SessionStarted   SessionStatus = "Started"
	SessionPaused    SessionStatus = "Paused"
	SessionSuspended SessionStatus = "Suspended"
	SessionStopped   SessionStatus = "Stopped"
)

// ErrorCode is the coarse charge point error derived from the fault bitmask.
type ErrorCode string

const (
	ErrorNone          ErrorCode = "NoError"
	ErrorConnectorLock ErrorCode = "ConnectorLockFailure"
	ErrorGroundFailure ErrorCode = "GroundFailure"
	ErrorOverCurrent   ErrorCode = "OverCurrentFailure"
	ErrorUnderVoltage  ErrorCode = "UnderVoltage"
	ErrorOverVoltage   ErrorCode = "OverVoltage"
	ErrorOther         ErrorCode = "OtherError"
)

// Availability is the operative flag controlled from the OCPP side.
type Availability string

const (
	Operative   Availability = "Operative"
	Inoperative Availability = "Inoperative"
)

// AuthorizationMode selects the active authorization policy.
type AuthorizationMode string

const (
	ModeNoAuthorization AuthorizationMode = "none"
	ModeLocalList       AuthorizationMode = "localList"
	ModeAcceptAll       AuthorizationMode = "acceptAll"
	ModeOcppDelegated   AuthorizationMode = "ocpp"
)

// StationState is the top-level per-station state.
type StationState string

const (
	StationInitializing             StationState = "initializing"
	StationOnboarding               StationState = "onboarding"
	StationWaitingForMasterAddition StationState = "waitingForMasterAddition"
	StationWaitingForConfiguration  StationState = "waitingForConfiguration"
	StationWaitingForConnection     StationState = "waitingForConnection"
	StationNormal                   StationState = "normal"
	StationInstallingFirmware       StationState = "installingFirmware"
	StationAddedUserCard            StationState = "addedUserCard"
	StationRemovedUserCard          StationState = "removedUserCard"
)

// ReservationStatus tells whether a reservation slot is in use.
type ReservationStatus string

const (
	ReservationEnabled  ReservationStatus = "Enabled"
	ReservationDisabled ReservationStatus = "Disabled"
)

// Reservation holds the single reservation slot of a charge point.
type Reservation struct {
	Status        ReservationStatus `json:"status"`
	ExpiryTime    time.Time         `json:"expiryTime"`
	IDTag         string            `json:"idTag"`
	ReservationID int               `json:"reservationId"`
}

// Active returns true while the reservation slot is taken.
func (r *Reservation) Active() bool {
	return r != nil && r.Status == ReservationEnabled
}

// PhaseValues carries one electrical reading per phase, in milli-units as
// reported by the board.
type PhaseValues struct {
	L1 int64 `json:"l1"`
	L2 int64 `json:"l2"`
	L3 int64 `json:"l3"`
}

// Telemetry aggregates the electrical readings of a charge point.
type Telemetry struct {
	Voltage PhaseValues `json:"voltage"`
	Current PhaseValues `json:"current"`
	Power   PhaseValues `json:"power"`
	// EnergyWh is the accumulated active energy register.
	EnergyWh int64 `json:"energyWh"`
}

// EcoChargeConfig is the daily auto-start window.
type EcoChargeConfig struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // "HH:MM"
	Stop    string `json:"stop"`  // "HH:MM"
}

// DelayChargeConfig is the one-shot countdown before auto-start.
type DelayChargeConfig struct {
	Enabled bool          `json:"enabled"`
	Delay   time.Duration `json:"delay"`
}
