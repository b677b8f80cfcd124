package model

import "encoding/json"

// MessageType selects the outbound sinks a message fans out to, and the
// handler for inbound bridge messages.
type MessageType string

const (
	MessageTypePilotState       MessageType = "pilotState"
	MessageTypeProximityState   MessageType = "proximityState"
	MessageTypeStatus           MessageType = "chargePointStatus"
	MessageTypeAuthorization    MessageType = "authorizationStatus"
	MessageTypeAuthResponse     MessageType = "authorizationResponse"
	MessageTypeAuthorizeRequest MessageType = "authorizeRequest"
	MessageTypeSessionStatus    MessageType = "chargeSessionStatus"
	MessageTypeVoltage          MessageType = "voltageEvent"
	MessageTypeCurrent          MessageType = "currentEvent"
	MessageTypePower            MessageType = "powerEvent"
	MessageTypeEnergy           MessageType = "energyEvent"
	MessageTypeFaultState       MessageType = "faultState"
	MessageTypeReservation      MessageType = "reservation"
	MessageTypeStationState     MessageType = "stationState"
	MessageTypeAvailability     MessageType = "availability"
	MessageTypeCurrentLimit     MessageType = "currentLimit"
	MessageTypeEcoCharge        MessageType = "ecoCharge"
	MessageTypeDelayCharge      MessageType = "delayCharge"
	MessageTypeRFID             MessageType = "rfid"
	MessageTypeStartCharging    MessageType = "startCharging"
	MessageTypeStopCharging     MessageType = "stopCharging"
	MessageTypePauseCharging    MessageType = "pauseCharging"
	MessageTypeMakeReservation  MessageType = "makeReservation"
	MessageTypeCancelReserve    MessageType = "cancelReservation"
	MessageTypeOperationMode    MessageType = "operationMode"
)

// Message is the envelope exchanged with every outward collaborator and the
// hardware bridge: one JSON object per message, type string plus data object.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessage marshals data into a Message envelope.
func NewMessage(t MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: t, Data: raw}, nil
}
