// Package routing fans domain messages out to the outward channels. The core
// never addresses a sink directly: it publishes a typed message and the
// static table below decides which sinks see it.
package routing

import (
	log "github.com/sirupsen/logrus"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// Sink names used by the routing table.
const (
	SinkUI        = "ui"
	SinkOCPP      = "ocpp"
	SinkModbusTCP = "modbustcp"
	SinkCloud     = "cloud"
)

// Publisher hands one outbound message to the router. Implementations must
// not block the caller on sink I/O for long; delivery is best-effort.
type Publisher interface {
	Publish(msg model.Message)
}

// Sink delivers routed messages to one outward channel.
type Sink interface {
	Name() string
	Deliver(chargePointID string, msg model.Message) error
}

// Router is the outbound fan-out point.
type Router interface {
	Publisher

	// RegisterSink attaches a named sink. Unregistered names in the table
	// are skipped silently.
	RegisterSink(sink Sink)
}

// table is the static message type to sinks mapping.
var table = map[model.MessageType][]string{
	model.MessageTypePilotState:       {SinkUI, SinkOCPP},
	model.MessageTypeProximityState:   {SinkUI, SinkOCPP},
	model.MessageTypeStatus:           {SinkUI, SinkOCPP, SinkCloud, SinkModbusTCP},
	model.MessageTypeAuthorization:    {SinkUI, SinkOCPP},
	model.MessageTypeAuthResponse:     {SinkUI},
	model.MessageTypeAuthorizeRequest: {SinkOCPP},
	model.MessageTypeSessionStatus:    {SinkUI, SinkOCPP, SinkCloud},
	model.MessageTypeVoltage:          {SinkUI, SinkModbusTCP, SinkCloud},
	model.MessageTypeCurrent:          {SinkUI, SinkModbusTCP, SinkCloud},
	model.MessageTypePower:            {SinkUI, SinkModbusTCP, SinkCloud},
	model.MessageTypeEnergy:           {SinkUI, SinkModbusTCP, SinkCloud},
	model.MessageTypeFaultState:       {SinkUI, SinkOCPP, SinkCloud},
	model.MessageTypeReservation:      {SinkUI, SinkOCPP},
	model.MessageTypeStationState:     {SinkUI, SinkCloud},
	model.MessageTypeAvailability:     {SinkOCPP},
	model.MessageTypeCurrentLimit:     {SinkUI, SinkOCPP, SinkModbusTCP},
	model.MessageTypeEcoCharge:        {SinkUI, SinkCloud},
	model.MessageTypeDelayCharge:      {SinkUI, SinkCloud},
	model.MessageTypeOperationMode:    {SinkUI, SinkCloud},
	model.MessageTypeRFID:             {SinkUI},
}

type router struct {
	chargePointID string
	sinks         map[string]Sink
}

// New creates a router for one charge point.
func New(chargePointID string) Router {
	return &router{
		chargePointID: chargePointID,
		sinks:         make(map[string]Sink),
	}
}

func (r *router) RegisterSink(sink Sink) {
	r.sinks[sink.Name()] = sink
}

func (r *router) Publish(msg model.Message) {
	names, ok := table[msg.Type]
	if !ok {
		log.WithField("type", msg.Type).Debug("routing: message type has no route")

		return
	}

	for _, name := range names {
		sink, ok := r.sinks[name]
		if !ok {
			continue
		}

		if err := sink.Deliver(r.chargePointID, msg); err != nil {
			log.
				WithError(err).
				WithField("sink", name).
				WithField("type", msg.Type).
				Error("routing: sink delivery failed")
		}
	}
}
