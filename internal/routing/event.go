package routing

import (
	"github.com/futurehomeno/cliffhanger/event"

	"github.com/enervia/edge-acpw-agent/internal/model"
)

// Domain is the domain of outbound message events on the internal bus.
const (
	Domain = "outbound_message"

	classMessage = "message"
)

// NewMessageEvent wraps one routed message for the internal event bus.
func NewMessageEvent(msg model.Message) event.Event {
	return event.NewWithPayload(Domain, classMessage, &msg)
}

// MessagePayload extracts the routed message carried by a bus event.
func MessagePayload(e event.Event) (model.Message, bool) {
	withPayload, ok := e.(event.EventWithPayload)
	if !ok {
		return model.Message{}, false
	}

	msg, ok := withPayload.Payload().(*model.Message)
	if !ok {
		return model.Message{}, false
	}

	return *msg, true
}

// NewMessageListener creates a listener receiving every routed message
// published to the in-process bus.
func NewMessageListener(eventManager event.Manager, processor event.Processor) event.Listener {
	return event.NewListener(
		eventManager,
		event.NewHandler(processor, "outbound_messages", 10, WaitForMessage()),
	)
}

// WaitForMessage filters outbound message events.
func WaitForMessage() event.Filter {
	return event.WaitForDomain(Domain)
}

type eventSink struct {
	name    string
	manager event.Manager
}

// NewEventSink creates a sink republishing routed messages on the in-process
// event bus, for consumers like the local HTTP API snapshot.
func NewEventSink(name string, manager event.Manager) Sink {
	return &eventSink{
		name:    name,
		manager: manager,
	}
}

func (s *eventSink) Name() string {
	return s.name
}

func (s *eventSink) Deliver(_ string, msg model.Message) error {
	s.manager.Publish(NewMessageEvent(msg))

	return nil
}
