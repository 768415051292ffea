package bus

import "time"

// Tag classifies an Event (spec.md §3).
type Tag string

const (
	SystemStart           Tag = "system_start"
	SystemStop            Tag = "system_stop"
	ServiceRegister       Tag = "service_register"
	ServiceUnregister     Tag = "service_unregister"
	MessageReceived       Tag = "message_received"
	ConnectionEstablished Tag = "connection_established"
	ConnectionLost        Tag = "connection_lost"
	ErrorOccurred         Tag = "error_occurred"
	Custom                Tag = "custom"
)

// Event is a value type carrying a tagged kind, source/target
// identifiers, a flat key/value payload, a monotonic timestamp and a
// priority (larger is more urgent).
type Event struct {
	Tag       Tag
	Source    string
	Target    string
	Data      map[string]string
	Timestamp int64
	Priority  uint
}

// NewEvent builds an Event stamped with the current time. Data may be
// nil; callers that need to set fields use With* below.
func NewEvent(tag Tag, source, target string) Event {
	return Event{
		Tag:       tag,
		Source:    source,
		Target:    target,
		Data:      make(map[string]string),
		Timestamp: time.Now().UnixMilli(),
		Priority:  0,
	}
}

// WithData returns a copy of the event with key=value set in Data.
func (e Event) WithData(key, value string) Event {
	nd := make(map[string]string, len(e.Data)+1)
	for k, v := range e.Data {
		nd[k] = v
	}
	nd[key] = value
	e.Data = nd
	return e
}

// WithPriority returns a copy of the event with Priority set.
func (e Event) WithPriority(p uint) Event {
	e.Priority = p
	return e
}
