package services

// ReplicatedEvent is one script-queued named event that rides the next
// observation broadcast out to every connected client. Unreliable
// events may be dropped by the transport; the core queues both kinds
// identically.
type ReplicatedEvent struct {
	Name     string
	Payload  any
	Reliable bool
}

// RemoteEvents lets scripts broadcast named events to clients. Events
// accumulate between broadcast boundaries; the scheduler drains the
// queue into each published snapshot. Fired and drained only on the
// owning instance's scheduler goroutine.
type RemoteEvents struct {
	queued []ReplicatedEvent
}

func newRemoteEvents() *RemoteEvents { return &RemoteEvents{} }

func (re *RemoteEvents) ServiceName() string { return "RemoteEventService" }

// FireAllClients queues one event for every client. Events with an
// empty name are dropped.
func (re *RemoteEvents) FireAllClients(name string, payload any, reliable bool) {
	if name == "" {
		return
	}
	re.queued = append(re.queued, ReplicatedEvent{Name: name, Payload: payload, Reliable: reliable})
}

// Drain returns the queued events in fire order and clears the queue.
func (re *RemoteEvents) Drain() []ReplicatedEvent {
	events := re.queued
	re.queued = nil
	return events
}

// QueuedCount reports the number of events awaiting the next broadcast.
func (re *RemoteEvents) QueuedCount() int { return len(re.queued) }
