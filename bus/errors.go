package bus

import "errors"

var (
	// ErrQueueFull is returned by PublishEvent when the bounded event
	// queue has no room left (spec.md §7 QueueFull); the caller decides
	// the retry/drop policy.
	ErrQueueFull = errors.New("bus: event queue full")

	// ErrNotRunning is returned by PublishEvent once Stop has been
	// called or before Start has run.
	ErrNotRunning = errors.New("bus: stackflow is not running")

	// ErrWorkflowNotFound is returned by ExecuteWorkflow for an unknown
	// workflow name.
	ErrWorkflowNotFound = errors.New("bus: workflow not registered")

	// ErrFiltered is returned by Channel.Send when the filter chain
	// rejects a message.
	ErrFiltered = errors.New("bus: message rejected by filter")

	// ErrChannelInactive is returned by Channel.Send on an inactive
	// channel.
	ErrChannelInactive = errors.New("bus: channel is inactive")

	// ErrSubscribeUnsupported is returned by Subscribe/Unsubscribe on a
	// channel kind that does not support topic subscription (spec.md
	// §4.M: only PublishSubscribe and, per our Open Question
	// resolution, Multicast).
	ErrSubscribeUnsupported = errors.New("bus: subscribe not supported for this channel kind")

	// ErrChannelNotRegistered is reported via ChannelManager's error hook
	// when RouteMessage follows a route to a channel name that is not
	// registered. Register itself does not return it: registering an
	// existing name replaces the earlier channel.
	ErrChannelNotRegistered = errors.New("bus: channel not registered")

	// ErrRoutingMiss is reported via ChannelManager's error hook when a
	// topic has no routing entries (spec.md §7 RoutingMiss); it is not
	// returned to RouteMessage's caller by default.
	ErrRoutingMiss = errors.New("bus: no channel registered for topic")

	// ErrNoTransport is returned by Channel.Send when no Transport has
	// been wired in.
	ErrNoTransport = errors.New("bus: channel has no transport")
)
