package adapter

// Counters is the flat snapshot of the "exposed operational counters"
// spec.md §6 calls out as the repository's sole observability surface:
// reactor-side byte/connection/loop counters plus bus-side
// processed/executed/error/routing counters. Nothing in reactor/ or
// bus/ depends on this type — components expose their own counters as
// plain accessor methods (EventLoop.Iterations, TcpServer.TotalConnections,
// StackFlow.Processed, ChannelManager.RoutingMisses, ...) and callers
// assemble a Counters value from whichever of them they are running.
type Counters struct {
	LoopIterations    uint64 `json:"loop_iterations"`
	LoopDispatches    uint64 `json:"loop_dispatches"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  uint64 `json:"connections_total"`
	EventsProcessed   uint64 `json:"events_processed"`
	WorkflowsExecuted uint64 `json:"workflows_executed"`
	EventErrors       uint64 `json:"event_errors"`
	RoutingMisses     uint64 `json:"routing_misses"`
	ChannelsDelivered uint64 `json:"channels_delivered"`
}
