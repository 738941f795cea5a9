package upstream

// EndpointStatusChangedEvent is published on eventbus.TopicEndpointStatusChanged
// whenever the outbound WebSocket connects, disconnects, or fails to
// connect (spec §4.H).
type EndpointStatusChangedEvent struct {
	Connected bool
	Reason    string
	Err       error
}
