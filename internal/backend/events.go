package backend

import "github.com/mark3labs/mcp-go/mcp"

// ConnectedEvent is published on eventbus.TopicServiceConnected once a
// backend's handshake and initial tool discovery succeed.
type ConnectedEvent struct {
	Service string
	Tools   []mcp.Tool
}

// DisconnectedEvent is published on eventbus.TopicServiceDisconnected
// whenever a previously connected backend stops serving tools, whether
// by explicit Disconnect or a lost connection.
type DisconnectedEvent struct {
	Service string
	Reason  string
}

// ConnectionFailedEvent is published on eventbus.TopicServiceConnectionFail
// for every failed connect attempt, including reconnect attempts.
type ConnectionFailedEvent struct {
	Service string
	Err     error
}
