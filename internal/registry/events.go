package registry

// RegistryChangedEvent is published on eventbus.TopicToolRegistryChanged
// after every rebuild, carrying the new aggregate tool count so metrics
// subscribers don't need to call back into ServiceManager.
type RegistryChangedEvent struct {
	ToolCount int
}
