package resultcache

// CacheStatsEvent is published on eventbus.TopicCacheStats at the end
// of every eviction tick (spec §4.G, §4.H).
type CacheStatsEvent struct {
	EntryCount      int
	TaskCount       int
	RemovedThisTick int
}
