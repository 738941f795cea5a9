package resultcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/gwerrors"
)

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	c := New(nil, nil)
	t.Cleanup(c.Stop)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestKeyIsStableAcrossArgumentOrder(t *testing.T) {
	k1 := Key("calculator", map[string]any{"a": 1, "b": 2})
	k2 := Key("calculator", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, k1, k2)
}

func TestPutCompletedThenIsAvailable(t *testing.T) {
	c, _ := newTestCache(t)
	key := Key("calculator", map[string]any{"a": 1})

	c.Put(key, StatusPending, nil, "", time.Minute, "")
	assert.False(t, c.IsAvailable(key))

	c.Put(key, StatusCompleted, 42, "", time.Minute, "")
	assert.True(t, c.IsAvailable(key))

	require.NoError(t, c.MarkConsumed(key))
	assert.False(t, c.IsAvailable(key))
}

func TestIsAvailableFalseWhenExpired(t *testing.T) {
	c, clock := newTestCache(t)
	key := Key("calculator", map[string]any{"a": 1})
	c.Put(key, StatusCompleted, 42, "", time.Minute, "")
	assert.True(t, c.IsAvailable(key))

	*clock = clock.Add(2 * time.Minute)
	assert.False(t, c.IsAvailable(key))
}

func TestCreateTaskGeneratesValidID(t *testing.T) {
	c, _ := newTestCache(t)
	task := c.CreateTask("calculator", map[string]any{"a": 1})
	assert.True(t, ValidTaskID(task.TaskID))
	assert.Equal(t, StatusPending, task.Status)
}

func TestUpdateTaskStatusRecordsTransition(t *testing.T) {
	c, _ := newTestCache(t)
	task := c.CreateTask("calculator", map[string]any{"a": 1})

	require.NoError(t, c.UpdateTaskStatus(task.TaskID, StatusCompleted, 7, ""))

	got, ok := c.GetTask(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 7, got.Result)

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, StatusPending, history[0].To)
	assert.Equal(t, StatusCompleted, history[1].To)
}

func TestEvictRemovesExpiredAndStalePendingTask(t *testing.T) {
	c, clock := newTestCache(t)

	expiredKey := Key("calculator", map[string]any{"a": 1})
	c.Put(expiredKey, StatusCompleted, 1, "", time.Second, "")

	task := c.CreateTask("slowtool", map[string]any{})
	pendingKey := Key("slowtool", map[string]any{})
	c.Put(pendingKey, StatusPending, nil, "", 5*time.Minute, task.TaskID)

	*clock = clock.Add(time.Minute)
	c.evict()

	_, ok := c.Get(expiredKey)
	assert.False(t, ok)

	got, ok := c.GetTask(task.TaskID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "execution timeout", got.Error)

	_, ok = c.Get(pendingKey)
	assert.False(t, ok, "stalled task's correlated Pending entry should be evicted, not left Pending forever")
}

func TestEvictRemovesAgedConsumedEntry(t *testing.T) {
	c, clock := newTestCache(t)
	key := Key("calculator", map[string]any{"a": 1})
	c.Put(key, StatusCompleted, 1, "", 0, "")
	require.NoError(t, c.MarkConsumed(key))

	*clock = clock.Add(61 * time.Second)
	c.evict()

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestValidateDetectsMissingFinishedAt(t *testing.T) {
	c, _ := newTestCache(t)
	key := Key("calculator", map[string]any{"a": 1})

	c.mu.Lock()
	c.entries[key] = &Entry{Key: key, Status: StatusCompleted}
	c.mu.Unlock()

	violations := c.Validate()
	require.Len(t, violations, 1)
}

func TestMarkConsumedUnknownKeyIsToolNotFound(t *testing.T) {
	c, _ := newTestCache(t)
	err := c.MarkConsumed("does-not-exist")
	assert.Error(t, err)
	assert.Equal(t, gwerrors.ToolNotFound, gwerrors.KindOf(err))
}
