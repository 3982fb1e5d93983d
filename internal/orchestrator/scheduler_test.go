package orchestrator

import (
	"container/heap"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/pkg/bus"
)

func testScheduler(t *testing.T, cfg SchedulerConfig) (*Scheduler, *bus.InMemoryBus) {
	t.Helper()
	_, registry := testRegistry(t)
	b := bus.NewInMemoryBus()
	s := NewScheduler(cfg, registry, b, nil)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, b
}

func waitForStatus(t *testing.T, s *Scheduler, id, want string) *Task {
	t.Helper()
	var task *Task
	require.Eventually(t, func() bool {
		got, err := s.Get(id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestScheduler_ExecutesTask(t *testing.T) {
	s, b := testScheduler(t, SchedulerConfig{PollInterval: "10ms"})

	id, err := s.Submit(&Task{
		AgentType: domain.AgentFinance,
		Skill:     "analyze_transactions",
		Priority:  PriorityHigh,
	})
	require.NoError(t, err)

	task := waitForStatus(t, s, id, TaskCompleted)
	assert.Equal(t, 0, task.Result["count"])
	assert.NotNil(t, task.CompletedAt)

	require.Eventually(t, func() bool {
		return len(b.Messages(bus.TopicEvents)) > 0
	}, time.Second, 10*time.Millisecond)

	ev, err := bus.UnmarshalEvent(b.Messages(bus.TopicEvents)[0])
	require.NoError(t, err)
	assert.Equal(t, bus.EventTaskCompleted, ev.Type)

	metrics := s.Metrics()
	assert.Equal(t, 1, metrics[domain.AgentFinance].Completed)
}

func TestScheduler_FailedTask(t *testing.T) {
	s, _ := testScheduler(t, SchedulerConfig{PollInterval: "10ms"})

	id, err := s.Submit(&Task{
		AgentType: domain.AgentFinance,
		Skill:     "no_such_skill",
	})
	require.NoError(t, err)

	task := waitForStatus(t, s, id, TaskFailed)
	assert.Contains(t, task.Error, "no skill")

	metrics := s.Metrics()
	assert.Equal(t, 1, metrics[domain.AgentFinance].Failed)
}

func TestScheduler_CancelQueuedTask(t *testing.T) {
	_, registry := testRegistry(t)
	s := NewScheduler(SchedulerConfig{}, registry, nil, nil)
	// not started: the task stays queued

	id, err := s.Submit(&Task{
		AgentType: domain.AgentHR,
		Skill:     "headcount",
	})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(id))

	task, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, task.Status)

	// cancelling again fails, it is no longer queued
	assert.Error(t, s.Cancel(id))
	assert.Error(t, s.Cancel("missing"))
}

func TestScheduler_Reschedule(t *testing.T) {
	_, registry := testRegistry(t)
	s := NewScheduler(SchedulerConfig{}, registry, nil, nil)

	id, err := s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount"})
	require.NoError(t, err)

	require.NoError(t, s.Reschedule(id, time.Hour))

	task, err := s.Get(id)
	require.NoError(t, err)
	assert.True(t, task.RunAt.After(time.Now().UTC().Add(50*time.Minute)))

	assert.Error(t, s.Reschedule("missing", time.Hour))
}

func TestScheduler_QueueFull(t *testing.T) {
	_, registry := testRegistry(t)
	s := NewScheduler(SchedulerConfig{QueueSize: 1}, registry, nil, nil)

	_, err := s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount"})
	require.NoError(t, err)

	_, err = s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount"})
	assert.ErrorContains(t, err, "queue full")
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	_, registry := testRegistry(t)
	s := NewScheduler(SchedulerConfig{}, registry, nil, nil)

	lowID, _ := s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount", Priority: PriorityLow})
	criticalID, _ := s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount", Priority: PriorityCritical})
	mediumID, _ := s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount", Priority: PriorityMedium})

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.queue, 3)
	assert.Equal(t, criticalID, s.queue[0].ID)

	// drain order: critical, medium, low
	order := []string{}
	for s.queue.Len() > 0 {
		order = append(order, heap.Pop(&s.queue).(*Task).ID)
	}
	assert.Equal(t, []string{criticalID, mediumID, lowID}, order)
}

func TestScheduler_ResourceLimits(t *testing.T) {
	_, registry := testRegistry(t)
	s := NewScheduler(SchedulerConfig{
		Limits: map[string]int{"agent_workers": 1},
	}, registry, nil, nil)

	// two tasks each needing the single worker slot: only one dispatches
	id1, _ := s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount"})
	id2, _ := s.Submit(&Task{AgentType: domain.AgentHR, Skill: "headcount"})

	s.Start(context.Background())
	t.Cleanup(s.Stop)

	waitForStatus(t, s, id1, TaskCompleted)
	waitForStatus(t, s, id2, TaskCompleted)

	status := s.Status()
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, 0, status.Queued)
	assert.Empty(t, status.InUse)
}

func TestScheduler_PeriodicTask(t *testing.T) {
	s, _ := testScheduler(t, SchedulerConfig{PollInterval: "5ms"})

	_, err := s.Submit(&Task{
		AgentType: domain.AgentFinance,
		Skill:     "analyze_transactions",
		Interval:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	// the task re-queues itself, so completions keep growing
	require.Eventually(t, func() bool {
		return s.Metrics()[domain.AgentFinance].Completed >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_GetReturnsSnapshot(t *testing.T) {
	_, registry := testRegistry(t)
	s := NewScheduler(SchedulerConfig{}, registry, nil, nil)
	// not started: the task stays queued

	id, err := s.Submit(&Task{
		AgentType: domain.AgentHR,
		Skill:     "headcount",
		Params:    map[string]any{"department": "finance"},
	})
	require.NoError(t, err)

	got, err := s.Get(id)
	require.NoError(t, err)
	got.Status = "tampered"
	got.Params["department"] = "warehouse"

	again, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, TaskQueued, again.Status)
	assert.Equal(t, "finance", again.Params["department"])
}

func TestSchedulerConfig_Validate(t *testing.T) {
	cfg := SchedulerConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.QueueSize)
	assert.Equal(t, map[string]int{"agent_workers": 4}, cfg.Limits)

	bad := SchedulerConfig{PollInterval: "soon"}
	assert.ErrorContains(t, bad.Validate(), "poll_interval")
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityCritical, ParsePriority("critical"))
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityMedium, ParsePriority(""))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, "critical", PriorityCritical.String())
}
