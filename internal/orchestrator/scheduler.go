package orchestrator

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/neuroerp/neuroerp/internal/agent"
	"github.com/neuroerp/neuroerp/pkg/audit"
	"github.com/neuroerp/neuroerp/pkg/bus"
	"github.com/neuroerp/neuroerp/pkg/log"
)

// Task priority levels. Higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// ParsePriority maps a priority name to its level, defaulting to medium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "medium"
	}
}

// Task status values
const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Resources maps resource names (cpu, memory_mb, api_tokens, agent_workers)
// to units required or available.
type Resources map[string]int

// fits reports whether need can be satisfied given limits and current use
func (r Resources) fits(limits, inUse Resources) bool {
	for name, need := range r {
		limit, ok := limits[name]
		if !ok {
			continue // unlimited resource
		}
		if inUse[name]+need > limit {
			return false
		}
	}
	return true
}

// Task is a unit of agent work managed by the scheduler.
type Task struct {
	ID        string         `json:"id"`
	AgentType string         `json:"agent_type"`
	Skill     string         `json:"skill"`
	Params    map[string]any `json:"params,omitempty"`
	Priority  Priority       `json:"priority"`
	Resources Resources      `json:"resources,omitempty"`

	// RunAt delays execution; zero means run as soon as possible
	RunAt time.Time `json:"run_at,omitempty"`
	// Interval makes the task periodic; it is re-queued after each run
	Interval time.Duration `json:"interval,omitempty"`

	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	seq   uint64
	index int
}

// clone returns a deep copy so callers can't observe in-flight mutation
func (t *Task) clone() *Task {
	c := *t
	c.Params = copyMap(t.Params)
	c.Result = copyMap(t.Result)
	if t.Resources != nil {
		c.Resources = make(Resources, len(t.Resources))
		for name, units := range t.Resources {
			c.Resources[name] = units
		}
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// taskHeap orders by priority desc, then RunAt asc, then submission order
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].RunAt.Equal(h[j].RunAt) {
		return h[i].RunAt.Before(h[j].RunAt)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// AgentMetrics aggregates per-agent execution outcomes.
type AgentMetrics struct {
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	TotalDuration time.Duration `json:"total_duration"`
}

// SchedulerConfig holds scheduler tuning knobs.
type SchedulerConfig struct {
	QueueSize int `toml:"queue_size"`
	// PollInterval is a Go duration string, default 100ms
	PollInterval string         `toml:"poll_interval"`
	Limits       map[string]int `toml:"limits"`
}

// Validate applies defaults.
func (c *SchedulerConfig) Validate() error {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.PollInterval != "" {
		if _, err := time.ParseDuration(c.PollInterval); err != nil {
			return errors.New("poll_interval is invalid: " + err.Error())
		}
	}
	if c.Limits == nil {
		c.Limits = map[string]int{"agent_workers": 4}
	}
	return nil
}

// SchedulerStatus is a point-in-time snapshot for the status API.
type SchedulerStatus struct {
	Queued    int       `json:"queued"`
	Running   int       `json:"running"`
	Limits    Resources `json:"limits"`
	InUse     Resources `json:"in_use"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
}

// Scheduler runs agent tasks from a priority queue under resource limits.
type Scheduler struct {
	logger   *slog.Logger
	cfg      SchedulerConfig
	poll     time.Duration
	registry *agent.Registry
	bus      bus.EventBus
	audit    *audit.PostgresStore

	mu      sync.Mutex
	queue   taskHeap
	tasks   map[string]*Task
	inUse   Resources
	running int
	seq     uint64
	metrics map[string]*AgentMetrics

	notify chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a task scheduler. Bus and audit store may be nil.
func NewScheduler(cfg SchedulerConfig, registry *agent.Registry, b bus.EventBus, store *audit.PostgresStore) *Scheduler {
	_ = cfg.Validate()

	poll := 100 * time.Millisecond
	if cfg.PollInterval != "" {
		if d, err := time.ParseDuration(cfg.PollInterval); err == nil && d > 0 {
			poll = d
		}
	}

	return &Scheduler{
		logger:   log.Logger("scheduler"),
		cfg:      cfg,
		poll:     poll,
		registry: registry,
		bus:      b,
		audit:    store,
		tasks:    make(map[string]*Task),
		inUse:    make(Resources),
		metrics:  make(map[string]*AgentMetrics),
		notify:   make(chan struct{}, 1),
	}
}

// Submit queues a task. Returns the task ID, or an error when the queue is
// full (the task is dropped, not blocked on).
func (s *Scheduler) Submit(t *Task) (string, error) {
	if t.AgentType == "" || t.Skill == "" {
		return "", errors.New("agent_type and skill are required")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Resources == nil {
		t.Resources = Resources{"agent_workers": 1}
	}
	t.Status = TaskQueued
	t.SubmittedAt = time.Now().UTC()

	s.mu.Lock()
	if len(s.queue) >= s.cfg.QueueSize {
		s.mu.Unlock()
		return "", errors.Errorf("scheduler queue full (%d), task dropped", s.cfg.QueueSize)
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.queue, t)
	s.tasks[t.ID] = t
	s.mu.Unlock()

	s.wake()
	s.logger.Debug("task submitted", "id", t.ID, "agent", t.AgentType, "skill", t.Skill, "priority", t.Priority.String())
	return t.ID, nil
}

// Cancel removes a queued task. Running tasks are not preempted.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return errors.Errorf("task not found: %s", id)
	}
	if t.Status != TaskQueued {
		return errors.Errorf("task %s is %s, only queued tasks can be cancelled", id, t.Status)
	}

	heap.Remove(&s.queue, t.index)
	t.Status = TaskCancelled
	now := time.Now().UTC()
	t.CompletedAt = &now
	return nil
}

// Reschedule delays a queued task by the given duration from now.
func (s *Scheduler) Reschedule(id string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return errors.Errorf("task not found: %s", id)
	}
	if t.Status != TaskQueued {
		return errors.Errorf("task %s is %s, only queued tasks can be rescheduled", id, t.Status)
	}

	t.RunAt = time.Now().UTC().Add(delay)
	heap.Fix(&s.queue, t.index)
	return nil
}

// Get returns a snapshot of a task by ID.
func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.Errorf("task not found: %s", id)
	}
	return t.clone(), nil
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Queued:  len(s.queue),
		Running: s.running,
		Limits:  s.cfg.Limits,
		InUse:   make(Resources, len(s.inUse)),
	}
	for name, used := range s.inUse {
		status.InUse[name] = used
	}
	for _, m := range s.metrics {
		status.Completed += m.Completed
		status.Failed += m.Failed
	}
	return status
}

// Metrics returns per-agent execution metrics.
func (s *Scheduler) Metrics() map[string]AgentMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]AgentMetrics, len(s.metrics))
	for agentType, m := range s.metrics {
		out[agentType] = *m
	}
	return out
}

// Start runs the dispatch loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			s.dispatch(ctx)
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
			case <-ticker.C:
			}
		}
	}()

	s.logger.Info("scheduler started", "limits", s.cfg.Limits)
}

// Stop cancels the dispatch loop and waits for running tasks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dispatch starts every queued task that is due and fits the resource limits
func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var skipped []*Task
	var ready []*Task

	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Task)
		if t.RunAt.After(now) || !t.Resources.fits(s.cfg.Limits, s.inUse) {
			skipped = append(skipped, t)
			continue
		}
		// reserve resources while still under the lock
		for name, need := range t.Resources {
			s.inUse[name] += need
		}
		t.Status = TaskRunning
		s.running++
		ready = append(ready, t)
	}
	for _, t := range skipped {
		heap.Push(&s.queue, t)
	}
	s.mu.Unlock()

	for _, t := range ready {
		s.wg.Add(1)
		go func(t *Task) {
			defer s.wg.Done()
			s.execute(ctx, t)
		}(t)
	}
}

// execute runs one task and records the outcome
func (s *Scheduler) execute(ctx context.Context, t *Task) {
	start := time.Now()
	result, err := s.registry.ExecuteTask(ctx, t.AgentType, t.Skill, t.Params)
	duration := time.Since(start)
	completedAt := time.Now().UTC()

	s.mu.Lock()
	for name, need := range t.Resources {
		s.inUse[name] -= need
		if s.inUse[name] <= 0 {
			delete(s.inUse, name)
		}
	}
	s.running--

	m := s.metrics[t.AgentType]
	if m == nil {
		m = &AgentMetrics{}
		s.metrics[t.AgentType] = m
	}
	m.TotalDuration += duration

	t.CompletedAt = &completedAt
	if err != nil {
		t.Status = TaskFailed
		t.Error = err.Error()
		m.Failed++
	} else {
		t.Status = TaskCompleted
		t.Result = result
		m.Completed++
	}
	s.mu.Unlock()

	eventType := bus.EventTaskCompleted
	if err != nil {
		eventType = bus.EventTaskFailed
		s.logger.Warn("task failed", "id", t.ID, "agent", t.AgentType, "skill", t.Skill, "error", err)
	}
	if s.bus != nil {
		_ = bus.PublishEvent(s.bus, bus.TopicEvents, bus.NewEvent(eventType, "scheduler", map[string]any{
			"task_id": t.ID, "agent_type": t.AgentType, "skill": t.Skill,
		}))
	}

	if s.audit != nil {
		rec := audit.TaskRecord{
			ID:          t.ID,
			Type:        t.Skill,
			AgentType:   t.AgentType,
			Status:      t.Status,
			Priority:    t.Priority.String(),
			Params:      t.Params,
			Result:      t.Result,
			Error:       t.Error,
			SubmittedAt: t.SubmittedAt,
			CompletedAt: completedAt,
		}
		if err := s.audit.RecordTask(ctx, rec); err != nil {
			s.logger.Warn("audit record failed", "task_id", t.ID, "error", err)
		}
	}

	// periodic tasks go straight back on the queue
	if t.Interval > 0 {
		next := &Task{
			AgentType: t.AgentType,
			Skill:     t.Skill,
			Params:    t.Params,
			Priority:  t.Priority,
			Resources: t.Resources,
			RunAt:     time.Now().UTC().Add(t.Interval),
			Interval:  t.Interval,
		}
		if _, err := s.Submit(next); err != nil {
			s.logger.Warn("failed to requeue periodic task", "id", t.ID, "error", err)
		}
	} else {
		s.wake()
	}
}
