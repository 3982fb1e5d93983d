package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/neuroerp/neuroerp/internal/orchestrator"
	"github.com/neuroerp/neuroerp/pkg/audit"
	"github.com/neuroerp/neuroerp/pkg/bus"
	"github.com/neuroerp/neuroerp/pkg/log"
)

// Consumer runs the Kafka-side intake: task submissions arrive on the task
// topic and feed the scheduler, while every published event is persisted to
// the audit trail.
type Consumer struct {
	logger    *slog.Logger
	scheduler *orchestrator.Scheduler
	audit     *audit.PostgresStore
	consumers []*bus.KafkaConsumer
}

// Config holds consumer configuration
type Config struct {
	Kafka bus.KafkaConfig
}

// taskMessage is the wire form of an asynchronous task submission.
type taskMessage struct {
	AgentType string         `json:"agent_type"`
	Skill     string         `json:"skill"`
	Params    map[string]any `json:"params,omitempty"`
	Priority  string         `json:"priority,omitempty"`
}

// NewConsumer creates the Kafka consumers. The audit store may be nil, in
// which case events are only logged.
func NewConsumer(scheduler *orchestrator.Scheduler, auditStore *audit.PostgresStore, cfg Config) (*Consumer, error) {
	c := &Consumer{
		logger:    log.Logger("consumer"),
		scheduler: scheduler,
		audit:     auditStore,
	}

	if !cfg.Kafka.Enabled {
		c.logger.Info("kafka disabled, consumer not started")
		return c, nil
	}

	for _, consumerCfg := range cfg.Kafka.Consumers {
		handler, err := c.handlerFor(consumerCfg)
		if err != nil {
			return nil, err
		}

		kc, err := bus.NewKafkaConsumer(cfg.Kafka.Brokers, consumerCfg, handler)
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer %s: %w", consumerCfg.Name, err)
		}
		c.consumers = append(c.consumers, kc)
	}

	return c, nil
}

// handlerFor routes by topic so one consumer group can cover both topics.
func (c *Consumer) handlerFor(cfg bus.ConsumerConfig) (bus.MessageHandler, error) {
	for _, topic := range cfg.Topics {
		switch topic {
		case bus.TopicTasks, bus.TopicEvents:
		default:
			return nil, fmt.Errorf("consumer %s subscribes unknown topic %s", cfg.Name, topic)
		}
	}

	return func(ctx context.Context, topic string, message []byte) error {
		switch topic {
		case bus.TopicTasks:
			return c.handleTask(ctx, message)
		case bus.TopicEvents:
			return c.handleEvent(ctx, message)
		}
		return nil
	}, nil
}

// handleTask submits a task received over Kafka to the scheduler.
func (c *Consumer) handleTask(_ context.Context, message []byte) error {
	event, err := bus.UnmarshalEvent(message)
	if err != nil {
		return fmt.Errorf("failed to decode task event: %w", err)
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to re-encode task payload: %w", err)
	}

	var msg taskMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to decode task payload: %w", err)
	}
	if msg.AgentType == "" || msg.Skill == "" {
		return fmt.Errorf("task message missing agent_type or skill")
	}

	id, err := c.scheduler.Submit(&orchestrator.Task{
		AgentType: msg.AgentType,
		Skill:     msg.Skill,
		Params:    msg.Params,
		Priority:  orchestrator.ParsePriority(msg.Priority),
	})
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	c.logger.Info("task submitted from kafka",
		"task_id", id,
		"agent", msg.AgentType,
		"skill", msg.Skill,
	)
	return nil
}

// handleEvent persists a bus event into the audit trail.
func (c *Consumer) handleEvent(ctx context.Context, message []byte) error {
	event, err := bus.UnmarshalEvent(message)
	if err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	if c.audit == nil {
		c.logger.Debug("event received", "type", event.Type, "source", event.Source)
		return nil
	}

	return c.audit.RecordEvent(ctx, audit.EventRecord{
		ID:        event.ID,
		Type:      event.Type,
		Source:    event.Source,
		Payload:   event.Payload,
		Timestamp: event.Timestamp,
	})
}

// Start starts all consumers
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.consumers) == 0 {
		c.logger.Info("no consumers configured, skipping start")
		return nil
	}

	c.logger.Info("starting consumers", "count", len(c.consumers))

	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range c.consumers {
		g.Go(func() error {
			return consumer.Start(ctx)
		})
	}

	return g.Wait()
}

// Stop stops all consumers
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumers")

	for _, consumer := range c.consumers {
		if err := consumer.Stop(); err != nil {
			c.logger.Error("failed to stop consumer", "error", err)
		}
	}

	return nil
}
