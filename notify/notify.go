// Package notify tells downstream systems about generated work orders.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/maintenance-engine/maintenance"
	"go.uber.org/zap"
)

// Config holds Kafka configuration.
type Config struct {
	Brokers []string
	Topic   string
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// MessageWriter is the subset of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WorkOrderEvent is published once per generated work order.
type WorkOrderEvent struct {
	Type           string    `json:"type"` // "work_order.generated"
	WorkOrderID    string    `json:"work_order_id"`
	PlanCode       string    `json:"plan_code"`
	AssetID        string    `json:"asset_id"`
	Title          string    `json:"title"`
	DueDate        time.Time `json:"due_date"`
	EstimatedHours string    `json:"estimated_hours"`
	GenerationType string    `json:"generation_type"`
	RunDate        string    `json:"run_date"`
	Timestamp      time.Time `json:"timestamp"`
}

// KafkaNotifier publishes WorkOrderEvents keyed by plan code, so events of
// one plan stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaNotifier creates a notifier writing to cfg.Topic.
func NewKafkaNotifier(cfg Config, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaNotifierWithWriter(writer, cfg.Topic, logger)
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(w MessageWriter, topic string, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{writer: w, topic: topic, logger: logger.Named("kafka-notifier")}
}

// OrdersGenerated publishes one message per order in the summary.
func (n *KafkaNotifier) OrdersGenerated(ctx context.Context, summary maintenance.RunSummary) error {
	if len(summary.Orders) == 0 {
		return nil
	}
	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(summary.Orders))
	for _, wo := range summary.Orders {
		data, err := json.Marshal(WorkOrderEvent{
			Type:           "work_order.generated",
			WorkOrderID:    wo.ID,
			PlanCode:       wo.PlanCode,
			AssetID:        wo.AssetID,
			Title:          wo.Title,
			DueDate:        wo.DueDate,
			EstimatedHours: wo.EstimatedHours.String(),
			GenerationType: string(wo.GenerationType),
			RunDate:        summary.Date,
			Timestamp:      now,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal work order event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(wo.PlanCode), Value: data})
	}

	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d work order events to %s: %w", len(msgs), n.topic, err)
	}
	n.logger.Debug("published work order events", zap.Int("count", len(msgs)), zap.String("topic", n.topic))
	return nil
}

// Close closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier logs generated orders. Used when no brokers are configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) OrdersGenerated(_ context.Context, summary maintenance.RunSummary) error {
	for _, wo := range summary.Orders {
		n.logger.Info("work order generated",
			zap.String("work_order", wo.ID),
			zap.String("plan", wo.PlanCode),
			zap.String("asset", wo.AssetID),
			zap.Time("due", wo.DueDate))
	}
	return nil
}
