// Package statebus connects the engine to its Kafka topics: lifecycle
// events flowing out to downstream reporting consumers, and plugin
// bundles flowing in from the ingestion layer.
package statebus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/arkritico/wallnut-sub005/pkg/models"
	"github.com/arkritico/wallnut-sub005/pkg/plugin"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (cfg KafkaConfig) brokers() ([]string, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	return brokers, nil
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher mirrors registry events to a topic, keyed by
// regulation id so per-regulation ordering survives partitioning.
// It satisfies the registry's EventSink.
type EventPublisher struct {
	writer kafkaWriter
}

func NewEventPublisher(cfg KafkaConfig) (*EventPublisher, error) {
	brokers, err := cfg.brokers()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &EventPublisher{writer: w}, nil
}

func (p *EventPublisher) Append(ctx context.Context, ev models.RegistryEvent) error {
	if p == nil || p.writer == nil {
		return fmt.Errorf("event publisher not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RegulationID),
		Value: raw,
	})
}

func (p *EventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// BundleConsumer receives specialty-plugin bundles published by the
// ingestion layer.
type BundleConsumer struct {
	reader kafkaReader
}

func NewBundleConsumer(cfg KafkaConfig) (*BundleConsumer, error) {
	brokers, err := cfg.brokers()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        500 * time.Millisecond,
	})
	return &BundleConsumer{reader: r}, nil
}

// ReadBundle blocks for the next bundle and validates it. Validation
// failures are returned alongside a nil error: a bad bundle is a
// payload problem, not a bus problem.
func (c *BundleConsumer) ReadBundle(ctx context.Context) (models.SpecialtyPlugin, []plugin.LoadError, error) {
	if c == nil || c.reader == nil {
		return models.SpecialtyPlugin{}, nil, fmt.Errorf("bundle consumer not initialized")
	}
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return models.SpecialtyPlugin{}, nil, err
	}
	p, errs := plugin.ParseBundle(string(msg.Key), msg.Value)
	return p, errs, nil
}

func (c *BundleConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
