package statebus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type fakeReader struct {
	msg kafka.Message
	err error
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return f.msg, f.err
}

func (f *fakeReader) Close() error { return nil }

func TestNewEventPublisherValidatesConfig(t *testing.T) {
	if _, err := NewEventPublisher(KafkaConfig{Topic: "events"}); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewEventPublisher(KafkaConfig{Brokers: []string{" ", ""}, Topic: "events"}); err == nil {
		t.Fatal("expected error for blank brokers")
	}
	if _, err := NewEventPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("expected error without topic")
	}
	p, err := NewEventPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "events"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = p.Close()
}

func TestAppendPublishesKeyedByRegulation(t *testing.T) {
	fw := &fakeWriter{}
	p := &EventPublisher{writer: fw}
	ev := models.RegistryEvent{
		ID:           "ev-1",
		Seq:          3,
		Type:         models.EventRegulationAmended,
		RegulationID: "dl-220",
		Actor:        "alice",
	}
	if err := p.Append(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "dl-220" {
		t.Fatalf("expected key dl-220, got %q", fw.msgs[0].Key)
	}
	var decoded models.RegistryEvent
	if err := json.Unmarshal(fw.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("expected JSON payload: %v", err)
	}
	if decoded.Seq != 3 || decoded.Type != models.EventRegulationAmended {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestAppendPropagatesWriterError(t *testing.T) {
	p := &EventPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	if err := p.Append(context.Background(), models.RegistryEvent{}); err == nil {
		t.Fatal("expected error")
	}
	var nilPub *EventPublisher
	if err := nilPub.Append(context.Background(), models.RegistryEvent{}); err == nil {
		t.Fatal("expected error on nil publisher")
	}
}

func TestPublisherClose(t *testing.T) {
	fw := &fakeWriter{}
	p := &EventPublisher{writer: fw}
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fw.closed {
		t.Fatal("expected writer closed")
	}
	var nilPub *EventPublisher
	if err := nilPub.Close(); err != nil {
		t.Fatalf("nil close must be a no-op: %v", err)
	}
}

func TestNewBundleConsumerValidatesConfig(t *testing.T) {
	if _, err := NewBundleConsumer(KafkaConfig{Topic: "bundles", GroupID: "g"}); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewBundleConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}); err == nil {
		t.Fatal("expected error without topic")
	}
	if _, err := NewBundleConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "bundles"}); err == nil {
		t.Fatal("expected error without group id")
	}
	c, err := NewBundleConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "bundles", GroupID: "g"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = c.Close()
}

func TestReadBundleValidBundle(t *testing.T) {
	raw := []byte(`{
		"id": "electrical", "name": "Electrical", "version": "1.0.0",
		"regulations": [{"id": "rtiebt"}],
		"rules": [{
			"id": "r-1", "regulation_id": "rtiebt", "severity": "critical",
			"conditions": [{"field": "electrical.contracted_power", "operator": ">", "value": 10.35}],
			"enabled": true
		}]
	}`)
	c := &BundleConsumer{reader: &fakeReader{msg: kafka.Message{Key: []byte("electrical.json"), Value: raw}}}
	p, loadErrs, err := c.ReadBundle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loadErrs) != 0 {
		t.Fatalf("unexpected load errors: %v", loadErrs)
	}
	if p.ID != "electrical" || len(p.Rules) != 1 {
		t.Fatalf("unexpected plugin: %+v", p)
	}
}

func TestReadBundleInvalidBundleIsNotABusError(t *testing.T) {
	c := &BundleConsumer{reader: &fakeReader{msg: kafka.Message{Key: []byte("bad.json"), Value: []byte(`{"id":""}`)}}}
	_, loadErrs, err := c.ReadBundle(context.Background())
	if err != nil {
		t.Fatalf("validation failure must not be a bus error: %v", err)
	}
	if len(loadErrs) == 0 {
		t.Fatal("expected load errors")
	}
}

func TestReadBundleBusError(t *testing.T) {
	c := &BundleConsumer{reader: &fakeReader{err: errors.New("rebalance")}}
	if _, _, err := c.ReadBundle(context.Background()); err == nil {
		t.Fatal("expected bus error")
	}
	var nilConsumer *BundleConsumer
	if _, _, err := nilConsumer.ReadBundle(context.Background()); err == nil {
		t.Fatal("expected error on nil consumer")
	}
}
