package notifyrouter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/reservation-agent/internal/domain/reservation"
)

// Transport carries Notification events from the (external, per spec §1)
// mailbox poller into the Router. KafkaTransport is grounded on
// zvrva-airbooking's internal/kafka (Producer/Consumer over
// segmentio/kafka-go); LocalTransport is the degrade-to-in-process
// fallback used when KAFKA_BROKERS is unset, so the module runs standalone.
type Transport interface {
	Publish(ctx context.Context, n reservation.Notification) error
	Consume(ctx context.Context, handle func(context.Context, reservation.Notification) error) error
	Close() error
}

type KafkaTransport struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func NewKafkaTransport(brokers []string, topic, groupID string) *KafkaTransport {
	return &KafkaTransport{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
	}
}

func (t *KafkaTransport) Publish(ctx context.Context, n reservation.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(string(n.Platform) + ":" + n.EmailID),
		Value: payload,
		Time:  time.Now(),
	})
}

func (t *KafkaTransport) Consume(ctx context.Context, handle func(context.Context, reservation.Notification) error) error {
	for {
		msg, err := t.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		var n reservation.Notification
		if err := json.Unmarshal(msg.Value, &n); err != nil {
			continue
		}
		if err := handle(ctx, n); err != nil {
			return err
		}
	}
}

func (t *KafkaTransport) Close() error {
	werr := t.writer.Close()
	rerr := t.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// LocalTransport is an in-process, unbuffered-by-default channel transport
// for local development and tests, used when no Kafka brokers are
// configured.
type LocalTransport struct {
	ch chan reservation.Notification
}

func NewLocalTransport(buffer int) *LocalTransport {
	return &LocalTransport{ch: make(chan reservation.Notification, buffer)}
}

func (t *LocalTransport) Publish(ctx context.Context, n reservation.Notification) error {
	select {
	case t.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *LocalTransport) Consume(ctx context.Context, handle func(context.Context, reservation.Notification) error) error {
	for {
		select {
		case n := <-t.ch:
			if err := handle(ctx, n); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *LocalTransport) Close() error {
	close(t.ch)
	return nil
}
