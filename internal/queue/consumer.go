package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/attendance/internal/models"
)

// EventHandler processes one decoded attendance event. A returned error
// causes redelivery.
type EventHandler func(ctx context.Context, ev models.AttendanceEvent) error

var errMalformed = errors.New("malformed event")

type Consumer struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

func NewConsumer(natsURL, subjectPrefix string) (*Consumer, error) {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js, prefix: subjectPrefix}, nil
}

// ConsumeEvents starts a durable consumer over every attendance subject.
// It returns once the consumer is registered; fetching runs until ctx is done.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	if err := ensureStream(ctx, c.js, c.prefix); err != nil {
		return err
	}

	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    5,
		FilterSubject: c.prefix + ".>",
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				c.process(ctx, msg, handler)
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) process(ctx context.Context, msg jetstream.Msg, handler EventHandler) {
	ev, err := decodeEvent(msg.Data())
	if err != nil {
		slog.Error("dropping event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("process event error", "error", err, "id", ev.ID)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func decodeEvent(data []byte) (models.AttendanceEvent, error) {
	var ev models.AttendanceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("%w: missing type", errMalformed)
	}
	return ev, nil
}

func (c *Consumer) Ping() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
