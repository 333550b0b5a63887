package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

// Handler processes one delivered event. A returned error naks the message for redelivery.
type Handler func(ctx context.Context, event *Event) error

// Publisher is what the domain services depend on
type Publisher interface {
	Publish(ctx context.Context, subject string, event *Event) error
}

// Config holds the bus connection settings
type Config struct {
	URL        string
	StreamName string
	ClientName string
}

// Bus publishes and consumes events over NATS JetStream
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
}

// New connects to NATS and ensures the ledger stream exists
func New(cfg Config) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("eventbus: disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("eventbus: reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	bus := &Bus{nc: nc, js: js, stream: cfg.StreamName}
	if err := bus.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(b.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream %s: %w", b.stream, err)
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:       b.stream,
		Subjects:   []string{"ledger.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", b.stream, err)
	}
	logger.Info("eventbus: created stream", zap.String("stream", b.stream))
	return nil
}

// Publish sends event on subject. The event id doubles as the JetStream dedup id.
func (b *Bus) Publish(ctx context.Context, subject string, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = logger.CorrelationIDFromContext(ctx)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := b.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe attaches a durable consumer to subject until ctx ends
func (b *Bus) Subscribe(ctx context.Context, subject, durable string, handler Handler) error {
	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("eventbus: dropping malformed message",
				zap.String("subject", msg.Subject), zap.Error(err))
			_ = msg.Term()
			return
		}

		msgCtx := logger.ContextWithCorrelationID(ctx, event.CorrelationID)
		if err := handler(msgCtx, &event); err != nil {
			logger.WithContext(msgCtx).Warn("eventbus: handler failed, requesting redelivery",
				zap.String("subject", msg.Subject),
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			_ = msg.NakWithDelay(5 * time.Second)
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(5),
		nats.BindStream(b.stream),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			logger.Warn("eventbus: drain subscription", zap.String("subject", subject), zap.Error(err))
		}
	}()
	return nil
}

// Close drains the connection
func (b *Bus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}
