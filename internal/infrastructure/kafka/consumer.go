package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"txcanceller/internal/domain"
	"txcanceller/internal/infrastructure/telemetry"
	"txcanceller/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventHandler processes one decoded replacement event. Returning an error leaves the message uncommitted.
type EventHandler func(ctx context.Context, event domain.ReplacementEvent) error

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads replacement events back off the topic, e.g. for audit tooling.
type Consumer struct {
	reader messageReader
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		groupID = "txcanceller-watch"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader}, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run blocks until ctx is done. Undecodable messages are committed and skipped.
func (c *Consumer) Run(ctx context.Context, handle EventHandler) error {
	tracer := otel.Tracer("txcanceller/kafka")
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("kafka fetch failed", "err", err)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("replacement event decode failed", "offset", message.Offset, "err", err)
			_ = c.reader.CommitMessages(ctx, message)
			continue
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		messageCtx, span := tracer.Start(messageCtx, "canceller.consume_replacement", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("tx.hash", decoded.OriginalHash),
			attribute.String("replacement.status", decoded.Status),
			attribute.Int64("kafka.offset", message.Offset),
		)
		if err := handle(messageCtx, decoded.Event()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			slog.Warn("replacement event handler failed", "hash", decoded.OriginalHash, "err", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, message); err != nil {
			span.RecordError(err)
			slog.Warn("kafka commit failed", "offset", message.Offset, "err", err)
		}
		span.End()
	}
}
