package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"txcanceller/internal/domain"
	"txcanceller/internal/infrastructure/telemetry"
	"txcanceller/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTopic = "txcanceller-replacements"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes settled replacements keyed by sender address so one account's events stay ordered.
type Producer struct {
	writer  messageWriter
	topic   string
	chainID uint64
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
	ChainID uint64
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newProducer(writer, cfg), nil
}

func newProducer(writer messageWriter, cfg ProducerConfig) *Producer {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	return &Producer{writer: writer, topic: topic, chainID: cfg.ChainID}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishReplacement(ctx context.Context, event domain.ReplacementEvent) error {
	traceCtx, traceID := telemetry.NewRootContext(ctx)
	traceCtx, span := otel.Tracer("txcanceller/kafka").Start(traceCtx, "canceller.publish_replacement", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.hash", event.OriginalHash),
		attribute.String("tx.replacement_hash", event.ReplacementHash),
		attribute.Int64("tx.nonce", int64(event.Nonce)),
		attribute.String("replacement.status", string(event.Status)),
	)

	msg := streaming.FromEvent(p.chainID, event)
	msg.TraceID = traceID
	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(traceCtx, &headers)

	key := strings.ToLower(event.From)
	if key == "" {
		key = event.OriginalHash
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
