package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"txcanceller/internal/domain"
	"txcanceller/internal/infrastructure/kafka"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow replacement events published to kafka",
	RunE:  runWatch,
}

var watchGroup string

func init() {
	watchCmd.Flags().StringVar(&watchGroup, "group", "", "Kafka consumer group (default txcanceller-watch)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required to watch replacement events")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: watchGroup,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	err = consumer.Run(ctx, logReplacement)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logReplacement(_ context.Context, event domain.ReplacementEvent) error {
	attrs := []any{
		"hash", event.OriginalHash,
		"from", event.From,
		"nonce", event.Nonce,
		"status", event.Status,
	}
	if event.ReplacementHash != "" {
		attrs = append(attrs, "replacement", event.ReplacementHash)
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	slog.Info("replacement event", attrs...)
	return nil
}
