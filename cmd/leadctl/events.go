package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/leadflow/leadflow-backend/pkg/config"
	"github.com/leadflow/leadflow-backend/pkg/logger"
	"github.com/leadflow/leadflow-backend/pkg/messaging"
	"github.com/spf13/pflag"
)

func runEvents(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := pflag.NewFlagSet("events", pflag.ContinueOnError)
	patterns := flags.StringArray("pattern", []string{"lead.#"}, "routing key pattern to follow (repeatable)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	rmq, err := messaging.New(ctx, &cfg.RabbitMQ, log)
	if err != nil {
		return err
	}
	defer rmq.Close()

	tail, err := messaging.NewTail(rmq, messaging.ExchangeLeadEvents, *patterns, log)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	return tail.Run(ctx, func(ctx context.Context, event *messaging.Event) error {
		fmt.Fprintf(os.Stdout, "%s  %s\n", event.Timestamp.Format("15:04:05"), event.Type)
		return enc.Encode(event.Data)
	})
}
