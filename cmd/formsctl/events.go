package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-forms/internal/model"
	"github.com/jwalitptl/clinic-forms/pkg/messaging"
	"github.com/jwalitptl/clinic-forms/pkg/messaging/redis"
)

func newEventsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream form lifecycle events published by the outbox worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
			broker, err := redis.NewRedisBroker(redis.Config{URL: a.cfg.RedisURL}, &log)
			if err != nil {
				return err
			}
			defer broker.Close()
			return streamEvents(cmd, a, broker)
		},
	}
}

func streamEvents(cmd *cobra.Command, a *app, broker messaging.Broker) error {
	messages, err := broker.Subscribe(cmd.Context(), a.cfg.EventsChannel)
	if err != nil {
		return err
	}
	for raw := range messages {
		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed event: %v\n", err)
			continue
		}
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n",
			env.OccurredAt.Format(time.RFC3339), env.Type, env.AggregateID, env.Payload)
	}
	return nil
}
