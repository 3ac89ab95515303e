package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowpilot/pkg/client"
	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/eventbus"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/tracker"
	"github.com/dukex/flowpilot/pkg/web"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	var closeBus func() error

	newFollower := func(command *cli.Command, interactive bool) (*follower, *client.Client) {
		logger := log.WithModule("flowpilot")
		api := client.New(command.String("api-url"))

		var subscriber eventbus.EventSubscriber

		if command.String("event-bus") == "kafka" {
			bus := cmd.NewEventBus(logger, "kafka", command.String("kafka-brokers"), "flowpilot-cli-"+uuid.NewString()[:8])
			subscriber, closeBus = bus, bus.Close
		}

		f := &follower{
			tracker: tracker.New(logger, api, api, subscriber, tracker.Options{
				MaxElapsed: command.Duration("timeout"),
			}),
			out: os.Stdout,
		}

		if interactive {
			f.asker = formAsker{}
		}

		return f, api
	}

	finish := func(state tracker.State, err error) error {
		if errors.Is(err, errAwaitingUser) {
			return nil
		}

		if err != nil {
			return err
		}

		if state.Status != models.FlowStatusCompleted {
			return cli.Exit("", 1)
		}

		return nil
	}

	command := &cli.Command{
		Name:                  "flowpilot",
		Usage:                 "Plan flows and follow them from the terminal",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Base URL of the flowpilot API",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("FLOWPILOT_API_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Subscribe to flow events (kafka) instead of polling only",
				Value:   "",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka brokers",
				Value:   "",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Give up following a flow after this long",
				Value:   tracker.DefaultMaxElapsed,
				Sources: cli.EnvVars("FLOWPILOT_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), "text")

			return ctx, nil
		},
		After: func(context.Context, *cli.Command) error {
			if closeBus != nil {
				return closeBus()
			}

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "plan",
				Usage:     "Create a flow from a request and follow it, answering prompts",
				ArgsUsage: "<request>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "User ID", Required: true, Sources: cli.EnvVars("FLOWPILOT_USER")},
					&cli.StringFlag{Name: "tenant", Usage: "Tenant ID", Required: true, Sources: cli.EnvVars("FLOWPILOT_TENANT")},
					&cli.BoolFlag{Name: "no-input", Usage: "Stop at the first prompt instead of asking"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() != 1 {
						return cli.Exit("plan takes exactly one request argument", 2)
					}

					f, api := newFollower(command, !command.Bool("no-input"))

					flow, err := api.CreateFlow(ctx, web.CreateFlowRequest{
						Request:  command.Args().First(),
						UserID:   command.String("user"),
						TenantID: command.String("tenant"),
					})
					if err != nil {
						return err
					}

					_, _ = fmt.Fprintln(os.Stdout, headerStyle.Render(flow.Title))

					return finish(f.Follow(ctx, flow.ID))
				},
			},
			{
				Name:      "watch",
				Usage:     "Follow an existing flow until it finishes",
				ArgsUsage: "<flow-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-input", Usage: "Stop at the first prompt instead of asking"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() != 1 {
						return cli.Exit("watch takes exactly one flow ID", 2)
					}

					f, _ := newFollower(command, !command.Bool("no-input"))

					return finish(f.Follow(ctx, command.Args().First()))
				},
			},
			{
				Name:      "respond",
				Usage:     "Answer a pending prompt without following the flow",
				ArgsUsage: "<flow-id> <step-id> <response>",
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() != 3 {
						return cli.Exit("respond takes a flow ID, a step ID and a response", 2)
					}

					f, _ := newFollower(command, false)

					state, err := f.tracker.Respond(ctx, command.Args().Get(0), command.Args().Get(1), command.Args().Get(2))
					if err != nil {
						return err
					}

					renderState(os.Stdout, state)

					return nil
				},
			},
			{
				Name:      "list",
				Usage:     "List a user's flows, newest first",
				ArgsUsage: "<user-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Only flows in this status"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of flows", Value: 20},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() != 1 {
						return cli.Exit("list takes exactly one user ID", 2)
					}

					api := client.New(command.String("api-url"))

					flows, err := api.ListFlows(ctx, command.Args().First(), command.String("status"), int(command.Int("limit")))
					if err != nil {
						return err
					}

					renderFlows(os.Stdout, flows)

					return nil
				},
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a flow",
				ArgsUsage: "<flow-id>",
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() != 1 {
						return cli.Exit("cancel takes exactly one flow ID", 2)
					}

					api := client.New(command.String("api-url"))

					flow, err := api.Cancel(ctx, command.Args().First())
					if err != nil {
						return err
					}

					renderState(os.Stdout, tracker.Materialize(flow))

					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())

		stop()
		os.Exit(1)
	}
}
