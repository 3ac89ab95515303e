package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/dukex/flowpilot/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091
	serviceName = "flowpilot-api"
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Plan flows from requests and expose them over HTTP",
		EnableShellCompletion: true,
		Flags: append(cmd.EngineFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "embedded-workers",
				Usage:   "Run this many tick workers and the recovery sweeper inside the API process",
				Value:   0,
				Sources: cli.EnvVars("EMBEDDED_WORKERS"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Flowpilot API")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := cmd.NewEngine(ctx, logger, cmd.EngineConfigFrom(command, serviceName))
			defer engine.Close(context.Background(), logger)

			if workers := int(command.Int("embedded-workers")); workers > 0 {
				pool := worker.NewPool("api-"+uuid.NewString()[:8], engine.Queue, engine.Driver, workers, logger)

				go func() {
					if err := pool.Run(ctx); err != nil {
						logger.ErrorContext(ctx, "Embedded worker pool stopped", "error", err)
					}
				}()

				sweeper := worker.NewSweeper(logger, engine.Persistence.FlowRepository(), engine.Queue, worker.SweeperOptions{})
				if err := sweeper.Start(ctx); err != nil {
					return err
				}
				defer sweeper.Stop()
			}

			api := NewAPI(
				logger,
				engine.Persistence,
				engine.Registry,
				engine.Planner,
				engine.Driver,
			)

			app := api.App()

			go func() {
				<-ctx.Done()

				if err := app.Shutdown(); err != nil {
					logger.Error("Failed to shut down API server", "error", err)
				}
			}()

			err := app.Listen(":" + strconv.Itoa(int(command.Int("port"))))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
