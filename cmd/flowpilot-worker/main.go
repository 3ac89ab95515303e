package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/dukex/flowpilot/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "flowpilot-worker"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Start workers that advance flows one step per tick",
		Flags: append(cmd.EngineFlags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.IntFlag{
				Name:    "pool-size",
				Usage:   "Number of ticks processed concurrently",
				Value:   4,
				Sources: cli.EnvVars("POOL_SIZE"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule for re-enqueueing stale flows",
				Value:   worker.DefaultSweepSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Age after which a pending or running flow is considered stalled",
				Value:   worker.DefaultStaleAfter,
				Sources: cli.EnvVars("STALE_AFTER"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(serviceName).With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Flowpilot Worker")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := cmd.NewEngine(ctx, logger, cmd.EngineConfigFrom(command, serviceName))
			defer engine.Close(context.Background(), logger)

			sweeper := worker.NewSweeper(logger, engine.Persistence.FlowRepository(), engine.Queue, worker.SweeperOptions{
				Schedule:   command.String("sweep-schedule"),
				StaleAfter: command.Duration("stale-after"),
			})

			err := sweeper.Start(ctx)
			if err != nil {
				return err
			}
			defer sweeper.Stop()

			pool := worker.NewPool(workerID, engine.Queue, engine.Driver, int(command.Int("pool-size")), logger)

			err = pool.Run(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Worker pool stopped", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
