package cmd

import (
	"time"

	"github.com/dukex/flowpilot/pkg/llm"
	cli "github.com/urfave/cli/v3"
)

const defaultCatalogueCacheTTL = time.Minute

// EngineFlags are the flags every flowpilot process accepts.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Persistence URL (file://<dir> or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Usage:   "Tick queue URL (memory:// or redis://host:port/db)",
			Value:   "memory://",
			Sources: cli.EnvVars("QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma-separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:     "catalogue",
			Usage:    "Path to the capability catalogue YAML file",
			Required: true,
			Sources:  cli.EnvVars("CAPABILITY_CATALOGUE"),
		},
		&cli.DurationFlag{
			Name:    "catalogue-cache-ttl",
			Usage:   "How long capability lookups are cached",
			Value:   defaultCatalogueCacheTTL,
			Sources: cli.EnvVars("CAPABILITY_CACHE_TTL"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing direct handler plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "llm-provider",
			Usage:   "Language model provider (openai, anthropic, openaicompat)",
			Value:   llm.ProviderOpenAI,
			Sources: cli.EnvVars("LLM_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "llm-model",
			Usage:   "Language model used for planning and decisions",
			Sources: cli.EnvVars("LLM_MODEL"),
		},
		&cli.StringFlag{
			Name:    "llm-api-key",
			Usage:   "Language model API key",
			Sources: cli.EnvVars("LLM_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "llm-base-url",
			Usage:   "Language model base URL override",
			Sources: cli.EnvVars("LLM_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// EngineConfigFrom reads EngineFlags from a parsed command.
func EngineConfigFrom(command *cli.Command, serviceName string) EngineConfig {
	return EngineConfig{
		ServiceName:       serviceName,
		DatabaseURL:       command.String("database-url"),
		QueueURL:          command.String("queue-url"),
		EventBus:          command.String("event-bus"),
		KafkaBrokers:      command.String("kafka-brokers"),
		CataloguePath:     command.String("catalogue"),
		CatalogueCacheTTL: command.Duration("catalogue-cache-ttl"),
		PluginsPath:       command.String("plugins-path"),
		LLM: llm.Config{
			Provider: command.String("llm-provider"),
			Model:    command.String("llm-model"),
			APIKey:   command.String("llm-api-key"),
			BaseURL:  command.String("llm-base-url"),
		},
	}
}
