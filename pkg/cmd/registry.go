package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowpilot/pkg/registry"
	"github.com/dukex/flowpilot/pkg/router/direct"
)

// NewRegistry loads the YAML capability catalogue behind a read cache.
func NewRegistry(logger *slog.Logger, cataloguePath string, cacheTTL time.Duration) registry.Registry {
	catalogue := registry.NewCatalogue(logger)

	if cataloguePath != "" {
		err := catalogue.LoadFile(cataloguePath)
		if err != nil {
			panic(err)
		}
	}

	return registry.NewCachedRegistry(catalogue, cacheTTL)
}

// NewHandlers registers the native direct handlers, then every handler plugin under pluginsPath.
func NewHandlers(logger *slog.Logger, pluginsPath string) *direct.Handlers {
	handlers := direct.NewHandlers(logger)

	err := handlers.Register("echo", direct.Echo)
	if err != nil {
		panic(err)
	}

	err = handlers.LoadPlugins(pluginsPath)
	if err != nil {
		panic(fmt.Errorf("failed to load handler plugins: %w", err))
	}

	return handlers
}
