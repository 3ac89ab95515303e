package direct

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// PluginSymbol is the exported symbol a handler plugin must provide.
// The symbol must implement Handler; it registers under the plugin file's base name.
const PluginSymbol = "Handler"

// LoadPlugins opens every *.so under path and registers its Handler symbol.
func (h *Handlers) LoadPlugins(path string) error {
	if path == "" {
		return nil
	}

	root := os.DirFS(path)

	pluginPathList, err := fs.Glob(root, "*.so")
	if err != nil {
		return err
	}

	l := h.logger.With(slog.String("path", path))
	l.Info("Loading handler plugins", "count", len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(path, p))
		if err != nil {
			return fmt.Errorf("open plugin %s: %w", p, err)
		}

		symbol, err := plg.Lookup(PluginSymbol)
		if err != nil {
			return fmt.Errorf("lookup %s in %s: %w", PluginSymbol, p, err)
		}

		handler, ok := symbol.(Handler)
		if !ok {
			return fmt.Errorf("plugin %s: symbol %s does not implement direct.Handler", p, PluginSymbol)
		}

		name := strings.TrimSuffix(filepath.Base(p), ".so")

		err = h.Register(name, handler)
		if err != nil {
			return err
		}

		l.Info("Loaded handler plugin", slog.String("plugin", p), slog.String("handler", name))
	}

	return nil
}
