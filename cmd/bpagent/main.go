// Command bpagent runs a standalone tracebreak agent configured from the YAML
// file named by TRACEBREAK_CONFIG.
package main

import (
	"os"
	"strings"

	"github.com/aivorynet/tracebreak-go/pkg/agent"
	"go.uber.org/config"
	"go.uber.org/fx"
)

const _configEnv = "TRACEBREAK_CONFIG"

func opts() fx.Option {
	return fx.Options(
		fx.Provide(newProvider),
		agent.Module,
	)
}

func newProvider() (config.Provider, error) {
	path := os.Getenv(_configEnv)
	if path == "" {
		return config.NewYAML(config.Source(strings.NewReader("{}")))
	}
	return config.NewYAML(config.File(path), config.Expand(os.LookupEnv))
}

func main() {
	fx.New(opts()).Run()
}
