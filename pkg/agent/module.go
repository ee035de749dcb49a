package agent

import (
	"context"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const _reportInterval = time.Second

// Module provides the agent and its logger and metrics scope, built from a
// config.Provider, and ties the agent to the fx lifecycle.
var Module = fx.Options(
	fx.Provide(newConfig),
	fx.Provide(NewLogger),
	fx.Provide(newScope),
	fx.Provide(newAgent),
	fx.Invoke(func(*Agent) {}),
)

// Params are the dependencies of the fx-built agent.
type Params struct {
	fx.In

	Config    *Config
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Lifecycle fx.Lifecycle
}

func newConfig(provider config.Provider) (*Config, error) {
	return ConfigFromProvider(provider)
}

func newScope(lc fx.Lifecycle) tally.Scope {
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   "tracebreak",
		Reporter: tally.NullStatsReporter,
	}, _reportInterval)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return closer.Close()
		},
	})
	return scope
}

func newAgent(p Params) (*Agent, error) {
	a, err := New(p.Config, WithLogger(p.Logger), WithStats(p.Stats))
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The start context only covers startup, so the agent gets its own.
			return a.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			return a.Stop()
		},
	})
	return a, nil
}
