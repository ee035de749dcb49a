package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aivorynet/tracebreak-go/pkg/breakpoint"
	"github.com/aivorynet/tracebreak-go/pkg/capture"
	"github.com/aivorynet/tracebreak-go/pkg/condition"
	"github.com/aivorynet/tracebreak-go/pkg/pathcache"
	"github.com/aivorynet/tracebreak-go/pkg/transport"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Agent is the tracebreak agent. It owns the breakpoint manager and, when an
// API key is configured, the backend connection.
type Agent struct {
	config     *Config
	logger     *zap.SugaredLogger
	stats      tally.Scope
	manager    *breakpoint.Manager
	connection *transport.Connection
	watcher    *pathcache.Watcher

	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
	done    <-chan struct{}
	group   *errgroup.Group
}

// Option customizes an Agent.
type Option func(*Agent)

// WithLogger overrides the logger built from the logging config.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithStats reports agent metrics to the given scope.
func WithStats(stats tally.Scope) Option {
	return func(a *Agent) {
		a.stats = stats
	}
}

var (
	globalAgent *Agent
	globalOnce  sync.Once
)

// New builds an agent from cfg. Nothing runs until Start.
func New(cfg *Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		config: cfg,
		stats:  tally.NoopScope,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		logger, err := NewLogger(cfg)
		if err != nil {
			return nil, err
		}
		a.logger = logger
	}

	paths := pathcache.New(
		pathcache.WithCapacity(cfg.PathCacheSize),
		pathcache.WithDisabled(cfg.DisablePathCache),
		pathcache.WithLogger(a.logger),
		pathcache.WithStats(a.stats),
	)
	engine := breakpoint.NewEngine(
		breakpoint.WithCanonicalizer(paths),
		breakpoint.WithEvaluator(condition.New(condition.WithLogger(a.logger))),
		breakpoint.WithLogger(a.logger),
		breakpoint.WithStats(a.stats),
	)
	a.manager = breakpoint.NewManager(engine, a,
		breakpoint.WithMaxCaptureDepth(cfg.MaxCaptureDepth),
		breakpoint.WithMaxCapturesPerSecond(cfg.MaxCapturesPerSecond),
	)

	if cfg.Remote() {
		a.connection = transport.NewConnection(cfg.BackendURL, cfg.APIKey,
			transport.WithLogger(a.logger.Named("transport")),
			transport.WithHandler(a.manager),
			transport.WithAgentInfo(transport.AgentInfo{
				AgentID:     cfg.AgentID,
				Hostname:    cfg.Hostname,
				Environment: cfg.Environment,
				Runtime:     cfg.GetRuntimeInfo(),
			}),
			transport.WithHeartbeatInterval(cfg.HeartbeatInterval),
		)
	}

	if len(cfg.WatchPaths) > 0 {
		watcher, err := pathcache.NewWatcher(cfg.WatchPaths, a.manager.ResetPathCache, a.logger)
		if err != nil {
			return nil, err
		}
		a.watcher = watcher
	}

	return a, nil
}

// Init initializes the global agent with the given options. It returns nil
// when the configuration is invalid.
func Init(options ...ConfigOption) *Agent {
	globalOnce.Do(func() {
		config := NewConfig(options...)

		a, err := New(config)
		if err != nil {
			zap.S().Errorw("tracebreak agent not started", "error", err)
			return
		}

		if err := a.Start(context.Background()); err != nil {
			a.logger.Errorw("tracebreak agent not started", "error", err)
			return
		}
		go a.handleSignals()

		globalAgent = a
		a.logger.Infow("agent initialized", "version", transport.AgentVersion, "environment", config.Environment, "remote", config.Remote())
	})

	return globalAgent
}

// GetAgent returns the global agent instance.
func GetAgent() *Agent {
	return globalAgent
}

// Start starts the backend connection and the path watcher in the background.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	if a.connection != nil {
		group.Go(func() error {
			if err := a.connection.Connect(ctx); err != nil {
				a.logger.Warnw("backend connection ended, continuing in local mode", "error", err)
			}
			return nil
		})
	}
	if a.watcher != nil {
		group.Go(func() error {
			return a.watcher.Run(ctx)
		})
	}

	a.cancel = cancel
	a.done = ctx.Done()
	a.group = group
	a.started = true

	a.logger.Debug("agent started")
	return nil
}

// Run starts the agent and blocks until ctx is done, then stops it.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop()
}

// Stop stops the agent and waits for its goroutines.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.cancel()

	var err error
	if a.connection != nil {
		a.connection.Disconnect()
	}
	if a.watcher != nil {
		err = multierr.Append(err, a.watcher.Close())
	}
	if werr := a.group.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		err = multierr.Append(err, werr)
	}

	a.started = false
	a.logger.Debug("agent stopped")
	return err
}

// Check reports whether a breakpoint is set at file:line and, if so, sends a
// capture of evalCtx. It is called by the tracer for every line.
func (a *Agent) Check(file string, line int, evalCtx interface{}) *breakpoint.Breakpoint {
	if !a.config.EnableBreakpoints {
		return nil
	}
	return a.manager.Check(file, line, evalCtx)
}

// CatchError reports whether err matches a catchpoint and, if so, sends a
// capture.
func (a *Agent) CatchError(err error, evalCtx interface{}) bool {
	if !a.config.EnableBreakpoints {
		return false
	}
	return a.manager.CatchError(err, evalCtx)
}

// PanicError wraps a recovered panic value so panics can be caught like
// errors. Catch "agent.PanicError" to capture every panic.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error, so catchpoints on the
// error's own type match too.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// handlePanic handles a recovered panic value (internal use).
func (a *Agent) handlePanic(r interface{}) {
	a.CatchError(&PanicError{Value: r}, map[string]interface{}{"panic": fmt.Sprint(r)})
}

// CapturePanic checks a panic against the catchpoints and re-panics.
// IMPORTANT: Must be called directly as a deferred function because
// recover() only works when called directly by a deferred function.
// Use: defer a.CapturePanic()
func (a *Agent) CapturePanic() {
	if r := recover(); r != nil {
		a.handlePanic(r)
		panic(r)
	}
}

// Breakpoints returns the breakpoint manager.
func (a *Agent) Breakpoints() *breakpoint.Manager {
	return a.manager
}

// SendHit delivers a hit to the backend, or logs it in local mode.
func (a *Agent) SendHit(hit *capture.Hit) {
	a.stats.Tagged(map[string]string{"kind": hit.Kind}).Counter("hits").Inc(1)
	if a.connection == nil {
		a.logger.Infow("hit captured",
			"kind", hit.Kind,
			"file", hit.FilePath,
			"line", hit.LineNumber,
			"exception", hit.Exception,
			"hit_count", hit.HitCount,
		)
		return
	}
	a.connection.SendHit(hit)
}

// Connected reports whether the backend connection is up.
func (a *Agent) Connected() bool {
	return a.connection != nil && a.connection.IsConnected()
}

// Config returns the agent configuration.
func (a *Agent) Config() *Config {
	return a.config
}

func (a *Agent) handleSignals() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.mu.RLock()
	done := a.done
	a.mu.RUnlock()

	select {
	case <-ctx.Done():
		if err := a.Stop(); err != nil {
			a.logger.Warnw("stopping agent", "error", err)
		}
	case <-done:
	}
}

// Package-level convenience functions

// Check checks file:line using the global agent.
func Check(file string, line int, evalCtx interface{}) *breakpoint.Breakpoint {
	if globalAgent != nil {
		return globalAgent.Check(file, line, evalCtx)
	}
	return nil
}

// CatchError checks err against the catchpoints of the global agent.
func CatchError(err error, evalCtx interface{}) bool {
	if globalAgent != nil {
		return globalAgent.CatchError(err, evalCtx)
	}
	return false
}

// CapturePanic checks a panic against the catchpoints of the global agent and
// re-panics.
// Use: defer agent.CapturePanic()
func CapturePanic() {
	if r := recover(); r != nil {
		if globalAgent != nil {
			globalAgent.handlePanic(r)
		}
		panic(r)
	}
}

// Shutdown stops the global agent.
func Shutdown() {
	if globalAgent != nil {
		if err := globalAgent.Stop(); err != nil {
			globalAgent.logger.Warnw("stopping agent", "error", err)
		}
	}
}
