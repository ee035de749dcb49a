package agent

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aivorynet/tracebreak-go/pkg/breakpoint"
	"github.com/aivorynet/tracebreak-go/pkg/condition"
	"github.com/aivorynet/tracebreak-go/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func localConfig(opts ...ConfigOption) *Config {
	return NewConfig(append([]ConfigOption{WithAPIKey(""), WithWatchPaths()}, opts...)...)
}

func newLocalAgent(t *testing.T, opts ...ConfigOption) (*Agent, tally.TestScope) {
	t.Helper()
	scope := tally.NewTestScope("testing", nil)
	a, err := New(localConfig(opts...), WithLogger(zap.NewNop().Sugar()), WithStats(scope))
	require.NoError(t, err)
	return a, scope
}

func counterSum(scope tally.TestScope, name string) int64 {
	var total int64
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() == name {
			total += c.Value()
		}
	}
	return total
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(localConfig(WithPathCache(0, false)))
	assert.ErrorContains(t, err, "pathCacheSize")
}

func TestNewRejectsMissingWatchDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	_, err := New(localConfig(WithWatchPaths(missing)), WithLogger(zap.NewNop().Sugar()))
	assert.Error(t, err)
}

func TestLocalBreakpoints(t *testing.T) {
	a, scope := newLocalAgent(t)
	require.NoError(t, a.Start(context.Background()))
	defer func() { assert.NoError(t, a.Stop()) }()

	bp := a.Breakpoints().Set("", "script.rb", 10, "x > 2", 5)

	assert.Nil(t, a.Check("/tmp/script.rb", 10, condition.Binding{"x": 1}))
	assert.Same(t, bp, a.Check("/tmp/script.rb", 10, condition.Binding{"x": 3}))
	assert.Nil(t, a.Check("/tmp/script.rb", 11, condition.Binding{"x": 3}))
	assert.False(t, a.Connected())

	assert.Equal(t, int64(1), counterSum(scope, "testing.hits"))
	assert.Equal(t, 1, a.Breakpoints().List()[0].HitCount)
}

func TestCatchError(t *testing.T) {
	a, scope := newLocalAgent(t)
	a.Breakpoints().Catch("fs.PathError")

	_, err := os.Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, a.CatchError(err, nil))
	assert.False(t, a.CatchError(errors.New("plain"), nil))
	assert.True(t, a.CatchError(&fs.PathError{Op: "read", Path: "x", Err: fs.ErrClosed}, nil))

	assert.Equal(t, 2, a.Breakpoints().Catchpoints()["fs.PathError"])
	assert.Equal(t, int64(2), counterSum(scope, "testing.hits"))
}

func TestCapturePanic(t *testing.T) {
	a, _ := newLocalAgent(t)
	a.Breakpoints().Catch("agent.PanicError")
	a.Breakpoints().Catch("fs.PathError")

	assert.PanicsWithValue(t, "boom", func() {
		defer a.CapturePanic()
		panic("boom")
	})

	pathErr := &fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}
	assert.Panics(t, func() {
		defer a.CapturePanic()
		panic(pathErr)
	})

	assert.Equal(t, 2, a.Breakpoints().Catchpoints()["agent.PanicError"], "outermost link wins")
	assert.Equal(t, 0, a.Breakpoints().Catchpoints()["fs.PathError"])

	a.Breakpoints().Uncatch("agent.PanicError")
	assert.Panics(t, func() {
		defer a.CapturePanic()
		panic(pathErr)
	})
	assert.Equal(t, 1, a.Breakpoints().Catchpoints()["fs.PathError"])
}

func TestBreakpointsDisabled(t *testing.T) {
	a, _ := newLocalAgent(t, WithEnableBreakpoints(false))
	a.Breakpoints().Set("", "script.rb", 10, "", 1)
	a.Breakpoints().Catch(breakpoint.AnyError)

	assert.Nil(t, a.Check("/tmp/script.rb", 10, nil))
	assert.False(t, a.CatchError(errors.New("x"), nil))
}

func TestStartStop(t *testing.T) {
	a, _ := newLocalAgent(t)

	assert.NoError(t, a.Stop(), "stop before start")
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()), "second start")
	assert.NoError(t, a.Stop())
	assert.NoError(t, a.Stop())
}

func TestRun(t *testing.T) {
	a, _ := newLocalAgent(t)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestWatchInvalidatesPathCache(t *testing.T) {
	dir := t.TempDir()
	a, _ := newLocalAgent(t, WithWatchPaths(dir))
	require.NoError(t, a.Start(context.Background()))
	defer func() { assert.NoError(t, a.Stop()) }()

	a.Breakpoints().Set("", "script.rb", 10, "", 50)
	file := filepath.Join(dir, "script.rb")

	a.Check(file, 10, nil)
	a.Check(file, 10, nil)
	require.Equal(t, 1, a.Breakpoints().CacheMisses())

	require.NoError(t, os.WriteFile(file, []byte("puts 1\n"), 0o600))

	assert.Eventually(t, func() bool {
		a.Check(file, 10, nil)
		return a.Breakpoints().CacheMisses() >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

// fakeBackend accepts one agent, acknowledges its registration and records
// everything it sends.
type fakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received []transport.Message
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	var upgrader websocket.Upgrader
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		var msg transport.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		b.mu.Lock()
		b.received = append(b.received, msg)
		b.mu.Unlock()

		if msg.Type == "register" {
			if err := b.send("registered", nil); err != nil {
				return
			}
		}
	}
}

func (b *fakeBackend) send(msgType string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.WriteJSON(transport.Message{Type: msgType, Payload: payload})
}

func (b *fakeBackend) first(msgType string) (transport.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range b.received {
		if msg.Type == msgType {
			return msg, true
		}
	}
	return transport.Message{}, false
}

func (b *fakeBackend) count(msgType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, msg := range b.received {
		if msg.Type == msgType {
			n++
		}
	}
	return n
}

func TestRemoteHeartbeat(t *testing.T) {
	b := newFakeBackend(t)
	cfg := localConfig(WithAPIKey("key"), WithBackendURL(b.url()), WithHeartbeatInterval(20*time.Millisecond))
	a, err := New(cfg, WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() { assert.NoError(t, a.Stop()) }()

	assert.Eventually(t, func() bool {
		return b.count("heartbeat") >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRemoteBreakpoints(t *testing.T) {
	b := newFakeBackend(t)
	cfg := localConfig(WithAPIKey("key"), WithBackendURL(b.url()))
	a, err := New(cfg, WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer func() { assert.NoError(t, a.Stop()) }()

	require.Eventually(t, a.Connected, 5*time.Second, 10*time.Millisecond)

	register, ok := b.first("register")
	require.True(t, ok)
	payload, ok := register.Payload.(map[string]interface{})
	require.True(t, ok)
	runtimeInfo, ok := payload["runtime_info"].(map[string]interface{})
	require.True(t, ok, "register carries runtime_info")
	assert.Equal(t, "go", runtimeInfo["runtime"])
	assert.Equal(t, runtime.Version(), runtimeInfo["runtime_version"])
	assert.Equal(t, runtime.GOOS, runtimeInfo["platform"])
	assert.Equal(t, float64(runtime.NumCPU()), runtimeInfo["num_cpu"])

	require.NoError(t, b.send("breakpoint_command", map[string]interface{}{
		"command":     "set",
		"id":          "bp-42",
		"file_path":   "app/script.rb",
		"line_number": 7,
		"condition":   "user == 'bob'",
	}))
	require.Eventually(t, func() bool {
		return len(a.Breakpoints().List()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Nil(t, a.Check("/srv/app/script.rb", 7, condition.Binding{"user": "ann"}))
	assert.NotNil(t, a.Check("/srv/app/script.rb", 7, condition.Binding{"user": "bob"}))

	assert.Eventually(t, func() bool {
		return b.count("breakpoint_hit") == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGlobalAgent(t *testing.T) {
	a := Init(WithAPIKey(""), WithWatchPaths(), WithDebug(false))
	require.NotNil(t, a)
	assert.Same(t, a, GetAgent())
	assert.Same(t, a, Init(WithAPIKey("ignored")))

	a.Breakpoints().Set("", "global.rb", 3, "", 1)
	assert.NotNil(t, Check("/tmp/global.rb", 3, nil))

	a.Breakpoints().Catch(breakpoint.AnyError)
	assert.True(t, CatchError(errors.New("x"), nil))

	assert.Panics(t, func() {
		defer CapturePanic()
		panic("global")
	})
	assert.Equal(t, 2, a.Breakpoints().Catchpoints()[breakpoint.AnyError])

	Shutdown()
}
