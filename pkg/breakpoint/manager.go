package breakpoint

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/aivorynet/tracebreak-go/pkg/capture"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

const (
	defaultMaxCapturesPerSecond = 50
	defaultMaxCaptureDepth      = 10
	maxHitsLimit                = 50
)

// LocalIDPrefix starts the remote ids generated for breakpoints set without one.
const LocalIDPrefix = "local-"

// Sender delivers captured hits to the backend.
type Sender interface {
	SendHit(hit *capture.Hit)
}

// Status describes a managed breakpoint.
type Status struct {
	ID        int    `json:"id"`
	RemoteID  string `json:"remote_id"`
	Source    string `json:"source"`
	Line      int    `json:"line"`
	Enabled   bool   `json:"enabled"`
	Condition string `json:"condition,omitempty"`
	HitCount  int    `json:"hit_count"`
	MaxHits   int    `json:"max_hits"`
}

type tracked struct {
	bp       *Breakpoint
	remoteID string
	maxHits  int
	hits     int
}

// Manager owns a breakpoint set and its Engine and serializes access to both,
// so commands from the backend can arrive while the tracer is calling Check.
// Hits are captured and sent without stopping the program.
type Manager struct {
	engine   *Engine
	sender   Sender
	logger   *zap.SugaredLogger
	stats    tally.Scope
	maxDepth int

	mu          sync.Mutex
	breakpoints Breakpoints
	byRemote    map[string]*tracked
	byID        map[int]*tracked
	catchpoints map[string]int

	maxCapturesPerSecond int
	captureCount         int
	captureWindowStart   time.Time
	now                  func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithMaxCapturesPerSecond limits how many hits are sent per second.
func WithMaxCapturesPerSecond(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxCapturesPerSecond = n
		}
	}
}

// WithMaxCaptureDepth limits how deep evaluation contexts are captured.
func WithMaxCaptureDepth(depth int) ManagerOption {
	return func(m *Manager) {
		if depth >= 0 {
			m.maxDepth = depth
		}
	}
}

// WithClock overrides time.Now, for rate limiting.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager around engine. sender may be nil, in which case
// hits are only logged.
func NewManager(engine *Engine, sender Sender, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:               engine,
		sender:               sender,
		logger:               engine.logger.Named("breakpoints"),
		stats:                engine.stats,
		maxDepth:             defaultMaxCaptureDepth,
		byRemote:             make(map[string]*tracked),
		byID:                 make(map[int]*tracked),
		catchpoints:          make(map[string]int),
		maxCapturesPerSecond: defaultMaxCapturesPerSecond,
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.captureWindowStart = m.now()
	return m
}

// Set registers and activates a breakpoint. An existing breakpoint with the same
// remote id is replaced. An empty remoteID defaults to LocalIDPrefix followed by
// the local id. An empty condition makes the breakpoint unconditional.
func (m *Manager) Set(remoteID, file string, line int, condition string, maxHits int) *Breakpoint {
	if maxHits < 1 {
		maxHits = 1
	}
	if maxHits > maxHitsLimit {
		maxHits = maxHitsLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if remoteID != "" {
		m.removeLocked(remoteID)
	}

	var bp *Breakpoint
	if condition != "" {
		bp = NewConditional(file, line, condition)
	} else {
		bp = New(file, line)
	}
	if remoteID == "" {
		remoteID = LocalIDPrefix + strconv.Itoa(bp.ID())
		m.removeLocked(remoteID)
	}

	t := &tracked{bp: bp, remoteID: remoteID, maxHits: maxHits}
	m.breakpoints = append(m.breakpoints, bp)
	m.byRemote[remoteID] = t
	m.byID[bp.ID()] = t
	m.engine.Activate(m.breakpoints, bp.ID())
	m.updateGauge()

	m.logger.Infow("breakpoint set", "id", bp.ID(), "remote_id", remoteID, "file", file, "line", line)
	return bp
}

// Remove deletes the breakpoint with the given remote id.
func (m *Manager) Remove(remoteID string) *Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(remoteID)
}

func (m *Manager) removeLocked(remoteID string) *Breakpoint {
	t, ok := m.byRemote[remoteID]
	if !ok {
		return nil
	}
	delete(m.byRemote, remoteID)
	delete(m.byID, t.bp.ID())

	removed := m.engine.Remove(&m.breakpoints, t.bp.ID())
	m.updateGauge()
	m.logger.Infow("breakpoint removed", "id", t.bp.ID(), "remote_id", remoteID)
	return removed
}

// Enable enables or disables the breakpoint with the given remote id. It
// reports whether the breakpoint exists.
func (m *Manager) Enable(remoteID string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byRemote[remoteID]
	if !ok {
		return false
	}
	t.bp.SetEnabled(enabled)
	return true
}

// SetCondition replaces the condition of the breakpoint with the given remote
// id. An empty expr removes it.
func (m *Manager) SetCondition(remoteID, expr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byRemote[remoteID]
	if !ok {
		return false
	}
	if expr == "" {
		t.bp.ClearExpr()
	} else {
		t.bp.SetExpr(expr)
	}
	return true
}

// Catch registers a catchpoint for errors of the named type.
func (m *Manager) Catch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.catchpoints[name]; !ok {
		m.catchpoints[name] = 0
	}
}

// Uncatch removes a catchpoint.
func (m *Manager) Uncatch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.catchpoints, name)
}

// Catchpoints returns a copy of the catchpoint hit counts.
func (m *Manager) Catchpoints() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.catchpoints))
	for k, v := range m.catchpoints {
		out[k] = v
	}
	return out
}

// Check is called by the tracer for every traced line. It returns the matching
// breakpoint, if any, and sends a capture unless the breakpoint has used up its
// hits or the rate limit is reached.
func (m *Manager) Check(file string, line int, evalCtx interface{}) *Breakpoint {
	m.mu.Lock()
	bp := m.engine.Find(m.breakpoints, file, line, evalCtx)
	if bp == nil {
		m.mu.Unlock()
		return nil
	}

	t := m.byID[bp.ID()]
	if t == nil || t.hits >= t.maxHits || !m.rateLimitOk() {
		m.mu.Unlock()
		return bp
	}
	t.hits++

	hit := capture.NewHit(capture.KindBreakpoint)
	hit.BreakpointID = bp.ID()
	hit.RemoteID = t.remoteID
	hit.FilePath = file
	hit.LineNumber = line
	hit.HitCount = t.hits
	hit.Condition, _ = bp.Expr()
	hit.Locals = capture.Snapshot(evalCtx, m.maxDepth)
	m.mu.Unlock()

	m.logger.Debugw("breakpoint hit", "id", bp.ID(), "remote_id", t.remoteID, "file", file, "line", line)
	m.send(hit)
	return bp
}

// CatchError checks err against the catchpoints and sends a capture when one
// matches. It reports whether a catchpoint matched.
func (m *Manager) CatchError(err error, evalCtx interface{}) bool {
	m.mu.Lock()
	name, count, ok := CatchpointHitCount(m.catchpoints, err)
	if !ok {
		m.mu.Unlock()
		return false
	}
	count++
	m.catchpoints[name] = count

	if !m.rateLimitOk() {
		m.mu.Unlock()
		return true
	}

	hit := capture.NewHit(capture.KindCatchpoint)
	hit.Exception = name
	hit.Message = err.Error()
	hit.HitCount = count
	hit.Locals = capture.Snapshot(evalCtx, m.maxDepth)
	m.mu.Unlock()

	m.logger.Debugw("catchpoint hit", "exception", name, "count", count)
	m.send(hit)
	return true
}

// List returns the managed breakpoints in registry order.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.breakpoints))
	for _, bp := range m.breakpoints {
		t := m.byID[bp.ID()]
		expr, _ := bp.Expr()
		out = append(out, Status{
			ID:        bp.ID(),
			RemoteID:  t.remoteID,
			Source:    bp.Source(),
			Line:      bp.Line(),
			Enabled:   bp.Enabled(),
			Condition: expr,
			HitCount:  t.hits,
			MaxHits:   t.maxHits,
		})
	}
	return out
}

// ResetPathCache drops every cached canonical path.
func (m *Manager) ResetPathCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine.Paths().Reset()
}

// DisableCache turns path caching off or on and returns the new state.
func (m *Manager) DisableCache(disable bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Paths().DisableCache(disable)
}

// CacheMisses returns the path cache miss count.
func (m *Manager) CacheMisses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine.Paths().Misses()
}

// HandleCommand handles a breakpoint command from the backend.
func (m *Manager) HandleCommand(command string, payload interface{}) {
	payloadMap, ok := payload.(map[string]interface{})
	if !ok {
		if data, ok := payload.(json.RawMessage); ok {
			var pm map[string]interface{}
			if err := json.Unmarshal(data, &pm); err == nil {
				payloadMap = pm
			}
		}
		if payloadMap == nil {
			m.logger.Warnw("ignoring breakpoint command with malformed payload", "command", command)
			return
		}
	}

	id, _ := payloadMap["id"].(string)

	switch command {
	case "set":
		filePath, _ := payloadMap["file_path"].(string)
		if filePath == "" {
			filePath, _ = payloadMap["file"].(string)
		}
		lineNumber := 0
		if ln, ok := payloadMap["line_number"].(float64); ok {
			lineNumber = int(ln)
		} else if ln, ok := payloadMap["line"].(float64); ok {
			lineNumber = int(ln)
		}
		condition, _ := payloadMap["condition"].(string)
		maxHits := 1
		if mh, ok := payloadMap["max_hits"].(float64); ok {
			maxHits = int(mh)
		}
		if filePath == "" || lineNumber < 1 {
			m.logger.Warnw("ignoring breakpoint without location", "id", id)
			return
		}
		m.Set(id, filePath, lineNumber, condition, maxHits)

	case "remove":
		m.Remove(id)

	case "enable":
		m.Enable(id, true)

	case "disable":
		m.Enable(id, false)

	case "condition":
		condition, _ := payloadMap["condition"].(string)
		m.SetCondition(id, condition)

	case "catch":
		if name, _ := payloadMap["exception"].(string); name != "" {
			m.Catch(name)
		}

	case "uncatch":
		if name, _ := payloadMap["exception"].(string); name != "" {
			m.Uncatch(name)
		}

	default:
		m.logger.Debugw("unhandled breakpoint command", "command", command)
	}
}

func (m *Manager) send(hit *capture.Hit) {
	if m.sender == nil {
		m.logger.Infow("hit captured", "kind", hit.Kind, "id", hit.ID, "file", hit.FilePath, "line", hit.LineNumber)
		return
	}
	m.sender.SendHit(hit)
}

func (m *Manager) rateLimitOk() bool {
	now := m.now()
	if now.Sub(m.captureWindowStart) >= time.Second {
		m.captureCount = 0
		m.captureWindowStart = now
	}

	if m.captureCount >= m.maxCapturesPerSecond {
		m.stats.Counter("manager.rate_limited").Inc(1)
		m.logger.Debug("Rate limit reached, skipping capture")
		return false
	}

	m.captureCount++
	return true
}

func (m *Manager) updateGauge() {
	m.stats.Gauge("breakpoints.active").Update(float64(len(m.breakpoints)))
}
