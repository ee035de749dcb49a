// Package transport provides the WebSocket connection to the tracebreak backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aivorynet/tracebreak-go/pkg/capture"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AgentVersion is reported to the backend on registration.
const AgentVersion = "1.0.0"

const (
	maxReconnectDelay = 60 * time.Second
	queueSize         = 100
)

var (
	// ErrMaxReconnects is returned by Connect once every reconnect attempt failed.
	ErrMaxReconnects = errors.New("max reconnect attempts reached")
	// ErrAuthRejected is returned by Connect when the backend refused the API key.
	ErrAuthRejected = errors.New("backend rejected credentials")
)

//go:generate mockgen -destination=transportmock/handler.go -package=transportmock . CommandHandler

// CommandHandler receives breakpoint commands sent by the backend.
type CommandHandler interface {
	HandleCommand(command string, payload interface{})
}

// RuntimeInfo describes the Go runtime the agent runs in.
type RuntimeInfo struct {
	Runtime        string `json:"runtime"`
	RuntimeVersion string `json:"runtime_version"`
	Platform       string `json:"platform"`
	Arch           string `json:"arch"`
	NumCPU         int    `json:"num_cpu"`
	NumGoroutine   int    `json:"num_goroutine"`
}

// AgentInfo identifies the agent on registration.
type AgentInfo struct {
	AgentID     string
	Hostname    string
	Environment string
	Runtime     RuntimeInfo
}

// Connection represents a WebSocket connection to the backend.
type Connection struct {
	url     string
	apiKey  string
	info    AgentInfo
	logger  *zap.SugaredLogger
	handler CommandHandler

	conn          *websocket.Conn
	connected     bool
	authenticated bool
	authErr       error
	mu            sync.RWMutex
	writeMu       sync.Mutex

	reconnectAttempts    int
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	heartbeatInterval    time.Duration

	messageQueue chan []byte
	done         chan struct{}
	closeOnce    sync.Once
}

// Message represents a WebSocket message.
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// Option customizes a Connection.
type Option func(*Connection)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithHandler routes backend breakpoint commands to h.
func WithHandler(h CommandHandler) Option {
	return func(c *Connection) {
		c.handler = h
	}
}

// WithAgentInfo sets the identity sent on registration.
func WithAgentInfo(info AgentInfo) Option {
	return func(c *Connection) {
		c.info = info
	}
}

// WithReconnect sets the reconnect budget and the initial backoff delay.
func WithReconnect(maxAttempts int, delay time.Duration) Option {
	return func(c *Connection) {
		c.maxReconnectAttempts = maxAttempts
		c.reconnectDelay = delay
	}
}

// WithHeartbeatInterval sets how often heartbeats are sent once registered.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// NewConnection creates a new connection.
func NewConnection(url, apiKey string, opts ...Option) *Connection {
	c := &Connection{
		url:                  url,
		apiKey:               apiKey,
		logger:               zap.NewNop().Sugar(),
		maxReconnectAttempts: 10,
		reconnectDelay:       time.Second,
		heartbeatInterval:    30 * time.Second,
		messageQueue:         make(chan []byte, queueSize),
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the WebSocket connection and keeps it up, reconnecting
// with exponential backoff, until ctx is done or Disconnect is called.
func (c *Connection) Connect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return c.authError()
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Debugw("connection error", "url", c.url, "error", err)

			c.reconnectAttempts++
			if c.reconnectAttempts > c.maxReconnectAttempts {
				c.logger.Warnw("giving up on backend", "attempts", c.reconnectAttempts-1)
				return ErrMaxReconnects
			}

			delay := c.reconnectDelay * time.Duration(1<<uint(c.reconnectAttempts-1))
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			c.logger.Debugw("reconnecting", "delay", delay, "attempt", c.reconnectAttempts)

			select {
			case <-ctx.Done():
				return nil
			case <-c.done:
				return c.authError()
			case <-time.After(delay):
			}
			continue
		}

		c.reconnectAttempts = 0
		c.runMessageLoop(ctx)
	}
}

// Disconnect closes the connection and stops Connect. It is safe to call more
// than once.
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.connected = false
	c.authenticated = false
}

// SendHit sends a breakpoint or catchpoint capture to the backend.
func (c *Connection) SendHit(hit *capture.Hit) {
	c.send("breakpoint_hit", hit)
}

// IsConnected returns true if connected and authenticated.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.authenticated
}

func (c *Connection) authError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authErr
}

func (c *Connection) connect(ctx context.Context) error {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debugw("connecting", "url", c.url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, headers)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Debug("websocket connected")

	if err := c.authenticate(conn); err != nil {
		c.dropConn(conn)
		return fmt.Errorf("registering: %w", err)
	}
	return nil
}

func (c *Connection) authenticate(conn *websocket.Conn) error {
	payload := map[string]interface{}{
		"api_key":       c.apiKey,
		"agent_version": AgentVersion,
		"agent_id":      c.info.AgentID,
		"hostname":      c.info.Hostname,
		"environment":   c.info.Environment,
		"runtime":       "go",
		"runtime_info":  c.info.Runtime,
	}

	data, err := encode("register", payload)
	if err != nil {
		return err
	}
	return c.write(conn, data)
}

func (c *Connection) runMessageLoop(ctx context.Context) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	heartbeatTicker := time.NewTicker(c.heartbeatInterval)
	defer heartbeatTicker.Stop()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.logger.Debugw("read error", "error", err)
				}
				return
			}
			c.handleMessage(message)
		}
	}()

	defer func() {
		c.dropConn(conn)
		<-readDone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-readDone:
			return
		case <-heartbeatTicker.C:
			if c.IsConnected() {
				c.send("heartbeat", map[string]interface{}{
					"timestamp": time.Now().UnixMilli(),
				})
			}
		case msg := <-c.messageQueue:
			if c.IsConnected() {
				if err := c.write(conn, msg); err != nil {
					c.logger.Debugw("write error", "error", err)
				}
			}
		}
	}
}

// dropConn closes conn and marks the connection down if conn is still current.
func (c *Connection) dropConn(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
		c.authenticated = false
	}
}

func (c *Connection) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debugw("error parsing message", "error", err)
		return
	}

	c.logger.Debugw("received", "type", msg.Type)

	switch msg.Type {
	case "registered":
		c.handleRegistered()
	case "error":
		c.handleError(msg.Payload)
	case "breakpoint_command":
		c.handleCommand(msg.Payload)
	default:
		c.logger.Debugw("unhandled message type", "type", msg.Type)
	}
}

func (c *Connection) handleRegistered() {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	c.logger.Info("agent registered")
}

func (c *Connection) handleCommand(payload interface{}) {
	payloadMap, ok := payload.(map[string]interface{})
	if !ok {
		c.logger.Debug("breakpoint command without payload")
		return
	}
	command, _ := payloadMap["command"].(string)
	if command == "" || c.handler == nil {
		c.logger.Debugw("dropping breakpoint command", "command", command)
		return
	}
	c.handler.HandleCommand(command, payloadMap)
}

func (c *Connection) handleError(payload interface{}) {
	payloadMap, ok := payload.(map[string]interface{})
	if !ok {
		return
	}

	code, _ := payloadMap["code"].(string)
	message, _ := payloadMap["message"].(string)

	c.logger.Warnw("backend error", "code", code, "message", message)

	if code == "auth_error" || code == "invalid_api_key" {
		c.logger.Error("authentication failed, disabling reconnect")
		c.mu.Lock()
		c.authErr = fmt.Errorf("%w: %s", ErrAuthRejected, code)
		c.mu.Unlock()
		c.Disconnect()
	}
}

func (c *Connection) send(msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		c.logger.Debugw("error marshaling message", "type", msgType, "error", err)
		return
	}

	if !c.IsConnected() {
		return
	}

	select {
	case c.messageQueue <- data:
	default:
		// Queue full, drop oldest
		select {
		case <-c.messageQueue:
		default:
		}
		select {
		case c.messageQueue <- data:
		default:
		}
	}
}

func (c *Connection) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}
