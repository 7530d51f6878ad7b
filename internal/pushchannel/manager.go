package pushchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tilal/fieldops-notify/internal/backoff"
	"github.com/tilal/fieldops-notify/internal/notifications"
	"github.com/tilal/fieldops-notify/internal/session"
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// StatusEvent reports connection lifecycle. It is diagnostic only.
type StatusEvent struct {
	Status      Status
	PrincipalID string
	Err         error
}

type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("push %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var defaultRedial = backoff.Strategy{Base: 500 * time.Millisecond, Max: 30 * time.Second}

type Options struct {
	Endpoint string
	Token    string
	// HTTPClient is used for the websocket handshake.
	HTTPClient         *http.Client
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ReadLimit          int64
	OnStatus           func(StatusEvent)
	Logger             zerolog.Logger
}

// Manager keeps at most one push scope alive. Opening a scope for a new
// principal closes the previous one first.
type Manager struct {
	opts   Options
	redial backoff.Strategy
	schema *jsonschema.Schema
	logger zerolog.Logger

	mu      sync.Mutex
	current *Scope
}

func NewManager(opts Options) (*Manager, error) {
	opts.Endpoint = strings.TrimSpace(opts.Endpoint)
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("push endpoint is required")
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	schema, err := compileNotificationSchema()
	if err != nil {
		return nil, err
	}
	return &Manager{
		opts:   opts,
		redial: backoff.Strategy{Base: opts.ReconnectBaseDelay, Max: opts.ReconnectMaxDelay}.WithDefaults(defaultRedial),
		schema: schema,
		logger: opts.Logger.With().Str("component", "pushchannel").Logger(),
	}, nil
}

// Open starts a scope bound to p. The scope dials in the background and keeps
// redialing until closed; handler runs on the scope's read goroutine.
func (m *Manager) Open(ctx context.Context, p session.Principal, handler func(notifications.Notification)) (*Scope, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("principal id is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		_ = m.current.Close()
		m.current = nil
	}
	scopeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Scope{
		manager:   m,
		principal: p,
		handler:   handler,
		ctx:       scopeCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    m.logger.With().Str("principal", p.ID).Logger(),
	}
	m.current = s
	go s.run()
	return s, nil
}

// Connect adapts Open to notifications.PushConnector.
func (m *Manager) Connect(ctx context.Context, p session.Principal, handler func(notifications.Notification)) (io.Closer, error) {
	s, err := m.Open(ctx, p, handler)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (m *Manager) emit(ev StatusEvent) {
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(ev)
	}
}

type Scope struct {
	manager   *Manager
	principal session.Principal
	handler   func(notifications.Notification)
	logger    zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *Scope) Principal() session.Principal {
	return s.principal
}

// Done is closed once the scope has stopped and will call its handler no more.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// Close stops the scope and waits for its read loop to exit. It must not be
// called from inside the handler.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "scope closed")
		}
	})
	<-s.done
	return nil
}

type joinMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Scope) run() {
	defer close(s.done)
	attempt := 0
	for {
		if s.ctx.Err() != nil {
			return
		}
		connected, err := s.serve()
		if s.ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
			s.logger.Info().Err(err).Msg("push channel disconnected")
			s.manager.emit(StatusEvent{Status: StatusDisconnected, PrincipalID: s.principal.ID, Err: err})
		} else {
			s.logger.Warn().Err(err).Msg("push channel connect failed")
			s.manager.emit(StatusEvent{Status: StatusError, PrincipalID: s.principal.ID, Err: err})
		}
		attempt++
		if backoff.Wait(s.ctx, s.manager.redial.Delay(attempt)) != nil {
			return
		}
	}
}

// serve runs one connection: dial, join, then read until the socket fails.
func (s *Scope) serve() (bool, error) {
	opts := s.manager.opts
	header := http.Header{}
	if token := strings.TrimSpace(opts.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(s.ctx, opts.Endpoint, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return false, &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(opts.ReadLimit)
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()
	if s.ctx.Err() != nil {
		return false, s.ctx.Err()
	}

	if err := wsjson.Write(s.ctx, conn, joinMessage{Type: "join", UserID: s.principal.ID}); err != nil {
		return false, &TransportError{Op: "join", Err: err}
	}
	s.logger.Info().Str("endpoint", opts.Endpoint).Msg("push channel connected")
	s.manager.emit(StatusEvent{Status: StatusConnected, PrincipalID: s.principal.ID})

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return true, nil
			}
			return true, &TransportError{Op: "read", Err: err}
		}
		if typ != websocket.MessageText {
			continue
		}
		s.dispatch(data)
	}
}

func (s *Scope) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed push frame")
		return
	}
	if env.Type != notifications.EventNewNotification {
		s.logger.Debug().Str("type", env.Type).Msg("ignoring push event")
		return
	}
	if err := validatePayload(s.manager.schema, env.Data); err != nil {
		s.logger.Warn().Err(err).Msg("dropping invalid notification payload")
		return
	}
	var n notifications.Notification
	if err := json.Unmarshal(env.Data, &n); err != nil {
		s.logger.Warn().Err(err).Msg("dropping undecodable notification payload")
		return
	}
	if s.ctx.Err() != nil {
		return
	}
	s.handler(n)
}
