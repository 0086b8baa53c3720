package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crm-messaging/internal/models"
)

var ErrNotConnected = errors.New("session not connected")

// Config parameterizes a Session. Zero values fall back to the
// production defaults: 10s dial timeout, 1s retry delay, 5 attempts.
type Config struct {
	URL         string
	Identity    int
	DialTimeout time.Duration
	RetryDelay  time.Duration
	MaxRetries  int
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	return c
}

// Session owns one persistent relay connection scoped to a single
// identity. It is an explicit caller-owned struct, so independent
// sessions can coexist; inbound events arrive as a typed union on
// Events().
type Session struct {
	cfg    Config
	events chan Event

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	gen       int
}

// NewSession builds a disconnected Session.
func NewSession(cfg Config) *Session {
	return &Session{
		cfg:    cfg.withDefaults(),
		events: make(chan Event, 256),
	}
}

// Events is the inbound event channel, consumed by a single dispatch loop.
func (s *Session) Events() <-chan Event {
	return s.events
}

// IsConnected reports whether the session currently holds a live connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect dials the relay and performs the join handshake. Connecting
// implicitly marks the identity online to peers; the relay broadcasts
// user_online on join.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	return s.adopt(conn, gen, false)
}

// Disconnect tears the connection down without triggering reconnection.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.gen++
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Emit sends one event frame to the relay.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteJSON(models.NewFrame(event, payload))
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, nil)
	return conn, err
}

// adopt installs a freshly dialed connection: sends the join handshake,
// publishes Connected and starts the read pump. The handshake repeats
// on every reconnect because the relay does not persist subscriptions.
func (s *Session) adopt(conn *websocket.Conn, gen int, resumed bool) error {
	join := models.NewFrame(models.EventJoin, models.JoinPayload{UserID: s.cfg.Identity})
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		// A Disconnect raced the dial; drop the new connection.
		s.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.events <- Connected{Resumed: resumed}
	go s.readLoop(conn, gen)
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			s.handleReadError(gen, err)
			return
		}
		event, err := decodeFrame(frame)
		if err != nil {
			log.Printf("transport: %v", err)
			continue
		}
		if event == nil {
			// Unknown events are ignored, not fatal.
			continue
		}
		s.events <- event
	}
}

func (s *Session) handleReadError(gen int, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		// Explicit Disconnect or a newer connection owns the session now.
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.conn = nil
	s.mu.Unlock()

	s.events <- Disconnected{Err: cause}
	s.reconnect(gen)
}

// reconnect runs the bounded retry policy: MaxRetries attempts spaced
// RetryDelay apart. No backoff; extended outages are covered by the
// fallback delivery path.
func (s *Session) reconnect(gen int) {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		time.Sleep(s.cfg.RetryDelay)

		s.mu.Lock()
		stale := gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}

		conn, err := s.dial(context.Background())
		if err != nil {
			log.Printf("transport: reconnect attempt %d/%d failed: %v", attempt, s.cfg.MaxRetries, err)
			continue
		}
		if err := s.adopt(conn, gen, true); err != nil {
			log.Printf("transport: reconnect handshake failed: %v", err)
			continue
		}
		return
	}
	s.events <- Disconnected{Terminal: true, Err: errors.New("reconnection failed")}
}
