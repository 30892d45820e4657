package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/tinytrim/pkg/config"
)

// ErrAlreadyStarted is returned when Start is called on a running source.
var ErrAlreadyStarted = errors.New("feed already started")

// WebSocketSource dials a point stream and decodes its JSON events.
type WebSocketSource struct {
	url      string
	token    string
	listener Listener
	dialer   *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	connected atomic.Bool
}

// NewWebSocketSource creates a source for url. A non-empty token is sent as a
// bearer Authorization header.
func NewWebSocketSource(url, token string, listener Listener) *WebSocketSource {
	return &WebSocketSource{
		url:      url,
		token:    token,
		listener: listener,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.WSDialTimeout,
			ReadBufferSize:   config.WSReadBufferSize,
			WriteBufferSize:  config.WSWriteBufferSize,
		},
	}
}

// Start dials the stream and begins reading in the background.
func (s *WebSocketSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return ErrAlreadyStarted
	}

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.WSDialTimeout)
	defer cancel()

	log.Printf("Connecting to feed %s", s.url)
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.listener.OnConnectivityChanged(false, err.Error())
		return fmt.Errorf("dial feed: %w", err)
	}

	s.conn = conn
	s.done = make(chan struct{})
	s.connected.Store(true)
	s.listener.OnConnectivityChanged(true, "connected to "+s.url)

	go s.readLoop(conn, s.done)
	return nil
}

// Stop closes the connection and waits for the reader to exit.
func (s *WebSocketSource) Stop() error {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(config.WSWriteDeadline)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()
	<-done
	return err
}

// Connected reports whether the stream is up.
func (s *WebSocketSource) Connected() bool { return s.connected.Load() }

func (s *WebSocketSource) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(config.WSWriteDeadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.connected.Store(false)
			message := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				message = "closed"
			}
			s.listener.OnConnectivityChanged(false, message)
			return
		}
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("Skipping malformed feed event: %v", err)
			continue
		}
		if err := dispatch(s.listener, &ev); err != nil {
			log.Printf("Skipping feed event %q: %v", ev.Type, err)
		}
	}
}
