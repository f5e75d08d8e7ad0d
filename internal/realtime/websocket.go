package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
)

// WSSource is the websocket implementation of Source: a single long-lived
// connection to the backend's /ws endpoint. The endpoint is derived from
// the REST base URL with any path suffix stripped, and the access token
// is presented at handshake time.
//
// Transport mode is fixed; there is no protocol negotiation or fallback.
type WSSource struct {
	endpoint       string
	token          string
	reconnectDelay time.Duration
	connectTimeout time.Duration
	log            *logging.Logger

	handlersMu sync.RWMutex
	handlers   map[Type]Handler

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWebSocket creates and starts a websocket source. The connection is
// established in the background; dial failures are retried forever at a
// fixed delay and are not surfaced to the caller. A dead link shows up
// only as missing heartbeats.
func NewWebSocket(baseURL, token string, reconnectDelay, connectTimeout time.Duration, log *logging.Logger) (*WSSource, error) {
	endpoint, err := endpointFromBase(baseURL)
	if err != nil {
		return nil, err
	}

	s := &WSSource{
		endpoint:       endpoint,
		token:          token,
		reconnectDelay: reconnectDelay,
		connectTimeout: connectTimeout,
		log:            log,
		handlers:       make(map[Type]Handler),
		done:           make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// endpointFromBase derives the realtime endpoint from the configured REST
// base URL: the path suffix (e.g. "/api") is stripped and replaced with
// "/ws", and the scheme is mapped to its websocket equivalent.
func endpointFromBase(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing backend base URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrConnectionFailed, u.Scheme)
	}

	u.Path = "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Subscribe registers a handler for one event type.
func (s *WSSource) Subscribe(event Type, handler Handler) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !validType(event) {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	s.handlersMu.Lock()
	s.handlers[event] = handler
	s.handlersMu.Unlock()
	return nil
}

// Unsubscribe removes the handler for one event type.
func (s *WSSource) Unsubscribe(event Type) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.handlersMu.Lock()
	delete(s.handlers, event)
	s.handlersMu.Unlock()
	return nil
}

func (s *WSSource) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close tears down the connection and stops the reconnect loop.
func (s *WSSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close() //nolint:errcheck // Best effort on teardown
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
	return nil
}

// run dials and reads until Close. Reconnection is unlimited with a
// fixed delay; each connect attempt is bounded by the connect timeout.
func (s *WSSource) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, err := s.dial()
		if err != nil {
			s.log.Debug("realtime connect failed, retrying", "error", err, "delay", s.reconnectDelay)
			select {
			case <-s.done:
				return
			case <-time.After(s.reconnectDelay):
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.log.Info("realtime channel connected", "endpoint", s.endpoint)

		s.readLoop(conn)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()

		select {
		case <-s.done:
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

// dial performs one bounded connection attempt.
func (s *WSSource) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.connectTimeout,
	}

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, resp, err := dialer.Dial(s.endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Handshake response body is not used
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return conn, nil
}

// readLoop decodes event envelopes until the connection drops.
func (s *WSSource) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("realtime channel read ended", "error", err)
			return
		}
		s.dispatch(message)
	}
}

// dispatch routes a raw envelope to the subscribed handler, if any.
// Unknown event names and malformed frames are dropped silently.
func (s *WSSource) dispatch(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.log.Debug("discarding malformed realtime frame", "error", err)
		return
	}

	event := Type(env.Event)
	s.handlersMu.RLock()
	handler := s.handlers[event]
	s.handlersMu.RUnlock()
	if handler == nil {
		return
	}

	s.invoke(handler, event, env.Data)
}

// invoke calls a handler with panic recovery.
func (s *WSSource) invoke(handler Handler, event Type, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("realtime handler panic recovered", "event", string(event), "panic", r)
		}
	}()

	if err := handler(event, payload); err != nil {
		s.log.Warn("realtime handler returned error", "event", string(event), "error", err)
	}
}

// validType reports whether event is part of the consumed taxonomy.
func validType(event Type) bool {
	switch event {
	case EventState, EventLWT, EventHeartbeat, EventAck:
		return true
	}
	return false
}
