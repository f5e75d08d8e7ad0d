package realtime

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/davteix/sirenwatch/internal/infrastructure/config"
	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
)

// tlsMinVersion is the minimum TLS version for secure broker connections.
const tlsMinVersion = tls.VersionTLS12

// topicSuffixes maps each event type to its per-device topic leaf.
// The full scheme is {prefix}/{deviceId}/{suffix}; the broker publishes
// retained last-will messages on the status leaf.
var topicSuffixes = map[Type]string{
	EventState:     "state",
	EventHeartbeat: "heartbeat",
	EventLWT:       "status",
	EventAck:       "ack",
}

// MQTTSource is the direct-broker implementation of Source for
// deployments where sirenwatch sits next to the broker the devices
// publish to. Offline detection rides on the broker's own last-will
// mechanism: an unclean device disconnect produces a retained offline
// status which maps to a device.lwt event.
type MQTTSource struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	log    *logging.Logger

	handlersMu sync.RWMutex
	handlers   map[Type]Handler

	// subscribed tracks broker subscriptions for restoration on reconnect.
	subscribedMu sync.Mutex
	subscribed   map[Type]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewMQTT creates a broker-backed source and starts connecting. Connection
// failures are retried forever at the configured fixed delay; the initial
// attempt is bounded by connectTimeout but a timeout there is not fatal,
// the client keeps retrying in the background.
func NewMQTT(cfg config.MQTTConfig, reconnectDelay, connectTimeout time.Duration, log *logging.Logger) (*MQTTSource, error) {
	s := &MQTTSource{
		cfg:        cfg,
		log:        log,
		handlers:   make(map[Type]Handler),
		subscribed: make(map[Type]struct{}),
		done:       make(chan struct{}),
	}

	opts := buildMQTTOptions(cfg, reconnectDelay, connectTimeout)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.log.Info("mqtt broker connected", "host", cfg.Host)
		s.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.log.Warn("mqtt broker connection lost", "error", err)
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Not fatal: ConnectRetry keeps dialling at the fixed delay.
		s.log.Warn("mqtt initial connect still pending", "timeout", connectTimeout)
	} else if err := token.Error(); err != nil {
		s.log.Warn("mqtt initial connect failed, retrying in background", "error", err)
	}

	return s, nil
}

// buildMQTTOptions creates paho options from sirenwatch config.
// Reconnection uses a fixed delay rather than exponential backoff, so
// initial and maximum reconnect intervals are both the configured delay.
func buildMQTTOptions(cfg config.MQTTConfig, reconnectDelay, connectTimeout time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectDelay)
	opts.SetMaxReconnectInterval(reconnectDelay)
	opts.SetConnectTimeout(connectTimeout)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// Subscribe registers a handler for one event type and subscribes to the
// matching per-device topic filter.
func (s *MQTTSource) Subscribe(event Type, handler Handler) error {
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

	s.subscribedMu.Lock()
	s.subscribed[event] = struct{}{}
	s.subscribedMu.Unlock()

	return s.subscribeTopic(event)
}

// Unsubscribe removes the handler for one event type and drops the broker
// subscription.
func (s *MQTTSource) Unsubscribe(event Type) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.handlersMu.Lock()
	delete(s.handlers, event)
	s.handlersMu.Unlock()

	s.subscribedMu.Lock()
	delete(s.subscribed, event)
	s.subscribedMu.Unlock()

	if suffix, ok := topicSuffixes[event]; ok && s.client.IsConnected() {
		s.client.Unsubscribe(s.filter(suffix))
	}
	return nil
}

// Close disconnects from the broker. The source cannot be reused.
func (s *MQTTSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		const quiesceMs = 250
		s.client.Disconnect(quiesceMs)
	})
	return nil
}

func (s *MQTTSource) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// filter builds the wildcard topic filter for a suffix, e.g. "sirens/+/state".
func (s *MQTTSource) filter(suffix string) string {
	prefix := s.cfg.TopicPrefix
	if prefix == "" {
		prefix = "sirens"
	}
	return fmt.Sprintf("%s/+/%s", prefix, suffix)
}

// subscribeTopic issues the broker subscription for one event type.
func (s *MQTTSource) subscribeTopic(event Type) error {
	suffix := topicSuffixes[event]
	token := s.client.Subscribe(s.filter(suffix), byte(s.cfg.QoS), s.messageHandler(event))
	// Waiting here would block while the broker is unreachable; rely on
	// restoreSubscriptions to re-issue after (re)connect.
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.log.Warn("mqtt subscribe failed", "event", string(event), "error", err)
		}
	}()
	return nil
}

// restoreSubscriptions re-issues all tracked subscriptions after a
// (re)connect.
func (s *MQTTSource) restoreSubscriptions() {
	s.subscribedMu.Lock()
	events := make([]Type, 0, len(s.subscribed))
	for event := range s.subscribed {
		events = append(events, event)
	}
	s.subscribedMu.Unlock()

	for _, event := range events {
		if err := s.subscribeTopic(event); err != nil {
			s.log.Warn("mqtt resubscribe failed", "event", string(event), "error", err)
		}
	}
}

// messageHandler adapts one broker message into a normalized event
// payload and invokes the subscribed handler with panic recovery.
func (s *MQTTSource) messageHandler(event Type) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		deviceID := deviceIDFromTopic(msg.Topic())
		if deviceID == "" {
			return
		}

		payload, ok := normalizePayload(event, deviceID, msg.Payload())
		if !ok {
			return
		}

		s.handlersMu.RLock()
		handler := s.handlers[event]
		s.handlersMu.RUnlock()
		if handler == nil {
			return
		}

		if err := handler(event, payload); err != nil {
			s.log.Warn("realtime handler returned error", "event", string(event), "error", err)
		}
	}
}

// deviceIDFromTopic extracts the device segment from {prefix}/{deviceId}/{leaf}.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	const segments = 3
	if len(parts) != segments {
		return ""
	}
	return parts[1]
}

// normalizePayload rewrites a broker payload into the shape handlers
// expect: a JSON object carrying deviceId. Device firmware does not
// embed its own identifier in every message, so it is injected from the
// topic. Retained "online" statuses are not offline notices and are
// dropped for the lwt event.
func normalizePayload(event Type, deviceID string, raw []byte) ([]byte, bool) {
	body := make(map[string]any)
	if len(raw) > 0 {
		// Non-JSON payloads are treated as empty bodies.
		_ = json.Unmarshal(raw, &body) //nolint:errcheck // Intentional: malformed body degrades to bare deviceId
	}

	if event == EventLWT {
		if status, ok := body["status"].(string); ok && status == "online" {
			return nil, false
		}
	}

	body["deviceId"] = deviceID
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	return payload, true
}
