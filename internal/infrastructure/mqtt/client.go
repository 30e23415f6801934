package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fleetsync-core/internal/infrastructure/config"
)

// Logger is the logging interface used by the Client.
// *logging.Logger and *slog.Logger both satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MessageHandler receives a message delivered on topic (wildcards expanded).
//
// Handlers run on paho goroutines and must not block for long. A returned
// error is logged; it does not affect acknowledgment.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// hooks groups the optional callbacks so they can be swapped atomically.
type hooks struct {
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Client wraps paho.mqtt.golang for fleet event and job-progress broadcast.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Subscriptions are replayed after every reconnect.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	hookMu sync.RWMutex
	hooks  hooks
}

// Connect dials the broker described by cfg and waits for the first
// session. The client registers a retained offline LWT on
// fleetsync/system/status, reconnects automatically, and republishes its
// online status after each (re)connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		hooks:         hooks{logger: noopLogger{}},
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onSession() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.currentHooks().logger.Warn("MQTT reconnecting",
			"host", cfg.Broker.Host,
			"port", cfg.Broker.Port,
		)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the session usable now.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) currentHooks() hooks {
	c.hookMu.RLock()
	h := c.hooks
	c.hookMu.RUnlock()
	if h.logger == nil {
		h.logger = noopLogger{}
	}
	return h
}

func (c *Client) onSession() {
	c.connected.Store(true)
	c.resubscribe()

	status := buildOnlinePayload(c.cfg.Broker.ClientID)
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, status)

	if cb := c.currentHooks().onConnect; cb != nil {
		cb()
	}
}

func (c *Client) onLost(err error) {
	c.connected.Store(false)
	if cb := c.currentHooks().onDisconnect; cb != nil {
		cb(err)
	}
}

// resubscribe replays tracked subscriptions without waiting on the tokens.
func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subscriptions {
		token := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func() {
			if token.WaitTimeout(defaultPublishTimeout) && token.Error() != nil {
				c.currentHooks().logger.Warn("MQTT resubscribe failed", "topic", topic, "error", token.Error())
			}
		}()
	}
}

// Close publishes a retained graceful-offline status, distinct from the
// LWT crash status, then disconnects. Closing twice is harmless.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		status := buildOfflinePayload(c.cfg.Broker.ClientID)
		c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, status).
			WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected when the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a callback run after the initial connect and
// every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.hookMu.Lock()
	c.hooks.onConnect = callback
	c.hookMu.Unlock()
}

// SetOnDisconnect registers a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hookMu.Lock()
	c.hooks.onDisconnect = callback
	c.hookMu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnects.
// A nil logger silences them.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.hookMu.Lock()
	c.hooks.logger = logger
	c.hookMu.Unlock()
}

// wrapHandler adapts handler to paho, recovering panics and logging errors.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.currentHooks().logger.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
			}
		}()

		if err := handler(topic, msg.Payload()); err != nil {
			c.currentHooks().logger.Warn("MQTT handler returned error", "topic", topic, "error", err)
		}
	}
}
