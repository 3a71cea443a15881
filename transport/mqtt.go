package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/xiaonanln/wpeplayback/util/logger"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultKeepAlive      = 30 * time.Second
)

// MQTTOptions configures an MQTTBus.
type MQTTOptions struct {
	Hostname string
	Port     int
	Username string
	Password string
	ClientID string
	// TLS is nil for a plain TCP connection.
	TLS            *tls.Config
	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

type subscription struct {
	pattern string
	handler Handler
}

// MQTTBus is a Bus backed by a paho MQTT client. Paho keeps the session
// alive once established; subscriptions are re-issued after every reconnect.
type MQTTBus struct {
	opts   MQTTOptions
	client mqtt.Client
	logger *logger.Logger

	mu       sync.Mutex
	listener ConnectionListener
	subs     []subscription
}

// NewMQTTBus creates a bus for the given broker. Nothing is sent until Connect.
func NewMQTTBus(opts MQTTOptions) (*MQTTBus, error) {
	if opts.Hostname == "" {
		return nil, fmt.Errorf("mqtt hostname is required")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("mqtt port must be positive")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", opts.QoS)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}

	b := &MQTTBus{
		opts:   opts,
		logger: logger.NewLogger("MQTTBus"),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(b.Address())
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	if opts.TLS != nil {
		co.SetTLSConfig(opts.TLS)
	}
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetKeepAlive(opts.KeepAlive)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(false)
	co.SetOnConnectHandler(b.onConnect)
	co.SetConnectionLostHandler(b.onConnectionLost)
	b.client = mqtt.NewClient(co)

	return b, nil
}

// Address returns the broker URL.
func (b *MQTTBus) Address() string {
	scheme := "tcp"
	if b.opts.TLS != nil {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(b.opts.Hostname, strconv.Itoa(b.opts.Port))
}

func (b *MQTTBus) SetConnectionListener(l ConnectionListener) {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
}

func (b *MQTTBus) Connect(ctx context.Context) error {
	b.logger.Infof("Connecting to %s as %s", b.Address(), b.opts.ClientID)
	token := b.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		code := ConnNetworkError
		if ct, ok := token.(*mqtt.ConnectToken); ok && ct.ReturnCode() != 0 {
			code = ConnackCode(ct.ReturnCode())
		}
		b.logger.Errorf("MQTT connection to %s failed: %s: %v", b.Address(), code, err)
		return &ConnectError{Code: code, Err: err}
	}
	return nil
}

func (b *MQTTBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	b.subs = append(b.subs, subscription{pattern: pattern, handler: handler})
	b.mu.Unlock()

	if err := waitToken(ctx, b.client.Subscribe(pattern, b.opts.QoS, wrapHandler(handler))); err != nil {
		return fmt.Errorf("subscribe to %s: %w", pattern, err)
	}
	b.logger.Infof("Subscribed to %s", pattern)
	return nil
}

func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return waitToken(ctx, b.client.Publish(topic, b.opts.QoS, false, payload))
}

func (b *MQTTBus) IsConnected() bool {
	return b.client.IsConnected()
}

// Close disconnects, giving inflight work a short time to complete.
func (b *MQTTBus) Close() {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

func (b *MQTTBus) onConnect(c mqtt.Client) {
	b.mu.Lock()
	listener := b.listener
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	b.logger.Infof("Connected to %s", b.Address())
	for _, s := range subs {
		s := s
		token := c.Subscribe(s.pattern, b.opts.QoS, wrapHandler(s.handler))
		go func() {
			if token.WaitTimeout(b.opts.ConnectTimeout) && token.Error() != nil {
				b.logger.Errorf("Re-subscribe to %s failed: %v", s.pattern, token.Error())
			}
		}()
	}
	if listener != nil {
		listener.OnConnect()
	}
}

func (b *MQTTBus) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Warnf("Connection to %s lost, reconnecting: %v", b.Address(), err)
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener != nil {
		listener.OnConnectionLost(err)
	}
}

func wrapHandler(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		h(Message{Topic: m.Topic(), Payload: m.Payload()})
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
