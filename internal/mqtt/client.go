// Package mqtt publishes client status events to an MQTT broker so home
// automation can react to connectivity changes and signal outcomes.
package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/staysense/staysense-go/internal/conf"
	"github.com/staysense/staysense-go/internal/errors"
	"github.com/staysense/staysense-go/internal/logger"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
	reconnectCooldown = 5 * time.Second
	qos               = 1

	availabilityOnline  = "online"
	availabilityOffline = "offline"
)

// Client is the broker connection used by the Publisher.
type Client interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(ctx context.Context, topic, payload string, retain bool) error
	Disconnect()
}

type client struct {
	settings conf.MQTTSettings
	logger   logger.Logger

	mu          sync.Mutex
	conn        paho.Client
	lastConnect time.Time
}

// NewClient creates a broker client from settings. It does not connect.
func NewClient(settings conf.MQTTSettings, log logger.Logger) (Client, error) {
	if settings.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Topic == "" {
		settings.Topic = "staysense"
	}
	return &client{
		settings: settings,
		logger:   log.Module("mqtt").With(logger.String("broker", settings.Broker)),
	}, nil
}

// AvailabilityTopic is where the client announces online and, through its
// last will, offline.
func AvailabilityTopic(base string) string {
	return base + "/availability"
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}
	if since := time.Since(c.lastConnect); !c.lastConnect.IsZero() && since < reconnectCooldown {
		return errors.Newf("connection attempt too recent, retry in %s", (reconnectCooldown - since).Round(time.Second)).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.lastConnect = time.Now()

	availability := AvailabilityTopic(c.settings.Topic)
	opts := paho.NewClientOptions().
		AddBroker(c.settings.Broker).
		SetClientID(c.settings.ClientID).
		SetUsername(c.settings.Username).
		SetPassword(c.settings.Password).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetWill(availability, availabilityOffline, qos, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("mqtt connection lost", logger.Error(err))
		}).
		SetOnConnectHandler(func(pc paho.Client) {
			c.logger.Info("mqtt connected")
			pc.Publish(availability, qos, true, availabilityOnline)
		})

	conn := paho.NewClient(opts)
	if err := wait(ctx, conn.Connect()); err != nil {
		return errors.Newf("mqtt connect: %w", err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.conn = conn
	return nil
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *client) Publish(ctx context.Context, topic, payload string, retain bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return errors.Newf("mqtt client is not connected").
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	if err := wait(ctx, conn.Publish(topic, qos, retain, payload)); err != nil {
		return errors.Newf("mqtt publish: %w", err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if c.conn.IsConnected() {
		// An orderly shutdown does not trigger the will, so announce it.
		_ = wait(context.Background(), c.conn.Publish(AvailabilityTopic(c.settings.Topic), qos, true, availabilityOffline))
		c.conn.Disconnect(disconnectQuiesce)
	}
	c.conn = nil
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return errors.NewStd("timed out waiting for broker")
	}
}
