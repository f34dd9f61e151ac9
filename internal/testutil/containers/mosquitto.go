//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoImage = "eclipse-mosquitto:2.0"
	mosquittoPort  = "1883/tcp"
	mosquittoConf  = "listener 1883\nallow_anonymous true\n"
)

// Mosquitto is a running Eclipse Mosquitto broker accepting anonymous
// clients.
type Mosquitto struct {
	container  testcontainers.Container
	brokerURL  string
	configFile string
}

// StartMosquitto starts a broker and waits until it accepts connections.
func StartMosquitto(ctx context.Context) (*Mosquitto, error) {
	configFile, err := writeTempFile("mosquitto-*.conf", mosquittoConf)
	if err != nil {
		return nil, err
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mosquittoImage,
			ExposedPorts: []string{mosquittoPort},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-test.conf"},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      configFile,
				ContainerFilePath: "/mosquitto-test.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort(mosquittoPort).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("failed to start mosquitto: %w", err)
	}

	m := &Mosquitto{container: container, configFile: configFile}
	host, err := container.Host(ctx)
	if err != nil {
		_ = m.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, mosquittoPort)
	if err != nil {
		_ = m.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	m.brokerURL = "tcp://" + net.JoinHostPort(host, strconv.Itoa(port.Int()))

	if err := RetryWithBackoff(ctx, 5, 200*time.Millisecond, 2*time.Second, m.ping); err != nil {
		_ = m.Terminate(ctx)
		return nil, fmt.Errorf("mosquitto not ready: %w", err)
	}
	return m, nil
}

// BrokerURL returns the tcp:// URL of the broker.
func (m *Mosquitto) BrokerURL() string {
	return m.brokerURL
}

func (m *Mosquitto) ping() error {
	c, err := m.connect("healthcheck")
	if err != nil {
		return err
	}
	c.Disconnect(100)
	return nil
}

func (m *Mosquitto) connect(clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(m.brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(false)
	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client %s: %w", clientID, err)
	}
	return c, nil
}

// Message is a received MQTT message.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Subscribe connects a raw client subscribed to filter and returns the
// channel receiving its messages. The client disconnects at test cleanup.
func (m *Mosquitto) Subscribe(t *testing.T, filter string) <-chan Message {
	t.Helper()

	c, err := m.connect(fmt.Sprintf("sub-%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	t.Cleanup(func() { c.Disconnect(100) })

	ch := make(chan Message, 64)
	token := c.Subscribe(filter, 1, func(_ paho.Client, msg paho.Message) {
		select {
		case ch <- Message{Topic: msg.Topic(), Payload: string(msg.Payload()), Retained: msg.Retained()}:
		default:
		}
	})
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe %s: %v", filter, token.Error())
	}
	return ch
}

// Terminate stops the container and removes the temporary config file.
func (m *Mosquitto) Terminate(ctx context.Context) error {
	var err error
	if m.container != nil {
		if terr := m.container.Terminate(ctx); terr != nil {
			err = fmt.Errorf("failed to terminate container: %w", terr)
		}
	}
	if m.configFile != "" {
		_ = os.Remove(m.configFile)
	}
	return err
}
