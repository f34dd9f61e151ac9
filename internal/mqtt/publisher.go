package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/staysense/staysense-go/internal/events"
	"github.com/staysense/staysense-go/internal/logger"
)

const publishTimeout = 5 * time.Second

// Publisher forwards bus events to the broker. Each event goes to
// <base>/<kind path>; events carrying a status message are also written to
// <base>/status, retained when configured, so a dashboard shows the latest
// message on subscribe.
type Publisher struct {
	client Client
	base   string
	retain bool
	logger logger.Logger
}

// NewPublisher creates a publisher writing below base.
func NewPublisher(client Client, base string, retain bool, log logger.Logger) *Publisher {
	return &Publisher{
		client: client,
		base:   strings.TrimRight(base, "/"),
		retain: retain,
		logger: log.Module("mqtt"),
	}
}

// EventTopic maps an event kind to its topic below base.
func EventTopic(base string, kind events.Kind) string {
	return base + "/" + strings.ReplaceAll(string(kind), ".", "/")
}

// StatusTopic is the topic carrying the latest status message.
func StatusTopic(base string) string {
	return base + "/status"
}

type statusPayload struct {
	Level     events.Level `json:"level"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// Handle publishes one event. Register it with events.Bus.Subscribe. Events
// are dropped while the client is disconnected.
func (p *Publisher) Handle(event *events.Event) {
	if !p.client.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode event", logger.String("kind", string(event.Kind)), logger.Error(err))
		return
	}
	topic := EventTopic(p.base, event.Kind)
	if err := p.client.Publish(ctx, topic, string(payload), false); err != nil {
		p.logger.Debug("failed to publish event", logger.String("topic", topic), logger.Error(err))
		return
	}

	if event.Message == "" {
		return
	}
	status, err := json.Marshal(statusPayload{Level: event.Level, Message: event.Message, Timestamp: event.Timestamp})
	if err != nil {
		return
	}
	if err := p.client.Publish(ctx, StatusTopic(p.base), string(status), p.retain); err != nil {
		p.logger.Debug("failed to publish status", logger.Error(err))
	}
}
