// ABOUTME: Optional NATS publisher mirroring relay events onto subjects per event type
// ABOUTME: Subjects are <prefix>.<type>.<agentId>; payload is the JSON event envelope

package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "sqlrelay.events"

// NATSPublisher publishes events to a NATS server.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials url and returns a publisher.
func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("sql-relay"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	logger = logger.With("component", "nats")
	logger.Info("nats connected", "url", url, "prefix", prefix)
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Publish implements Publisher. Failures are logged, not returned.
func (p *NATSPublisher) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("encoding event", "type", event.Type, "error", err)
		return
	}
	subject := Subject(p.prefix, event)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("nats publish failed", "subject", subject, "error", err)
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Subject builds the NATS subject for an event. Agent ids are sanitized so
// they never introduce extra tokens or wildcards.
func Subject(prefix string, event Event) string {
	agent := event.AgentID
	if agent == "" {
		agent = "_"
	}
	agent = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(agent)
	return prefix + "." + event.Type + "." + agent
}
