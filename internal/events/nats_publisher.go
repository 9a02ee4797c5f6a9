package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/metrics"
)

const defaultSubjectPrefix = "verify"

// NATSPublisher publishes domain events on {prefix}.{event_type}
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *logrus.Logger
}

// ConnectNATS dials the configured server. Reconnects are unbounded.
func ConnectNATS(cfg config.NATSConfig, logger *logrus.Logger) (*NATSPublisher, error) {
	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("verify-backend"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		metrics.NATSConnectionStatus.Set(0)
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	return NewNATSPublisher(conn, cfg.SubjectPrefix, logger), nil
}

// NewNATSPublisher wraps an existing connection
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *logrus.Logger) *NATSPublisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject for an event type
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish marshals the event and hands it to the connection buffer
func (p *NATSPublisher) Publish(ctx context.Context, event interfaces.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(event.Type), payload); err != nil {
		metrics.EventsPublished.WithLabelValues("nats_failed", event.Type).Inc()
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	metrics.EventsPublished.WithLabelValues("nats", event.Type).Inc()
	return nil
}

// Close drains pending messages
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.WithError(err).Warn("NATS drain failed")
		p.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}
