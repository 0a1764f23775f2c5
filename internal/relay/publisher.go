package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/models"
)

// Publisher handles publishing import changes to NATS
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Logger
}

// Connect opens a NATS connection with reconnect handlers that log through logger
func Connect(url string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("import-tracker"),
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)
	return conn, nil
}

// NewPublisher creates a publisher on an existing connection
func NewPublisher(conn *nats.Conn, subject string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}
}

// Publish publishes a change to <subject>.<database>.<type>
func (p *Publisher) Publish(change *models.Change) error {
	data, err := EncodeChange(change)
	if err != nil {
		return err
	}

	subject := ChangeSubject(p.subject, change)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published %s change for %s to %s", change.Type, change.Database, subject)
	return nil
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

// EncodeChange returns the wire form of a change. Raw JSON produced by the
// transformer wins over the struct.
func EncodeChange(change *models.Change) ([]byte, error) {
	if len(change.RawJSON) > 0 {
		return change.RawJSON, nil
	}
	data, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change: %w", err)
	}
	return data, nil
}

// ChangeSubject builds the subject a change is published on
func ChangeSubject(prefix string, change *models.Change) string {
	return fmt.Sprintf("%s.%s.%s", prefix, SubjectToken(change.Database), change.Type)
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// SubjectToken makes s usable as a single NATS subject token
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
