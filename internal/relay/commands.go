package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/models"
	"import-tracker/internal/registry"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingDatabase = errors.New("database is required")
	ErrMissingID       = errors.New("id is required")
)

// Command operations, used as the last subject token
const (
	OpNew    = "new"
	OpRemove = "remove"
	OpUpdate = "update"
	OpGet    = "get"
	OpList   = "list"
	OpLast   = "last"
)

// Request is the body of a command
type Request struct {
	Database string              `json:"database"`
	ID       string              `json:"id,omitempty"`
	Update   models.ImportUpdate `json:"update"`
}

// Reply is the body of a command response
type Reply struct {
	OK      bool                `json:"ok"`
	Error   string              `json:"error,omitempty"`
	Import  *models.ImportInfo  `json:"import,omitempty"`
	Imports []models.ImportInfo `json:"imports,omitempty"`
	Change  *models.Change      `json:"change,omitempty"`
}

// Responder exposes registry operations on <subject>.cmd.<op>
type Responder struct {
	registry *registry.Registry
	subject  string
	logger   *logrus.Logger
	sub      *nats.Subscription
}

// NewResponder creates a responder for reg
func NewResponder(reg *registry.Registry, subject string, logger *logrus.Logger) *Responder {
	return &Responder{
		registry: reg,
		subject:  subject,
		logger:   logger,
	}
}

// Start subscribes to command subjects on conn
func (r *Responder) Start(conn *nats.Conn) error {
	wildcard := r.subject + ".cmd.*"
	sub, err := conn.Subscribe(wildcard, func(msg *nats.Msg) {
		op := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
		if err := msg.Respond(r.Handle(op, msg.Data)); err != nil {
			r.logger.Warnf("Failed to respond to %s: %v", msg.Subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", wildcard, err)
	}
	r.sub = sub
	r.logger.Infof("Serving import commands on %s", wildcard)
	return nil
}

// Stop unsubscribes from command subjects
func (r *Responder) Stop() {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			r.logger.Warnf("Failed to unsubscribe commands: %v", err)
		}
		r.sub = nil
	}
}

// Handle executes a command and returns the encoded reply
func (r *Responder) Handle(op string, data []byte) []byte {
	reply, err := r.execute(op, data)
	if err != nil {
		r.logger.Debugf("Command %s failed: %v", op, err)
		reply = Reply{Error: err.Error()}
	} else {
		reply.OK = true
	}

	out, err := json.Marshal(reply)
	if err != nil {
		r.logger.Errorf("Failed to marshal reply: %v", err)
		return []byte(`{"ok":false,"error":"internal error"}`)
	}
	return out
}

func (r *Responder) execute(op string, data []byte) (Reply, error) {
	var req Request
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return Reply{}, fmt.Errorf("failed to parse request: %w", err)
		}
	}
	if req.Database == "" {
		return Reply{}, ErrMissingDatabase
	}

	switch op {
	case OpNew:
		info := r.registry.NewImport(req.Database)
		return Reply{Import: &info}, nil

	case OpRemove:
		if req.ID == "" {
			return Reply{}, ErrMissingID
		}
		r.registry.RemoveImport(req.Database, req.ID)
		return Reply{}, nil

	case OpUpdate:
		if req.ID == "" {
			return Reply{}, ErrMissingID
		}
		info := r.registry.Update(req.Database, req.ID, req.Update)
		return Reply{Import: &info}, nil

	case OpGet:
		if req.ID == "" {
			return Reply{}, ErrMissingID
		}
		info := r.registry.Import(req.Database, req.ID)
		return Reply{Import: &info}, nil

	case OpList:
		return Reply{Imports: r.registry.List(req.Database)}, nil

	case OpLast:
		return Reply{Change: r.registry.LastChange(req.Database)}, nil

	default:
		return Reply{}, fmt.Errorf("%w: %s", ErrUnknownCommand, op)
	}
}
