// Package relay forwards import changes to NATS and serves registry commands
// over NATS request/reply.
package relay

import (
	"errors"

	"github.com/sirupsen/logrus"

	"import-tracker/internal/models"
	"import-tracker/internal/processor"
)

// ChangePublisher publishes a single change
type ChangePublisher interface {
	Publish(change *models.Change) error
}

// ChangeSource is the part of the registry the relay listens to
type ChangeSource interface {
	SubscribeAll(fn func(change models.Change)) (cancel func())
}

// Relay transforms every registry change and hands it to a publisher
type Relay struct {
	transformer *processor.Transformer
	publisher   ChangePublisher
	logger      *logrus.Logger
}

// New creates a relay. transformer may be nil.
func New(transformer *processor.Transformer, publisher ChangePublisher, logger *logrus.Logger) *Relay {
	return &Relay{
		transformer: transformer,
		publisher:   publisher,
		logger:      logger,
	}
}

// Attach starts relaying changes from source until cancel is called
func (r *Relay) Attach(source ChangeSource) (cancel func()) {
	r.logger.Info("Relaying import changes")
	return source.SubscribeAll(r.Handle)
}

// Handle transforms and publishes one change. Errors are logged, not returned,
// because registry observers cannot fail.
func (r *Relay) Handle(change models.Change) {
	out := &change
	if r.transformer != nil {
		var err error
		out, err = r.transformer.Transform(out)
		if err != nil {
			if errors.Is(err, processor.ErrEventRejected) {
				r.logger.Debugf("Change rejected by transformer: %s (type: %s)", change.Database, change.Type)
				return
			}
			r.logger.Errorf("Error transforming change: %v", err)
			return
		}
		if out == nil {
			r.logger.Debugf("Change rejected by transformer: %s (type: %s)", change.Database, change.Type)
			return
		}
	}

	if err := r.publisher.Publish(out); err != nil {
		r.logger.Errorf("Error publishing change: %v", err)
		return
	}
	r.logger.Infof("Relayed %s change for %s (%d imports)", change.Type, change.Database, len(change.All))
}
