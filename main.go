package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/binlog"
	"import-tracker/internal/config"
	"import-tracker/internal/feed"
	"import-tracker/internal/processor"
	"import-tracker/internal/registry"
	"import-tracker/internal/relay"
)

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	} else {
		logger.Warnf("Unknown log level %q, using info", level)
	}
	return logger
}

// App wires the registry to its NATS and MySQL adapters
type App struct {
	cfg       *config.Config
	logger    *logrus.Logger
	registry  *registry.Registry
	conn      *nats.Conn
	publisher *relay.Publisher
	responder *relay.Responder
	stopRelay func()
	feed      *feed.Feed
	closers   []func()
}

// NewApp builds every enabled component. Nothing runs until Run is called.
func NewApp(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry.NewWithConfig(&cfg.Registry, logger),
	}

	if cfg.NATS.Enabled {
		if err := app.setupNATS(); err != nil {
			app.Close()
			return nil, err
		}
	}

	if cfg.Feed.Enabled {
		if err := app.setupFeed(); err != nil {
			app.Close()
			return nil, err
		}
	}

	if !cfg.NATS.Enabled && !cfg.Feed.Enabled {
		logger.Warn("Neither nats nor feed is enabled; imports are tracked in memory only")
	}

	return app, nil
}

func (a *App) setupNATS() error {
	conn, err := relay.Connect(a.cfg.NATS.URL, a.cfg.NATS.MaxReconnect, a.cfg.NATS.ReconnectWait, a.logger)
	if err != nil {
		return err
	}
	a.conn = conn

	transformer, err := processor.NewTransformer(&a.cfg.Processor, a.logger, conn)
	if err != nil {
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	a.publisher = relay.NewPublisher(conn, a.cfg.NATS.Subject, a.logger)
	a.closers = append(a.closers, a.publisher.Close)
	a.stopRelay = relay.New(transformer, a.publisher, a.logger).Attach(a.registry)

	if a.cfg.NATS.Commands {
		a.responder = relay.NewResponder(a.registry, a.cfg.NATS.Subject, a.logger)
		if err := a.responder.Start(conn); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) setupFeed() error {
	if err := NewMySQLChecker(&a.cfg.Feed, a.logger).Check(); err != nil {
		return fmt.Errorf("MySQL check failed: %w", err)
	}

	lookup, err := feed.OpenColumnLookup(a.cfg.Feed.MySQL, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, lookup.Close)

	reader, err := binlog.NewReader(&a.cfg.Feed, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create binlog reader: %w", err)
	}
	a.closers = append(a.closers, reader.Close)

	a.feed = feed.New(&a.cfg.Feed, reader, a.registry, lookup, a.logger)
	return nil
}

// Run blocks until ctx is cancelled or the feed fails
func (a *App) Run(ctx context.Context) error {
	if a.feed == nil {
		<-ctx.Done()
		return nil
	}
	return a.feed.Start(ctx)
}

// Close stops every component in reverse order of creation
func (a *App) Close() {
	if a.responder != nil {
		a.responder.Stop()
	}
	if a.stopRelay != nil {
		a.stopRelay()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.publisher == nil && a.conn != nil {
		a.conn.Close()
	}
}

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging.Level)
	logger.Info("Starting import tracker...")

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to start: %v", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			logger.Errorf("Import tracker error: %v", err)
		}
	}

	logger.Info("Import tracker stopped")
}
