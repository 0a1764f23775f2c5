// Package feed follows the server-side import jobs table through the MySQL
// binlog and mirrors its rows into the import registry.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/config"
	"import-tracker/internal/models"
)

// Reader yields binlog events
type Reader interface {
	ReadEvent(ctx context.Context) (*replication.BinlogEvent, error)
}

// Registry is the part of the import registry the feed writes to
type Registry interface {
	Update(db, id string, update models.ImportUpdate) models.ImportInfo
	RemoveImport(db, id string)
}

// ColumnLookup resolves column names when the binlog does not carry them
type ColumnLookup interface {
	Columns(schema, table string) ([]string, error)
}

// Feed applies row events for one table to the registry
type Feed struct {
	reader   Reader
	registry Registry
	columns  ColumnLookup
	cfg      *config.FeedConfig
	logger   *logrus.Logger
	tables   map[uint64]*replication.TableMapEvent // Cache table map events
}

// New creates a feed. columns may be nil when the server writes column
// names into the binlog (binlog_row_metadata=FULL).
func New(cfg *config.FeedConfig, reader Reader, registry Registry, columns ColumnLookup, logger *logrus.Logger) *Feed {
	return &Feed{
		reader:   reader,
		registry: registry,
		columns:  columns,
		cfg:      cfg,
		logger:   logger,
		tables:   make(map[uint64]*replication.TableMapEvent),
	}
}

// Start reads events until ctx is cancelled
func (f *Feed) Start(ctx context.Context) error {
	f.logger.Infof("Following import table %s.%s", f.cfg.Schema, f.cfg.Table)

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Context cancelled, stopping import feed")
			return nil
		default:
		}

		event, err := f.reader.ReadEvent(ctx)
		if err != nil {
			// Timeouts are expected while the table is quiet
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			f.logger.Errorf("Error reading binlog event: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		if err := f.ProcessEvent(event); err != nil {
			f.logger.Errorf("Error processing binlog event: %v", err)
		}
	}
}

// ProcessEvent handles a single binlog event
func (f *Feed) ProcessEvent(event *replication.BinlogEvent) error {
	switch e := event.Event.(type) {
	case *replication.TableMapEvent:
		f.tables[e.TableID] = e
		f.logger.Debugf("Cached table map for %s.%s (ID: %d)", string(e.Schema), string(e.Table), e.TableID)

	case *replication.RowsEvent:
		var deleted bool
		switch event.Header.EventType {
		case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2,
			replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
			deleted = true
		default:
			f.logger.Debugf("Unhandled row event type: %d", event.Header.EventType)
			return nil
		}
		return f.processRows(e, event.Header.EventType, deleted)

	case *replication.RotateEvent:
		f.logger.Infof("Binlog rotated to: %s", string(e.NextLogName))

	default:
		f.logger.Debugf("Unhandled event type: %T", e)
	}
	return nil
}

func (f *Feed) processRows(event *replication.RowsEvent, eventType replication.EventType, deleted bool) error {
	tableMap, ok := f.tables[event.TableID]
	if !ok {
		tableMap = event.Table
	}
	if tableMap == nil {
		return fmt.Errorf("table map not found for table ID %d", event.TableID)
	}
	if !strings.EqualFold(string(tableMap.Schema), f.cfg.Schema) || !strings.EqualFold(string(tableMap.Table), f.cfg.Table) {
		return nil
	}

	columnNames, err := f.columnNames(tableMap)
	if err != nil {
		return err
	}

	rows := event.Rows
	isUpdate := eventType == replication.UPDATE_ROWS_EVENTv0 ||
		eventType == replication.UPDATE_ROWS_EVENTv1 ||
		eventType == replication.UPDATE_ROWS_EVENTv2

	for i := 0; i < len(rows); i++ {
		// UPDATE rows come as [old_1, new_1, old_2, new_2, ...]; only new images matter
		if isUpdate {
			i++
			if i >= len(rows) {
				break
			}
		}
		row := rowMap(columnNames, rows[i])
		db, id, update, ok := RowToUpdate(row, f.cfg.Columns, f.cfg.Database)
		if !ok {
			f.logger.Warnf("Skipping %s.%s row without import id", f.cfg.Schema, f.cfg.Table)
			continue
		}
		if deleted {
			f.registry.RemoveImport(db, id)
			f.logger.Infof("Import %s removed from %s by server", id, db)
			continue
		}
		info := f.registry.Update(db, id, update)
		f.logger.Infof("Import %s in %s is %s", id, db, info.Status)
	}
	return nil
}

func (f *Feed) columnNames(tableMap *replication.TableMapEvent) ([]string, error) {
	if len(tableMap.ColumnName) > 0 {
		names := make([]string, len(tableMap.ColumnName))
		for i, col := range tableMap.ColumnName {
			names[i] = string(col)
		}
		return names, nil
	}
	if f.columns == nil {
		return nil, fmt.Errorf("column names for %s.%s are not in the binlog and no lookup is configured",
			string(tableMap.Schema), string(tableMap.Table))
	}
	names, err := f.columns.Columns(string(tableMap.Schema), string(tableMap.Table))
	if err != nil {
		return nil, fmt.Errorf("failed to get column info: %w", err)
	}
	if len(names) < int(tableMap.ColumnCount) {
		f.logger.Warnf("Column count mismatch: expected %d columns, got %d names", tableMap.ColumnCount, len(names))
	}
	return names, nil
}

func rowMap(columns []string, values []interface{}) map[string]interface{} {
	row := make(map[string]interface{}, len(values))
	for j := 0; j < len(values) && j < len(columns); j++ {
		row[strings.ToLower(columns[j])] = values[j]
	}
	return row
}
