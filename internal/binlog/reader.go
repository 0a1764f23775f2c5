package binlog

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/config"
)

// readTimeout bounds a single wait for the next event
const readTimeout = 10 * time.Second

// Reader handles reading binlog events from MySQL
type Reader struct {
	syncer       *replication.BinlogSyncer
	streamer     *replication.BinlogStreamer
	position     mysql.Position
	gtidSet      mysql.GTIDSet // nil unless following by GTID
	positionFile string
	logger       *logrus.Logger
}

// NewReader starts a binlog sync from the saved position, or from
// cfg.Binlog.StartPosition when no position was saved yet. With
// mysql.use_gtid it resumes from the saved GTID set, or from
// cfg.Binlog.StartGTID.
func NewReader(cfg *config.FeedConfig, logger *logrus.Logger) (*Reader, error) {
	flavor := cfg.MySQL.Flavor
	if flavor == "" {
		flavor = mysql.MySQLFlavor
	}

	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: cfg.MySQL.ServerID,
		Flavor:   flavor,
		Host:     cfg.MySQL.Host,
		Port:     uint16(cfg.MySQL.Port),
		User:     cfg.MySQL.User,
		Password: cfg.MySQL.Password,
	})

	reader := &Reader{
		syncer:       syncer,
		positionFile: cfg.Binlog.PositionFile,
		logger:       logger,
	}

	saved, _ := os.ReadFile(cfg.Binlog.PositionFile)

	var err error
	if cfg.MySQL.UseGTID {
		reader.gtidSet, err = StartGTIDSet(flavor, string(saved), cfg.Binlog.StartGTID)
		if err != nil {
			syncer.Close()
			return nil, err
		}
		reader.streamer, err = syncer.StartSyncGTID(reader.gtidSet.Clone())
		if err != nil {
			syncer.Close()
			return nil, fmt.Errorf("failed to start binlog sync: %w", err)
		}
		logger.Infof("Started binlog sync from GTID set: %s", reader.gtidSet)
		return reader, nil
	}

	reader.position = mysql.Position{Pos: cfg.Binlog.StartPosition}
	if p, ok := ParsePosition(string(saved)); ok {
		reader.position = p
		logger.Infof("Loaded binlog position from file: %s", p)
	}

	reader.streamer, err = syncer.StartSync(reader.position)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start binlog sync: %w", err)
	}

	logger.Infof("Started binlog sync from position: %s:%d", reader.position.Name, reader.position.Pos)
	return reader, nil
}

// StartGTIDSet picks the GTID set to resume from: the saved one when present,
// otherwise the configured start set. An empty result streams from the
// oldest available binlog.
func StartGTIDSet(flavor, saved, configured string) (mysql.GTIDSet, error) {
	source := strings.TrimSpace(saved)
	if source == "" {
		source = strings.TrimSpace(configured)
	}
	set, err := mysql.ParseGTIDSet(flavor, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GTID set %q: %w", source, err)
	}
	return set, nil
}

// ParsePosition decodes "filename:position". A bare filename is accepted
// with position 0.
func ParsePosition(s string) (mysql.Position, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return mysql.Position{}, false
	}
	// Last colon, so file names containing colons still parse
	if i := strings.LastIndex(s, ":"); i > 0 && i < len(s)-1 {
		if pos, err := strconv.ParseUint(s[i+1:], 10, 32); err == nil {
			return mysql.Position{Name: s[:i], Pos: uint32(pos)}, true
		}
	}
	return mysql.Position{Name: s}, true
}

// FormatPosition encodes a position for the position file
func FormatPosition(p mysql.Position) string {
	return fmt.Sprintf("%s:%d", p.Name, p.Pos)
}

// SavePosition saves the current binlog position to file
func (r *Reader) SavePosition(name string, pos uint32) error {
	if name == "" {
		name = r.position.Name
	}
	if name == "" {
		return nil
	}
	p := mysql.Position{Name: name, Pos: pos}
	if err := os.WriteFile(r.positionFile, []byte(FormatPosition(p)), 0o644); err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	r.position = p
	return nil
}

// ReadEvent waits for the next binlog event and records its position
func (r *Reader) ReadEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	event, err := r.streamer.GetEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get binlog event: %w", err)
	}

	if r.gtidSet != nil {
		r.trackGTID(event)
		return event, nil
	}

	if e, ok := event.Event.(*replication.RotateEvent); ok {
		if err := r.SavePosition(string(e.NextLogName), uint32(e.Position)); err != nil {
			r.logger.Warnf("Failed to save position: %v", err)
		}
	} else if event.Header.LogPos > 0 {
		if err := r.SavePosition(r.position.Name, event.Header.LogPos); err != nil {
			r.logger.Warnf("Failed to save position: %v", err)
		}
	}

	return event, nil
}

// trackGTID saves the executed GTID set at each transaction commit
func (r *Reader) trackGTID(event *replication.BinlogEvent) {
	var executed mysql.GTIDSet
	switch e := event.Event.(type) {
	case *replication.XIDEvent:
		executed = e.GSet
	case *replication.QueryEvent:
		// DDL commits without an XID event
		executed = e.GSet
	}
	if executed == nil {
		return
	}
	r.gtidSet = executed.Clone()
	if err := os.WriteFile(r.positionFile, []byte(r.gtidSet.String()), 0o644); err != nil {
		r.logger.Warnf("Failed to save GTID set: %v", err)
	}
}

// GTIDSet returns the last saved GTID set, nil when following by file:position
func (r *Reader) GTIDSet() mysql.GTIDSet {
	if r.gtidSet == nil {
		return nil
	}
	return r.gtidSet.Clone()
}

// Position returns the last saved position
func (r *Reader) Position() mysql.Position {
	return r.position
}

// Close closes the binlog reader
func (r *Reader) Close() {
	if r.syncer != nil {
		r.syncer.Close()
	}
}
