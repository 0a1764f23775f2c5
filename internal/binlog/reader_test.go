package binlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in   string
		want mysql.Position
		ok   bool
	}{
		{in: "mysql-bin.000003:1544\n", want: mysql.Position{Name: "mysql-bin.000003", Pos: 1544}, ok: true},
		{in: "dir:with:colons.000001:4", want: mysql.Position{Name: "dir:with:colons.000001", Pos: 4}, ok: true},
		{in: "mysql-bin.000007", want: mysql.Position{Name: "mysql-bin.000007"}, ok: true},
		{in: "mysql-bin.000007:", want: mysql.Position{Name: "mysql-bin.000007:"}, ok: true},
		{in: "  ", ok: false},
	}

	for _, tt := range tests {
		got, ok := ParsePosition(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatPositionRoundTrip(t *testing.T) {
	p := mysql.Position{Name: "binlog.000010", Pos: 987}
	got, ok := ParsePosition(FormatPosition(p))
	assert.True(t, ok)
	assert.Equal(t, p, got)
}

const serverUUID = "3e11fa47-71ca-11e1-9e33-c80aa9429562"

func TestStartGTIDSetPrefersSaved(t *testing.T) {
	set, err := StartGTIDSet(mysql.MySQLFlavor, serverUUID+":1-23\n", serverUUID+":1-5")
	require.NoError(t, err)

	want, err := mysql.ParseGTIDSet(mysql.MySQLFlavor, serverUUID+":1-23")
	require.NoError(t, err)
	assert.True(t, set.Equal(want))
}

func TestStartGTIDSetFallsBackToConfigured(t *testing.T) {
	set, err := StartGTIDSet(mysql.MySQLFlavor, "  ", serverUUID+":1-5")
	require.NoError(t, err)
	assert.Equal(t, serverUUID+":1-5", set.String())

	empty, err := StartGTIDSet(mysql.MySQLFlavor, "", "")
	require.NoError(t, err)
	assert.Empty(t, empty.String())
}

func TestStartGTIDSetInvalid(t *testing.T) {
	_, err := StartGTIDSet(mysql.MySQLFlavor, "not-a-gtid-set", "")
	assert.Error(t, err)
}

func TestTrackGTIDSavesExecutedSet(t *testing.T) {
	start, err := mysql.ParseGTIDSet(mysql.MySQLFlavor, serverUUID+":1-5")
	require.NoError(t, err)
	executed, err := mysql.ParseGTIDSet(mysql.MySQLFlavor, serverUUID+":1-6")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "binlog.pos")
	r := &Reader{gtidSet: start, positionFile: path, logger: logger}

	// Row events carry no GTID set and must not touch the file
	r.trackGTID(&replication.BinlogEvent{
		Header: &replication.EventHeader{EventType: replication.WRITE_ROWS_EVENTv2},
		Event:  &replication.RowsEvent{},
	})
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	r.trackGTID(&replication.BinlogEvent{
		Header: &replication.EventHeader{EventType: replication.XID_EVENT},
		Event:  &replication.XIDEvent{XID: 9, GSet: executed},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, serverUUID+":1-6", string(data))
	assert.True(t, r.GTIDSet().Equal(executed))

	resumed, err := StartGTIDSet(mysql.MySQLFlavor, string(data), "")
	require.NoError(t, err)
	assert.True(t, resumed.Equal(executed))
}
