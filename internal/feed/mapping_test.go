package feed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"import-tracker/internal/config"
	"import-tracker/internal/models"
)

func TestRowToUpdateDatabaseColumn(t *testing.T) {
	cols := config.ColumnMapping{ID: "id", Database: "db_name", Status: "status"}

	db, id, update, ok := RowToUpdate(map[string]interface{}{
		"id":      int64(12),
		"db_name": []byte("analytics"),
		"status":  "COMPLETED",
	}, cols, "fallback")

	require.True(t, ok)
	assert.Equal(t, "analytics", db)
	assert.Equal(t, "12", id)
	require.NotNil(t, update.Status)
	assert.Equal(t, models.StatusDone, *update.Status)
	assert.Nil(t, update.Name)
	assert.Nil(t, update.Progress)
}

func TestRowToUpdateFallsBackToDefaultDatabase(t *testing.T) {
	cols := config.ColumnMapping{ID: "id", Database: "db_name"}

	db, _, _, ok := RowToUpdate(map[string]interface{}{"id": "1", "db_name": nil}, cols, "db1")

	require.True(t, ok)
	assert.Equal(t, "db1", db)
}

func TestRowToUpdateRejectsMissingKeys(t *testing.T) {
	cols := config.ColumnMapping{ID: "id"}

	_, _, _, ok := RowToUpdate(map[string]interface{}{"id": nil}, cols, "db1")
	assert.False(t, ok)

	_, _, _, ok = RowToUpdate(map[string]interface{}{"id": "1"}, cols, "")
	assert.False(t, ok)
}

func TestRowToUpdateNullErrorClears(t *testing.T) {
	cols := config.ColumnMapping{ID: "id", Error: "err"}

	_, _, update, ok := RowToUpdate(map[string]interface{}{"id": "1", "err": nil}, cols, "db1")

	require.True(t, ok)
	require.NotNil(t, update.Error)
	assert.Empty(t, *update.Error)
}

func TestRowToUpdateProgress(t *testing.T) {
	cols := config.ColumnMapping{ID: "id", Loaded: "loaded", Total: "total"}

	_, _, update, ok := RowToUpdate(map[string]interface{}{"id": "1", "loaded": uint32(3), "total": []byte("4")}, cols, "db1")
	require.True(t, ok)
	require.NotNil(t, update.Progress)
	assert.Equal(t, int64(3), update.Progress.Loaded)
	assert.Equal(t, int64(4), update.Progress.Total)
	assert.Equal(t, float64(75), update.Progress.PercentCompleted)

	_, _, update, _ = RowToUpdate(map[string]interface{}{"id": "1", "loaded": int8(3)}, cols, "db1")
	require.NotNil(t, update.Progress)
	assert.Zero(t, update.Progress.PercentCompleted)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, models.StatusIdle, ParseStatus("queued"))
	assert.Equal(t, models.StatusLoading, ParseStatus(" In_Progress "))
	assert.Equal(t, models.StatusDone, ParseStatus("success"))
	assert.Equal(t, models.StatusError, ParseStatus("FAILED"))
	assert.Equal(t, models.Status("paused"), ParseStatus("Paused"))
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.MySQLConfig{Host: "db.internal", Port: 3307, User: "tracker", Password: "secret"})

	assert.Contains(t, dsn, "tracker:secret@tcp(db.internal:3307)/")
	assert.Contains(t, dsn, "timeout=5s")
}

func TestRowToUpdateRejectsOverflowingUnsigned(t *testing.T) {
	cols := config.ColumnMapping{ID: "id", Loaded: "loaded", Total: "total"}

	_, _, update, ok := RowToUpdate(map[string]interface{}{
		"id":     "1",
		"loaded": uint64(math.MaxUint64),
		"total":  uint64(math.MaxInt64),
	}, cols, "db1")

	require.True(t, ok)
	require.NotNil(t, update.Progress)
	assert.Zero(t, update.Progress.Loaded)
	assert.Equal(t, int64(math.MaxInt64), update.Progress.Total)
	assert.Zero(t, update.Progress.PercentCompleted)
}
