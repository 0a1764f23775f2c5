package feed

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"import-tracker/internal/config"
	"import-tracker/internal/models"
)

// RowToUpdate maps a table row (lower-cased column names) to a registry
// update. ok is false when the row has no usable id or database.
func RowToUpdate(row map[string]interface{}, cols config.ColumnMapping, defaultDB string) (db, id string, update models.ImportUpdate, ok bool) {
	id, _ = stringColumn(row, cols.ID)
	if id == "" {
		return "", "", update, false
	}

	db = defaultDB
	if cols.Database != "" {
		if v, found := stringColumn(row, cols.Database); found && v != "" {
			db = v
		}
	}
	if db == "" {
		return "", "", update, false
	}

	if v, found := stringColumn(row, cols.Name); found {
		update.Name = models.StringPtr(v)
	}
	if v, found := stringColumn(row, cols.Schema); found {
		update.Schema = models.StringPtr(v)
	}
	if v, found := stringColumn(row, cols.Status); found && v != "" {
		update.Status = models.StatusPtr(ParseStatus(v))
	}
	if v, found := stringColumn(row, cols.Error); found {
		update.Error = models.StringPtr(v)
	}

	loaded, hasLoaded := intColumn(row, cols.Loaded)
	total, hasTotal := intColumn(row, cols.Total)
	if hasLoaded || hasTotal {
		progress := &models.UploadProgress{Loaded: loaded, Total: total}
		if total > 0 {
			progress.PercentCompleted = float64(loaded) / float64(total) * 100
		}
		update.Progress = progress
	}

	return db, id, update, true
}

// ParseStatus maps server-side status names onto the upload states
func ParseStatus(s string) models.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle", "pending", "queued", "new":
		return models.StatusIdle
	case "loading", "running", "in_progress", "in-progress", "processing", "uploading":
		return models.StatusLoading
	case "done", "success", "succeeded", "completed", "complete":
		return models.StatusDone
	case "error", "failed", "failure":
		return models.StatusError
	default:
		return models.Status(strings.ToLower(strings.TrimSpace(s)))
	}
}

func stringColumn(row map[string]interface{}, column string) (string, bool) {
	if column == "" {
		return "", false
	}
	v, found := row[strings.ToLower(column)]
	if !found || v == nil {
		return "", found
	}
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return fmt.Sprint(val), true
	}
}

func intColumn(row map[string]interface{}, column string) (int64, bool) {
	if column == "" {
		return 0, false
	}
	v, found := row[strings.ToLower(column)]
	if !found || v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	case float64:
		return int64(val), true
	case float32:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(val), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
