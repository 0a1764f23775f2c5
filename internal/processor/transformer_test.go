package processor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"import-tracker/internal/config"
	"import-tracker/internal/models"
)

func sampleChange() *models.Change {
	info := models.ImportInfo{ID: "_new_0", Name: "people.csv", Status: models.StatusError, Error: "bad header"}
	return &models.Change{
		ID:        "c1",
		Type:      models.ChangeAdded,
		Database:  "analytics",
		Timestamp: 1700000000,
		Info:      &info,
		All:       []models.ImportInfo{info},
	}
}

func TestTransformDisabledPassesThrough(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr, err := NewTransformer(nil, logger, nil)
	require.NoError(t, err)

	change := sampleChange()
	out, err := tr.Transform(change)

	require.NoError(t, err)
	assert.Same(t, change, out)
}

func TestTransformWithRules(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr, err := NewTransformer(&config.ProcessorConfig{
		Enabled: true,
		Rules: []config.TransformRule{{
			Database:  "Analytics",
			Exclude:   []string{"error"},
			Rename:    map[string]string{"name": "file_name"},
			AddFields: map[string]string{"source": "ui"},
		}},
	}, logger, nil)
	require.NoError(t, err)

	out, err := tr.Transform(sampleChange())
	require.NoError(t, err)
	require.NotEmpty(t, out.RawJSON)

	var decoded struct {
		Type string                   `json:"type"`
		Info map[string]interface{}   `json:"info"`
		All  []map[string]interface{} `json:"all"`
	}
	require.NoError(t, json.Unmarshal(out.RawJSON, &decoded))

	assert.Equal(t, "added", decoded.Type)
	assert.Equal(t, "people.csv", decoded.Info["file_name"])
	assert.Equal(t, "ui", decoded.Info["source"])
	assert.NotContains(t, decoded.Info, "error")
	assert.NotContains(t, decoded.Info, "name")
	require.Len(t, decoded.All, 1)
	assert.Equal(t, "people.csv", decoded.All[0]["file_name"])
}

func TestTransformRulesNoMatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr, err := NewTransformer(&config.ProcessorConfig{
		Enabled: true,
		Rules:   []config.TransformRule{{Database: "other", Include: []string{"id"}}},
	}, logger, nil)
	require.NoError(t, err)

	change := sampleChange()
	out, err := tr.Transform(change)

	require.NoError(t, err)
	assert.Same(t, change, out)
}

func TestTransformWithJavaScript(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	tr, err := NewTransformer(nil, logger, nil)
	require.NoError(t, err)

	require.NoError(t, tr.LoadScript(`(function(change) {
		console.log("saw", change.type);
		change.count = change.all.length;
		change.info.name = change.info.name.toUpperCase();
		return change;
	})`))

	out, err := tr.Transform(sampleChange())
	require.NoError(t, err)

	assert.Equal(t, models.ChangeAdded, out.Type)
	require.NotNil(t, out.Info)
	assert.Equal(t, "PEOPLE.CSV", out.Info.Name)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(out.RawJSON, &raw))
	assert.EqualValues(t, 1, raw["count"])

	var sawConsole bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "sawadded" || entry.Message == "saw added" {
			sawConsole = true
		}
	}
	assert.True(t, sawConsole, "console.log should reach the logger")
}

func TestTransformJavaScriptNamedFunctionRejects(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr, err := NewTransformer(nil, logger, nil)
	require.NoError(t, err)

	require.NoError(t, tr.LoadScript(`function transform(change) {
		if (change.type === "removed") { return null; }
		return change;
	}`))

	change := sampleChange()
	change.Type = models.ChangeRemoved
	_, err = tr.Transform(change)
	assert.ErrorIs(t, err, ErrEventRejected)
}

func TestLoadScriptRequiresFunction(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr, err := NewTransformer(nil, logger, nil)
	require.NoError(t, err)

	assert.Error(t, tr.LoadScript(`var x = 1;`))
	assert.Error(t, tr.LoadScript(`this is not javascript`))
}

func TestNewTransformerLoadsScriptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transform.js")
	require.NoError(t, os.WriteFile(path, []byte(`(function(c) { return c; })`), 0o600))

	logger, _ := test.NewNullLogger()
	tr, err := NewTransformer(&config.ProcessorConfig{Enabled: true, Script: path}, logger, nil)
	require.NoError(t, err)

	out, err := tr.Transform(sampleChange())
	require.NoError(t, err)
	assert.Equal(t, "analytics", out.Database)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.ProcessorConfig
		wantErr bool
	}{
		{name: "nil", cfg: nil},
		{name: "disabled ignores rules", cfg: &config.ProcessorConfig{Script: "missing.js"}},
		{name: "missing script", cfg: &config.ProcessorConfig{Enabled: true, Script: "/does/not/exist.js"}, wantErr: true},
		{
			name: "include and exclude",
			cfg: &config.ProcessorConfig{Enabled: true, Rules: []config.TransformRule{
				{Include: []string{"id"}, Exclude: []string{"name"}},
			}},
			wantErr: true,
		},
		{
			name: "rename outside include",
			cfg: &config.ProcessorConfig{Enabled: true, Rules: []config.TransformRule{
				{Include: []string{"id"}, Rename: map[string]string{"name": "file"}},
			}},
			wantErr: true,
		},
		{
			name: "rename inside include",
			cfg: &config.ProcessorConfig{Enabled: true, Rules: []config.TransformRule{
				{Include: []string{"id", "Name"}, Rename: map[string]string{"name": "file"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
