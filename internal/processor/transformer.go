package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/config"
	"import-tracker/internal/models"
)

// ErrEventRejected is returned when a JavaScript transform function rejects a change
// by returning null or undefined
var ErrEventRejected = errors.New("event rejected by transformer")

// Transformer rewrites import changes before they leave the process
type Transformer struct {
	config   *config.ProcessorConfig
	logger   *logrus.Logger
	rules    []*RuleMatcher
	jsScript string     // Cached script content
	natsConn *nats.Conn // NATS connection for JavaScript bindings
}

// RuleMatcher matches and applies transformation rules
type RuleMatcher struct {
	database  string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
}

// NewTransformer creates a new transformer with the given configuration
func NewTransformer(cfg *config.ProcessorConfig, logger *logrus.Logger, natsConn *nats.Conn) (*Transformer, error) {
	transformer := &Transformer{
		config:   cfg,
		logger:   logger,
		rules:    []*RuleMatcher{},
		natsConn: natsConn,
	}

	if cfg == nil || !cfg.Enabled {
		return transformer, nil
	}

	if err := ValidateRules(cfg); err != nil {
		return nil, err
	}

	if cfg.Script != "" {
		scriptContent, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
		}
		if err := transformer.LoadScript(string(scriptContent)); err != nil {
			return nil, err
		}
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
	}

	rules := make([]*RuleMatcher, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		matcher := &RuleMatcher{
			database:  rule.Database,
			include:   make(map[string]bool),
			exclude:   make(map[string]bool),
			rename:    make(map[string]string),
			addFields: rule.AddFields,
		}
		for _, field := range rule.Include {
			matcher.include[strings.ToLower(field)] = true
		}
		for _, field := range rule.Exclude {
			matcher.exclude[strings.ToLower(field)] = true
		}
		for from, to := range rule.Rename {
			matcher.rename[strings.ToLower(from)] = to
		}
		rules = append(rules, matcher)
	}
	transformer.rules = rules

	return transformer, nil
}

// LoadScript validates and installs JavaScript source as the transformation
func (t *Transformer) LoadScript(scriptContent string) error {
	if err := validateJavaScriptScript(scriptContent); err != nil {
		return fmt.Errorf("invalid JavaScript script: %w", err)
	}
	t.jsScript = scriptContent
	return nil
}

// validateJavaScriptScript checks that the script yields a transform function
func validateJavaScriptScript(scriptContent string) error {
	vm := goja.New()

	// Accepted forms:
	// 1. An anonymous function: (function(change) { return change; })
	// 2. A named function: function transform(change) { return change; }
	// 3. A function assigned to a variable: var transform = function(change) { return change; }
	result, err := vm.RunString(scriptContent)
	if err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}
	if _, ok := resolveTransform(vm, result); !ok {
		return fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
	}
	return nil
}

func resolveTransform(vm *goja.Runtime, scriptResult goja.Value) (goja.Callable, bool) {
	if scriptResult != nil && !goja.IsUndefined(scriptResult) && !goja.IsNull(scriptResult) {
		if fn, ok := goja.AssertFunction(scriptResult); ok {
			return fn, true
		}
	}
	transformVar := vm.Get("transform")
	if transformVar != nil && !goja.IsUndefined(transformVar) && !goja.IsNull(transformVar) {
		return goja.AssertFunction(transformVar)
	}
	return nil, false
}

// Transform applies the configured script or rules to a change.
// The returned change carries RawJSON when its shape no longer fits models.Change.
func (t *Transformer) Transform(change *models.Change) (*models.Change, error) {
	if t.jsScript != "" {
		return t.transformWithJavaScript(change)
	}
	if len(t.rules) > 0 {
		return t.transformWithRules(change)
	}
	return change, nil
}

// transformWithJavaScript transforms a change using JavaScript script
func (t *Transformer) transformWithJavaScript(change *models.Change) (*models.Change, error) {
	changeJSON, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change to JSON: %w", err)
	}

	t.logger.Debugf("Transforming %s change for %s with JavaScript", change.Type, change.Database)

	// goja.Runtime is not thread-safe, so every call gets its own
	vm := goja.New()

	if err := t.setupConsoleBindings(vm); err != nil {
		return nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}
	if t.natsConn != nil {
		if err := t.setupNATSBindings(vm); err != nil {
			return nil, fmt.Errorf("failed to setup NATS bindings: %w", err)
		}
	}

	scriptResult, err := vm.RunString(t.jsScript)
	if err != nil {
		return nil, fmt.Errorf("failed to execute JavaScript script: %w", err)
	}
	callable, ok := resolveTransform(vm, scriptResult)
	if !ok {
		return nil, fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
	}

	if err := vm.Set("changeJSON", string(changeJSON)); err != nil {
		return nil, fmt.Errorf("failed to set change JSON: %w", err)
	}
	changeObj, err := vm.RunString("JSON.parse(changeJSON)")
	if err != nil {
		return nil, fmt.Errorf("failed to parse change JSON: %w", err)
	}

	result, err := callable(goja.Undefined(), changeObj)
	if err != nil {
		t.logger.Errorf("JavaScript transform function error: %v", err)
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		t.logger.Infof("Change rejected by JavaScript transformer: %s (type: %s)", change.Database, change.Type)
		return nil, ErrEventRejected
	}

	resultJSON, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	t.logger.Debugf("JavaScript transformation result: %s", string(resultJSON))

	// Known fields are decoded back; RawJSON keeps whatever else the script added
	transformed := &models.Change{}
	if err := json.Unmarshal(resultJSON, transformed); err != nil {
		t.logger.Warnf("JavaScript result does not match the change shape: %v", err)
		transformed = &models.Change{ID: change.ID, Type: change.Type, Database: change.Database, Timestamp: change.Timestamp}
	}
	transformed.RawJSON = resultJSON

	return transformed, nil
}

// transformWithRules transforms the records of a change using YAML rules
func (t *Transformer) transformWithRules(change *models.Change) (*models.Change, error) {
	var matchedRule *RuleMatcher
	for _, rule := range t.rules {
		if rule.matches(change.Database) {
			matchedRule = rule
			break
		}
	}
	if matchedRule == nil {
		return change, nil
	}

	out := map[string]interface{}{
		"id":        change.ID,
		"type":      change.Type,
		"database":  change.Database,
		"timestamp": change.Timestamp,
	}

	if change.Info != nil {
		info, err := recordMap(*change.Info)
		if err != nil {
			return nil, err
		}
		out["info"] = t.transformRow(info, matchedRule)
	}

	all := make([]map[string]interface{}, 0, len(change.All))
	for _, record := range change.All {
		row, err := recordMap(record)
		if err != nil {
			return nil, err
		}
		all = append(all, t.transformRow(row, matchedRule))
	}
	out["all"] = all

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transformed change: %w", err)
	}

	transformed := *change
	transformed.RawJSON = raw
	return &transformed, nil
}

func recordMap(info models.ImportInfo) (map[string]interface{}, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal import %s: %w", info.ID, err)
	}
	var row map[string]interface{}
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal import %s: %w", info.ID, err)
	}
	return row, nil
}

// transformRow applies transformation rules to a single import record
func (t *Transformer) transformRow(row map[string]interface{}, rule *RuleMatcher) map[string]interface{} {
	if row == nil {
		return nil
	}

	transformed := make(map[string]interface{})

	for key, value := range rule.addFields {
		transformed[key] = value
	}

	for key, value := range row {
		keyLower := strings.ToLower(key)

		if len(rule.exclude) > 0 && rule.exclude[keyLower] {
			continue
		}
		if len(rule.include) > 0 && !rule.include[keyLower] {
			continue
		}

		outputKey := key
		if newName, ok := rule.rename[keyLower]; ok {
			outputKey = newName
		}
		transformed[outputKey] = value
	}

	return transformed
}

// matches checks if a rule applies to the given database (empty = all databases)
func (r *RuleMatcher) matches(database string) bool {
	return r.database == "" || strings.EqualFold(r.database, database)
}

// setupConsoleBindings sets up console JavaScript bindings in the VM
func (t *Transformer) setupConsoleBindings(vm *goja.Runtime) error {
	consoleObj := vm.NewObject()

	formatArgs := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}

	bindings := map[string]func(args ...interface{}){
		"log":   t.logger.Info,
		"info":  t.logger.Info,
		"error": t.logger.Error,
		"warn":  t.logger.Warn,
		"debug": t.logger.Debug,
	}

	for name, logFn := range bindings {
		logFn := logFn
		fn := func(call goja.FunctionCall) goja.Value {
			logFn(formatArgs(call))
			return goja.Undefined()
		}
		if err := consoleObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}

	if err := vm.Set("console", consoleObj); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// setupNATSBindings exposes nats.publish to the script
func (t *Transformer) setupNATSBindings(vm *goja.Runtime) error {
	natsObj := vm.NewObject()

	publishFn := func(call goja.FunctionCall) goja.Value {
		subject := call.Argument(0).String()
		if subject == "" {
			panic(vm.NewTypeError("nats.publish: subject is required"))
		}

		dataArg := call.Argument(1)
		if goja.IsUndefined(dataArg) || goja.IsNull(dataArg) {
			panic(vm.NewTypeError("nats.publish: data is required"))
		}

		var dataBytes []byte
		switch v := dataArg.Export().(type) {
		case string:
			dataBytes = []byte(v)
		case []byte:
			dataBytes = v
		default:
			var err error
			dataBytes, err = json.Marshal(v)
			if err != nil {
				panic(vm.NewTypeError("nats.publish: failed to marshal data: %v", err))
			}
		}

		if err := t.natsConn.Publish(subject, dataBytes); err != nil {
			t.logger.Errorf("NATS publish error: %v", err)
			panic(vm.NewGoError(err))
		}

		t.logger.Debugf("Published to NATS subject: %s", subject)
		return goja.Undefined()
	}

	if err := natsObj.Set("publish", publishFn); err != nil {
		return fmt.Errorf("failed to set publish function: %w", err)
	}
	if err := vm.Set("nats", natsObj); err != nil {
		return fmt.Errorf("failed to set nats object: %w", err)
	}
	return nil
}

// ValidateRules validates processor configuration rules
func ValidateRules(cfg *config.ProcessorConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
	}

	if cfg.Script != "" && len(cfg.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}

		if len(rule.Rename) > 0 && len(rule.Include) > 0 {
			for oldName := range rule.Rename {
				found := false
				for _, inc := range rule.Include {
					if strings.EqualFold(inc, oldName) {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, oldName)
				}
			}
		}
	}

	return nil
}
