package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittomover configuration file
#
# Durations use Go syntax (30s, 5m, 1h30m). Every value can be overridden
# through the environment, e.g. DITTOMOVER_LOGGING_LEVEL=DEBUG.
`

// comments documents the generated file, keyed by dotted yaml path.
var comments = map[string]string{
	"logging":                             "Log output: level DEBUG|INFO|WARN|ERROR, format text|json, output stdout|stderr|<file>",
	"server":                              "Process settings",
	"server.state_dir":                    "Run-schedule files and the default queue location",
	"server.metrics":                      "Prometheus endpoint served on /metrics",
	"mover":                               "Stages: incoming -> buffer -> target",
	"mover.incoming":                      "Scanned for new items; highwater_mark_kb is the free space (kB) below which a stage pauses",
	"mover.outgoing":                      "Watched for free space only (leave path empty for remote targets)",
	"mover.quiet_period":                  "An incoming item must stay unchanged this long before it is moved",
	"mover.inactivity_period":             "A native copy moving no data this long is aborted",
	"mover.failure_interval":              "Wait between two attempts of a failed transfer",
	"mover.prefix_for_incoming":           "Prepended to item names; ${timestamp} and ${host} are bound",
	"mover.data_completed_script":         "Run with the item path once an item is buffered",
	"mover.transfer_rate_bytes":           "Bytes per second for native copies and uploads (0 for no limit)",
	"copier":                              "Local copies: native, hardlink or rsync",
	"target":                              "Where finished items go: filesystem or s3",
	"target.s3":                           "region, bucket, key_prefix, endpoint, access_key_id, secret_access_key, part_size, max_retries",
	"queue":                               "Outgoing queue persistence: memory, file or badger",
	"gc":                                  "Removal of stale partial copies",
	"tasks":                               "Maintenance tasks: name plus properties (class, interval, start, run-schedule, ...)",

	"mover.ignored_errors_before_notification": "Listing errors tolerated before a failure is reported",
}

var durationType = reflect.TypeOf(time.Duration(0))

// InitConfig writes the default configuration to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: The file exists (without force) or cannot be written
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as commented YAML. Durations are
// written in Go syntax so that the file stays readable.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root, err := buildNode(reflect.ValueOf(cfg), "")
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	return buf.String(), nil
}

func buildNode(v reflect.Value, path string) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: time.Duration(v.Int()).String()}, nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
		}
		return buildNode(v.Elem(), path)

	case reflect.Struct:
		node := &yaml.Node{Kind: yaml.MappingNode}
		for i := 0; i < v.NumField(); i++ {
			name, _, _ := strings.Cut(v.Type().Field(i).Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				continue
			}
			key := joinPath(path, name)
			value, err := buildNode(v.Field(i), key)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, keyNode(name, key), value)
		}
		return node, nil

	case reflect.Map:
		node := &yaml.Node{Kind: yaml.MappingNode}
		if v.Len() == 0 {
			node.Style = yaml.FlowStyle
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, fmt.Sprint(k.Interface()))
		}
		sort.Strings(keys)
		for _, k := range keys {
			value, err := buildNode(v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key())), joinPath(path, k))
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, keyNode(k, joinPath(path, k)), value)
		}
		return node, nil

	case reflect.Slice:
		node := &yaml.Node{Kind: yaml.SequenceNode}
		if v.Len() == 0 {
			node.Style = yaml.FlowStyle
		}
		for i := 0; i < v.Len(); i++ {
			value, err := buildNode(v.Index(i), path)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, value)
		}
		return node, nil

	default:
		var node yaml.Node
		if err := node.Encode(v.Interface()); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", path, err)
		}
		return &node, nil
	}
}

func keyNode(name, path string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode, Value: name}
	if c, ok := comments[path]; ok {
		node.HeadComment = "# " + c
	}
	return node
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
