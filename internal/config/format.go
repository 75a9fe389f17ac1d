package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk syntax of a config file, chosen by extension.
type Format string

const (
	FormatJSON Format = "json" // .json and .jsonc, comments and trailing commas allowed
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// toJSON rewrites data as plain JSON so one strict decoder serves both
// formats and unknown keys are caught the same way.
func toJSON(f Format, data []byte) ([]byte, error) {
	if f == FormatJSON {
		return jsonc.ToJSON(data), nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

// stringKeys converts map[any]any nodes, which json cannot marshal.
func stringKeys(v any) any {
	switch n := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range n {
			n[k] = stringKeys(val)
		}
		return n
	case []any:
		for i, val := range n {
			n[i] = stringKeys(val)
		}
		return n
	}
	return v
}
