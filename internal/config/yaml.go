package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON turns the raw config bytes into JSON. Files with a .yaml/.yml
// extension are decoded and re-marshaled; anything else is assumed to be JSON
// already. Funneling both formats through one JSON decoder keeps
// DisallowUnknownFields in effect for YAML configs too.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	j, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

// stringifyKeys rewrites any non-string map keys a YAML document may carry;
// json.Marshal rejects map[any]any.
func stringifyKeys(in any) any {
	switch v := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = stringifyKeys(item)
		}
		return out
	case map[string]any:
		for k, item := range v {
			v[k] = stringifyKeys(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = stringifyKeys(item)
		}
		return v
	default:
		return in
	}
}
