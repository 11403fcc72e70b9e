package adapters

import (
	"encoding/json"
	"fmt"
	"os"
)

// readJSONFile decodes an export file into generic JSON values.
func readJSONFile(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return data, nil
}

// conversationList accepts a single conversation object or an array of them.
func conversationList(data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{v}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// compact drops nil and empty-string values so absent provider fields don't
// turn into explicit nulls in stored metadata.
func compact(m map[string]any) map[string]any {
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			delete(m, k)
		case string:
			if t == "" {
				delete(m, k)
			}
		}
	}
	return m
}

// pairFor maps a conversational role onto sender and recipient.
func pairFor(isUser bool, assistant string) (sender, recipient string) {
	if isUser {
		return "user", assistant
	}
	return assistant, "user"
}
