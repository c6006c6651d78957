package main

import (
	"encoding/json"
	"strings"

	"github.com/siherrmann/ctigraph/model"
)

// parseValue decodes a flag value as JSON and falls back to the raw string,
// so 3 is a number, true a bool and persistence a string.
func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// parseAssignments turns key=value pairs into attributes.
func parseAssignments(pairs []string) (model.Attributes, error) {
	attributes := model.Attributes{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, model.NewValidationError("expected key=value, got %q", pair)
		}
		attributes[key] = parseValue(value)
	}
	return attributes, nil
}

// parseChanges builds field changes from --set pairs and --unset keys.
func parseChanges(set []string, unset []string) ([]model.FieldChange, error) {
	attributes, err := parseAssignments(set)
	if err != nil {
		return nil, err
	}

	changes := make([]model.FieldChange, 0, len(set)+len(unset))
	for _, pair := range set {
		key, _, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		changes = append(changes, model.FieldChange{Key: key, Value: attributes[key]})
	}
	for _, key := range unset {
		changes = append(changes, model.FieldChange{Key: strings.TrimSpace(key), Value: nil})
	}

	if len(changes) == 0 {
		return nil, model.NewValidationError("no changes given, use --set or --unset")
	}
	return changes, nil
}
