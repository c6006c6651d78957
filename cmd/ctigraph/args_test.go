package main

import (
	"testing"

	"github.com/siherrmann/ctigraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	t.Run("Valid call parseAssignments", func(t *testing.T) {
		attributes, err := parseAssignments([]string{
			"phase_name=persistence",
			"phase_order=3",
			"x_opencti_flag=true",
			"labels=[\"a\",\"b\"]",
			"empty=",
			"note=a=b",
		})
		require.NoError(t, err)
		assert.Equal(t, "persistence", attributes["phase_name"])
		assert.Equal(t, float64(3), attributes["phase_order"])
		assert.Equal(t, true, attributes["x_opencti_flag"])
		assert.Equal(t, []interface{}{"a", "b"}, attributes["labels"])
		assert.Equal(t, "", attributes["empty"])
		assert.Equal(t, "a=b", attributes["note"])
	})

	t.Run("Missing separator", func(t *testing.T) {
		_, err := parseAssignments([]string{"phase_name"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("Empty key", func(t *testing.T) {
		_, err := parseAssignments([]string{"=value"})
		assert.ErrorIs(t, err, model.ErrValidation)
	})
}

func TestParseChanges(t *testing.T) {
	t.Run("Valid call parseChanges", func(t *testing.T) {
		changes, err := parseChanges([]string{"phase_order=4", "revoked=true"}, []string{"description"})
		require.NoError(t, err)
		assert.Equal(t, []model.FieldChange{
			{Key: "phase_order", Value: float64(4)},
			{Key: "revoked", Value: true},
			{Key: "description", Value: nil},
		}, changes)
	})

	t.Run("No changes", func(t *testing.T) {
		_, err := parseChanges(nil, nil)
		assert.ErrorIs(t, err, model.ErrValidation)
	})
}
