package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	t.Setenv("CTIGRAPH_BADGER_PATH", t.TempDir())
	t.Setenv("CTIGRAPH_USER", "")
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func executeJSON(t *testing.T, v interface{}, args ...string) {
	t.Helper()

	out, err := execute(t, args...)
	require.NoError(t, err, "Expected %v to succeed", args)
	require.NoError(t, json.Unmarshal([]byte(out), v), "Expected JSON output, got %q", out)
}

func TestMigrateCommand(t *testing.T) {
	setupEnv(t)

	t.Run("Valid call migrate", func(t *testing.T) {
		out, err := execute(t, "migrate")
		require.NoError(t, err)
		assert.Contains(t, out, "Schema is up to date")
	})

	t.Run("Valid call migrate with force", func(t *testing.T) {
		out, err := execute(t, "migrate", "--force")
		require.NoError(t, err)
		assert.Contains(t, out, "Schema is up to date")
	})
}

func TestEntityCommands(t *testing.T) {
	setupEnv(t)

	var phase model.Entity
	executeJSON(t, &phase, "create", "--type", "kill-chain-phase",
		"--attr", "kill_chain_name=mitre-attack",
		"--attr", "phase_name=cli-persistence",
		"--attr", "phase_order=3",
	)
	require.NotEqual(t, uuid.Nil, phase.ID)

	t.Run("Create validates kill chain phases", func(t *testing.T) {
		_, err := execute(t, "create", "--type", "kill-chain-phase", "--attr", "kill_chain_name=mitre-attack")
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("Create requires a type", func(t *testing.T) {
		_, err := execute(t, "create", "--attr", "name=x")
		assert.Error(t, err)
	})

	t.Run("Get", func(t *testing.T) {
		var got model.Entity
		executeJSON(t, &got, "get", phase.ID.String())
		assert.Equal(t, phase.StixID, got.StixID)
		assert.Equal(t, "cli-persistence", got.Attributes.String("phase_name"))

		_, err := execute(t, "get", uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)

		_, err = execute(t, "get", "not-a-uuid")
		assert.Error(t, err)
	})

	t.Run("List with filter", func(t *testing.T) {
		var page model.EntityPage
		executeJSON(t, &page, "list", "--type", "kill-chain-phase", "--where", "phase_name=cli-persistence")
		require.Len(t, page.Edges, 1)
		assert.Equal(t, phase.ID, page.Edges[0].Node.ID)
		assert.Equal(t, 1, page.PageInfo.GlobalCount)

		_, err := execute(t, "list", "--type", "kill-chain-phase", "--order", "no_such_column")
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("Edit", func(t *testing.T) {
		var edited model.Entity
		executeJSON(t, &edited, "edit", phase.ID.String(), "--set", "phase_order=4", "--set", "revoked=true")
		order, ok := edited.Attributes.Int("phase_order")
		assert.True(t, ok)
		assert.Equal(t, 4, order)
		assert.True(t, edited.Revoked)

		_, err := execute(t, "edit", phase.ID.String(), "--set", "phase_order=-1")
		assert.ErrorIs(t, err, model.ErrValidation)

		_, err = execute(t, "edit", phase.ID.String(), "--set", "stix_id=x")
		assert.ErrorIs(t, err, model.ErrValidation)

		_, err = execute(t, "edit", phase.ID.String())
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("Generic entity types", func(t *testing.T) {
		var pattern model.Entity
		executeJSON(t, &pattern, "create", "--type", "attack-pattern", "--attr", "name=Phishing")
		assert.Equal(t, "attack-pattern", pattern.Type)

		var edited model.Entity
		executeJSON(t, &edited, "edit", pattern.ID.String(), "--unset", "name", "--set", "x_mitre_id=T1566")
		assert.NotContains(t, edited.Attributes, "name")
		assert.Equal(t, "T1566", edited.Attributes.String("x_mitre_id"))
	})

	t.Run("Delete", func(t *testing.T) {
		var deleted map[string]string
		executeJSON(t, &deleted, "delete", phase.ID.String())
		assert.Equal(t, phase.ID.String(), deleted["id"])

		_, err := execute(t, "get", phase.ID.String())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestRelationCommands(t *testing.T) {
	setupEnv(t)

	var phase, marking model.Entity
	executeJSON(t, &phase, "create", "--type", "kill-chain-phase",
		"--attr", "kill_chain_name=mitre-attack",
		"--attr", "phase_name=cli-execution",
		"--attr", "phase_order=2",
	)
	executeJSON(t, &marking, "create", "--type", "marking-definition", "--attr", "definition=TLP:RED")

	var data model.RelationData
	executeJSON(t, &data, "relate", phase.ID.String(), marking.ID.String(), "--relation-type", "object_marking_refs")
	require.NotNil(t, data.Relation)
	assert.Equal(t, marking.ID, data.Relation.TargetID)
	assert.Equal(t, model.DefaultFromRole, data.Relation.FromRole)
	assert.Equal(t, phase.ID, data.Node.ID)

	t.Run("Relate to a missing entity", func(t *testing.T) {
		_, err := execute(t, "relate", phase.ID.String(), uuid.NewString(), "--relation-type", "uses")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Unrelate", func(t *testing.T) {
		var removed model.RelationData
		executeJSON(t, &removed, "unrelate", phase.ID.String(), data.Relation.ID.String())
		assert.Equal(t, data.Relation.ID, removed.Relation.ID)

		_, err := execute(t, "unrelate", phase.ID.String(), data.Relation.ID.String())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestContextCommands(t *testing.T) {
	setupEnv(t)

	var phase model.Entity
	executeJSON(t, &phase, "create", "--type", "kill-chain-phase",
		"--attr", "kill_chain_name=mitre-attack",
		"--attr", "phase_name=cli-discovery",
		"--attr", "phase_order=7",
	)

	t.Run("Enter and show", func(t *testing.T) {
		var current model.EditContext
		executeJSON(t, &current, "context", "enter", phase.ID.String(), "--user", "alice", "--input", "phase_name=disc")
		assert.Equal(t, "alice", current.UserID)
		assert.Equal(t, "disc", current.PendingInput.String("phase_name"))

		var shown model.EditContext
		executeJSON(t, &shown, "context", "show", phase.ID.String())
		assert.Equal(t, "alice", shown.UserID)
	})

	t.Run("Leave", func(t *testing.T) {
		var entity model.Entity
		executeJSON(t, &entity, "context", "leave", phase.ID.String(), "--user", "bob")
		assert.Equal(t, phase.ID, entity.ID)

		out, err := execute(t, "context", "show", phase.ID.String())
		require.NoError(t, err)
		assert.Equal(t, "null\n", out)
	})

	t.Run("Enter requires a user", func(t *testing.T) {
		_, err := execute(t, "context", "enter", phase.ID.String(), "--user", "")
		assert.ErrorIs(t, err, model.ErrValidation)
	})
}
