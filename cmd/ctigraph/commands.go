package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph"
	"github.com/siherrmann/ctigraph/core/lifecycle"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	user    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "ctigraph",
		Short: "Manage threat intelligence entities, their relations and edit contexts",
		Long: `ctigraph stores STIX-like entities in PostgreSQL, links them with relations
and announces every change on the notification bus.

The database is configured with the CTIGRAPH_DB_* variables, the edit context
store with CTIGRAPH_BADGER_PATH and CTIGRAPH_EDIT_CONTEXT_TTL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultUser := os.Getenv("CTIGRAPH_USER")
	if defaultUser == "" {
		defaultUser = "cli"
	}
	rootCmd.PersistentFlags().StringVarP(&opts.user, "user", "u", defaultUser, "acting user recorded on notifications and edit contexts")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at info level")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newCreateCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newEditCmd(opts),
		newDeleteCmd(opts),
		newRelateCmd(opts),
		newUnrelateCmd(opts),
		newContextCmd(opts),
	)

	return rootCmd
}

// loadConfigurations reads the database and ctigraph configuration from the environment.
func loadConfigurations(opts *options) (*helper.DatabaseConfiguration, *helper.Configuration, error) {
	dbConfig, err := helper.NewDatabaseConfiguration()
	if err != nil {
		return nil, nil, err
	}
	config, err := helper.NewConfiguration()
	if err != nil {
		return nil, nil, err
	}
	if !opts.verbose && config.LogLevel < slog.LevelWarn {
		config.LogLevel = slog.LevelWarn
	}
	return dbConfig, config, nil
}

// withGraph opens a CTIGraph for the duration of fn.
func withGraph(cmd *cobra.Command, opts *options, fn func(ctx context.Context, g *ctigraph.CTIGraph) error) error {
	dbConfig, config, err := loadConfigurations(opts)
	if err != nil {
		return err
	}

	g, err := ctigraph.NewCTIGraph(dbConfig, config)
	if err != nil {
		return err
	}
	defer g.Close()

	return fn(cmd.Context(), g)
}

// serviceFor resolves the lifecycle service of an existing entity, registering its
// type when it was created by an earlier run.
func serviceFor(ctx context.Context, g *ctigraph.CTIGraph, id uuid.UUID) (*lifecycle.Service, error) {
	entity, err := g.Entities.SelectEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.RegisterEntityType(entity.Type)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, helper.NewError("parse id", err)
	}
	return id, nil
}
