package main

import (
	"context"

	"github.com/siherrmann/ctigraph"
	"github.com/spf13/cobra"
)

func newContextCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage the edit context of an entity",
		Long: `Edit contexts are advisory markers telling other users who is editing an entity.
They live in the edit context store and expire after CTIGRAPH_EDIT_CONTEXT_TTL.
Without CTIGRAPH_BADGER_PATH the store is in-memory and does not outlive the command.`,
	}

	cmd.AddCommand(newContextEnterCmd(opts), newContextLeaveCmd(opts), newContextShowCmd(opts))

	return cmd
}

func newContextEnterCmd(opts *options) *cobra.Command {
	var input []string

	cmd := &cobra.Command{
		Use:   "enter <id>",
		Short: "Mark the entity as edited by the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pending, err := parseAssignments(input)
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				service, err := serviceFor(ctx, g, id)
				if err != nil {
					return err
				}
				if _, err := service.EnterEditContext(ctx, opts.user, id, pending); err != nil {
					return err
				}
				current, err := service.EditContext(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, current)
			})
		},
	}
	cmd.Flags().StringArrayVar(&input, "input", nil, "pending input as key=value")

	return cmd
}

func newContextLeaveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <id>",
		Short: "Remove the edit context of the entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				service, err := serviceFor(ctx, g, id)
				if err != nil {
					return err
				}
				entity, err := service.LeaveEditContext(ctx, opts.user, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, entity)
			})
		},
	}
}

func newContextShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show who is editing the entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				service, err := serviceFor(ctx, g, id)
				if err != nil {
					return err
				}
				current, err := service.EditContext(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, current)
			})
		},
	}
}
