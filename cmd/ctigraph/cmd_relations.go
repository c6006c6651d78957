package main

import (
	"context"

	"github.com/siherrmann/ctigraph"
	"github.com/siherrmann/ctigraph/model"
	"github.com/spf13/cobra"
)

func newRelateCmd(opts *options) *cobra.Command {
	var input model.RelationInput

	cmd := &cobra.Command{
		Use:     "relate <source-id> <target-id>",
		Short:   "Create a relation between two entities",
		Example: `  ctigraph relate 0b7c... 5f1e... --relation-type object_marking_refs`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := parseID(args[0])
			if err != nil {
				return err
			}
			input.ToID, err = parseID(args[1])
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				service, err := serviceFor(ctx, g, sourceID)
				if err != nil {
					return err
				}
				data, err := service.AddRelation(ctx, opts.user, sourceID, input)
				if err != nil {
					return err
				}
				return printJSON(cmd, data)
			})
		},
	}
	cmd.Flags().StringVarP(&input.RelationType, "relation-type", "r", "", "relation type, for example object_marking_refs")
	cmd.Flags().StringVar(&input.FromRole, "from-role", "", "role of the source, defaults to "+model.DefaultFromRole)
	cmd.Flags().StringVar(&input.ToRole, "to-role", "", "role of the target, defaults to "+model.DefaultToRole)
	_ = cmd.MarkFlagRequired("relation-type")

	return cmd
}

func newUnrelateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unrelate <source-id> <relation-id>",
		Short: "Delete a relation starting at the source entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := parseID(args[0])
			if err != nil {
				return err
			}
			relationID, err := parseID(args[1])
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				service, err := serviceFor(ctx, g, sourceID)
				if err != nil {
					return err
				}
				data, err := service.DeleteRelation(ctx, opts.user, sourceID, relationID)
				if err != nil {
					return err
				}
				return printJSON(cmd, data)
			})
		},
	}
}
