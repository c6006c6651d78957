package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/siherrmann/ctigraph"
	"github.com/siherrmann/ctigraph/core/killchainphase"
	"github.com/siherrmann/ctigraph/core/query"
	"github.com/siherrmann/ctigraph/database"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables and load the sql functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbConfig, config, err := loadConfigurations(opts)
			if err != nil {
				return err
			}

			logger := slog.New(helper.NewPrettyHandler(os.Stderr, helper.PrettyHandlerOptions{
				SlogOpts: slog.HandlerOptions{Level: config.LogLevel},
			}))
			db := helper.NewDatabase("ctigraph", dbConfig, logger)
			defer db.Close()

			if _, err := database.NewEntitiesDBHandler(db, force); err != nil {
				return err
			}
			if _, err := database.NewRelationsDBHandler(db, force); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reload the sql functions even if they exist")

	return cmd
}

func newCreateCmd(opts *options) *cobra.Command {
	var entityType string
	var attrs []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an entity",
		Example: `  ctigraph create --type kill-chain-phase --attr kill_chain_name=mitre-attack --attr phase_name=persistence --attr phase_order=3
  ctigraph create --type marking-definition --attr definition=TLP:GREEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			attributes, err := parseAssignments(attrs)
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				var entity *model.Entity
				if entityType == killchainphase.EntityType {
					phase := killchainphase.FromEntity(&model.Entity{Attributes: attributes})
					if raw, ok := attributes[killchainphase.AttributePhaseOrder]; ok {
						phase.PhaseOrder, err = killchainphase.ParsePhaseOrder(raw)
						if err != nil {
							return err
						}
					}
					entity, err = g.KillChainPhases.Add(ctx, opts.user, phase)
				} else {
					entity, err = createEntity(ctx, g, opts.user, entityType, attributes)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, entity)
			})
		},
	}
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "entity type, for example kill-chain-phase")
	cmd.Flags().StringArrayVarP(&attrs, "attr", "a", nil, "attribute as key=value, values are parsed as JSON when possible")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func createEntity(ctx context.Context, g *ctigraph.CTIGraph, user string, entityType string, attributes model.Attributes) (*model.Entity, error) {
	service, err := g.RegisterEntityType(entityType)
	if err != nil {
		return nil, err
	}
	return service.Create(ctx, user, attributes)
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				entity, err := g.Entities.SelectEntity(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, entity)
			})
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var entityType string
	var where []string
	var has []string
	var orderBy string
	var desc bool
	var first int
	var after string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the entities of a type page by page",
		Example: `  ctigraph list --type kill-chain-phase --where phase_name=persistence
  ctigraph list --type kill-chain-phase --order created_at --desc --first 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildFilter(where, has, orderBy, desc)
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				service, err := g.RegisterEntityType(entityType)
				if err != nil {
					return err
				}
				page, err := service.FindPage(ctx, filter, model.Pagination{First: first, After: after})
				if err != nil {
					return err
				}
				return printJSON(cmd, page)
			})
		},
	}
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "entity type")
	cmd.Flags().StringArrayVar(&where, "where", nil, "attribute filter as name=value")
	cmd.Flags().StringArrayVar(&has, "has", nil, "only entities with the attribute")
	cmd.Flags().StringVar(&orderBy, "order", "", "order by column, insertion order if empty")
	cmd.Flags().BoolVar(&desc, "desc", false, "descending order")
	cmd.Flags().IntVar(&first, "first", model.DefaultPageSize, "page size")
	cmd.Flags().StringVar(&after, "after", "", "cursor of the last entity of the previous page")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func buildFilter(where []string, has []string, orderBy string, desc bool) (query.Filter, error) {
	filter := query.Filter{}

	attributes, err := parseAssignments(where)
	if err != nil {
		return filter, err
	}
	for name, value := range attributes {
		filter.Conditions = append(filter.Conditions, query.AttributeEq(name, value))
	}
	for _, name := range has {
		filter.Conditions = append(filter.Conditions, query.AttributeExists(name))
	}

	if orderBy != "" {
		column, err := query.ParseColumn(orderBy)
		if err != nil {
			return filter, err
		}
		filter.OrderBy = query.OrderBy{Column: column, Desc: desc}
	}

	return filter, nil
}

func newEditCmd(opts *options) *cobra.Command {
	var set []string
	var unset []string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change or remove fields of an entity",
		Example: `  ctigraph edit 0b7c... --set phase_order=4
  ctigraph edit 0b7c... --set revoked=true --unset description`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			changes, err := parseChanges(set, unset)
			if err != nil {
				return err
			}

			return withGraph(cmd, opts, func(ctx context.Context, g *ctigraph.CTIGraph) error {
				service, err := serviceFor(ctx, g, id)
				if err != nil {
					return err
				}

				var entity *model.Entity
				if service.EntityType() == killchainphase.EntityType {
					entity, err = g.KillChainPhases.EditField(ctx, opts.user, id, changes)
				} else {
					entity, err = service.EditField(ctx, opts.user, id, changes)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, entity)
			})
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "field change as key=value")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "attribute to remove")

	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entity, its relations are kept",
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
				deleted, err := service.Delete(ctx, opts.user, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"id": deleted})
			})
		},
	}
}
