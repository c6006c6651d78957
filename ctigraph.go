package ctigraph

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/core/bus"
	"github.com/siherrmann/ctigraph/core/editcontext"
	"github.com/siherrmann/ctigraph/core/graph"
	"github.com/siherrmann/ctigraph/core/killchainphase"
	"github.com/siherrmann/ctigraph/core/lifecycle"
	"github.com/siherrmann/ctigraph/database"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
)

// DefaultEntityTypes are registered by NewCTIGraph.
var DefaultEntityTypes = []string{
	killchainphase.EntityType,
	killchainphase.MarkingDefinitionType,
}

// CTIGraph wires the stores, the notification bus and the lifecycle services
type CTIGraph struct {
	DB               *helper.Database
	Entities         *database.EntitiesDBHandler
	Relations        *database.RelationsDBHandler
	EditContextStore *database.EditContextsKVHandler
	EditContexts     *editcontext.Coordinator
	Bus              *bus.Bus
	KillChainPhases  *killchainphase.Service

	mu       sync.RWMutex
	services map[string]*lifecycle.Service
	// Logging
	log *slog.Logger
}

// NewCTIGraph creates a new CTIGraph instance with all handlers initialized.
// A nil config uses helper.DefaultConfiguration.
func NewCTIGraph(dbConfig *helper.DatabaseConfiguration, config *helper.Configuration) (*CTIGraph, error) {
	if config == nil {
		config = helper.DefaultConfiguration()
	}

	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: config.LogLevel,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	db := helper.NewDatabase("ctigraph", dbConfig, logger)

	// Entities first, insert_relation references the entities table
	entities, err := database.NewEntitiesDBHandler(db, false)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create entities handler", err)
	}

	relations, err := database.NewRelationsDBHandler(db, false)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create relations handler", err)
	}

	editContextStore, err := database.NewEditContextsKVHandler(config.BadgerPath, logger)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create edit contexts handler", err)
	}

	g := &CTIGraph{
		DB:               db,
		Entities:         entities,
		Relations:        relations,
		EditContextStore: editContextStore,
		EditContexts:     editcontext.New(editContextStore, config.EditContextTTL, logger),
		Bus:              bus.New(logger, bus.WithBufferSize(config.BusBufferSize)),
		services:         map[string]*lifecycle.Service{},
		log:              logger,
	}

	for _, entityType := range DefaultEntityTypes {
		_, err := g.RegisterEntityType(entityType)
		if err != nil {
			g.Close()
			return nil, helper.NewError("register entity type", err)
		}
	}

	g.KillChainPhases, err = killchainphase.New(g.services[killchainphase.EntityType], relations)
	if err != nil {
		g.Close()
		return nil, helper.NewError("create kill chain phase service", err)
	}

	return g, nil
}

// RegisterEntityType registers the bus topics of entityType and creates its lifecycle
// service. Registering a type twice returns the existing service.
func (g *CTIGraph) RegisterEntityType(entityType string) (*lifecycle.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if service, ok := g.services[entityType]; ok {
		return service, nil
	}

	service, err := lifecycle.NewService(
		entityType,
		g.Entities,
		g.Relations,
		g.EditContexts,
		g.Bus,
		lifecycle.WithLogger(g.log),
	)
	if err != nil {
		return nil, err
	}

	g.Bus.RegisterEntityType(entityType)
	g.services[entityType] = service

	g.log.Info("Registered entity type", slog.String("entity_type", entityType))

	return service, nil
}

// Service returns the lifecycle service of a registered entity type.
func (g *CTIGraph) Service(entityType string) (*lifecycle.Service, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	service, ok := g.services[entityType]
	if !ok {
		return nil, helper.NewError("service lookup", model.NewNotFoundError("entity type", entityType))
	}
	return service, nil
}

// EntityTypes returns the registered entity types in alphabetical order.
func (g *CTIGraph) EntityTypes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	types := make([]string, 0, len(g.services))
	for entityType := range g.services {
		types = append(types, entityType)
	}
	sort.Strings(types)
	return types
}

// ServiceFor returns the lifecycle service of the type of the entity id.
func (g *CTIGraph) ServiceFor(ctx context.Context, id uuid.UUID) (*lifecycle.Service, error) {
	entity, err := g.Entities.SelectEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.Service(entity.Type)
}

// Subscribe subscribes to the given topics, all topics if none are given.
func (g *CTIGraph) Subscribe(ctx context.Context, topics ...string) (<-chan bus.Notification, func(), error) {
	return g.Bus.Subscribe(ctx, topics...)
}

// BFSTraversal performs breadth-first search over relations from an entity
func (g *CTIGraph) BFSTraversal(ctx context.Context, sourceID uuid.UUID, maxHops int, relationTypes []string, followIncoming bool) ([]*graph.TraversalResult, error) {
	return graph.BFS(ctx, graph.Join(g.Entities, g.Relations), sourceID, maxHops, relationTypes, followIncoming)
}

// DFSTraversal performs depth-first search over relations from an entity
func (g *CTIGraph) DFSTraversal(ctx context.Context, sourceID uuid.UUID, maxHops int, relationTypes []string, followIncoming bool) ([]*graph.TraversalResult, error) {
	return graph.DFS(ctx, graph.Join(g.Entities, g.Relations), sourceID, maxHops, relationTypes, followIncoming)
}

// Neighbors returns the entities one relation away from an entity
func (g *CTIGraph) Neighbors(ctx context.Context, id uuid.UUID, relationTypes []string, followIncoming bool) ([]*model.Entity, error) {
	return graph.GetNeighbors(ctx, graph.Join(g.Entities, g.Relations), id, relationTypes, followIncoming)
}

// Close closes the bus, the edit context store and the database connection
func (g *CTIGraph) Close() error {
	var errs []error
	if g.Bus != nil {
		if err := g.Bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.EditContextStore != nil {
		if err := g.EditContextStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if g.DB != nil {
		if err := g.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return helper.NewError("close", errors.Join(errs...))
	}
	return nil
}
