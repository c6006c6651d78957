package graph

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/model"
)

// EntityReader loads single entities.
type EntityReader interface {
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
}

// RelationReader lists the relations attached to an entity.
type RelationReader interface {
	SelectRelationsFrom(ctx context.Context, sourceID uuid.UUID, relationType string) ([]*model.Relation, error)
	SelectRelationsTo(ctx context.Context, targetID uuid.UUID, relationType string) ([]*model.Relation, error)
}

// GraphDB defines the interface for graph operations
type GraphDB interface {
	EntityReader
	RelationReader
}

type joined struct {
	EntityReader
	RelationReader
}

// Join combines an entity and a relation store into a GraphDB.
func Join(entities EntityReader, relations RelationReader) GraphDB {
	return joined{EntityReader: entities, RelationReader: relations}
}

// TraversalResult contains an entity and its distance from the source
type TraversalResult struct {
	Entity   *model.Entity
	Distance int
	Path     []uuid.UUID // Path from source to this entity
	// Relation is the relation the entity was reached through, nil for the source.
	Relation *model.Relation
}

// step is a neighbor reachable from an entity.
type step struct {
	relation *model.Relation
	targetID uuid.UUID
}

// neighbors lists the steps leaving current. Outgoing relations are always followed,
// incoming ones only with followIncoming. An empty relationTypes follows all types.
func neighbors(ctx context.Context, db GraphDB, current uuid.UUID, relationTypes []string, followIncoming bool) ([]step, error) {
	types := relationTypes
	if len(types) == 0 {
		types = []string{""}
	}

	var steps []step
	for _, relationType := range types {
		outgoing, err := db.SelectRelationsFrom(ctx, current, relationType)
		if err != nil {
			return nil, err
		}
		for _, r := range outgoing {
			steps = append(steps, step{relation: r, targetID: r.TargetID})
		}

		if !followIncoming {
			continue
		}
		incoming, err := db.SelectRelationsTo(ctx, current, relationType)
		if err != nil {
			return nil, err
		}
		for _, r := range incoming {
			steps = append(steps, step{relation: r, targetID: r.SourceID})
		}
	}

	return steps, nil
}

// load returns the entity or nil if the relation is dangling.
func load(ctx context.Context, db GraphDB, id uuid.UUID) (*model.Entity, error) {
	entity, err := db.SelectEntity(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return entity, err
}

// BFS performs breadth-first search from a source entity
func BFS(ctx context.Context, db GraphDB, sourceID uuid.UUID, maxHops int, relationTypes []string, followIncoming bool) ([]*TraversalResult, error) {
	source, err := db.SelectEntity(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]bool{sourceID: true}
	queue := []*TraversalResult{{
		Entity:   source,
		Distance: 0,
		Path:     []uuid.UUID{sourceID},
	}}

	var results []*TraversalResult
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := queue[0]
		queue = queue[1:]
		results = append(results, current)

		if current.Distance >= maxHops {
			continue
		}

		steps, err := neighbors(ctx, db, current.Entity.ID, relationTypes, followIncoming)
		if err != nil {
			return nil, err
		}

		for _, s := range steps {
			if visited[s.targetID] {
				continue
			}

			target, err := load(ctx, db, s.targetID)
			if err != nil {
				return nil, err
			}
			if target == nil {
				continue
			}
			visited[s.targetID] = true

			queue = append(queue, &TraversalResult{
				Entity:   target,
				Distance: current.Distance + 1,
				Path:     extend(current.Path, s.targetID),
				Relation: s.relation,
			})
		}
	}

	return results, nil
}

// DFS performs depth-first search from a source entity
func DFS(ctx context.Context, db GraphDB, sourceID uuid.UUID, maxHops int, relationTypes []string, followIncoming bool) ([]*TraversalResult, error) {
	source, err := db.SelectEntity(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	t := &dfs{
		db:             db,
		maxHops:        maxHops,
		relationTypes:  relationTypes,
		followIncoming: followIncoming,
		visited:        map[uuid.UUID]bool{},
	}
	err = t.visit(ctx, &TraversalResult{Entity: source, Path: []uuid.UUID{sourceID}})
	if err != nil {
		return nil, err
	}

	return t.results, nil
}

type dfs struct {
	db             GraphDB
	maxHops        int
	relationTypes  []string
	followIncoming bool
	visited        map[uuid.UUID]bool
	results        []*TraversalResult
}

func (t *dfs) visit(ctx context.Context, current *TraversalResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.visited[current.Entity.ID] = true
	t.results = append(t.results, current)

	if current.Distance >= t.maxHops {
		return nil
	}

	steps, err := neighbors(ctx, t.db, current.Entity.ID, t.relationTypes, t.followIncoming)
	if err != nil {
		return err
	}

	for _, s := range steps {
		if t.visited[s.targetID] {
			continue
		}

		target, err := load(ctx, t.db, s.targetID)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}

		err = t.visit(ctx, &TraversalResult{
			Entity:   target,
			Distance: current.Distance + 1,
			Path:     extend(current.Path, s.targetID),
			Relation: s.relation,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func extend(path []uuid.UUID, id uuid.UUID) []uuid.UUID {
	newPath := make([]uuid.UUID, len(path), len(path)+1)
	copy(newPath, path)
	return append(newPath, id)
}

// GetNeighbors retrieves immediate neighbors (1-hop) of an entity
func GetNeighbors(ctx context.Context, db GraphDB, entityID uuid.UUID, relationTypes []string, followIncoming bool) ([]*model.Entity, error) {
	results, err := BFS(ctx, db, entityID, 1, relationTypes, followIncoming)
	if err != nil {
		return nil, err
	}

	// Skip the source entity itself (first result)
	neighbors := make([]*model.Entity, 0, len(results)-1)
	for i := 1; i < len(results); i++ {
		neighbors = append(neighbors, results[i].Entity)
	}

	return neighbors, nil
}
