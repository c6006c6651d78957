package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/ctigraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockGraphDB is a mock implementation of GraphDB for testing
type MockGraphDB struct {
	entities  map[uuid.UUID]*model.Entity
	relations []*model.Relation
}

func NewMockGraphDB() *MockGraphDB {
	return &MockGraphDB{
		entities: make(map[uuid.UUID]*model.Entity),
	}
}

func (m *MockGraphDB) add(entityType string) *model.Entity {
	entity := &model.Entity{ID: uuid.New(), Type: entityType, StixID: entityType + "--" + uuid.NewString()}
	m.entities[entity.ID] = entity
	return entity
}

func (m *MockGraphDB) relate(from, to uuid.UUID, relationType string) {
	m.relations = append(m.relations, &model.Relation{ID: uuid.New(), SourceID: from, TargetID: to, RelationType: relationType})
}

func (m *MockGraphDB) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	entity, ok := m.entities[id]
	if !ok {
		return nil, model.NewNotFoundError("entity", id)
	}
	return entity, nil
}

func (m *MockGraphDB) SelectRelationsFrom(ctx context.Context, sourceID uuid.UUID, relationType string) ([]*model.Relation, error) {
	var relations []*model.Relation
	for _, r := range m.relations {
		if r.SourceID == sourceID && (relationType == "" || r.RelationType == relationType) {
			relations = append(relations, r)
		}
	}
	return relations, nil
}

func (m *MockGraphDB) SelectRelationsTo(ctx context.Context, targetID uuid.UUID, relationType string) ([]*model.Relation, error) {
	var relations []*model.Relation
	for _, r := range m.relations {
		if r.TargetID == targetID && (relationType == "" || r.RelationType == relationType) {
			relations = append(relations, r)
		}
	}
	return relations, nil
}

func ids(results []*TraversalResult) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		out = append(out, r.Entity.ID)
	}
	return out
}

func TestBFS(t *testing.T) {
	mockDB := NewMockGraphDB()

	// Test graph: A -> B -> C
	//             A -> D
	a := mockDB.add("report")
	b := mockDB.add("attack-pattern")
	c := mockDB.add("kill-chain-phase")
	d := mockDB.add("marking-definition")
	mockDB.relate(a.ID, b.ID, "uses")
	mockDB.relate(a.ID, d.ID, model.RelationTypeObjectMarkingRefs)
	mockDB.relate(b.ID, c.ID, model.RelationTypeKillChainPhases)

	t.Run("BFS from source with max hops 1", func(t *testing.T) {
		results, err := BFS(context.Background(), mockDB, a.ID, 1, nil, false)

		assert.NoError(t, err, "Expected BFS to not return an error")
		require.Len(t, results, 3, "Expected source and its two neighbors")
		assert.Equal(t, a.ID, results[0].Entity.ID, "Expected first result to be source")
		assert.Equal(t, 0, results[0].Distance, "Expected source distance to be 0")
		assert.Nil(t, results[0].Relation)
		assert.ElementsMatch(t, []uuid.UUID{b.ID, d.ID}, ids(results[1:]))
	})

	t.Run("BFS from source with max hops 2", func(t *testing.T) {
		results, err := BFS(context.Background(), mockDB, a.ID, 2, nil, false)

		assert.NoError(t, err, "Expected BFS to not return an error")
		require.Len(t, results, 4)
		last := results[3]
		assert.Equal(t, c.ID, last.Entity.ID)
		assert.Equal(t, 2, last.Distance)
		assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, last.Path)
		assert.Equal(t, model.RelationTypeKillChainPhases, last.Relation.RelationType)
	})

	t.Run("BFS with relation type filter", func(t *testing.T) {
		results, err := BFS(context.Background(), mockDB, a.ID, 2, []string{"uses"}, false)

		assert.NoError(t, err, "Expected BFS to not return an error")
		assert.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(results))
	})

	t.Run("BFS following incoming relations", func(t *testing.T) {
		results, err := BFS(context.Background(), mockDB, c.ID, 2, nil, true)

		assert.NoError(t, err)
		assert.Equal(t, []uuid.UUID{c.ID, b.ID, a.ID}, ids(results))
	})

	t.Run("BFS from isolated node", func(t *testing.T) {
		isolated := mockDB.add("indicator")

		results, err := BFS(context.Background(), mockDB, isolated.ID, 2, nil, false)

		assert.NoError(t, err, "Expected BFS to not return an error")
		require.Len(t, results, 1, "Expected only source node for isolated entity")
		assert.Equal(t, isolated.ID, results[0].Entity.ID)
	})

	t.Run("BFS with max hops 0", func(t *testing.T) {
		results, err := BFS(context.Background(), mockDB, a.ID, 0, nil, false)

		assert.NoError(t, err, "Expected BFS to not return an error")
		require.Len(t, results, 1, "Expected only source node for max hops 0")
	})

	t.Run("BFS from missing source", func(t *testing.T) {
		_, err := BFS(context.Background(), mockDB, uuid.New(), 1, nil, false)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("BFS skips dangling relations", func(t *testing.T) {
		source := mockDB.add("report")
		mockDB.relate(source.ID, uuid.New(), "uses")

		results, err := BFS(context.Background(), mockDB, source.ID, 1, nil, false)
		assert.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("BFS with canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := BFS(ctx, mockDB, a.ID, 2, nil, false)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBFSCycle(t *testing.T) {
	mockDB := NewMockGraphDB()

	// Cycle: A -> B -> C -> A
	a := mockDB.add("report")
	b := mockDB.add("report")
	c := mockDB.add("report")
	mockDB.relate(a.ID, b.ID, "related-to")
	mockDB.relate(b.ID, c.ID, "related-to")
	mockDB.relate(c.ID, a.ID, "related-to")

	results, err := BFS(context.Background(), mockDB, a.ID, 10, nil, false)
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, ids(results), "Expected every entity once")
}

func TestDFS(t *testing.T) {
	mockDB := NewMockGraphDB()

	// Test graph: A -> B -> C
	//             A -> D
	a := mockDB.add("report")
	b := mockDB.add("attack-pattern")
	c := mockDB.add("kill-chain-phase")
	d := mockDB.add("marking-definition")
	mockDB.relate(a.ID, b.ID, "uses")
	mockDB.relate(b.ID, c.ID, model.RelationTypeKillChainPhases)
	mockDB.relate(a.ID, d.ID, model.RelationTypeObjectMarkingRefs)

	t.Run("DFS goes deep first", func(t *testing.T) {
		results, err := DFS(context.Background(), mockDB, a.ID, 2, nil, false)

		assert.NoError(t, err, "Expected DFS to not return an error")
		assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID, d.ID}, ids(results))
		assert.Equal(t, 2, results[2].Distance)
		assert.Equal(t, []uuid.UUID{a.ID, d.ID}, results[3].Path)
	})

	t.Run("DFS with max hops 1", func(t *testing.T) {
		results, err := DFS(context.Background(), mockDB, a.ID, 1, nil, false)

		assert.NoError(t, err)
		assert.Equal(t, []uuid.UUID{a.ID, b.ID, d.ID}, ids(results))
	})

	t.Run("DFS from missing source", func(t *testing.T) {
		_, err := DFS(context.Background(), mockDB, uuid.New(), 1, nil, false)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestGetNeighbors(t *testing.T) {
	mockDB := NewMockGraphDB()

	phase := mockDB.add("kill-chain-phase")
	tlp := mockDB.add("marking-definition")
	pap := mockDB.add("marking-definition")
	mockDB.relate(phase.ID, tlp.ID, model.RelationTypeObjectMarkingRefs)
	mockDB.relate(phase.ID, pap.ID, model.RelationTypeObjectMarkingRefs)

	t.Run("Get neighbors", func(t *testing.T) {
		neighbors, err := GetNeighbors(context.Background(), mockDB, phase.ID, []string{model.RelationTypeObjectMarkingRefs}, false)

		assert.NoError(t, err)
		assert.ElementsMatch(t, []*model.Entity{tlp, pap}, neighbors)
	})

	t.Run("Get neighbors through Join", func(t *testing.T) {
		db := Join(mockDB, mockDB)
		neighbors, err := GetNeighbors(context.Background(), db, tlp.ID, nil, true)

		assert.NoError(t, err)
		assert.Equal(t, []*model.Entity{phase}, neighbors)
	})
}
