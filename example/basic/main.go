package main

import (
	"context"
	"fmt"
	"log"

	"github.com/siherrmann/ctigraph"
	"github.com/siherrmann/ctigraph/core/bus"
	"github.com/siherrmann/ctigraph/core/killchainphase"
	"github.com/siherrmann/ctigraph/helper"
	"github.com/siherrmann/ctigraph/model"
)

func main() {
	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(context.Background())

	// Create database configuration using the container port
	dbConfig := &helper.DatabaseConfiguration{
		Host:     "localhost",
		Port:     dbPort,
		Database: "database",
		Username: "user",
		Password: "password",
		Schema:   "public",
		SSLMode:  "disable",
	}

	g, err := ctigraph.NewCTIGraph(dbConfig, nil)
	if err != nil {
		log.Fatalf("Failed to create ctigraph: %v", err)
	}
	defer g.Close()

	ctx := context.Background()

	// Listen to every kill chain phase notification
	notifications, cleanup, err := g.Subscribe(ctx,
		bus.AddedTopic(killchainphase.EntityType),
		bus.EditTopic(killchainphase.EntityType),
	)
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}
	defer cleanup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range notifications {
			fmt.Printf("  <- %s by %s (updated %s)\n", n.Topic, n.User, n.Entity.UpdatedAt.Format("15:04:05.000000"))
		}
	}()

	// Create the phases of a kill chain
	fmt.Println("Creating kill chain phases...")
	phases := []killchainphase.KillChainPhase{
		{KillChainName: "mitre-attack", PhaseName: "reconnaissance", PhaseOrder: 1},
		{KillChainName: "mitre-attack", PhaseName: "initial-access", PhaseOrder: 3},
		{KillChainName: "mitre-attack", PhaseName: "persistence", PhaseOrder: 5},
	}
	var created []*model.Entity
	for _, phase := range phases {
		entity, err := g.KillChainPhases.Add(ctx, "admin", phase)
		if err != nil {
			log.Fatalf("Failed to add phase: %v", err)
		}
		fmt.Printf("Created %s (%s, bucket %s)\n", entity.StixID, phase.PhaseName, entity.CreatedAtMonth)
		created = append(created, entity)
	}

	// Mark the first phase with a marking definition
	markings, err := g.Service(killchainphase.MarkingDefinitionType)
	if err != nil {
		log.Fatalf("Failed to get marking service: %v", err)
	}
	tlp, err := markings.Create(ctx, "admin", model.Attributes{"definition_type": "tlp", "definition": "TLP:GREEN"})
	if err != nil {
		log.Fatalf("Failed to create marking definition: %v", err)
	}

	_, err = g.KillChainPhases.AddRelation(ctx, "admin", created[0].ID, model.RelationInput{
		ToID:         tlp.ID,
		RelationType: model.RelationTypeObjectMarkingRefs,
	})
	if err != nil {
		log.Fatalf("Failed to add marking: %v", err)
	}

	page, err := g.KillChainPhases.MarkingDefinitions(ctx, created[0].ID, model.Pagination{})
	if err != nil {
		log.Fatalf("Failed to list markings: %v", err)
	}
	for _, marking := range page.Nodes() {
		fmt.Printf("Marking of %s: %s\n", created[0].StixID, marking.Attributes.String("definition"))
	}

	// Edit a phase while holding its edit context
	_, err = g.KillChainPhases.EditContext(ctx, "analyst", created[1].ID, model.Attributes{"phase_name": "initial-access"})
	if err != nil {
		log.Fatalf("Failed to enter edit context: %v", err)
	}
	editor, err := g.KillChainPhases.CurrentEditor(ctx, created[1].ID)
	if err != nil {
		log.Fatalf("Failed to read edit context: %v", err)
	}
	fmt.Printf("%s is edited by %s\n", created[1].StixID, editor.UserID)

	edited, err := g.KillChainPhases.EditField(ctx, "analyst", created[1].ID, []model.FieldChange{
		{Key: killchainphase.AttributePhaseOrder, Value: 2},
	})
	if err != nil {
		log.Fatalf("Failed to edit phase: %v", err)
	}
	fmt.Printf("Phase order is now %d\n", killchainphase.FromEntity(edited).PhaseOrder)

	_, err = g.KillChainPhases.CleanContext(ctx, "analyst", created[1].ID)
	if err != nil {
		log.Fatalf("Failed to leave edit context: %v", err)
	}

	// Walk the graph from the marked phase
	results, err := g.BFSTraversal(ctx, created[0].ID, 2, nil, false)
	if err != nil {
		log.Fatalf("Failed to traverse: %v", err)
	}
	fmt.Println("\nReachable from", created[0].StixID)
	for _, result := range results {
		fmt.Printf("  [%d] %s\n", result.Distance, result.Entity.StixID)
	}

	// List all phases
	fmt.Println("\nAll phases:")
	for entity, err := range g.KillChainPhases.FindAll(ctx, model.Pagination{}) {
		if err != nil {
			log.Fatalf("Failed to list phases: %v", err)
		}
		phase := killchainphase.FromEntity(entity)
		fmt.Printf("  %d %s\n", phase.PhaseOrder, phase.PhaseName)
	}

	cleanup()
	<-done
}
