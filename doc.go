// Package quizflow runs an event-choreographed worksheet and quiz system over
// NATS JetStream.
//
// Four services cooperate only through events on one stream:
//
//   - authoring owns worksheets and publishes worksheet.created, .updated and .deleted
//   - generation turns creation events into worksheet.generated and quiz.generated
//   - quiz keeps a replica of each worksheet, owns quizzes and tier progression,
//     and publishes quiz.created and quiz.complete
//   - analytics projects quiz.complete into SQLite
//
// Each owning service keeps its entities in a private store with optimistic
// concurrency. Every inbound event is applied idempotently, so redelivery and
// reordering converge on the same state.
//
// # Quick Start
//
// Run every service in one process:
//
//	cfg := quizflow.DefaultConfig()
//	node, err := quizflow.NewNode(&cfg, nc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop(context.Background())
//
//	ws, err := node.Authoring().CreateWorksheet(ctx, authoring.CreateWorksheetInput{
//	    UserID:    "u1",
//	    Title:     "Photosynthesis",
//	    Keywords:  []string{"chlorophyll", "light"},
//	    Questions: []string{"Where does it happen?"},
//	})
//
// # Scaling
//
// Config.Roles selects the services a node runs. Nodes running the same role
// share its work through the role's queue group, one durable consumer per
// subject.
//
// # Progression
//
// Tiers unlock in order: intermediate after a perfect beginner score, advanced
// after a perfect intermediate score. Node.Quiz().Dashboard reports the state
// of every tier.
package quizflow
