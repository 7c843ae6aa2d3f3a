// Package types provides the shared domain model and interfaces for quizflow.
//
// Keeping these definitions in their own package lets the store, bus, listener and
// service packages depend on a single vocabulary without importing each other or the
// root quizflow package.
//
// Key types:
//   - Worksheet, WorksheetReplica: authoring entity and its quiz-side replica
//   - Quiz, Question, Difficulty: per-tier quiz owned by the quiz service
//   - Event: tagged union of every payload published on the bus
//   - DashboardQuizInfo, TierState: progression inputs and outputs
//   - Logger, MetricsCollector, Hooks: ambient interfaces injected into components
package types
