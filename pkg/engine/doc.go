// Package engine provides the core types shared by the upkeep maintenance
// pipeline: step identifiers, step outcomes, pipeline states, run summaries and
// the classified errors that decide how a run ends.
//
// # Error classes
//
// Every run-aborting condition is an *EngineError with one of the classes
// below. The class decides the process exit code:
//
//	validation        2  configuration breaks a declared step dependency
//	concurrency       3  another live instance holds the lock
//	disk_space        4  root filesystem below min_root_gb
//	risk_abort        5  risky upgrade not confirmed
//	snapshot_failure  6  snapshot tool missing or failed, no override
//	step_execution    7  a critical step's tool failed
//	interrupted     130  SIGINT or SIGTERM
//
// Use ClassOf, ExitCodeOf and RemediationOf on any error returned by the
// pipeline.
//
// # Pipeline states
//
// A run moves through
//
//	idle -> validating -> lock_acquired -> preflighted -> running* -> summarizing -> succeeded
//
// and may move to aborted from any non-terminal state. PipelineState.CanTransition
// encodes the legal moves.
//
// # Step graph
//
// BuildStepGraph validates the catalog's declared dependencies (unknown ids,
// cycles) and answers MissingDependencies for a given enabled set.
package engine
