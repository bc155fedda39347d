// Package orchestrator runs one requirement end to end through a team of
// sub-agents.
//
// A session moves through four phases:
//   - Decompose: a planner turns the requirement into delimited task blocks
//   - Instantiate: each task becomes a SubAgent with an advisory assignee
//   - Execute: agents run level by level, bounded by max concurrency
//   - Aggregate: completed outputs, artifacts and file lists are merged
//
// A single coordinator goroutine owns the session. Workers run the agent
// executor on a copy of their agent and report back over a channel; observers
// read deep snapshots under a read lock.
//
// Example usage:
//
//	o := orchestrator.New(orchestrator.RequiredConfig{
//		Decomposer: decompose.New(prompts),
//		Executor:   agent.NewExecutor(agent.ExecutorConfig{Prompts: prompts}),
//	}, orchestrator.WithMaxConcurrency(4))
//	session, err := o.Orchestrate(ctx, "Add dark mode toggle", project, roster, false)
package orchestrator
