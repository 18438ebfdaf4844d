// Package pipeline sequences a full prdflow run: session initialization,
// PRD decomposition, backlog orchestration, QA review, and the final
// report.
//
// # Stages
//
// [Pipeline.Run] resolves the PRD to its content-addressed session, takes
// the session lock, and decomposes the PRD into a backlog when the session
// does not carry one yet. The populated registry is persisted before
// anything executes, so a run killed mid-flight resumes from tasks.json
// with the decomposition intact. Orchestration then drains the leaf queue,
// the configured [qa.Reviewer] audits the result, and the report is
// rendered and written to artifacts/report.json. Each stage start is
// published on the bus as a pipeline.stage event.
//
// # Decomposers
//
// [AgentDecomposer] prompts the subtask runtime and expects the backlog
// JSON wrapped in <backlog></backlog> tags. [FileDecomposer] loads a
// prepared backlog file instead, for offline runs and tests. Both validate
// the registry before it is accepted.
//
// # Usage
//
//	p, _ := pipeline.New(pipeline.Config{
//	    Sessions: sessions,
//	    Runtime:  runtime,
//	    PRDPath:  "product.md",
//	    PlanRoot: "plans",
//	}, pipeline.WithBus(bus), pipeline.WithGit(gitClient))
//	rep, err := p.Run(ctx)
package pipeline
