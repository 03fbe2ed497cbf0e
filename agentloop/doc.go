// Package agentloop implements the Aethel control loop: a single-threaded
// state machine that turns one pending user message at a time into
// proposed actions, vets them, runs them through an ActionRegistry, and
// records each execution in the session's audit log.
//
// The package is organized around these core concepts:
//
//   - Kernel: the loop. It owns the SessionState, persists a snapshot after
//     every mutation, and emits typed events.
//   - DecisionSource: proposes the next action as raw text. LLMDecisionSource
//     asks a language model through the unifiedllm package.
//   - ActionRegistry: registration, schema rendering and timed dispatch of
//     actions.
//   - Router: deterministic shortcuts for requests that need no model.
//   - ExecutionEnvironment: where file and application operations run.
//
// # Quick Start
//
//	reg := agentloop.NewActionRegistry(agentloop.DefaultToolTimeout)
//	_ = agentloop.RegisterCoreTools(reg, agentloop.ToolDeps{Index: knowledge.NewIndex()})
//	env := agentloop.NewLocalExecutionEnvironment("/path/to/workspace")
//	k, _ := agentloop.NewKernel(agentloop.NewSessionState("s1"), reg, decider, env)
//	_ = k.SubmitUserResponse("index folder notes")
//	err := k.Run(ctx)
package agentloop
