// Package agent runs the IceTop chat loop: it resolves the provider for each
// message, calls the model with the catalog tools, executes the tool calls
// the model asks for and feeds the results back until the model answers.
//
// Invariants:
//   - Every vendor gets the same iteration cap and the same executor output.
//   - An assistant tool invocation is stored together with its results.
//   - Chat never returns an error; failures become the reply text.
//   - Messages for one session are serialized through commandqueue.
//
// Usage:
//
//	a, _ := agent.NewAgent(agent.Config{
//		Executor: toolexecutor.New(),
//		Resolver: config.NewResolver(""),
//		Logger:   log.Logger,
//	})
//	svc := agent.NewService(session.NewManager(registry), a, commandqueue.New())
//	reply, _ := svc.Send(ctx, agent.SendRequest{Catalog: "prod", Message: "list tables"}, nil)
package agent
