// Package agent runs conversation turns against an external agent CLI.
//
// Invariants:
// - Turns of one session are serialized through the session manager.
// - The agent's resume id from a previous turn is passed to the next one.
// - Both sides of a successful turn are recorded in the session history.
//
// Usage:
//
//	runner := agent.NewRunner(agent.NewCLI(agent.CLIConfig{Bin: "claude"}), sessions, logger)
//	result, err := runner.Run(ctx, agent.RunParams{UserID: "alice", Message: "hello"})
package agent
