// Package session tracks conversation sessions in memory.
//
// Invariants:
// - Session ids are validated before use.
// - Turns for the same session are serialized through Lock.
// - A session remembers the agent's resume id so later turns continue the conversation.
//
// Usage:
//
//	mgr := session.New(zerolog.Nop())
//	s, _ := mgr.GetOrCreate(session.KeyFor("alice", ""), "alice")
//	_ = mgr.Append(s.ID, session.RoleUser, "hello")
package session
