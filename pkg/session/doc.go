// Package session holds in-memory chat sessions.
//
// Invariants:
// - Every tool message answers a call made by the nearest preceding assistant message.
// - No assistant tool call is left without a tool message answering it once a chat call returns.
// - The id to session map is guarded; a single session is used by one chat call at a time.
//
// Usage:
//
//	mgr := session.NewManager(registry)
//	sess, _ := mgr.GetOrCreate(ctx, "default", "prod")
//	sess.Append(session.UserMessage("list the tables in sales"))
package session
