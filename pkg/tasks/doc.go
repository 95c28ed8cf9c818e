// Package tasks runs agent turns in the background and tracks their status.
//
// Invariants:
// - A task moves pending -> processing -> completed|failed and never back.
// - At most MaxConcurrent jobs execute at once; the rest wait as pending.
// - Status changes are observable through subscribed event handlers.
//
// Usage:
//
//	mgr := tasks.New(tasks.Options{MaxConcurrent: 10, Timeout: 10 * time.Minute})
//	defer mgr.Close(context.Background())
//	id, err := mgr.Submit(tasks.Spec{SessionID: "user_42"}, func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	})
package tasks
