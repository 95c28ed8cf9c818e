// Package msgbuffer coalesces bursts of inbound messages per session.
//
// Invariants:
// - Each session has at most one live flush timer; a new message stops and replaces it.
// - A flush and a cancel for the same cycle never both happen.
// - Messages of one cycle are delivered once, joined in arrival order.
// - The registry entry is removed before the callback runs, so messages arriving
//   during a callback start a new cycle.
//
// Usage:
//
//	buf, err := msgbuffer.New(msgbuffer.Options{Window: 2 * time.Second})
//	if err != nil {
//		return err
//	}
//	defer buf.Close(context.Background())
//	err = buf.Add("user_42", "hello", func(ctx context.Context, combined string) error {
//		return dispatch(ctx, combined)
//	}, 0)
package msgbuffer
