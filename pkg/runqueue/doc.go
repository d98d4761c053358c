// Package runqueue provides lane-based serialization of runs.
//
// Invariants:
// - Tasks in the same lane execute one at a time in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - A task whose context ends while it is still waiting never runs.
// - Lanes with nothing queued or running are dropped.
//
// Usage:
//
//	q := runqueue.New(runqueue.Config{Logger: logger})
//	defer q.Close()
//	err := q.Do(ctx, "conversation:abc", func(ctx context.Context) error {
//		return nil
//	})
package runqueue
