// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order, one at a time.
// - Tasks in different lanes may execute concurrently.
// - A lane exists only while it has queued or running work.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{Logger: logger})
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, commandqueue.ThreadLane(threadID), func(ctx context.Context) (any, error) {
//		return engine.Run(ctx, req)
//	}, nil)
package commandqueue
