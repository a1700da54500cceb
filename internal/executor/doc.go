// Package executor runs one compiled DAG for one logical time.
//
// # How It Works
//
// A single scheduling loop owns every task state. On each iteration it:
//  1. Marks Pending tasks below a Failed or UpstreamFailed upstream as
//     UpstreamFailed.
//  2. Dispatches Pending tasks whose upstreams all succeeded, as long as a
//     parallelism slot is free.
//  3. Blocks until a running task reports a terminal result.
//
// The loop ends when no task is Pending or Running. A failure never aborts
// the run: independent branches keep going so the Record shows the final
// state of every task.
//
// # Retries
//
// Each dispatched task runs its operator under the task's RetryPolicy.
// Attempts that fail with an operator.FatalError (quality gates, bad
// params, panics) stop immediately. Anything else waits the policy delay
// and tries again until MaxAttempts is reached.
//
// # Cancellation
//
// Cancelling the context marks every Pending task Skipped. Running tasks
// are Skipped when their attempt returns while the context is done. Every
// task always appears in the Record.
package executor
