// Package task manages background image-generation jobs: the task record and
// its state machine, the Store contract with an in-memory implementation, the
// Scheduler that claims pending tasks under a concurrency bound, the Executor
// that runs generate and batch bodies, and the retention job that prunes old
// terminal tasks. Work survives restarts because the store, not the process,
// owns task status; tasks orphaned in processing are returned to pending by
// the scheduler's stuck-task sweep.
package task
