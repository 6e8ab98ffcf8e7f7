// Package reconcile keeps a client's view of its tasks in step with the
// server. A Reconciler polls the active-task listing while the user is
// authenticated, replaces its local snapshot on every poll and, when tasks
// reach a terminal state, refreshes history and updates the preview once per
// task.
package reconcile
