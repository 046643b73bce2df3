// Package scheduler runs the bot's background engine: one supervised loop per
// periodic task (notification dispatch, daily charge reset, weekly digest,
// campaign switch) plus a cron-driven retention job.
//
// Runners are isolated from each other: an iteration error is logged and the
// runner sleeps its normal interval; a panic restarts only that runner. The
// only shared state between runners (and the request-handling path) is the
// persistent store.
package scheduler
