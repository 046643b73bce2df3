// Package storage is the persistence layer shared by the background engine
// and the request-handling side of the bot.
//
// It holds:
//   - users and their daily charges
//   - queued notifications and per-user notification settings
//   - theme-week campaigns
//   - pairs/pair requests and mission completions
//   - per-task "last fired" markers (restart-safe trigger guards)
package storage
