// Package scheduler owns the three periodic sipcore jobs (processing,
// retry of failed records, cleanup) and the control operations around them.
//
// # Schedules
//
// Each job fires on a fixed interval by default. A job may instead carry a
// schedule string:
//
//   - Cron expressions: 5-field or 6-field with seconds, e.g. "0 30 6 * * *".
//   - Cron descriptors: "@daily", "@every 6h".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes.
//
// Prefix with "cron:", "interval:" or "every:" to force an interpretation.
//
// # Overlap
//
// A job never runs twice at the same time. A scheduled fire that finds the
// previous run still going is skipped; a manual trigger gets ErrJobRunning.
//
// # Lifecycle
//
// Stop clears the timers only. Runs already in progress finish on the
// supervisor's base context, which is cancelled at process shutdown.
package scheduler
