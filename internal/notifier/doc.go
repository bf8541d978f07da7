// Package notifier forwards high-signal events (failed contributions,
// completed plans, failed jobs, error logs) to an operator webhook.
//
// # Pipeline
//
// Events are turned into Notifications, deduplicated within a window,
// queued, and delivered by a small worker pool under a shared rate limit
// with jittered exponential retry. Delivery is best-effort: a full queue
// drops the notification and a send that exhausts its retries is logged
// and reported on the bus as notifier.failed.
//
// # Transport
//
// Delivery goes through a Sender. The built-in WebhookSender POSTs a JSON
// body whose "text" field is compatible with Slack and Mattermost style
// incoming webhooks.
//
// # History
//
// The service keeps a small in-memory history of recently delivered
// notifications for the status endpoint.
package notifier
