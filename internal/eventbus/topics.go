package eventbus

// Event types published by sipcore components.
const (
	JobStarted  = "job.started"
	JobFinished = "job.finished"
	JobFailed   = "job.failed"
	JobSkipped  = "job.skipped"

	SchedulerStarted = "scheduler.started"
	SchedulerStopped = "scheduler.stopped"
	SchedulerConfig  = "scheduler.config"

	PlanCompleted     = "plan.completed"
	TransactionFailed = "transaction.failed"
	ConfigReloaded    = "config.reloaded"
	LogAlert          = "log.alert"

	NotifierSent    = "notifier.sent"
	NotifierFailed  = "notifier.failed"
	NotifierDropped = "notifier.dropped"
	NotifierDeduped = "notifier.deduped"
)
